package normalize

import "github.com/shopspring/decimal"

// Sentinels used at the fetch boundary and in ratio output.
const (
	NotFoundSentinel      = "Not found"
	NotCalculableSentinel = "Not calculable"
)

type fieldKind int

const (
	kindNotFound fieldKind = iota
	kindUnparseable
	kindFound
)

// Field is the tagged representation of a raw scraped value: either the
// source page did not contain it, it was present but not a magnitude, or it
// parsed to a number.
type Field struct {
	kind  fieldKind
	value decimal.Decimal
	raw   string
}

// FoundField wraps a successfully parsed magnitude.
func FoundField(v decimal.Decimal) Field {
	return Field{kind: kindFound, value: v}
}

// NotFoundField marks a value the fetch collaborator could not locate.
func NotFoundField() Field {
	return Field{kind: kindNotFound}
}

// UnparseableField retains the raw text that failed numeric conversion.
func UnparseableField(raw string) Field {
	return Field{kind: kindUnparseable, raw: raw}
}

// Value returns the parsed magnitude and whether one is present.
func (f Field) Value() (decimal.Decimal, bool) {
	return f.value, f.kind == kindFound
}

// NotFound reports whether the source page lacked the value.
func (f Field) NotFound() bool {
	return f.kind == kindNotFound
}

// Raw returns the original text for unparseable values.
func (f Field) Raw() string {
	return f.raw
}

// Ptr returns the value as a nullable pointer for storage.
func (f Field) Ptr() *decimal.Decimal {
	if f.kind != kindFound {
		return nil
	}
	v := f.value
	return &v
}
