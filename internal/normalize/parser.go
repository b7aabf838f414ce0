package normalize

import (
	"strings"

	"github.com/shopspring/decimal"
)

var (
	scaleBillion = decimal.NewFromInt(1_000_000_000)
	scaleMillion = decimal.NewFromInt(1_000_000)

	cleaner = strings.NewReplacer("$", "", ",", "")
)

// ParseMagnitude converts a human-formatted magnitude string into a Field.
// Currency symbols and thousands separators are stripped; a case-insensitive
// "b" suffix scales by 1e9 and "m" by 1e6 (billion checked first); anything
// else is parsed as a plain decimal. Empty or non-numeric input yields an
// unparseable Field, the "Not found" sentinel a not-found Field. The parser
// never returns an error: absence is a value.
func ParseMagnitude(raw string) Field {
	trimmed := strings.TrimSpace(raw)
	if trimmed == NotFoundSentinel {
		return NotFoundField()
	}
	if trimmed == "" {
		return UnparseableField(raw)
	}

	cleaned := strings.TrimSpace(cleaner.Replace(trimmed))
	lowered := strings.ToLower(cleaned)

	scale := decimal.NewFromInt(1)
	digits := lowered
	switch {
	case strings.Contains(lowered, "b"):
		scale = scaleBillion
		digits = strings.ReplaceAll(lowered, "b", "")
	case strings.Contains(lowered, "m"):
		scale = scaleMillion
		digits = strings.ReplaceAll(lowered, "m", "")
	}

	value, err := decimal.NewFromString(strings.TrimSpace(digits))
	if err != nil {
		return UnparseableField(raw)
	}
	return FoundField(value.Mul(scale))
}
