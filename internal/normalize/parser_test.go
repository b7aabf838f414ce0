package normalize

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseMagnitudeSuffixes(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"$1.5B", "1500000000"},
		{"250M", "250000000"},
		{"$1,234.56", "1234.56"},
		{"3.5b", "3500000000"},
		{"12m", "12000000"},
		{"42", "42"},
		{"0", "0"},
		{" $2B ", "2000000000"},
	}

	for _, tc := range cases {
		field := ParseMagnitude(tc.in)
		got, ok := field.Value()
		if !ok {
			t.Fatalf("ParseMagnitude(%q) should parse", tc.in)
		}
		want, _ := decimal.NewFromString(tc.want)
		if !got.Equal(want) {
			t.Fatalf("ParseMagnitude(%q) = %s, want %s", tc.in, got, want)
		}
	}
}

func TestParseMagnitudeNotFound(t *testing.T) {
	field := ParseMagnitude("Not found")
	if !field.NotFound() {
		t.Fatal("sentinel input should map to the not-found variant")
	}
	if _, ok := field.Value(); ok {
		t.Fatal("not-found field should carry no value")
	}
}

func TestParseMagnitudeUnparseable(t *testing.T) {
	for _, in := range []string{"", "   ", "$", "abc", "$,", "b", "1.2.3"} {
		field := ParseMagnitude(in)
		if field.NotFound() {
			t.Fatalf("ParseMagnitude(%q) should not be not-found", in)
		}
		if _, ok := field.Value(); ok {
			t.Fatalf("ParseMagnitude(%q) should be unparseable", in)
		}
	}
}

func TestParseMagnitudeRetainsRaw(t *testing.T) {
	field := ParseMagnitude("garbage")
	if field.Raw() != "garbage" {
		t.Fatalf("unparseable field should retain raw text, got %q", field.Raw())
	}
}

func TestPERatio(t *testing.T) {
	cases := []struct {
		marketCap string
		revenue   string
		want      string
	}{
		{"$10B", "$2B", "5.00"},
		{"$10B", "0", NotCalculableSentinel},
		{"Not found", "$2B", NotCalculableSentinel},
		{"$10B", "Not found", NotCalculableSentinel},
		{"$6B", "$1B", "6.00"},
		{"$1B", "$3B", "0.33"},
		{"0", "$1B", "0.00"},
		{"", "", NotCalculableSentinel},
		{"$10B", "-1B", NotCalculableSentinel},
	}

	for _, tc := range cases {
		if got := PERatio(tc.marketCap, tc.revenue); got != tc.want {
			t.Fatalf("PERatio(%q, %q) = %q, want %q", tc.marketCap, tc.revenue, got, tc.want)
		}
	}
}
