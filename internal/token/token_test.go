package token

import (
	"math/big"
	"testing"
)

func TestParse_ValidAmounts(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int64
	}{
		{"one celf", "1.00", 100_000_000},
		{"half celf", "0.50", 50_000_000},
		{"hundred", "100", 10_000_000_000},
		{"smallest unit", "0.00000001", 1},
		{"whole and frac", "1.50000000", 150_000_000},
		{"no frac", "1", 100_000_000},
		{"short frac", "1.5", 150_000_000},
		{"three decimals", "1.123", 112_300_000},
		{"eight decimals", "1.12345678", 112_345_678},
		{"leading zeros in whole", "007.50", 750_000_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.input)
			if !ok {
				t.Fatalf("Parse(%q) returned ok=false", tt.input)
			}
			if got.Int64() != tt.expected {
				t.Errorf("Parse(%q) = %d, want %d", tt.input, got.Int64(), tt.expected)
			}
		})
	}
}

func TestParse_EmptyString(t *testing.T) {
	got, ok := Parse("")
	if !ok {
		t.Fatal("Parse(\"\") returned ok=false")
	}
	if got.Sign() != 0 {
		t.Errorf("Parse(\"\") = %s, want 0", got.String())
	}
}

func TestParse_TruncationBeyondEightDecimals(t *testing.T) {
	// "1.123456789012" should truncate to "1.12345678"
	got, ok := Parse("1.123456789012")
	if !ok {
		t.Fatal("Parse returned ok=false")
	}
	if got.Int64() != 112_345_678 {
		t.Errorf("Parse(\"1.123456789012\") = %d, want %d (truncated to 8 decimals)", got.Int64(), 112_345_678)
	}
}

func TestParse_InvalidInputs(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"negative", "-1.00"},
		{"negative zero", "-0"},
		{"alphabetic", "abc"},
		{"multiple dots", "1.2.3"},
		{"has letters", "12abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := Parse(tt.input)
			if ok {
				t.Errorf("Parse(%q) should return ok=false", tt.input)
			}
		})
	}
}

func TestParse_VeryLargeAmount(t *testing.T) {
	// Beyond int64 range — use big.Int comparison
	got, ok := Parse("99999999999999.99999999")
	if !ok {
		t.Fatal("Parse returned ok=false for very large amount")
	}
	expected, _ := new(big.Int).SetString("9999999999999999999999", 10)
	if got.Cmp(expected) != 0 {
		t.Errorf("Parse very large = %s, want %s", got.String(), expected.String())
	}
}

func TestFormat_Nil(t *testing.T) {
	got := Format(nil)
	if got != "0.00000000" {
		t.Errorf("Format(nil) = %q, want \"0.00000000\"", got)
	}
}

func TestFormat_SmallValues(t *testing.T) {
	tests := []struct {
		name     string
		input    int64
		expected string
	}{
		{"one unit", 1, "0.00000001"},
		{"ten units", 10, "0.00000010"},
		{"thousand units", 1000, "0.00001000"},
		{"one celf", 100_000_000, "1.00000000"},
		{"hour at unit rate", 3600, "0.00003600"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Format(big.NewInt(tt.input))
			if got != tt.expected {
				t.Errorf("Format(%d) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestFormat_NegativeValues(t *testing.T) {
	got := Format(big.NewInt(-150_000_000))
	if got != "-1.50000000" {
		t.Errorf("Format(-150000000) = %q, want \"-1.50000000\"", got)
	}
}

func TestRoundTrip_Canonical(t *testing.T) {
	// Format(Parse(x)) == x for canonical forms (8 decimals)
	canonical := []string{
		"0.00000000",
		"0.00000001",
		"1.00000000",
		"1.50000000",
		"100.12345678",
		"999999.99999999",
	}

	for _, s := range canonical {
		t.Run(s, func(t *testing.T) {
			parsed, ok := Parse(s)
			if !ok {
				t.Fatalf("Parse(%q) returned ok=false", s)
			}
			got := Format(parsed)
			if got != s {
				t.Errorf("RoundTrip: Format(Parse(%q)) = %q", s, got)
			}
		})
	}
}

func TestFormatUnits(t *testing.T) {
	if got := FormatUnits(3600); got != "0.00003600" {
		t.Errorf("FormatUnits(3600) = %q, want \"0.00003600\"", got)
	}
}

func TestDecimalsConstant(t *testing.T) {
	if Decimals != 8 {
		t.Errorf("Decimals = %d, want 8", Decimals)
	}
}
