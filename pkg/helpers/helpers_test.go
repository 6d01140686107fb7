package helpers

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func TestSaturatingSub(t *testing.T) {
	tests := []struct {
		name string
		a, b int64
		want int64
	}{
		{"positive", 100, 40, 60},
		{"equal", 50, 50, 0},
		{"floor at zero", 10, 25, 0},
		{"zero minus zero", 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := big.NewInt(tt.a), big.NewInt(tt.b)
			got := SaturatingSub(a, b)
			if got.Int64() != tt.want {
				t.Errorf("SaturatingSub(%d, %d) = %s, want %d", tt.a, tt.b, got, tt.want)
			}
			if a.Int64() != tt.a || b.Int64() != tt.b {
				t.Error("SaturatingSub modified its arguments")
			}
		})
	}
}

func TestMulRatio(t *testing.T) {
	tests := []struct {
		amount int64
		ratio  string
		want   int64
	}{
		{50, "2", 100},
		{50, "2.0", 100},
		{10, "1.2", 12},
		{7, "1.5", 10}, // 10.5 truncated
		{0, "3", 0},
	}

	for _, tt := range tests {
		got := MulRatio(big.NewInt(tt.amount), decimal.RequireFromString(tt.ratio))
		if got.Int64() != tt.want {
			t.Errorf("MulRatio(%d, %s) = %s, want %d", tt.amount, tt.ratio, got, tt.want)
		}
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		amount   string
		decimals uint8
		want     string
	}{
		{"100000000", 8, "1"},
		{"150000000", 8, "1.5"},
		{"1", 18, "0.000000000000000001"},
		{"95", 0, "95"},
		{"0", 12, "0"},
	}

	for _, tt := range tests {
		v, _ := new(big.Int).SetString(tt.amount, 10)
		if got := FormatAmount(v, tt.decimals); got != tt.want {
			t.Errorf("FormatAmount(%s, %d) = %s, want %s", tt.amount, tt.decimals, got, tt.want)
		}
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input    string
		decimals uint8
		want     string
		wantErr  bool
	}{
		{"1", 8, "100000000", false},
		{"1.5", 18, "1500000000000000000", false},
		{"0.123456789", 6, "123456", false},
		{"", 8, "", true},
		{"abc", 8, "", true},
		{"-1", 8, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAmount(tt.input, tt.decimals)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAmount(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err == nil && got.String() != tt.want {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseBigInt(t *testing.T) {
	if v, err := ParseBigInt(""); err != nil || v.Sign() != 0 {
		t.Errorf("ParseBigInt(\"\") = %v, %v; want 0, nil", v, err)
	}
	if _, err := ParseBigInt("12x"); err == nil {
		t.Error("expected error for non-numeric input")
	}
	if _, err := ParseBigInt("-5"); err == nil {
		t.Error("expected error for negative input")
	}
	if v := MustBigInt("garbage"); v.Sign() != 0 {
		t.Errorf("MustBigInt(garbage) = %s, want 0", v)
	}
}

func TestHexHelpers(t *testing.T) {
	if got := HexToBigInt("0x2a"); got.Int64() != 42 {
		t.Errorf("HexToBigInt(0x2a) = %s", got)
	}
	if got := HexToUint64("zz"); got != 0 {
		t.Errorf("HexToUint64(zz) = %d, want 0", got)
	}
	if got := BigIntToHex(big.NewInt(255)); got != "0xff" {
		t.Errorf("BigIntToHex(255) = %s", got)
	}
	if !IsHex("0xdeadbeef") || IsHex("deadbeef") || IsHex("0xabc") {
		t.Error("IsHex gave wrong answer")
	}
}

func TestReverseBytes(t *testing.T) {
	in := []byte{1, 2, 3}
	got := ReverseBytes(in)
	if got[0] != 3 || got[2] != 1 || in[0] != 1 {
		t.Errorf("ReverseBytes(%v) = %v", in, got)
	}
}

func TestSecureClear(t *testing.T) {
	b := []byte{1, 2, 3}
	SecureClear(b)
	if !bytes.Equal(b, make([]byte, 3)) {
		t.Errorf("SecureClear left %v", b)
	}
}
