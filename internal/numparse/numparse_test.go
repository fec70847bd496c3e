package numparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"   ", 0},
		{"N/A", 0},
		{"-", 0},
		{"1.8K", 1800},
		{"1.8k", 1800},
		{"0.29K", 290},
		{"1.2345K", 1234},
		{"12K", 12000},
		{"3 K", 3000},
		{"1.5M", 1500000},
		{"1,992", 1992},
		{"$200", 200},
		{"€1,250", 1250},
		{"200 USD", 200},
		{"42", 42},
		{"3.99", 3},
		{"BL: 17 (new)", 17},
		{"-5", 5},
		{"2007", 2007},
		{"12 km", 12},
		{"99999999999999999999999", 0},
		{"K", 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.input))
		})
	}
}

func TestParse_NeverNegative(t *testing.T) {
	inputs := []string{"-1", "--", "-1.8K", "$-200", "\x00\xff", "1e9", "∞", "١٢٣"}
	for _, in := range inputs {
		assert.GreaterOrEqual(t, Parse(in), 0, "input %q", in)
	}
}
