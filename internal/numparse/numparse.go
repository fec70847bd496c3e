// Package numparse extracts integers from noisy table cells such as "1.8K", "1,992" or "$200".
package numparse

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	numberPattern    = regexp.MustCompile(`\d+(?:\.\d+)?`)
	currencyStripper = strings.NewReplacer(",", "", "$", "", "€", "", "£", "", "¥", "", "USD", "", "usd", "")
)

// maxDigits bounds the integer part so the result always fits in an int.
const maxDigits = 15

// Parse returns the integer value of text, or 0 when text holds no number.
// A trailing K (or M) multiplies the value, truncating any remaining fraction.
func Parse(text string) int {
	s := strings.TrimSpace(currencyStripper.Replace(text))
	if s == "" {
		return 0
	}

	multiplierDigits := 0
	switch s[len(s)-1] {
	case 'k', 'K':
		multiplierDigits = 3
	case 'm', 'M':
		multiplierDigits = 6
	}
	if multiplierDigits > 0 {
		head := strings.TrimSpace(s[:len(s)-1])
		if head != "" && isDigit(head[len(head)-1]) {
			s = head
		} else {
			multiplierDigits = 0
		}
	}

	match := numberPattern.FindString(s)
	if match == "" {
		return 0
	}
	return scale(match, multiplierDigits)
}

// scale shifts the decimal point of a "123.456" literal right by shift digits and
// truncates. Working on the digits avoids float artefacts like 0.29*1000 = 289.99.
func scale(literal string, shift int) int {
	intPart, fracPart, _ := strings.Cut(literal, ".")
	if len(fracPart) > shift {
		fracPart = fracPart[:shift]
	}
	fracPart += strings.Repeat("0", shift-len(fracPart))

	digits := strings.TrimLeft(intPart+fracPart, "0")
	if digits == "" {
		return 0
	}
	if len(digits) > maxDigits {
		return 0
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return n
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
