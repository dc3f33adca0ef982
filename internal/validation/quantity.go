// Package validation содержит функции валидации пользовательского ввода.
package validation

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// ErrMalformedQuantity возвращается при нераспознанном вводе количества.
var (
	ErrMalformedQuantity = errors.New("malformed quantity input")
	// ErrBelowMinimum возвращается, если метраж меньше минимального отреза.
	ErrBelowMinimum = errors.New("length below minimal cut")
)

var lengthRe = regexp.MustCompile(`^\s*([\d.,]+)\s*(см|м)\s*$`)

// ParseLength разбирает метраж из пользовательского ввода вида "65см" или
// "0,65м" и возвращает значение в сотых долях метра. Значение меньше
// minCut (минимального отреза) отклоняется.
func ParseLength(text string, minCut int64) (int64, error) {
	m := lengthRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(text)))
	if m == nil {
		return 0, ErrMalformedQuantity
	}

	numStr, unit := m[1], m[2]

	var value int64
	if unit == "см" {
		n, err := strconv.ParseInt(numStr, 10, 64)
		if err != nil {
			return 0, ErrMalformedQuantity
		}
		value = n
	} else {
		f, err := strconv.ParseFloat(strings.ReplaceAll(numStr, ",", "."), 64)
		if err != nil {
			return 0, ErrMalformedQuantity
		}
		value = int64(f*100 + 0.5)
	}

	if value < minCut {
		return 0, ErrBelowMinimum
	}

	return value, nil
}

// ParsePieces разбирает количество штучного товара и возвращает его
// в сотых долях (1 шт = 100).
func ParsePieces(text string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil || n <= 0 {
		return 0, ErrMalformedQuantity
	}
	return n * 100, nil
}
