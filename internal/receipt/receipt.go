// Package receipt реализует автоматическую проверку текста чека об оплате.
package receipt

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// amountRe находит сумму в строке вида "1 234,56 р".
var amountRe = regexp.MustCompile(`(?i)(\d[\d\s]*(?:,\d{2})?)\s*р`)

var nonDigitsRe = regexp.MustCompile(`\D`)

// amountTolerance — допустимое абсолютное отклонение суммы в чеке от ожидаемой.
const amountTolerance = 0.001

// Check — результат автоматической проверки чека по трём независимым
// признакам. Чек действителен, только когда сошлись все три.
type Check struct {
	Recipient bool `json:"recipient"`
	Phone     bool `json:"phone"`
	Amount    bool `json:"amount"`
}

// Valid сообщает, прошёл ли чек автоматическую проверку полностью.
func (c Check) Valid() bool {
	return c.Recipient && c.Phone && c.Amount
}

// Details возвращает человекочитаемую сводку проверки для администратора.
func (c Check) Details(expectedAmount float64) []string {
	mark := func(ok bool) string {
		if ok {
			return "✅"
		}
		return "❌"
	}

	return []string{
		"Получатель: " + mark(c.Recipient),
		"Телефон: " + mark(c.Phone),
		fmt.Sprintf("Сумма (%.2f₽): %s", expectedAmount, mark(c.Amount)),
	}
}

// Validator проверяет текст чека по настроенным шаблонам получателя
// и окончанию номера телефона.
type Validator struct {
	patterns    []*regexp.Regexp
	phoneSuffix string
}

// NewValidator компилирует шаблоны получателя. Шаблоны применяются без
// учёта регистра.
func NewValidator(patterns []string, phoneSuffix string) (*Validator, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("compile recipient pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}

	return &Validator{patterns: compiled, phoneSuffix: phoneSuffix}, nil
}

// Validate проверяет текст чека построчно: имя получателя, окончание
// телефона и сумму с допуском amountTolerance от ожидаемой.
func (v *Validator) Validate(text string, expectedAmount float64) Check {
	var check Check

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		for _, re := range v.patterns {
			if re.MatchString(line) {
				check.Recipient = true
				break
			}
		}

		digits := nonDigitsRe.ReplaceAllString(line, "")
		if v.phoneSuffix != "" && len(digits) >= 7 && strings.HasSuffix(digits, v.phoneSuffix) {
			check.Phone = true
		}

		if m := amountRe.FindStringSubmatch(line); m != nil {
			amountStr := strings.ReplaceAll(strings.ReplaceAll(m[1], " ", ""), ",", ".")
			if amount, err := strconv.ParseFloat(amountStr, 64); err == nil {
				if math.Abs(amount-expectedAmount) < amountTolerance {
					check.Amount = true
				}
			}
		}
	}

	return check
}
