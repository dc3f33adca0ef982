package receipt

import (
	"strings"
	"testing"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()

	v, err := NewValidator([]string{`Светлана\s*Александровна\s*Л`, `Светлана\s*Л`}, "8645")
	if err != nil {
		t.Fatalf("NewValidator error: %v", err)
	}
	return v
}

func TestValidate_FullMatch(t *testing.T) {
	v := newTestValidator(t)

	text := strings.Join([]string{
		"Перевод выполнен",
		"Получатель: Светлана Александровна Л.",
		"Телефон получателя +7 (900) 111-86-45",
		"Сумма 230,00 р",
	}, "\n")

	check := v.Validate(text, 230.00)
	if !check.Recipient || !check.Phone || !check.Amount {
		t.Fatalf("unexpected check: %+v", check)
	}
	if !check.Valid() {
		t.Fatalf("expected valid check")
	}
}

func TestValidate_AmountOffByFive(t *testing.T) {
	// Получатель и телефон сходятся, сумма отличается на 5 —
	// чек не проходит автоматическую проверку.
	v := newTestValidator(t)

	text := strings.Join([]string{
		"Светлана Л.",
		"+79001118645",
		"Сумма 225,00 р",
	}, "\n")

	check := v.Validate(text, 230.00)
	if !check.Recipient {
		t.Fatalf("recipient must match")
	}
	if !check.Phone {
		t.Fatalf("phone must match")
	}
	if check.Amount {
		t.Fatalf("amount must not match")
	}
	if check.Valid() {
		t.Fatalf("check must be invalid")
	}
}

func TestValidate_AmountWithSpaces(t *testing.T) {
	v := newTestValidator(t)

	check := v.Validate("Сумма 1 234,50 р", 1234.50)
	if !check.Amount {
		t.Fatalf("amount with spaces must match")
	}
}

func TestValidate_RecipientCaseInsensitive(t *testing.T) {
	v := newTestValidator(t)

	check := v.Validate("СВЕТЛАНА ЛАВРОВА", 0)
	if !check.Recipient {
		t.Fatalf("recipient must match case-insensitively")
	}
}

func TestValidate_ShortDigitsNotPhone(t *testing.T) {
	// Семь цифр — минимум: сумма с подходящим окончанием не должна
	// засчитываться как телефон.
	v := newTestValidator(t)

	check := v.Validate("чек 8645", 0)
	if check.Phone {
		t.Fatalf("short digit run must not match phone")
	}
}

func TestValidate_EmptyText(t *testing.T) {
	v := newTestValidator(t)

	check := v.Validate("", 100)
	if check.Recipient || check.Phone || check.Amount || check.Valid() {
		t.Fatalf("empty text must fail all predicates: %+v", check)
	}
}

func TestDetails(t *testing.T) {
	check := Check{Recipient: true}
	details := check.Details(230)

	if len(details) != 3 {
		t.Fatalf("details length = %d, want 3", len(details))
	}
	if details[0] != "Получатель: ✅" {
		t.Fatalf("unexpected recipient detail: %q", details[0])
	}
	if !strings.Contains(details[2], "230.00") {
		t.Fatalf("amount detail must contain expected amount: %q", details[2])
	}
}

func TestNewValidator_BadPattern(t *testing.T) {
	if _, err := NewValidator([]string{"("}, "1234"); err == nil {
		t.Fatalf("expected error for invalid pattern")
	}
}
