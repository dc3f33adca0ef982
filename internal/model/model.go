// Package model содержит доменные сущности магазина studiomarket.
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Unit описывает единицу измерения товара.
type Unit string

const (
	// UnitPiece — штучный товар.
	UnitPiece Unit = "шт"
	// UnitMeter — товар, продаваемый отрезами (метраж).
	UnitMeter Unit = "м"
)

// Discrete сообщает, является ли единица измерения штучной.
func (u Unit) Discrete() bool {
	return u != UnitMeter
}

// Product представляет товар каталога.
// Цена хранится в копейках, количество — в сотых долях единицы
// (1 шт = 100, 0.65 м = 65), чтобы арифметика резервирования была точной.
type Product struct {
	ID          int64
	Name        string
	Description string
	PriceKop    int64
	Discount    string
	Quantity    int64
	Unit        Unit
	CategoryID  int64
}

// parseDiscount разбирает строку скидки вида "10%" или "150р".
// Возвращает значение в сотых долях, признак процентной скидки и признак
// успешного разбора. Нераспознанная скидка считается нулевой.
func parseDiscount(discount string) (value int64, percent, ok bool) {
	s := strings.TrimSpace(discount)
	if s == "" {
		return 0, true, true
	}

	percent = strings.HasSuffix(s, "%")
	s = strings.TrimSuffix(strings.TrimSuffix(s, "%"), "р")
	s = strings.ReplaceAll(s, ",", ".")

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, true, false
	}

	return int64(v*100 + 0.5), percent, true
}

// MalformedDiscount сообщает, что строку скидки разобрать не удалось.
// Такой товар оценивается по полной цене; каталог предупреждает об этом
// при чтении, чтобы ошибку в данных было видно до продажи.
func MalformedDiscount(discount string) bool {
	_, _, ok := parseDiscount(discount)
	return !ok
}

// FinalPriceKop возвращает итоговую цену в копейках с учётом скидки.
// Процентная скидка: price * (1 - pct/100); рублёвая: max(0, price - amount).
// Округление математическое, до копейки.
func (p *Product) FinalPriceKop() int64 {
	value, percent, _ := parseDiscount(p.Discount)
	if percent {
		if value == 0 {
			return p.PriceKop
		}
		return (p.PriceKop*(10000-value) + 5000) / 10000
	}

	final := p.PriceKop - value
	if final < 0 {
		return 0
	}
	return final
}

// DiscountPercent возвращает скидку в процентах для отображения пользователю.
// Рублёвая скидка конвертируется в проценты от цены.
func (p *Product) DiscountPercent() float64 {
	value, percent, _ := parseDiscount(p.Discount)
	if percent {
		return float64(value) / 100
	}
	if p.PriceKop > 0 {
		return float64(value) / float64(p.PriceKop) * 100
	}
	return 0
}

// AvailableQuantity возвращает остаток товара в обычных единицах.
func (p *Product) AvailableQuantity() float64 {
	return float64(p.Quantity) / 100
}

// Exhausted сообщает, считается ли остаток qty исчерпанным для единицы unit.
// Для метража действует минимальная длина отреза minCut (в сотых долях метра):
// остаток меньше неё заказать уже нельзя.
func Exhausted(unit Unit, qty, minCut int64) bool {
	if unit.Discrete() {
		return qty <= 0
	}
	return qty < minCut
}

// FormatQuantity форматирует количество из сотых долей в строку вида "2" или "0.65".
func FormatQuantity(qty int64) string {
	if qty%100 == 0 {
		return strconv.FormatInt(qty/100, 10)
	}
	return strconv.FormatFloat(float64(qty)/100, 'f', 2, 64)
}

// KopToRub конвертирует копейки в рубли для внешнего представления.
func KopToRub(kop int64) float64 {
	return float64(kop) / 100
}

// RubToKop конвертирует рубли в копейки с округлением до копейки.
func RubToKop(rub float64) int64 {
	if rub < 0 {
		return -int64(-rub*100 + 0.5)
	}
	return int64(rub*100 + 0.5)
}

// Category представляет категорию каталога.
type Category struct {
	ID       int64
	Name     string
	ParentID *int64
}

// User представляет пользователя, когда-либо обращавшегося к боту.
type User struct {
	UserID    int64
	FirstName string
	LastName  string
	UserName  string
	Phone     string
}

// CartLine — строка корзины: резерв товара за пользователем.
// Пара (UserID, ProductID) уникальна; Quantity всегда > 0.
type CartLine struct {
	ID        int64
	UserID    int64
	ProductID int64
	Quantity  int64
	Product   *Product
	Created   time.Time
}

// CostKop возвращает стоимость строки корзины в копейках
// (количество умножить на итоговую цену, округление до копейки).
func (l *CartLine) CostKop() int64 {
	if l.Product == nil {
		return 0
	}
	return (l.Quantity*l.Product.FinalPriceKop() + 50) / 100
}

// TotalCostKop возвращает суммарную стоимость строк корзины в копейках.
// Точные стоимости строк (в сотых долях копейки) складываются, и сумма
// округляется один раз: построчное округление может дать другой итог
// на метраже с дробной стоимостью.
func TotalCostKop(lines []CartLine) int64 {
	var sum int64
	for i := range lines {
		if lines[i].Product == nil {
			continue
		}
		sum += lines[i].Quantity * lines[i].Product.FinalPriceKop()
	}
	return (sum + 50) / 100
}

// OrderItem — строка заказа, неизменяемый снимок строки корзины.
// Поле Product хранит токен "ID//NAME", Quantity — токен "QUANTITYUNIT".
type OrderItem struct {
	ID       int64
	OrderUID string
	UserID   int64
	Product  string
	Quantity string
	CostKop  int64
	Created  time.Time
}

// ProductToken собирает токен товара для строки заказа.
func ProductToken(id int64, name string) string {
	return fmt.Sprintf("%d//%s", id, name)
}

// QuantityToken собирает токен количества для строки заказа.
func QuantityToken(qty int64, unit Unit) string {
	return FormatQuantity(qty) + string(unit)
}

// OrderGroup — логический заказ: строки одной транзакции оформления.
type OrderGroup struct {
	OrderUID string           `json:"order_uid"`
	Created  time.Time        `json:"created"`
	Cost     float64          `json:"cost"`
	Items    []OrderGroupItem `json:"items"`
}

// OrderGroupItem — строка логического заказа во внешнем представлении.
type OrderGroupItem struct {
	Product  string `json:"product"`
	Quantity string `json:"quantity"`
}

// VerificationRecord — запись о чеке, ожидающем решения администратора.
// Живёт в redis с TTL 24 часа.
type VerificationRecord struct {
	ID             string   `json:"id"`
	UserID         int64    `json:"user_id"`
	ChatID         int64    `json:"chat_id"`
	FileRef        string   `json:"file_ref"`
	ExpectedAmount float64  `json:"expected_amount"`
	AutoValid      bool     `json:"auto_valid"`
	Details        []string `json:"details"`
}

// SessionState — эфемерное состояние пользователя между оформлением
// корзины и проверкой чека. Живёт в redis с TTL 1 час.
type SessionState struct {
	OrderAmount    float64 `json:"order_amount"`
	Processing     bool    `json:"processing,omitempty"`
	ProcessingFile string  `json:"processing_file,omitempty"`
}
