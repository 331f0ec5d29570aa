package checkout

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Method string

const (
	MethodInstantEFT Method = "instant_eft"
	MethodCOD        Method = "cod"
	MethodPayFast    Method = "payfast"
)

var methods = map[Method]bool{
	MethodInstantEFT: true,
	MethodCOD:        true,
	MethodPayFast:    true,
}

func ParseMethod(s string) (Method, bool) {
	m := Method(strings.TrimSpace(s))
	return m, methods[m]
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "Pending"
	PaymentPaid    PaymentStatus = "Paid"
	PaymentFailed  PaymentStatus = "Failed"
)

// CartLine is a cart row joined with the product's current stock.
type CartLine struct {
	BuyerID     string
	ProductID   string
	ProductName string
	Quantity    int
	PriceCents  int64 // price at add-to-cart
	Stock       int
}

func (l CartLine) LineCents() int64 {
	return l.PriceCents * int64(l.Quantity)
}

type Order struct {
	ID              string    `json:"id"`
	BuyerID         string    `json:"buyer_id"`
	TotalCents      int64     `json:"total_cents"`
	DeliveryAddress string    `json:"delivery_address"`
	CourierCents    int64     `json:"courier_cents"`
	CreatedAt       time.Time `json:"created_at"`
}

type OrderLine struct {
	OrderID    string `json:"order_id"`
	ProductID  string `json:"product_id"`
	Quantity   int    `json:"quantity"`
	PriceCents int64  `json:"price_cents"`
}

type Payment struct {
	ID           string        `json:"id"`
	OrderID      string        `json:"order_id"`
	BuyerID      string        `json:"buyer_id"`
	Method       Method        `json:"method"`
	CartCents    int64         `json:"cart_cents"`
	CourierCents int64         `json:"courier_cents"`
	TotalCents   int64         `json:"total_cents"`
	Status       PaymentStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
}

// OrderView is the read model served by GET /orders/{id}.
type OrderView struct {
	Order   Order       `json:"order"`
	Lines   []OrderLine `json:"lines"`
	Payment *Payment    `json:"payment,omitempty"`
}

// Request is one checkout attempt as submitted by the buyer.
type Request struct {
	BuyerID         string
	DeliveryAddress string
	Method          Method
	Amount          decimal.Decimal // cart subtotal as shown to the buyer
}

type Result struct {
	OrderID      string
	PaymentID    string
	Method       Method
	TotalCents   int64
	CourierCents int64
}

// Subtotal sums quantity x price-at-add over the lines.
func Subtotal(lines []CartLine) int64 {
	var total int64
	for _, l := range lines {
		total += l.LineCents()
	}
	return total
}

func toCents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

// FormatRand renders cents as e.g. "R100.00".
func FormatRand(c int64) string {
	return "R" + fromCents(c).StringFixed(2)
}
