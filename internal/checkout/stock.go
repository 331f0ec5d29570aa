package checkout

import (
	"fmt"
	"strings"
)

type Shortfall struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Required    int    `json:"required"`
	Available   int    `json:"available"`
}

func (s Shortfall) String() string {
	name := s.ProductName
	if name == "" {
		name = s.ProductID
	}
	return fmt.Sprintf("%s: only %d available, %d needed.", name, s.Available, s.Required)
}

// CheckStock returns every line asking for more than is in stock, in cart order.
func CheckStock(lines []CartLine) []Shortfall {
	var out []Shortfall
	for _, l := range lines {
		if l.Quantity > l.Stock {
			out = append(out, Shortfall{
				ProductID:   l.ProductID,
				ProductName: l.ProductName,
				Required:    l.Quantity,
				Available:   l.Stock,
			})
		}
	}
	return out
}

func ShortfallMessage(sf []Shortfall) string {
	parts := make([]string, 0, len(sf)+1)
	parts = append(parts, "Some items do not have enough stock.")
	for _, s := range sf {
		parts = append(parts, s.String())
	}
	return strings.Join(parts, " ")
}

func stockFailure(sf []Shortfall) *Failure {
	return &Failure{
		Kind:       KindInsufficientStock,
		Message:    ShortfallMessage(sf),
		Shortfalls: sf,
	}
}
