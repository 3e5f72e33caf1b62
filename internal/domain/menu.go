package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// AllCategories is the browse filter that matches every category.
const AllCategories = "All"

// MenuItem is an entry of the restaurant's menu. Adding one to a cart copies
// its ItemID, Name and UnitPrice into a line; the rest is for display.
type MenuItem struct {
	ItemID      string          `json:"itemId"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category,omitempty"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	ImageURL    string          `json:"imageUrl,omitempty"`
	Available   bool            `json:"available"`
}

// CategoryFilter normalizes a browse filter: blank and "All" (any case)
// select every category.
func CategoryFilter(category string) string {
	category = strings.TrimSpace(category)
	if strings.EqualFold(category, AllCategories) {
		return ""
	}
	return category
}
