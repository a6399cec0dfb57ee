package events

import (
	"strings"
	"time"
)

const (
	CategoryNavigation = "navigation"
	CategoryForm       = "form"
	CategoryEcommerce  = "ecommerce"
	CategoryEngagement = "engagement"
	CategoryFunnel     = "funnel"
	CategoryError      = "error"
	CategoryCustom     = "custom"

	DefaultCurrency = "EUR"
)

var categories = map[string]struct{}{
	CategoryNavigation: {},
	CategoryForm:       {},
	CategoryEcommerce:  {},
	CategoryEngagement: {},
	CategoryFunnel:     {},
	CategoryError:      {},
	CategoryCustom:     {},
}

// NormalizeCategory maps unknown or empty categories to custom.
func NormalizeCategory(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	if _, ok := categories[c]; ok {
		return c
	}
	return CategoryCustom
}

// Event is one interaction reported by the client. Payload fields are a tagged
// union: Ecommerce and Form carry known shapes, Custom carries caller extensions.
type Event struct {
	Name     string   `json:"name"`
	Category string   `json:"category,omitempty"`
	Action   string   `json:"action,omitempty"`
	Label    string   `json:"label,omitempty"`
	Value    *float64 `json:"value,omitempty"`
	Page     string   `json:"page,omitempty"`

	Element   *Element       `json:"element,omitempty"`
	Ecommerce *Ecommerce     `json:"ecommerce,omitempty"`
	Form      *Form          `json:"form,omitempty"`
	Custom    map[string]any `json:"properties,omitempty"`

	At time.Time `json:"timestamp,omitempty"`
}

type Element struct {
	Selector string `json:"selector,omitempty"`
	ID       string `json:"id,omitempty"`
	Class    string `json:"class,omitempty"`
	X        *int   `json:"x,omitempty"`
	Y        *int   `json:"y,omitempty"`
}

type Ecommerce struct {
	Revenue       *float64 `json:"revenue,omitempty"`
	Currency      string   `json:"currency,omitempty"`
	TransactionID string   `json:"transaction_id,omitempty"`
	ItemID        string   `json:"item_id,omitempty"`
	ItemName      string   `json:"item_name,omitempty"`
	ItemCategory  string   `json:"item_category,omitempty"`
	Quantity      *int     `json:"quantity,omitempty"`
}

type Form struct {
	FormID   string   `json:"form_id,omitempty"`
	FormName string   `json:"form_name,omitempty"`
	Field    string   `json:"field,omitempty"`
	Step     int      `json:"step,omitempty"`
	Success  *bool    `json:"success,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// properties is the persisted shape of the non-columnar payload parts.
type properties struct {
	Form   *Form          `json:"form,omitempty"`
	Custom map[string]any `json:"custom,omitempty"`
}
