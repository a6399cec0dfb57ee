package pixel

import (
	"context"

	"github.com/xokuso/peluquerias-app-sub000/internal/outcome"
)

// Product describes a sellable site template or plan.
type Product struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Category string  `json:"category,omitempty"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency,omitempty"`
}

// Order is a checkout or a completed purchase.
type Order struct {
	ID       string    `json:"id,omitempty"`
	Items    []Product `json:"items"`
	Total    float64   `json:"total"`
	Currency string    `json:"currency,omitempty"`
}

func (o Order) contentIDs() []string {
	ids := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		if it.ID != "" {
			ids = append(ids, it.ID)
		}
	}
	return ids
}

func (o Order) numItems() *int {
	n := len(o.Items)
	return &n
}

func ptr(f float64) *float64 { return &f }

// Meta carries the per-request context shared by the helpers.
type Meta struct {
	SessionID string
	SourceURL string
	User      UserData
}

func (m Meta) event(name string) Event {
	return Event{Name: name, SessionID: m.SessionID, SourceURL: m.SourceURL, User: m.User}
}

func (d *Dispatcher) TemplateViewed(ctx context.Context, m Meta, p Product) (string, outcome.Result) {
	ev := m.event(EventViewContent)
	ev.ContentName = p.Name
	ev.ContentCategory = orString(p.Category, "template")
	ev.ContentIDs = []string{p.ID}
	ev.ContentType = "product"
	ev.Value = ptr(p.Price)
	ev.Currency = p.Currency
	return d.Track(ctx, ev)
}

func (d *Dispatcher) TemplateSelected(ctx context.Context, m Meta, p Product) (string, outcome.Result) {
	ev := m.event(EventAddToCart)
	ev.ContentName = p.Name
	ev.ContentCategory = orString(p.Category, "template")
	ev.ContentIDs = []string{p.ID}
	ev.ContentType = "product"
	ev.Value = ptr(p.Price)
	ev.Currency = p.Currency
	return d.Track(ctx, ev)
}

func (d *Dispatcher) CheckoutStarted(ctx context.Context, m Meta, o Order) (string, outcome.Result) {
	ev := m.event(EventInitiateCheckout)
	ev.ContentIDs = o.contentIDs()
	ev.ContentType = "product"
	ev.NumItems = o.numItems()
	ev.Value = ptr(o.Total)
	ev.Currency = o.Currency
	return d.Track(ctx, ev)
}

func (d *Dispatcher) PaymentInfoAdded(ctx context.Context, m Meta, o Order, method string) (string, outcome.Result) {
	ev := m.event(EventAddPaymentInfo)
	ev.ContentIDs = o.contentIDs()
	ev.Value = ptr(o.Total)
	ev.Currency = o.Currency
	if method != "" {
		ev.Custom = map[string]any{"payment_method": method}
	}
	return d.Track(ctx, ev)
}

func (d *Dispatcher) PurchaseCompleted(ctx context.Context, m Meta, o Order) (string, outcome.Result) {
	ev := m.event(EventPurchase)
	ev.ContentIDs = o.contentIDs()
	ev.ContentType = "product"
	ev.NumItems = o.numItems()
	ev.Value = ptr(o.Total)
	ev.Currency = o.Currency
	if o.ID != "" {
		ev.Custom = map[string]any{"order_id": o.ID}
	}
	return d.Track(ctx, ev)
}

// LeadCompleted reports a finished lead form; value is an optional lead estimate.
func (d *Dispatcher) LeadCompleted(ctx context.Context, m Meta, form string, value *float64) (string, outcome.Result) {
	ev := m.event(EventLead)
	ev.ContentName = form
	ev.ContentCategory = "lead_form"
	ev.Value = value
	return d.Track(ctx, ev)
}

func (d *Dispatcher) RegistrationCompleted(ctx context.Context, m Meta, method string) (string, outcome.Result) {
	ev := m.event(EventCompleteRegistration)
	ev.ContentName = "account"
	ev.Custom = map[string]any{"status": "completed"}
	if method != "" {
		ev.Custom["registration_method"] = method
	}
	return d.Track(ctx, ev)
}

func (d *Dispatcher) ContactSubmitted(ctx context.Context, m Meta, form string) (string, outcome.Result) {
	ev := m.event(EventContact)
	ev.ContentName = form
	ev.ContentCategory = "contact_form"
	return d.Track(ctx, ev)
}

func (d *Dispatcher) SearchPerformed(ctx context.Context, m Meta, query string, resultIDs []string) (string, outcome.Result) {
	ev := m.event(EventSearch)
	ev.SearchString = query
	ev.ContentIDs = resultIDs
	ev.ContentCategory = "template"
	return d.Track(ctx, ev)
}

// CartAbandoned has no standard counterpart and is sent as a custom event.
func (d *Dispatcher) CartAbandoned(ctx context.Context, m Meta, o Order, lastStep string) (string, outcome.Result) {
	ev := m.event("CartAbandoned")
	ev.ContentIDs = o.contentIDs()
	ev.NumItems = o.numItems()
	ev.Value = ptr(o.Total)
	ev.Currency = o.Currency
	if lastStep != "" {
		ev.Custom = map[string]any{"last_step": lastStep}
	}
	return d.Track(ctx, ev)
}
