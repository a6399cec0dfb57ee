package pixel

import (
	"strings"
	"time"

	"github.com/xokuso/peluquerias-app-sub000/internal/identity"
)

// Standard event names of the Conversions API.
const (
	EventPageView             = "PageView"
	EventViewContent          = "ViewContent"
	EventSearch               = "Search"
	EventAddToCart            = "AddToCart"
	EventInitiateCheckout     = "InitiateCheckout"
	EventAddPaymentInfo       = "AddPaymentInfo"
	EventPurchase             = "Purchase"
	EventLead                 = "Lead"
	EventCompleteRegistration = "CompleteRegistration"
	EventContact              = "Contact"
	EventSchedule             = "Schedule"
	EventSubscribe            = "Subscribe"
)

var standardEvents = map[string]struct{}{
	EventPageView: {}, EventViewContent: {}, EventSearch: {}, EventAddToCart: {},
	EventInitiateCheckout: {}, EventAddPaymentInfo: {}, EventPurchase: {}, EventLead: {},
	EventCompleteRegistration: {}, EventContact: {}, EventSchedule: {}, EventSubscribe: {},
}

func IsStandard(name string) bool {
	_, ok := standardEvents[name]
	return ok
}

const (
	SourceServer  = "server"
	SourceBrowser = "browser"

	DefaultCurrency = "EUR"
)

// UserData holds raw identifiers. They are hashed when the outbound payload is
// built and never leave the process in plaintext.
type UserData struct {
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
	ClientIP   string `json:"client_ip,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	FBP        string `json:"fbp,omitempty"`
	FBC        string `json:"fbc,omitempty"`
}

// Event is one logical conversion signal. ID and Time are filled in by the
// dispatcher.
type Event struct {
	Name      string    `json:"event_name"`
	ID        string    `json:"event_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Time      time.Time `json:"event_time,omitempty"`
	SourceURL string    `json:"event_source_url,omitempty"`
	User      UserData  `json:"user,omitempty"`

	Value           *float64       `json:"value,omitempty"`
	Currency        string         `json:"currency,omitempty"`
	ContentName     string         `json:"content_name,omitempty"`
	ContentCategory string         `json:"content_category,omitempty"`
	ContentIDs      []string       `json:"content_ids,omitempty"`
	ContentType     string         `json:"content_type,omitempty"`
	NumItems        *int           `json:"num_items,omitempty"`
	SearchString    string         `json:"search_string,omitempty"`
	Custom          map[string]any `json:"custom_data,omitempty"`
}

// ServerEvent is the wire shape of one entry in a Conversions API batch.
type ServerEvent struct {
	EventName      string         `json:"event_name"`
	EventTime      int64          `json:"event_time"`
	EventID        string         `json:"event_id"`
	EventSourceURL string         `json:"event_source_url,omitempty"`
	ActionSource   string         `json:"action_source"`
	UserData       WireUserData   `json:"user_data"`
	CustomData     map[string]any `json:"custom_data,omitempty"`
}

type WireUserData struct {
	Em              []string `json:"em,omitempty"`
	Ph              []string `json:"ph,omitempty"`
	Fn              []string `json:"fn,omitempty"`
	Ln              []string `json:"ln,omitempty"`
	ExternalID      []string `json:"external_id,omitempty"`
	ClientIPAddress string   `json:"client_ip_address,omitempty"`
	ClientUserAgent string   `json:"client_user_agent,omitempty"`
	Fbp             string   `json:"fbp,omitempty"`
	Fbc             string   `json:"fbc,omitempty"`
}

func hashed(kind identity.PIIKind, v string) []string {
	if h := identity.HashPII(kind, v); h != "" {
		return []string{h}
	}
	return nil
}

// toServerEvent builds the outbound payload. Custom keys never override the typed
// content descriptors.
func toServerEvent(ev Event) ServerEvent {
	custom := make(map[string]any, len(ev.Custom)+8)
	for k, v := range ev.Custom {
		custom[k] = v
	}
	if ev.Value != nil {
		custom["value"] = *ev.Value
		custom["currency"] = orDefault(ev.Currency, DefaultCurrency)
	} else if ev.Currency != "" {
		custom["currency"] = ev.Currency
	}
	setString(custom, "content_name", ev.ContentName)
	setString(custom, "content_category", ev.ContentCategory)
	setString(custom, "content_type", ev.ContentType)
	setString(custom, "search_string", ev.SearchString)
	if len(ev.ContentIDs) > 0 {
		custom["content_ids"] = ev.ContentIDs
	}
	if ev.NumItems != nil {
		custom["num_items"] = *ev.NumItems
	}
	if len(custom) == 0 {
		custom = nil
	}

	return ServerEvent{
		EventName:      ev.Name,
		EventTime:      ev.Time.Unix(),
		EventID:        ev.ID,
		EventSourceURL: ev.SourceURL,
		ActionSource:   "website",
		UserData: WireUserData{
			Em:              hashed(identity.PIIEmail, ev.User.Email),
			Ph:              hashed(identity.PIIPhone, ev.User.Phone),
			Fn:              hashed(identity.PIIName, ev.User.FirstName),
			Ln:              hashed(identity.PIIName, ev.User.LastName),
			ExternalID:      hashed(identity.PIIExternalID, ev.User.ExternalID),
			ClientIPAddress: ev.User.ClientIP,
			ClientUserAgent: ev.User.UserAgent,
			Fbp:             ev.User.FBP,
			Fbc:             ev.User.FBC,
		},
		CustomData: custom,
	}
}

func setString(m map[string]any, k, v string) {
	if v = strings.TrimSpace(v); v != "" {
		m[k] = v
	}
}

func orDefault(v, def string) string {
	if v = strings.ToUpper(strings.TrimSpace(v)); v != "" {
		return v
	}
	return def
}
