package tracking

import "time"

// Signal types accepted by /api/track.
const (
	TypeSessionStart   = "session_start"
	TypeSessionEnd     = "session_end"
	TypePageView       = "page_view"
	TypeEvent          = "event"
	TypeClick          = "click"
	TypeConversion     = "conversion"
	TypeFacebookPixel  = "facebook_pixel"
	TypeFunnelEnter    = "funnel_enter"
	TypeFunnelComplete = "funnel_complete"
	TypeFunnelAbandon  = "funnel_abandon"
)

type Signal struct {
	Type      string     `json:"type"`
	SessionID string     `json:"session_id,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Data      any        `json:"data,omitempty"`
}

type SessionStart struct {
	UserID      string `json:"user_id,omitempty"`
	Referrer    string `json:"referrer,omitempty"`
	LandingPage string `json:"landing_page,omitempty"`
	URL         string `json:"url,omitempty"`
}

type PageView struct {
	Path       string `json:"path"`
	Title      string `json:"title,omitempty"`
	URL        string `json:"url,omitempty"`
	Referrer   string `json:"referrer,omitempty"`
	LoadTimeMs *int64 `json:"load_time_ms,omitempty"`
}

type Event struct {
	Name       string         `json:"name"`
	Category   string         `json:"category,omitempty"`
	Action     string         `json:"action,omitempty"`
	Label      string         `json:"label,omitempty"`
	Value      *float64       `json:"value,omitempty"`
	Page       string         `json:"page,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

type Click struct {
	Page       string `json:"page"`
	X          int    `json:"x"`
	Y          int    `json:"y"`
	Element    string `json:"element,omitempty"`
	Tag        string `json:"tag,omitempty"`
	DeviceType string `json:"device_type,omitempty"`
}

type Conversion struct {
	Type     string   `json:"type"`
	Value    float64  `json:"value"`
	Currency string   `json:"currency,omitempty"`
	OrderID  string   `json:"order_id,omitempty"`
	ItemIDs  []string `json:"item_ids,omitempty"`
	Form     string   `json:"form,omitempty"`
	Email    string   `json:"email,omitempty"`
	Phone    string   `json:"phone,omitempty"`
	URL      string   `json:"url,omitempty"`
}

type funnelData struct {
	Funnel   string         `json:"funnel"`
	Step     string         `json:"step"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Reason   string         `json:"reason,omitempty"`
}

type accepted struct {
	Code int `json:"code"`
	Data struct {
		SessionID string `json:"session_id"`
		Accepted  int    `json:"accepted"`
	} `json:"data"`
	Err string `json:"err"`
}
