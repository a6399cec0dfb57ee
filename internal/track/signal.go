package track

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xokuso/peluquerias-app-sub000/internal/events"
	"github.com/xokuso/peluquerias-app-sub000/internal/heatmap"
	"github.com/xokuso/peluquerias-app-sub000/internal/identity"
	"github.com/xokuso/peluquerias-app-sub000/internal/pixel"
)

// Signal types accepted by the ingestion endpoint.
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

var signalTypes = map[string]struct{}{
	TypeSessionStart: {}, TypeSessionEnd: {}, TypePageView: {}, TypeEvent: {},
	TypeClick: {}, TypeConversion: {}, TypeFacebookPixel: {},
	TypeFunnelEnter: {}, TypeFunnelComplete: {}, TypeFunnelAbandon: {},
}

func KnownType(t string) bool {
	_, ok := signalTypes[t]
	return ok
}

var ErrUnknownType = errors.New("unknown signal type")

// Signal is one client report as it travels through the queue.
type Signal struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Timestamp any             `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`

	Received time.Time `json:"received,omitempty"`
	Meta     *Meta     `json:"meta,omitempty"`
}

// DecodeSignals reads one signal object or a non-empty array of them.
func DecodeSignals(body []byte) ([]Signal, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}
	if body[0] == '[' {
		var sigs []Signal
		if err := json.Unmarshal(body, &sigs); err != nil {
			return nil, err
		}
		if len(sigs) == 0 {
			return nil, errors.New("empty array")
		}
		return sigs, nil
	}
	var sig Signal
	if err := json.Unmarshal(body, &sig); err != nil {
		return nil, err
	}
	return []Signal{sig}, nil
}

// Meta is request context captured at ingestion time.
type Meta struct {
	ClientIP  string `json:"client_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Referrer  string `json:"referrer,omitempty"`
}

// At resolves the client timestamp, falling back to the receive time.
func (s Signal) At() time.Time {
	fallback := s.Received
	if fallback.IsZero() {
		fallback = time.Now().UTC()
	}
	return identity.ParseTimestamp(s.Timestamp, fallback)
}

func (s Signal) meta() Meta {
	if s.Meta == nil {
		return Meta{}
	}
	return *s.Meta
}

func (s Signal) decode(v any) error {
	if len(s.Data) == 0 || string(s.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(s.Data, v); err != nil {
		return fmt.Errorf("decode %s data: %w", s.Type, err)
	}
	return nil
}

// Normalize validates the envelope fields shared by every signal type.
func (s *Signal) Normalize() error {
	s.Type = strings.ToLower(strings.TrimSpace(s.Type))
	if !KnownType(s.Type) {
		return fmt.Errorf("%w: %q", ErrUnknownType, s.Type)
	}
	id, ok := identity.NormalizeSessionID(s.SessionID)
	if !ok {
		return identity.ErrInvalidSessionID
	}
	s.SessionID = id
	return nil
}

type SessionStartData struct {
	UserID      string `json:"user_id,omitempty"`
	Referrer    string `json:"referrer,omitempty"`
	LandingPage string `json:"landing_page,omitempty"`
	URL         string `json:"url,omitempty"`
}

type PageViewData struct {
	Path       string `json:"path"`
	Title      string `json:"title,omitempty"`
	URL        string `json:"url,omitempty"`
	Referrer   string `json:"referrer,omitempty"`
	LoadTimeMs *int64 `json:"load_time_ms,omitempty"`
	UserID     string `json:"user_id,omitempty"`
}

type EventData = events.Event

type ClickData = heatmap.Click

type ConversionData struct {
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

// PixelData is an event the browser pixel already sent under EventID.
type PixelData struct {
	EventName       string         `json:"event_name"`
	EventID         string         `json:"event_id"`
	Value           *float64       `json:"value,omitempty"`
	Currency        string         `json:"currency,omitempty"`
	ContentName     string         `json:"content_name,omitempty"`
	ContentCategory string         `json:"content_category,omitempty"`
	ContentIDs      []string       `json:"content_ids,omitempty"`
	ContentType     string         `json:"content_type,omitempty"`
	NumItems        *int           `json:"num_items,omitempty"`
	CustomData      map[string]any `json:"custom_data,omitempty"`
	SourceURL       string         `json:"source_url,omitempty"`
}

func (p PixelData) event(sessionID string, at time.Time) pixel.Event {
	return pixel.Event{
		Name:            p.EventName,
		ID:              p.EventID,
		SessionID:       sessionID,
		Time:            at,
		SourceURL:       p.SourceURL,
		Value:           p.Value,
		Currency:        p.Currency,
		ContentName:     p.ContentName,
		ContentCategory: p.ContentCategory,
		ContentIDs:      p.ContentIDs,
		ContentType:     p.ContentType,
		NumItems:        p.NumItems,
		Custom:          p.CustomData,
	}
}

type FunnelData struct {
	Funnel   string         `json:"funnel"`
	Step     string         `json:"step"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Reason   string         `json:"reason,omitempty"`
}
