package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Session is keyed by the client-visible session id. Origin fields (ip, referrer,
// landing page, utm_*) are written once on insert and never overwritten.
type Session struct {
	ID     string  `gorm:"type:varchar(64);primaryKey;column:id"`
	UserID *string `gorm:"type:varchar(64);index;column:user_id"`

	IPAddress      string `gorm:"type:varchar(64);column:ip_address"`
	UserAgent      string `gorm:"type:text;column:user_agent"`
	DeviceType     string `gorm:"type:varchar(20);index;column:device_type"`
	Browser        string `gorm:"type:varchar(100);column:browser"`
	BrowserVersion string `gorm:"type:varchar(50);column:browser_version"`
	OS             string `gorm:"type:varchar(100);column:os"`
	OSVersion      string `gorm:"type:varchar(50);column:os_version"`
	IsBot          bool   `gorm:"not null;default:false;column:is_bot"`
	Country        string `gorm:"type:varchar(100);column:country"`
	Region         string `gorm:"type:varchar(100);column:region"`
	City           string `gorm:"type:varchar(100);column:city"`

	Referrer    string `gorm:"type:text;column:referrer"`
	LandingPage string `gorm:"type:text;column:landing_page"`
	UTMSource   string `gorm:"type:varchar(255);index;column:utm_source"`
	UTMMedium   string `gorm:"type:varchar(255);column:utm_medium"`
	UTMCampaign string `gorm:"type:varchar(255);index;column:utm_campaign"`
	UTMContent  string `gorm:"type:varchar(255);column:utm_content"`
	UTMTerm     string `gorm:"type:varchar(255);column:utm_term"`
	FBClickID   string `gorm:"type:varchar(255);column:fbclid"`

	StartedAt    time.Time  `gorm:"not null;index;column:started_at"`
	LastActivity time.Time  `gorm:"not null;index;column:last_activity"`
	EndedAt      *time.Time `gorm:"index;column:ended_at"`
	Duration     *int64     `gorm:"column:duration_seconds"`

	PageViews       int64    `gorm:"not null;default:0;column:page_views"`
	HasConverted    bool     `gorm:"not null;default:false;index;column:has_converted"`
	ConversionType  string   `gorm:"type:varchar(50);column:conversion_type"`
	ConversionValue *float64 `gorm:"column:conversion_value"`
}

func (Session) TableName() string { return "sessions" }

// Closed reports whether the session reached its terminal state.
func (s Session) Closed() bool { return s.EndedAt != nil }

type PageView struct {
	ID         int64     `gorm:"primaryKey;autoIncrement;column:id"`
	SessionID  *string   `gorm:"type:varchar(64);index:idx_page_views_session_ts,priority:1;column:session_id"`
	Path       string    `gorm:"type:varchar(500);not null;index;column:path"`
	Title      string    `gorm:"type:varchar(500);column:title"`
	URL        string    `gorm:"type:text;column:url"`
	Referrer   string    `gorm:"type:text;column:referrer"`
	LoadTimeMs *int64    `gorm:"column:load_time_ms"`
	ViewedAt   time.Time `gorm:"not null;index:idx_page_views_session_ts,priority:2;index;column:viewed_at"`
}

func (PageView) TableName() string { return "page_views" }

type AnalyticsEvent struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;column:id"`
	SessionID *string   `gorm:"type:varchar(64);index;column:session_id"`
	Name      string    `gorm:"type:varchar(100);not null;index:idx_events_name_ts,priority:1;column:name"`
	Category  string    `gorm:"type:varchar(50);not null;index;column:category"`
	Action    string    `gorm:"type:varchar(100);column:action"`
	Label     string    `gorm:"type:varchar(255);column:label"`
	Value     *float64  `gorm:"column:value"`
	Page      string    `gorm:"type:varchar(500);column:page"`

	Element      string `gorm:"type:varchar(255);column:element"`
	ElementID    string `gorm:"type:varchar(255);column:element_id"`
	ElementClass string `gorm:"type:varchar(255);column:element_class"`
	PositionX    *int   `gorm:"column:position_x"`
	PositionY    *int   `gorm:"column:position_y"`

	Revenue       *float64 `gorm:"column:revenue"`
	Currency      string   `gorm:"type:varchar(3);not null;default:'EUR';column:currency"`
	TransactionID string   `gorm:"type:varchar(100);index;column:transaction_id"`
	ItemID        string   `gorm:"type:varchar(100);column:item_id"`
	ItemName      string   `gorm:"type:varchar(255);column:item_name"`
	ItemCategory  string   `gorm:"type:varchar(100);column:item_category"`
	Quantity      *int     `gorm:"column:quantity"`

	Properties datatypes.JSON `gorm:"type:jsonb;not null;column:properties"`
	CreatedAt  time.Time      `gorm:"not null;index:idx_events_name_ts,priority:2;index;column:created_at"`
}

func (AnalyticsEvent) TableName() string { return "analytics_events" }

// FunnelStepRecord is one visit of a session through one funnel step. OpenKey is
// non-null only while the visit is active; the unique index on it guarantees at most
// one open visit per (session, funnel, step).
type FunnelStepRecord struct {
	ID          int64          `gorm:"primaryKey;autoIncrement;column:id"`
	SessionID   string         `gorm:"type:varchar(64);not null;index:idx_funnel_session,priority:1;column:session_id"`
	FunnelName  string         `gorm:"type:varchar(100);not null;index:idx_funnel_session,priority:2;index:idx_funnel_steps,priority:1;column:funnel_name"`
	StepName    string         `gorm:"type:varchar(100);not null;index:idx_funnel_steps,priority:2;column:step_name"`
	StepOrder   int            `gorm:"not null;column:step_order"`
	Completed   bool           `gorm:"not null;default:false;column:completed"`
	TimeSpent   *int64         `gorm:"column:time_spent_seconds"`
	IsExitPoint bool           `gorm:"not null;default:false;column:is_exit_point"`
	ExitReason  string         `gorm:"type:varchar(100);column:exit_reason"`
	Metadata    datatypes.JSON `gorm:"type:jsonb;not null;column:metadata"`
	OpenKey     *string        `gorm:"type:varchar(400);uniqueIndex:idx_funnel_open_key;column:open_key"`
	EnteredAt   time.Time      `gorm:"not null;index;column:entered_at"`
	CompletedAt *time.Time     `gorm:"column:completed_at"`
	ExitedAt    *time.Time     `gorm:"column:exited_at"`
}

func (FunnelStepRecord) TableName() string { return "funnel_step_records" }

type HeatmapPoint struct {
	ID           int64     `gorm:"primaryKey;autoIncrement;column:id"`
	Page         string    `gorm:"type:varchar(500);not null;uniqueIndex:idx_heatmap_key,priority:1;column:page"`
	X            int       `gorm:"not null;uniqueIndex:idx_heatmap_key,priority:2;column:x"`
	Y            int       `gorm:"not null;uniqueIndex:idx_heatmap_key,priority:3;column:y"`
	Element      string    `gorm:"type:varchar(255);not null;default:'';uniqueIndex:idx_heatmap_key,priority:4;column:element"`
	DeviceType   string    `gorm:"type:varchar(20);not null;default:'desktop';uniqueIndex:idx_heatmap_key,priority:5;column:device_type"`
	ElementTag   string    `gorm:"type:varchar(50);column:element_tag"`
	ScreenWidth  *int      `gorm:"column:screen_width"`
	ScreenHeight *int      `gorm:"column:screen_height"`
	ClickCount   int64     `gorm:"not null;default:1;column:click_count"`
	CreatedAt    time.Time `gorm:"not null;column:created_at"`
	UpdatedAt    time.Time `gorm:"not null;column:updated_at"`
}

func (HeatmapPoint) TableName() string { return "heatmap_points" }

// PixelEvent mirrors every conversion event handed to the ad network, including
// browser-side events reported back with their own event id.
type PixelEvent struct {
	ID              int64          `gorm:"primaryKey;autoIncrement;column:id"`
	SessionID       *string        `gorm:"type:varchar(64);index;column:session_id"`
	EventName       string         `gorm:"type:varchar(50);not null;index;column:event_name"`
	EventID         string         `gorm:"type:varchar(100);not null;index;column:event_id"`
	Source          string         `gorm:"type:varchar(20);not null;column:source"`
	Value           *float64       `gorm:"column:value"`
	Currency        string         `gorm:"type:varchar(3);column:currency"`
	ContentName     string         `gorm:"type:varchar(255);column:content_name"`
	ContentCategory string         `gorm:"type:varchar(100);column:content_category"`
	ContentIDs      datatypes.JSON `gorm:"type:jsonb;column:content_ids"`
	ContentType     string         `gorm:"type:varchar(50);column:content_type"`
	NumItems        *int           `gorm:"column:num_items"`
	CustomData      datatypes.JSON `gorm:"type:jsonb;column:custom_data"`
	HashedEmail     string         `gorm:"type:varchar(64);column:hashed_email"`
	HashedPhone     string         `gorm:"type:varchar(64);column:hashed_phone"`
	SourceURL       string         `gorm:"type:text;column:source_url"`
	CreatedAt       time.Time      `gorm:"not null;index;column:created_at"`
}

func (PixelEvent) TableName() string { return "pixel_events" }

// All lists every persisted model, in migration order.
func All() []any {
	return []any{
		&Session{},
		&PageView{},
		&AnalyticsEvent{},
		&FunnelStepRecord{},
		&HeatmapPoint{},
		&PixelEvent{},
	}
}
