package identity

import (
	"strings"

	"github.com/mssola/useragent"
)

const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceBot     = "bot"
)

type Device struct {
	Type           string `json:"device_type"`
	Browser        string `json:"browser"`
	BrowserVersion string `json:"browser_version"`
	OS             string `json:"os"`
	OSVersion      string `json:"os_version"`
	Bot            bool   `json:"is_bot"`
}

var botMarkers = []string{
	"bot", "crawler", "spider", "slurp", "headless", "lighthouse", "pingdom",
	"facebookexternalhit", "curl/", "wget/", "python-requests", "go-http-client", "httpclient",
}

func ParseUserAgent(raw string) Device {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Device{Type: DeviceDesktop, Browser: "unknown", OS: "unknown"}
	}

	ua := useragent.New(raw)
	name, version := ua.Browser()
	osInfo := ua.OSInfo()
	d := Device{
		Browser:        orUnknown(name),
		BrowserVersion: version,
		OS:             orUnknown(osInfo.Name),
		OSVersion:      osInfo.Version,
		Bot:            ua.Bot() || IsBot(raw),
	}

	lower := strings.ToLower(raw)
	switch {
	case d.Bot:
		d.Type = DeviceBot
	case strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet") ||
		(strings.Contains(lower, "android") && !strings.Contains(lower, "mobile")):
		d.Type = DeviceTablet
	case ua.Mobile():
		d.Type = DeviceMobile
	default:
		d.Type = DeviceDesktop
	}
	return d
}

// IsBot matches well-known crawler and scripted-client signatures.
func IsBot(raw string) bool {
	lower := strings.ToLower(strings.TrimSpace(raw))
	if lower == "" {
		return false
	}
	for _, m := range botMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// NormalizeDeviceType buckets client-reported device types; unknown values become desktop.
func NormalizeDeviceType(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case DeviceMobile, "phone":
		return DeviceMobile
	case DeviceTablet:
		return DeviceTablet
	case DeviceBot:
		return DeviceBot
	default:
		return DeviceDesktop
	}
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}
