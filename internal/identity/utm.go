package identity

import (
	"net/url"
	"strings"
)

type UTM struct {
	Source   string `json:"utm_source,omitempty"`
	Medium   string `json:"utm_medium,omitempty"`
	Campaign string `json:"utm_campaign,omitempty"`
	Content  string `json:"utm_content,omitempty"`
	Term     string `json:"utm_term,omitempty"`
	// FBClickID is the Meta click id (fbclid) carried on ad landing URLs.
	FBClickID string `json:"fbclid,omitempty"`
}

func (u UTM) Empty() bool {
	return u == UTM{}
}

// ExtractUTM reads attribution parameters from an absolute or relative URL.
func ExtractUTM(rawURL string) UTM {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return UTM{}
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return UTM{}
	}
	return UTMFromValues(u.Query())
}

func UTMFromValues(q url.Values) UTM {
	return UTM{
		Source:    truncate(q.Get("utm_source"), 255),
		Medium:    truncate(q.Get("utm_medium"), 255),
		Campaign:  truncate(q.Get("utm_campaign"), 255),
		Content:   truncate(q.Get("utm_content"), 255),
		Term:      truncate(q.Get("utm_term"), 255),
		FBClickID: truncate(q.Get("fbclid"), 255),
	}
}

// Merge fills empty fields of u from other.
func (u UTM) Merge(other UTM) UTM {
	if u.Source == "" {
		u.Source = other.Source
	}
	if u.Medium == "" {
		u.Medium = other.Medium
	}
	if u.Campaign == "" {
		u.Campaign = other.Campaign
	}
	if u.Content == "" {
		u.Content = other.Content
	}
	if u.Term == "" {
		u.Term = other.Term
	}
	if u.FBClickID == "" {
		u.FBClickID = other.FBClickID
	}
	return u
}
