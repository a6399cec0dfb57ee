package pixel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Transport delivers batches to the ad network. Init is called at most once per
// dispatcher before the first Send.
type Transport interface {
	Init(ctx context.Context) error
	Send(ctx context.Context, batch []ServerEvent) error
}

const defaultGraphBaseURL = "https://graph.facebook.com"

// GraphTransport posts to the Conversions API endpoint
// {BaseURL}/{Version}/{PixelID}/events.
type GraphTransport struct {
	BaseURL       string
	Version       string
	PixelID       string
	AccessToken   string
	TestEventCode string
	HTTPClient    *http.Client
}

func NewGraphTransport(pixelID, accessToken, version, testEventCode string) *GraphTransport {
	return &GraphTransport{
		BaseURL:       defaultGraphBaseURL,
		Version:       version,
		PixelID:       pixelID,
		AccessToken:   accessToken,
		TestEventCode: testEventCode,
		HTTPClient:    &http.Client{Timeout: 10 * time.Second},
	}
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports errors that a resend of the same batch cannot fix.
func IsPermanent(err error) bool {
	var pe permanentError
	return errors.As(err, &pe)
}

func (t *GraphTransport) endpoint(suffix string) (string, error) {
	if strings.TrimSpace(t.PixelID) == "" || strings.TrimSpace(t.AccessToken) == "" {
		return "", permanent(errors.New("pixel id and access token are required"))
	}
	base := strings.TrimRight(orString(t.BaseURL, defaultGraphBaseURL), "/")
	version := strings.Trim(orString(t.Version, "v19.0"), "/")
	return base + "/" + version + "/" + url.PathEscape(t.PixelID) + suffix, nil
}

// Init verifies the pixel id and token by reading the pixel object.
func (t *GraphTransport) Init(ctx context.Context) error {
	u, err := t.endpoint("")
	if err != nil {
		return err
	}
	q := url.Values{}
	q.Set("fields", "id")
	q.Set("access_token", t.AccessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u+"?"+q.Encode(), nil)
	if err != nil {
		return permanent(err)
	}
	return t.do(req)
}

func (t *GraphTransport) Send(ctx context.Context, batch []ServerEvent) error {
	if len(batch) == 0 {
		return nil
	}
	u, err := t.endpoint("/events")
	if err != nil {
		return err
	}
	body := map[string]any{
		"data":         batch,
		"access_token": t.AccessToken,
	}
	if t.TestEventCode != "" {
		body["test_event_code"] = t.TestEventCode
	}
	b, err := json.Marshal(body)
	if err != nil {
		return permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	return t.do(req)
}

func (t *GraphTransport) do(req *http.Request) error {
	client := t.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
	err = fmt.Errorf("graph api http %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	if res.StatusCode >= 400 && res.StatusCode < 500 && res.StatusCode != http.StatusTooManyRequests {
		return permanent(err)
	}
	return err
}

func orString(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
