// Package tracking is a Go client for the tracking gateway. Signals are queued in
// memory and posted in batches to /api/track.
package tracking

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	SDKName    = "tracking-go"
	SDKVersion = "0.1.0"

	// MaxBatchSize is the most signals the gateway accepts per request.
	MaxBatchSize = 100
)

var (
	ErrClosed         = errors.New("tracking: client closed")
	ErrMissingSession = errors.New("tracking: session id is required")
)

// StatusError is a non-2xx gateway response.
type StatusError struct {
	Status int
	Msg    string
}

func (e *StatusError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("tracking: gateway returned %d", e.Status)
	}
	return fmt.Sprintf("tracking: gateway returned %d: %s", e.Status, e.Msg)
}

// Permanent reports whether resending the same batch cannot succeed.
func (e *StatusError) Permanent() bool {
	return e.Status >= 400 && e.Status < 500 && e.Status != http.StatusTooManyRequests
}

type ClientOptions struct {
	BaseURL string

	FlushInterval time.Duration
	MaxBatchSize  int
	MaxQueueSize  int
	Timeout       time.Duration

	Gzip bool

	// UserAgent is forwarded to the gateway for device detection; it defaults to
	// the SDK identifier.
	UserAgent  string
	HTTPClient *http.Client

	Now func() time.Time
}

type Client struct {
	baseURL string

	flushInterval time.Duration
	maxBatchSize  int
	maxQueueSize  int
	timeout       time.Duration
	gzip          bool
	userAgent     string

	httpClient *http.Client
	now        func() time.Time

	mu      sync.Mutex
	queue   []Signal
	dropped int
	backoff time.Duration
	closed  bool

	flushMu sync.Mutex

	ticker *time.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
}

func NewClient(options ClientOptions) (*Client, error) {
	baseURL, err := normalizeBaseURL(options.BaseURL)
	if err != nil {
		return nil, err
	}

	flushInterval := options.FlushInterval
	if flushInterval == 0 {
		flushInterval = 2 * time.Second
	}
	maxBatchSize := options.MaxBatchSize
	if maxBatchSize <= 0 || maxBatchSize > MaxBatchSize {
		maxBatchSize = MaxBatchSize
	}
	maxQueueSize := options.MaxQueueSize
	if maxQueueSize <= 0 {
		maxQueueSize = 1000
	}
	timeout := options.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	nowFn := options.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	ua := strings.TrimSpace(options.UserAgent)
	if ua == "" {
		ua = SDKName + "/" + SDKVersion
	}

	c := &Client{
		baseURL:       baseURL,
		flushInterval: flushInterval,
		maxBatchSize:  maxBatchSize,
		maxQueueSize:  maxQueueSize,
		timeout:       timeout,
		gzip:          options.Gzip,
		userAgent:     ua,
		httpClient:    httpClient,
		now:           nowFn,
		done:          make(chan struct{}),
	}

	if c.flushInterval > 0 {
		c.ticker = time.NewTicker(c.flushInterval)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for {
				select {
				case <-c.ticker.C:
					_ = c.Flush(context.Background())
				case <-c.done:
					return
				}
			}
		}()
	}
	return c, nil
}

// StartSession opens a session. With an empty sessionID the request is sent
// immediately so the gateway can mint the id; otherwise it is queued like any
// other signal.
func (c *Client) StartSession(ctx context.Context, sessionID string, data SessionStart) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID != "" {
		return sessionID, c.enqueue(TypeSessionStart, sessionID, data)
	}
	ts := c.now().UTC()
	res, err := c.post(ctx, "/api/track", []Signal{{Type: TypeSessionStart, Timestamp: &ts, Data: data}})
	if err != nil {
		return "", err
	}
	return res.Data.SessionID, nil
}

func (c *Client) EndSession(sessionID string) error {
	return c.enqueue(TypeSessionEnd, sessionID, nil)
}

func (c *Client) PageView(sessionID string, pv PageView) error {
	return c.enqueue(TypePageView, sessionID, pv)
}

func (c *Client) Event(sessionID string, ev Event) error {
	if strings.TrimSpace(ev.Name) == "" {
		return errors.New("tracking: event name is required")
	}
	ev.Properties = jsonSafeAnyMap(ev.Properties)
	return c.enqueue(TypeEvent, sessionID, ev)
}

func (c *Client) Click(sessionID string, click Click) error {
	return c.enqueue(TypeClick, sessionID, click)
}

func (c *Client) Conversion(sessionID string, conv Conversion) error {
	return c.enqueue(TypeConversion, sessionID, conv)
}

func (c *Client) FunnelEnter(sessionID, funnel, step string, metadata map[string]any) error {
	return c.enqueue(TypeFunnelEnter, sessionID, funnelData{Funnel: funnel, Step: step, Metadata: jsonSafeAnyMap(metadata)})
}

func (c *Client) FunnelComplete(sessionID, funnel, step string) error {
	return c.enqueue(TypeFunnelComplete, sessionID, funnelData{Funnel: funnel, Step: step})
}

// FunnelAbandon reports an explicit exit; an empty reason is recorded as user_exit.
func (c *Client) FunnelAbandon(sessionID, funnel, step, reason string) error {
	return c.enqueue(TypeFunnelAbandon, sessionID, funnelData{Funnel: funnel, Step: step, Reason: reason})
}

// Pending returns the queued signal count and how many were dropped because the
// queue was full.
func (c *Client) Pending() (queued, dropped int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue), c.dropped
}

func (c *Client) enqueue(typ, sessionID string, data any) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrMissingSession
	}
	ts := c.now().UTC()
	sig := Signal{Type: typ, SessionID: sessionID, Timestamp: &ts, Data: data}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.queue = append(c.queue, sig)
	if over := len(c.queue) - c.maxQueueSize; over > 0 {
		c.queue = append([]Signal(nil), c.queue[over:]...)
		c.dropped += over
	}
	return nil
}

// Flush sends queued signals until the queue is empty or a send fails. Batches the
// gateway rejects as malformed are discarded; other failures are requeued with
// exponential backoff.
func (c *Client) Flush(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	var permanent error
	for {
		if err := c.waitBackoff(ctx); err != nil {
			return err
		}
		batch := c.dequeue()
		if len(batch) == 0 {
			return permanent
		}
		_, err := c.post(ctx, "/api/track", batch)
		if err == nil {
			c.mu.Lock()
			c.backoff = 0
			c.mu.Unlock()
			continue
		}
		var se *StatusError
		if errors.As(err, &se) && se.Permanent() {
			permanent = errors.Join(permanent, err)
			continue
		}
		c.requeueFront(batch)
		c.bumpBackoff()
		return err
	}
}

func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.ticker != nil {
		c.ticker.Stop()
	}
	close(c.done)
	c.mu.Unlock()

	c.wg.Wait()
	return c.Flush(ctx)
}

func (c *Client) waitBackoff(ctx context.Context) error {
	c.mu.Lock()
	d := c.backoff
	c.mu.Unlock()
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) dequeue() []Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return nil
	}
	n := c.maxBatchSize
	if n > len(c.queue) {
		n = len(c.queue)
	}
	batch := append([]Signal(nil), c.queue[:n]...)
	c.queue = c.queue[n:]
	return batch
}

func (c *Client) requeueFront(batch []Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(append([]Signal(nil), batch...), c.queue...)
	if over := len(c.queue) - c.maxQueueSize; over > 0 {
		c.queue = append([]Signal(nil), c.queue[over:]...)
		c.dropped += over
	}
}

func (c *Client) bumpBackoff() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backoff <= 0 {
		c.backoff = 500 * time.Millisecond
		return
	}
	c.backoff *= 2
	if c.backoff > 30*time.Second {
		c.backoff = 30 * time.Second
	}
}

func (c *Client) post(ctx context.Context, path string, batch []Signal) (accepted, error) {
	var out accepted
	body, err := json.Marshal(batch)
	if err != nil {
		return out, fmt.Errorf("marshal signals: %w", err)
	}

	var reqBody io.Reader = bytes.NewReader(body)
	var contentEncoding string
	if c.gzip {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			_ = zw.Close()
			return out, fmt.Errorf("gzip write: %w", err)
		}
		if err := zw.Close(); err != nil {
			return out, fmt.Errorf("gzip close: %w", err)
		}
		reqBody = &buf
		contentEncoding = "gzip"
	}

	reqCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+path, reqBody)
	if err != nil {
		return out, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if contentEncoding != "" {
		req.Header.Set("Content-Encoding", contentEncoding)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return out, err
	}
	defer res.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))

	_ = json.Unmarshal(raw, &out)
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return out, &StatusError{Status: res.StatusCode, Msg: out.Err}
	}
	return out, nil
}
