// Package ingest is the HTTP surface client agents report to. Handlers validate
// and stamp signals, then hand them to the queue; nothing here touches storage.
package ingest

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xokuso/peluquerias-app-sub000/internal/identity"
	"github.com/xokuso/peluquerias-app-sub000/internal/queue"
	"github.com/xokuso/peluquerias-app-sub000/internal/track"
	"go.uber.org/zap"
)

const (
	maxBody    = 1 << 20
	maxSignals = 100
)

// Accepted is the data of a successful /api/track response.
type Accepted struct {
	SessionID string `json:"session_id,omitempty"`
	Accepted  int    `json:"accepted"`
}

// TrackHandler accepts one signal or an array of signals. A session_start without
// a session id gets a server-minted one, which is applied to the rest of the batch
// and returned to the client.
func TrackHandler(publisher queue.Publisher, logger *zap.Logger) gin.HandlerFunc {
	logger = orNop(logger).Named("ingest")
	return func(c *gin.Context) {
		body, err := readBody(c, maxBody)
		if err != nil {
			respondErr(c, http.StatusBadRequest, "invalid body")
			return
		}
		sigs, err := track.DecodeSignals(body)
		if err != nil {
			respondErr(c, http.StatusBadRequest, "invalid json")
			return
		}
		if len(sigs) > maxSignals {
			respondErr(c, http.StatusRequestEntityTooLarge, "too many signals")
			return
		}

		msgs, sessionID, err := stamp(c, sigs)
		if err != nil {
			respondErr(c, http.StatusBadRequest, err.Error())
			return
		}
		if err := queue.PublishAll(publisher, queue.TopicSignals, msgs); err != nil {
			logger.Warn("publish signals failed", zap.Int("signals", len(sigs)), zap.Error(err))
			respondErr(c, http.StatusServiceUnavailable, "queue unavailable")
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"code": 0,
			"data": Accepted{SessionID: sessionID, Accepted: len(sigs)},
		})
	}
}

// BeaconHandler serves navigator.sendBeacon deliveries sent on page teardown. The
// browser ignores the response, so it is always 204 and failures are only logged.
func BeaconHandler(publisher queue.Publisher, logger *zap.Logger) gin.HandlerFunc {
	logger = orNop(logger).Named("ingest")
	return func(c *gin.Context) {
		defer c.Status(http.StatusNoContent)

		body, err := readBody(c, maxBody)
		if err != nil {
			return
		}
		sigs, err := track.DecodeSignals(body)
		if err != nil || len(sigs) > maxSignals {
			logger.Debug("dropping beacon", zap.Int("bytes", len(body)), zap.Error(err))
			return
		}
		msgs, _, err := stamp(c, sigs)
		if err != nil {
			logger.Debug("dropping beacon", zap.Error(err))
			return
		}
		if err := queue.PublishAll(publisher, queue.TopicSignals, msgs); err != nil {
			logger.Warn("publish beacon failed", zap.Error(err))
		}
	}
}

// stamp normalizes sigs and groups them into one message per session, keeping the
// request order inside each group so a consumer applies them in sequence.
func stamp(c *gin.Context, sigs []track.Signal) ([]queue.Message, string, error) {
	now := time.Now().UTC()
	meta := &track.Meta{
		ClientIP:  identity.NormalizeIP(c.ClientIP()),
		UserAgent: c.GetHeader("User-Agent"),
		Referrer:  c.GetHeader("Referer"),
	}

	var minted string
	var order []string
	groups := make(map[string][]track.Signal)
	for i := range sigs {
		s := sigs[i]
		s.Type = strings.ToLower(strings.TrimSpace(s.Type))
		if strings.TrimSpace(s.SessionID) == "" {
			if s.Type == track.TypeSessionStart && minted == "" {
				minted = identity.NewSessionID()
			}
			s.SessionID = minted
		}
		if err := s.Normalize(); err != nil {
			return nil, "", err
		}
		s.Received = now
		s.Meta = meta
		if _, ok := groups[s.SessionID]; !ok {
			order = append(order, s.SessionID)
		}
		groups[s.SessionID] = append(groups[s.SessionID], s)
	}

	msgs := make([]queue.Message, 0, len(order))
	for _, id := range order {
		b, err := json.Marshal(groups[id])
		if err != nil {
			return nil, "", err
		}
		msgs = append(msgs, queue.Message{Key: id, Body: b})
	}
	return msgs, order[0], nil
}

func respondErr(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"code": status, "err": msg})
}

func orNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

func readBody(c *gin.Context, limit int64) ([]byte, error) {
	defer c.Request.Body.Close()

	raw := io.LimitReader(c.Request.Body, limit)
	enc := strings.ToLower(strings.TrimSpace(c.GetHeader("Content-Encoding")))
	if strings.Contains(enc, "gzip") {
		zr, err := gzip.NewReader(raw)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(io.LimitReader(zr, limit))
	}
	return io.ReadAll(raw)
}
