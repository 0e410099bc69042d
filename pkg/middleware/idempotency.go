package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/richxcame/escrow-settlement/pkg/common"
	"github.com/richxcame/escrow-settlement/pkg/logger"
	redisclient "github.com/richxcame/escrow-settlement/pkg/redis"
	"go.uber.org/zap"
)

const (
	// IdempotencyKeyHeader carries the client chosen key of a mutating request
	IdempotencyKeyHeader = "Idempotency-Key"
	// IdempotentReplayHeader marks responses served from a stored result
	IdempotentReplayHeader = "Idempotent-Replayed"

	idempotencyTTL     = 24 * time.Hour
	idempotencyLockTTL = 30 * time.Second
	idempotencyPrefix  = "idempotency:"
	maxIdempotentBody  = 1 << 20
)

type storedResponse struct {
	Status      int             `json:"status"`
	ContentType string          `json:"content_type"`
	Body        json.RawMessage `json:"body"`
	Fingerprint string          `json:"fingerprint"`
}

// responseCapture records the body written by the handler
type responseCapture struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *responseCapture) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *responseCapture) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency makes a keyed POST run at most once per caller. A repeat with the same body gets
// the stored 2xx response, a repeat with a different body is refused with 422, and a repeat
// racing the first is refused with 409. When Redis is unreachable requests run unprotected.
func Idempotency(store redisclient.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyKeyHeader)
		if key == "" || c.Request.Method != http.MethodPost {
			c.Next()
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxIdempotentBody))
		if err != nil {
			common.ErrorResponse(c, http.StatusBadRequest, "failed to read request body")
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		ctx := c.Request.Context()
		fingerprint := fingerprintRequest(c.Request.Method, c.FullPath(), body)
		responseKey, lockKey := idempotencyKeys(c, key)

		if replayed := replay(c, store, responseKey, fingerprint); replayed {
			c.Abort()
			return
		}

		claimed, err := store.Claim(ctx, lockKey, fingerprint, idempotencyLockTTL)
		switch {
		case err != nil:
			logger.WarnContext(ctx, "idempotency lock unavailable", zap.Error(err))
		case !claimed:
			common.ErrorResponse(c, http.StatusConflict, "a request with this Idempotency-Key is already in progress")
			c.Abort()
			return
		default:
			defer func() {
				if err := store.Delete(ctx, lockKey); err != nil {
					logger.WarnContext(ctx, "failed to release idempotency lock", zap.Error(err))
				}
			}()
		}

		capture := &responseCapture{ResponseWriter: c.Writer}
		c.Writer = capture
		c.Next()

		status := capture.Status()
		if status < 200 || status >= 300 {
			return
		}
		data, err := json.Marshal(storedResponse{
			Status:      status,
			ContentType: capture.Header().Get("Content-Type"),
			Body:        capture.body.Bytes(),
			Fingerprint: fingerprint,
		})
		if err != nil {
			return
		}
		if err := store.Write(ctx, responseKey, data, idempotencyTTL); err != nil {
			logger.WarnContext(ctx, "failed to store idempotent response",
				zap.String("idempotency_key", key),
				zap.Error(err),
			)
		}
	}
}

// replay answers from a stored response and reports whether it did
func replay(c *gin.Context, store redisclient.Store, responseKey, fingerprint string) bool {
	raw, err := store.Read(c.Request.Context(), responseKey)
	if err != nil {
		if !errors.Is(err, redisclient.ErrCacheMiss) {
			logger.WarnContext(c.Request.Context(), "idempotency lookup failed", zap.Error(err))
		}
		return false
	}

	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return false
	}
	if stored.Fingerprint != fingerprint {
		common.ErrorResponse(c, http.StatusUnprocessableEntity,
			"Idempotency-Key has already been used with a different request")
		return true
	}

	contentType := stored.ContentType
	if contentType == "" {
		contentType = "application/json; charset=utf-8"
	}
	c.Header(IdempotentReplayHeader, "true")
	c.Data(stored.Status, contentType, stored.Body)
	return true
}

// idempotencyKeys scopes a client key to the authenticated caller
func idempotencyKeys(c *gin.Context, key string) (response, lock string) {
	owner := "anonymous"
	if userID, err := GetUserID(c); err == nil {
		owner = userID.String()
	}
	response = idempotencyPrefix + owner + ":" + key
	return response, response + ":lock"
}

func fingerprintRequest(method, route string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(route))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
