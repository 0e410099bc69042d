package middleware

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/richxcame/escrow-settlement/pkg/logger"
	"github.com/richxcame/escrow-settlement/pkg/security"
	"go.uber.org/zap"
)

const maxLoggedBody = 512

// bodyTap keeps a bounded copy of the response body for the access log
type bodyTap struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *bodyTap) Write(b []byte) (int, error) {
	w.keep(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyTap) WriteString(s string) (int, error) {
	w.keep([]byte(s))
	return w.ResponseWriter.WriteString(s)
}

func (w *bodyTap) keep(b []byte) {
	if room := maxLoggedBody + 1 - w.buf.Len(); room > 0 {
		w.buf.Write(b[:min(len(b), room)])
	}
}

// RequestLogger writes one access log line per request. Bodies are only logged for failed
// requests, with phone numbers masked, so successful payment traffic never lands in the logs.
func RequestLogger(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqBody := peekBody(c.Request)
		tap := &bodyTap{ResponseWriter: c.Writer}
		c.Writer = tap

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("service", serviceName),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
			zap.Int("response_size", c.Writer.Size()),
		}
		if userID, err := GetUserID(c); err == nil {
			fields = append(fields, zap.String("user_id", userID.String()))
		}
		if key := c.GetHeader(IdempotencyKeyHeader); key != "" {
			fields = append(fields, zap.String("idempotency_key", key))
		}

		log := logger.WithContext(c.Request.Context())
		switch {
		case len(c.Errors) > 0 || status >= http.StatusInternalServerError:
			fields = append(fields, loggedBodies(reqBody, tap.buf.Bytes())...)
			if len(c.Errors) > 0 {
				fields = append(fields, zap.String("errors", c.Errors.String()))
			}
			log.Error("Request failed", fields...)
		case status >= http.StatusBadRequest:
			fields = append(fields, loggedBodies(reqBody, tap.buf.Bytes())...)
			log.Warn("Request rejected", fields...)
		default:
			log.Info("Request completed", fields...)
		}
	}
}

// peekBody reads up to maxLoggedBody bytes and puts the full body back
func peekBody(r *http.Request) []byte {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	head := make([]byte, maxLoggedBody+1)
	n, _ := io.ReadFull(r.Body, head)
	head = head[:n]
	r.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(head), r.Body), Closer: r.Body}
	return head
}

type readCloser struct {
	io.Reader
	io.Closer
}

func loggedBodies(req, resp []byte) []zap.Field {
	var fields []zap.Field
	if s := maskBody(req); s != "" {
		fields = append(fields, zap.String("request_body", s))
	}
	if s := maskBody(resp); s != "" {
		fields = append(fields, zap.String("response_body", s))
	}
	return fields
}

func maskBody(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	truncated := len(b) > maxLoggedBody
	if truncated {
		b = b[:maxLoggedBody]
	}
	s := strings.Join(strings.Fields(security.MaskPhonesInText(string(b))), " ")
	if truncated {
		s += "...(truncated)"
	}
	return s
}
