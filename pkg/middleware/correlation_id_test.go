package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/richxcame/escrow-settlement/pkg/logger"
	"github.com/stretchr/testify/assert"
)

func TestCorrelationID(t *testing.T) {
	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{name: "keeps caller uuid", header: "550e8400-e29b-41d4-a716-446655440000", keep: true},
		{name: "replaces non uuid", header: "<script>", keep: false},
		{name: "mints when missing", header: "", keep: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gin.SetMode(gin.TestMode)
			router := gin.New()
			router.Use(CorrelationID())

			var fromCtx, fromGin string
			router.GET("/payment-status", func(c *gin.Context) {
				fromCtx = logger.CorrelationIDFromContext(c.Request.Context())
				fromGin = GetCorrelationID(c)
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/payment-status", nil)
			if tt.header != "" {
				req.Header.Set(CorrelationIDHeader, tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			got := w.Header().Get(CorrelationIDHeader)
			_, err := uuid.Parse(got)
			assert.NoError(t, err)
			assert.Equal(t, got, fromCtx)
			assert.Equal(t, got, fromGin)
			if tt.keep {
				assert.Equal(t, tt.header, got)
			} else {
				assert.NotEqual(t, tt.header, got)
			}
		})
	}
}
