package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/richxcame/escrow-settlement/pkg/security"
)

const maxSanitizedBody = 1 << 20

// gateway callbacks are parsed byte for byte and never rewritten
const callbackPathPrefix = "/api/v1/callbacks/"

// SanitizeRequest cleans free text in query strings and JSON bodies before handlers bind
// them: pickup and dropoff descriptions, refund reasons, dispute notes. Numbers and booleans
// pass through untouched.
func SanitizeRequest() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, callbackPathPrefix) {
			c.Next()
			return
		}
		sanitizeQuery(c)
		sanitizeBody(c)
		c.Next()
	}
}

func sanitizeQuery(c *gin.Context) {
	values := c.Request.URL.Query()
	dirty := false
	for _, vs := range values {
		for i, v := range vs {
			if clean := security.CleanText(v, 0); clean != v {
				vs[i] = clean
				dirty = true
			}
		}
	}
	if dirty {
		c.Request.URL.RawQuery = values.Encode()
	}
}

func sanitizeBody(c *gin.Context) {
	if c.Request.Body == nil || !strings.Contains(c.ContentType(), "json") {
		return
	}

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSanitizedBody))
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil || len(raw) == 0 {
		return
	}

	var doc interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return
	}
	if !cleanJSON(&doc) {
		return
	}
	if out, err := json.Marshal(doc); err == nil {
		c.Request.Body = io.NopCloser(bytes.NewReader(out))
		c.Request.ContentLength = int64(len(out))
	}
}

// cleanJSON sanitizes every string in v and reports whether anything changed
func cleanJSON(v *interface{}) bool {
	changed := false
	switch node := (*v).(type) {
	case string:
		if clean := security.CleanText(node, 0); clean != node {
			*v = clean
			changed = true
		}
	case []interface{}:
		for i := range node {
			if cleanJSON(&node[i]) {
				changed = true
			}
		}
	case map[string]interface{}:
		for k, item := range node {
			if cleanJSON(&item) {
				node[k] = item
				changed = true
			}
		}
	}
	return changed
}
