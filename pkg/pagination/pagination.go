package pagination

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/richxcame/escrow-settlement/pkg/common"
)

// Listing bounds for admin transaction and escrow pages
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params is a limit/offset window over a listing
type Params struct {
	Limit  int
	Offset int
}

// ParseParams reads limit and offset, or page when offset is absent. Bad values fall back to
// the first page rather than failing the request.
func ParseParams(c *gin.Context) Params {
	p := Params{Limit: clamp(queryInt(c, "limit", DefaultLimit), 1, MaxLimit)}

	if raw, ok := c.GetQuery("offset"); ok {
		if offset, err := strconv.Atoi(raw); err == nil && offset > 0 {
			p.Offset = offset
		}
		return p
	}
	if page := queryInt(c, "page", 1); page > 1 {
		p.Offset = (page - 1) * p.Limit
	}
	return p
}

// BuildMeta describes the page that was served
func BuildMeta(limit, offset int, total int64) *common.Meta {
	meta := &common.Meta{Limit: limit, Offset: offset, Total: total}
	if limit > 0 {
		meta.TotalPages = int((total + int64(limit) - 1) / int64(limit))
	}
	return meta
}

func queryInt(c *gin.Context, key string, fallback int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return fallback
	}
	return v
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return DefaultLimit
	}
	if v > hi {
		return hi
	}
	return v
}
