package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const dateOnlyLayout = "2006-01-02"

func parseOptionalInt64(c *gin.Context, name string) (*int64, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, newValidationError(name, "invalid_"+name, "must be an integer")
	}
	return &value, nil
}

// parseOptionalTime accepts RFC 3339 timestamps and bare dates. A bare date
// on an inclusive upper bound means the whole day, so endOfDay extends it to
// 23:59:59.999999999.
func parseOptionalTime(c *gin.Context, name string, endOfDay bool) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}

	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		ts = ts.UTC()
		return &ts, nil
	}

	day, err := time.Parse(dateOnlyLayout, raw)
	if err != nil {
		return nil, newValidationError(name, "invalid_"+name, "must be RFC 3339 or YYYY-MM-DD")
	}
	day = day.UTC()
	if endOfDay {
		day = day.Add(24*time.Hour - time.Nanosecond)
	}
	return &day, nil
}
