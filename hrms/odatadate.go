package hrms

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// parseODataDate decodes the OData v2 "/Date(1700000000000)/" form, epoch
// milliseconds with an optional timezone offset suffix the feed never uses
// for date-only fields.
func parseODataDate(value string) (time.Time, error) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(value, "/Date("), ")/")
	if trimmed == value {
		return time.Time{}, errors.Errorf("not an OData date: %q", value)
	}
	if idx := strings.IndexAny(trimmed, "+-"); idx > 0 {
		trimmed = trimmed[:idx]
	}
	millis, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "not an OData date: %q", value)
	}
	return time.UnixMilli(millis).UTC(), nil
}
