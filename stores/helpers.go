package stores

import (
	"time"

	"github.com/oarkflow/date"
)

// parseFlexibleTime accepts any of the many timestamp formats date.Parse
// understands, so callers can pass RFC3339, dates, or epoch strings.
func parseFlexibleTime(s string) (time.Time, error) {
	return date.Parse(s)
}
