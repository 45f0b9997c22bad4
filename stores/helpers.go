package stores

import (
	"time"

	"github.com/oarkflow/date"
)

// flexibleTime coerces a scanned timestamp column to time.Time. sqlite hands
// timestamps back as TEXT, other drivers as time.Time.
func flexibleTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if parsed, err := date.Parse(t); err == nil {
			return parsed, true
		}
	case []byte:
		if parsed, err := date.Parse(string(t)); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}
