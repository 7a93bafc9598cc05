package docstore

import (
	"fmt"

	"github.com/google/uuid"
)

// NewID returns a UUIDv7: a millisecond timestamp followed by random
// bits, so keys sort roughly by creation time.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// keyString renders a primary key value as its portable string form.
func keyString(v any) string {
	switch k := v.(type) {
	case nil:
		return ""
	case string:
		return k
	case float64:
		if k == float64(int64(k)) {
			return fmt.Sprintf("%d", int64(k))
		}
	}
	return fmt.Sprint(v)
}
