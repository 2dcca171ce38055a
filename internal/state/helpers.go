package state

import (
	"encoding/json"
	"time"
)

// encodeCollection renders a collection the way it is stored: indented JSON.
func encodeCollection(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
