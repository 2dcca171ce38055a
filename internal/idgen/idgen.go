package idgen

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// New returns a UUIDv7 identifier string.
// If UUIDv7 generation fails, it falls back to a random UUIDv4.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9_-]*[A-Za-z0-9])?$`)

// Validate checks that id can be used as an activity identifier. Besides
// UUIDs it accepts older "<millis>_<suffix>" identifiers.
// Rules: letters, digits, dashes and underscores; must start and end with a
// letter or digit; max 64 characters.
func Validate(id string) error {
	if len(id) > 64 {
		return fmt.Errorf("id too long (max 64 characters)")
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("id %q is invalid: must match %s", id, idPattern.String())
	}
	return nil
}
