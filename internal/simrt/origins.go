package simrt

import "github.com/google/uuid"

// UUIDv7Origins generates time-sortable UUIDv7 origin strings for
// registrations.
//
// UUIDv7 embeds a timestamp in the most significant bits, so origins sort
// by registration time, which helps when reading raw event logs.
//
// Stateless and safe for concurrent use.
type UUIDv7Origins struct{}

// Generate returns a new UUIDv7 as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Origins) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
