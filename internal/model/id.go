package model

import "github.com/oklog/ulid/v2"

// NewAgentID generates a ULID string identifying a worker process. Each
// worker replica gets a fresh id at startup; claimed instances record it.
func NewAgentID() string {
	return ulid.Make().String()
}
