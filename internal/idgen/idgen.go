// Package idgen builds X-Ray style trace headers for handed-out invocations
// and per-process session ids, with the random parts backed by nanoid.
package idgen

import (
	"fmt"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// hexAlphabet matches the lowercase hex digits X-Ray uses.
const hexAlphabet = "0123456789abcdef"

const (
	rootRandLen = 24
	parentLen   = 16
	sessionLen  = 12
)

// sessionAlphabet is URL-safe and unambiguous in logs.
const sessionAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// SessionID returns a random id for one server process. Request ids restart
// at 000000000001 on every start, so anything that outlives the process
// keys on the session too.
func SessionID() (string, error) {
	id, err := nanoid.Generate(sessionAlphabet, sessionLen)
	if err != nil {
		return "", fmt.Errorf("idgen: session: %w", err)
	}
	return id, nil
}

// TraceID returns a trace header value of the form
// "Root=1-<epoch hex>-<24 hex>;Parent=<16 hex>;Sampled=0".
func TraceID(now time.Time) (string, error) {
	root, err := nanoid.Generate(hexAlphabet, rootRandLen)
	if err != nil {
		return "", fmt.Errorf("idgen: root: %w", err)
	}
	parent, err := nanoid.Generate(hexAlphabet, parentLen)
	if err != nil {
		return "", fmt.Errorf("idgen: parent: %w", err)
	}
	return fmt.Sprintf("Root=1-%08x-%s;Parent=%s;Sampled=0", now.Unix(), root, parent), nil
}
