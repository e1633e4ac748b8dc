// Package idgen generates identifiers for sessions and runs.
//
// Constructors that mint IDs accept a Generator so tests can pin them.
package idgen

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator of RFC 9562 UUID v7 strings (time-sortable).
func UUIDv7() Generator {
	return func() string {
		id, err := uuid.NewV7()
		if err != nil {
			// Only fails when the entropy source does.
			return uuid.NewString()
		}
		return id.String()
	}
}

// Prefixed prepends a fixed prefix to every ID, e.g. "sess_".
func Prefixed(prefix string, gen Generator) Generator {
	return func() string { return prefix + gen() }
}

// Sequence returns a Generator of prefix-1, prefix-2, ... for tests.
func Sequence(prefix string) Generator {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("%s-%d", prefix, n.Add(1)) }
}

// Session is the default session ID generator.
var Session Generator = Prefixed("sess_", UUIDv7())
