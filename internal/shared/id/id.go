// Package id provides centralized ID generation for the card runtime.
//
// IDs are prefixed ULIDs:
//   - Lexicographic sortability: timeline entries and queued intents sort by creation
//   - Prefixed types: "tl_", "int_", "sess_" make logs readable
//   - Monotonic entropy: IDs generated within the same millisecond still sort
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// SessionID identifies a runtime session
type SessionID string

// TimelineID identifies an audit timeline entry
type TimelineID string

// EnvelopeID identifies a queued domain or system intent
type EnvelopeID string

const (
	SessionPrefix  = "sess"
	TimelinePrefix = "tl"
	EnvelopePrefix = "int"
)

// Generator generates monotonic ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand
func NewGenerator() *Generator {
	return NewGeneratorWithEntropy(rand.Reader)
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Useful for testing with deterministic entropy.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: ulid.Monotonic(entropy, 0),
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewSessionID generates a new session ID
func NewSessionID() SessionID {
	return SessionID(Default().GenerateWithPrefix(SessionPrefix))
}

// NewTimelineID generates a new timeline entry ID
func NewTimelineID() TimelineID {
	return TimelineID(Default().GenerateWithPrefix(TimelinePrefix))
}

// NewEnvelopeID generates a new intent envelope ID
func NewEnvelopeID() EnvelopeID {
	return EnvelopeID(Default().GenerateWithPrefix(EnvelopePrefix))
}

func (id SessionID) String() string  { return string(id) }
func (id TimelineID) String() string { return string(id) }
func (id EnvelopeID) String() string { return string(id) }

// IsValid checks if a string is a valid ULID, with or without a prefix
func IsValid(id string) bool {
	_, err := Parse(id)
	return err == nil
}

// Parse parses a ULID string, stripping a known "prefix_" if present
func Parse(id string) (ulid.ULID, error) {
	if i := strings.LastIndexByte(id, '_'); i >= 0 {
		id = id[i+1:]
	}
	return ulid.ParseStrict(id)
}

// Timestamp extracts the timestamp from a ULID
func Timestamp(id string) (time.Time, error) {
	parsed, err := Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
