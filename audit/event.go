package audit

import (
	"errors"
	"fmt"
	mathrand "math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Severity orders events by operational urgency.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("SEVERITY(%d)", int(s))
	}
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(s.String())), nil
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	raw, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("severity: %w", err)
	}
	switch strings.ToUpper(raw) {
	case "INFO":
		*s = SeverityInfo
	case "MEDIUM":
		*s = SeverityMedium
	case "HIGH":
		*s = SeverityHigh
	case "CRITICAL":
		*s = SeverityCritical
	default:
		return fmt.Errorf("severity: unknown value %q", raw)
	}
	return nil
}

// Event is one immutable audit record. IP is expected to be masked with
// MaskOrigin before the event is dispatched.
type Event struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	Severity      Severity          `json:"severity"`
	UserID        string            `json:"user_id,omitempty"`
	SessionID     string            `json:"session_id,omitempty"`
	IP            string            `json:"ip,omitempty"`
	UserAgent     string            `json:"user_agent,omitempty"`
	Outcome       string            `json:"outcome,omitempty"`
	ErrorCode     string            `json:"error_code,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

// ErrAlreadyResolved is returned by SecurityEvent.Resolve after the first
// successful resolution.
var ErrAlreadyResolved = errors.New("security event already resolved")

// SecurityEvent is an Event that stays open until an operator resolves it.
type SecurityEvent struct {
	Event
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
}

// Resolve marks the event handled. The transition succeeds exactly once;
// later calls return ErrAlreadyResolved and leave the first resolution
// untouched.
func (e *SecurityEvent) Resolve(by string, at time.Time) error {
	if e.Resolved {
		return ErrAlreadyResolved
	}
	e.Resolved = true
	utc := at.UTC()
	e.ResolvedAt = &utc
	e.ResolvedBy = by
	return nil
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// NewID returns a lexicographically sortable event identifier.
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewEvent stamps an event with a fresh ID and UTC timestamp. Callers fill
// the identity and outcome fields before dispatching.
func NewEvent(eventType string, severity Severity) Event {
	return Event{
		ID:        NewID(),
		Type:      eventType,
		Severity:  severity,
		Timestamp: time.Now().UTC(),
	}
}
