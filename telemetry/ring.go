package telemetry

import (
	"crypto/rand"
	"iter"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	wasmguard "github.com/wippyai/wasm-guard"
)

// Category classifies what part of the governance core produced an event.
type Category string

const (
	CategoryAllocation Category = "allocation"
	CategoryBudget     Category = "budget"
	CategoryCapability Category = "capability"
	CategoryContainer  Category = "container"
	CategoryFault      Category = "fault"
	CategoryLifecycle  Category = "lifecycle"
)

// Severity grades how serious an event is.
type Severity uint8

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	}
	return "unknown"
}

// Event is one safety-relevant occurrence. ID is a time-sortable ULID
// assigned by the ring when the event is recorded.
type Event struct {
	ID        ulid.ULID
	Category  Category
	Severity  Severity
	Subsystem wasmguard.SubsystemID
	Message   string
	Timestamp time.Time
}

// DefaultCapacity is the ring size used when none is configured.
const DefaultCapacity = 64

// Ring is the bounded telemetry buffer. Safe for concurrent producers;
// the critical section covers an index advance and a struct copy.
type Ring struct {
	mu      sync.Mutex
	events  []Event
	head    int // next write position
	count   int
	entropy *ulid.MonotonicEntropy
	log     *zap.Logger
}

// RingOption configures a Ring.
type RingOption func(*Ring)

// WithLogger mirrors events of SeverityError and above to log as they are
// recorded, so high-severity telemetry survives even if the ring wraps
// before the next drain.
func WithLogger(log *zap.Logger) RingOption {
	return func(r *Ring) { r.log = log }
}

// NewRing creates a telemetry ring holding up to capacity events.
func NewRing(capacity int, opts ...RingOption) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	r := &Ring{
		events:  make([]Event, capacity),
		entropy: ulid.Monotonic(rand.Reader, 0),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int { return len(r.events) }

// Len returns the number of buffered events.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Record appends the event, overwriting the oldest entry when the ring is
// full. Missing ID and Timestamp fields are filled in. Record never fails
// and never blocks beyond the ring's short critical section.
func (r *Ring) Record(ev Event) {
	r.mu.Lock()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.ID == (ulid.ULID{}) {
		ev.ID = ulid.MustNew(ulid.Timestamp(ev.Timestamp), r.entropy)
	}
	r.events[r.head] = ev
	r.head = (r.head + 1) % len(r.events)
	if r.count < len(r.events) {
		r.count++
	}
	r.mu.Unlock()

	if ev.Severity >= SeverityError {
		r.log.Error("telemetry event",
			zap.String("id", ev.ID.String()),
			zap.String("category", string(ev.Category)),
			zap.Stringer("severity", ev.Severity),
			zap.Stringer("subsystem", ev.Subsystem),
			zap.String("message", ev.Message))
	}
}

// Drain removes the buffered events and returns them as a lazy, one-shot
// sequence in arrival order (oldest first). Events recorded after Drain
// returns go into the emptied ring and are picked up by the next drain.
func (r *Ring) Drain() iter.Seq[Event] {
	r.mu.Lock()
	snapshot := make([]Event, r.count)
	start := r.head - r.count
	if start < 0 {
		start += len(r.events)
	}
	for i := 0; i < r.count; i++ {
		snapshot[i] = r.events[(start+i)%len(r.events)]
	}
	r.count = 0
	r.head = 0
	r.mu.Unlock()

	return func(yield func(Event) bool) {
		for _, ev := range snapshot {
			if !yield(ev) {
				return
			}
		}
	}
}
