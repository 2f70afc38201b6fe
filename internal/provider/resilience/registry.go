package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Stage is the part of the grid pipeline an upstream dependency serves.
type Stage string

// Pipeline stages.
const (
	StageFeatures Stage = "features"
	StageAuth     Stage = "auth"
	StageModel    Stage = "model"
)

// Status summarizes the health of one upstream.
type Status string

// Upstream statuses, from best to worst.
const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

func (s Status) rank() int {
	switch s {
	case StatusDown:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

// breaker exposes the circuit of a registered client.
type breaker interface {
	CircuitBreakerState() gobreaker.State
	CircuitBreakerCounts() gobreaker.Counts
}

// ProviderHealth is a point-in-time view of one registered upstream.
type ProviderHealth struct {
	Name  string
	Stage Stage

	CircuitState gobreaker.State
	Counts       gobreaker.Counts

	LastSuccessAt *time.Time
	LastFailureAt *time.Time
	LastError     string
	LastLatency   time.Duration

	// ConsecutiveFailures counts failed calls since the last success.
	ConsecutiveFailures int
}

// Status is down while the circuit is open, degraded while it is half-open or the
// latest call failed, and ok otherwise.
func (h ProviderHealth) Status() Status {
	switch {
	case h.CircuitState == gobreaker.StateOpen:
		return StatusDown
	case h.CircuitState == gobreaker.StateHalfOpen, h.ConsecutiveFailures > 0:
		return StatusDegraded
	default:
		return StatusOK
	}
}

// Registry tracks the upstream clients of the pipeline and their recent outcomes.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
}

type entry struct {
	client  breaker
	stage   Stage
	success *time.Time
	failure *time.Time
	lastErr string
	latency time.Duration
	streak  int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry), now: time.Now}
}

// Register tracks client under name. Registering a name again replaces the client
// and clears its history.
func (r *Registry) Register(name string, stage Stage, client breaker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = &entry{client: client, stage: stage}
}

// Record stores the outcome of one call. Unknown names are ignored.
func (r *Registry) Record(name string, latency time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return
	}
	now := r.now()
	e.latency = latency
	if err == nil {
		e.success = &now
		e.streak = 0
		return
	}
	e.failure = &now
	e.lastErr = err.Error()
	e.streak++
}

// Health returns the health of name.
func (r *Registry) Health(name string) (ProviderHealth, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return ProviderHealth{}, false
	}
	return e.health(name), true
}

// Snapshot returns the health of every upstream ordered by stage, then name.
func (r *Registry) Snapshot() []ProviderHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ProviderHealth, 0, len(r.entries))
	for name, e := range r.entries {
		out = append(out, e.health(name))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Stage != out[j].Stage {
			return out[i].Stage < out[j].Stage
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Worst returns the most severe status among the upstreams serving stage.
// An empty stage considers all of them.
func (r *Registry) Worst(stage Stage) Status {
	worst := StatusOK
	for _, h := range r.Snapshot() {
		if stage != "" && h.Stage != stage {
			continue
		}
		if s := h.Status(); s.rank() > worst.rank() {
			worst = s
		}
	}
	return worst
}

func (e *entry) health(name string) ProviderHealth {
	return ProviderHealth{
		Name:                name,
		Stage:               e.stage,
		CircuitState:        e.client.CircuitBreakerState(),
		Counts:              e.client.CircuitBreakerCounts(),
		LastSuccessAt:       e.success,
		LastFailureAt:       e.failure,
		LastError:           e.lastErr,
		LastLatency:         e.latency,
		ConsecutiveFailures: e.streak,
	}
}
