package httpclient

import (
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker implements the circuit breaker pattern. Closed passes
// everything through; threshold consecutive failures open it; after the
// timeout it half-opens and lets a probe through.
type CircuitBreaker struct {
	mu              sync.RWMutex
	state           CircuitState
	failures        int
	successes       int
	threshold       int
	timeout         time.Duration
	halfOpenMax     int
	halfOpenCount   int
	lastFailureTime time.Time
}

// NewCircuitBreaker creates a circuit breaker in the closed state.
func NewCircuitBreaker(threshold int, timeout time.Duration, halfOpenMax int) *CircuitBreaker {
	return &CircuitBreaker{
		state:       CircuitClosed,
		threshold:   threshold,
		timeout:     timeout,
		halfOpenMax: halfOpenMax,
	}
}

// Allow reports whether a request may proceed, transitioning open to
// half-open once the timeout has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true

	case CircuitOpen:
		if time.Since(cb.lastFailureTime) >= cb.timeout {
			cb.state = CircuitHalfOpen
			cb.halfOpenCount = 1
			return true
		}
		return false

	case CircuitHalfOpen:
		if cb.halfOpenCount < cb.halfOpenMax {
			cb.halfOpenCount++
			return true
		}
		return false

	default:
		return false
	}
}

// RecordSuccess records a successful request. A success while half-open
// closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successes++

	if cb.state == CircuitHalfOpen {
		cb.state = CircuitClosed
		cb.failures = 0
	}
	if cb.state == CircuitClosed {
		cb.failures = 0
	}
}

// RecordFailure records a failed request.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.threshold {
			cb.state = CircuitOpen
		}
	case CircuitHalfOpen:
		cb.state = CircuitOpen
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset returns the circuit breaker to the closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = CircuitClosed
	cb.failures = 0
	cb.successes = 0
	cb.halfOpenCount = 0
}

// Stats is a point-in-time view of one breaker.
type Stats struct {
	State     string `json:"state"`
	Failures  int    `json:"failures"`
	Successes int    `json:"successes"`
}

// Snapshot returns the breaker's current stats.
func (cb *CircuitBreaker) Snapshot() Stats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return Stats{
		State:     cb.state.String(),
		Failures:  cb.failures,
		Successes: cb.successes,
	}
}

// Manager hands out one Client per relay node so each node gets its own
// circuit breaker, and exposes the breaker states for the health endpoint.
type Manager struct {
	mu      sync.Mutex
	base    Config
	clients map[string]*Client
}

// NewManager creates a Manager that builds clients from the base config.
func NewManager(base Config) *Manager {
	return &Manager{
		base:    base,
		clients: make(map[string]*Client),
	}
}

// ClientFor returns the client for the named node, creating it on first use.
func (m *Manager) ClientFor(node string) *Client {
	m.mu.Lock()
	defer m.mu.Unlock()

	if client, ok := m.clients[node]; ok {
		return client
	}
	client := New(m.base)
	m.clients[node] = client
	return client
}

// Forget drops the client for a removed node.
func (m *Manager) Forget(node string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, node)
}

// AllStats returns breaker stats keyed by node name.
func (m *Manager) AllStats() map[string]Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := make(map[string]Stats, len(m.clients))
	for node, client := range m.clients {
		stats[node] = client.Breaker().Snapshot()
	}
	return stats
}
