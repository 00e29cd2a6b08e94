package cluster

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/robbenti/nsdb/internal/model"
)

// Breaker guards inter-node calls with one circuit per peer. A node that
// keeps failing is reported Unavailable immediately instead of being retried
// on every shard fan-out; after the cooldown one probe call is let through.
type Breaker struct {
	maxFailures int
	cooldown    time.Duration
	logger      zerolog.Logger

	mu    sync.Mutex
	peers map[string]*peerState
}

type peerState struct {
	failures    int
	openedAt    time.Time
	open        bool
	halfOpen    bool
	probeInFlight bool
}

// NewBreaker creates a breaker tripping after maxFailures consecutive
// failures and probing again after cooldown.
func NewBreaker(maxFailures int, cooldown time.Duration, logger zerolog.Logger) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		logger:      logger.With().Str("component", "node-breaker").Logger(),
		peers:       map[string]*peerState{},
	}
}

// Execute runs fn against a peer under circuit protection. An open circuit
// returns Unavailable without calling fn.
func (b *Breaker) Execute(nodeID string, fn func() error) error {
	if !b.allow(nodeID) {
		return model.ErrUnavailable
	}
	err := fn()
	b.record(nodeID, err)
	return err
}

func (b *Breaker) allow(nodeID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.peers[nodeID]
	if !ok {
		return true
	}
	if !p.open {
		return true
	}
	if time.Since(p.openedAt) < b.cooldown {
		return false
	}
	// Cooldown elapsed: allow a single probe.
	if p.probeInFlight {
		return false
	}
	p.halfOpen = true
	p.probeInFlight = true
	return true
}

func (b *Breaker) record(nodeID string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.peers[nodeID]
	if !ok {
		p = &peerState{}
		b.peers[nodeID] = p
	}

	if err == nil {
		if p.open {
			b.logger.Info().Str("node", nodeID).Msg("Peer recovered, closing circuit")
		}
		*p = peerState{}
		return
	}

	p.probeInFlight = false
	if p.halfOpen {
		// Probe failed: stay open for another cooldown.
		p.halfOpen = false
		p.openedAt = time.Now()
		return
	}

	p.failures++
	if !p.open && p.failures >= b.maxFailures {
		p.open = true
		p.openedAt = time.Now()
		b.logger.Warn().Str("node", nodeID).Int("failures", p.failures).Msg("Peer circuit opened")
	}
}

// Open reports whether the peer's circuit is currently open.
func (b *Breaker) Open(nodeID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.peers[nodeID]
	return ok && p.open && time.Since(p.openedAt) < b.cooldown
}
