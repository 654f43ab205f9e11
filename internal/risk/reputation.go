package risk

import (
	"context"
	"sync"
	"time"
)

// Tier classifies a reputation score.
type Tier string

const (
	TierTrusted    Tier = "TRUSTED"    // >= 700
	TierNeutral    Tier = "NEUTRAL"    // >= 300
	TierRestricted Tier = "RESTRICTED" // < 300
)

// Reputation bounds and tier cut points.
const (
	ReputationMax     = 1000
	ReputationMin     = 0
	tierTrustedFloor  = 700
	tierNeutralFloor  = 300
	DefaultReputation = 500
)

// TierFor maps a reputation score into a tier.
func TierFor(score int) Tier {
	switch {
	case score >= tierTrustedFloor:
		return TierTrusted
	case score >= tierNeutralFloor:
		return TierNeutral
	default:
		return TierRestricted
	}
}

// ReputationEvent explicitly moves an identity's reputation. Reputation is
// slow-moving: it changes only through these events, never as a side effect
// of risk recomputation.
type ReputationEvent struct {
	IdentityID string    `json:"identityId"`
	Delta      int       `json:"delta"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurredAt"`
}

// ReputationStore persists reputation scores.
type ReputationStore interface {
	GetReputation(ctx context.Context, identityID string) (int, bool, error)
	SetReputation(ctx context.Context, identityID string, score int) error
}

// MemoryReputationStore keeps reputation in memory for demo/testing.
type MemoryReputationStore struct {
	mu     sync.RWMutex
	scores map[string]int
}

// NewMemoryReputationStore creates an empty in-memory reputation store.
func NewMemoryReputationStore() *MemoryReputationStore {
	return &MemoryReputationStore{scores: make(map[string]int)}
}

func (m *MemoryReputationStore) GetReputation(_ context.Context, identityID string) (int, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scores[identityID]
	return s, ok, nil
}

func (m *MemoryReputationStore) SetReputation(_ context.Context, identityID string, score int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[identityID] = score
	return nil
}

// ReputationTracker applies reputation events and serves current scores.
type ReputationTracker struct {
	store ReputationStore
	mu    sync.Mutex
}

// NewReputationTracker creates a tracker over the given store.
func NewReputationTracker(store ReputationStore) *ReputationTracker {
	return &ReputationTracker{store: store}
}

// Current returns the identity's reputation score and tier. Unknown
// identities start at the neutral default.
func (t *ReputationTracker) Current(ctx context.Context, identityID string) (int, Tier) {
	score, ok, err := t.store.GetReputation(ctx, identityID)
	if err != nil || !ok {
		score = DefaultReputation
	}
	return score, TierFor(score)
}

// Apply records an explicit reputation event, clamping to [0, 1000].
func (t *ReputationTracker) Apply(ctx context.Context, ev *ReputationEvent) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	score, ok, err := t.store.GetReputation(ctx, ev.IdentityID)
	if err != nil {
		return 0, err
	}
	if !ok {
		score = DefaultReputation
	}
	score += ev.Delta
	if score > ReputationMax {
		score = ReputationMax
	}
	if score < ReputationMin {
		score = ReputationMin
	}
	if err := t.store.SetReputation(ctx, ev.IdentityID, score); err != nil {
		return 0, err
	}
	return score, nil
}
