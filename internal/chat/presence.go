package chat

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// LastSeenStore records when a user was last connected so the REST layer can
// serve "last seen" badges for offline users.
type LastSeenStore interface {
	Set(ctx context.Context, userID string, at time.Time) error
	Get(ctx context.Context, userID string) (time.Time, bool, error)
}

// memoryLastSeen is the in-process fallback used when Redis is not
// configured. Suitable for a single-instance deployment.
type memoryLastSeen struct {
	mu   sync.RWMutex
	seen map[string]time.Time
}

func NewMemoryLastSeen() LastSeenStore {
	return &memoryLastSeen{seen: make(map[string]time.Time)}
}

func (s *memoryLastSeen) Set(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[userID] = at
	return nil
}

func (s *memoryLastSeen) Get(_ context.Context, userID string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.seen[userID]
	return at, ok, nil
}

const lastSeenKeyPrefix = "pharmalink:last_seen:"

// redisLastSeen persists last-seen timestamps in Redis so they survive
// restarts and are visible to the whole deployment.
type redisLastSeen struct {
	client *redis.Client
}

func NewRedisLastSeen(client *redis.Client) LastSeenStore {
	return &redisLastSeen{client: client}
}

func (s *redisLastSeen) Set(ctx context.Context, userID string, at time.Time) error {
	return s.client.Set(ctx, lastSeenKeyPrefix+userID, at.UTC().Format(time.RFC3339Nano), 0).Err()
}

func (s *redisLastSeen) Get(ctx context.Context, userID string) (time.Time, bool, error) {
	val, err := s.client.Get(ctx, lastSeenKeyPrefix+userID).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	at, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, false, err
	}
	return at, true, nil
}

// PresenceTracker converts connection-count transitions into presence events
// and answers the presence queries the REST layer exposes. Only the 0 -> 1
// and 1 -> 0 transitions reach it; the Hub filters the rest.
type PresenceTracker struct {
	store LastSeenStore
	log   zerolog.Logger
}

func NewPresenceTracker(store LastSeenStore, logger zerolog.Logger) *PresenceTracker {
	return &PresenceTracker{store: store, log: logger}
}

func (p *PresenceTracker) wentOnline(userID string) {
	p.touch(userID)
}

func (p *PresenceTracker) wentOffline(userID string) {
	p.touch(userID)
}

func (p *PresenceTracker) touch(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.store.Set(ctx, userID, time.Now()); err != nil {
		p.log.Warn().Err(err).Str("user_id", userID).Msg("failed to record last seen")
	}
}

// LastSeen returns the user's most recent connect or disconnect time.
func (p *PresenceTracker) LastSeen(ctx context.Context, userID string) (time.Time, bool) {
	at, ok, err := p.store.Get(ctx, userID)
	if err != nil {
		p.log.Warn().Err(err).Str("user_id", userID).Msg("failed to read last seen")
		return time.Time{}, false
	}
	return at, ok
}
