package fraud

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore keeps fraud state in process. It is used when no Redis address
// is configured and in tests; state is lost on restart.
type MemoryStore struct {
	mu sync.Mutex
	c  *gocache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		c: gocache.New(gocache.NoExpiration, 10*time.Minute),
	}
}

func (m *MemoryStore) window(key string) Window {
	if v, ok := m.c.Get(key); ok {
		return v.(Window)
	}
	return Window{}
}

func (m *MemoryStore) AddVelocity(_ context.Context, userId, currency string, amount int64, at time.Time) (Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucket := velocityBucket(at)
	key := velocityKey(userId, currency, bucket)
	w := m.window(key)
	w.Count++
	w.Sum += amount
	m.c.Set(key, w, velocityTTL)
	return slidingWindow(w, m.window(velocityKey(userId, currency, bucket-velocityPeriod)), at), nil
}

func (m *MemoryStore) Baseline(_ context.Context, userId, currency string) (Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.window(baselineKey(userId, currency)), nil
}

func (m *MemoryStore) AddBaseline(_ context.Context, userId, currency string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := baselineKey(userId, currency)
	w := m.window(key)
	w.Count++
	w.Sum += amount
	m.c.Set(key, w, gocache.NoExpiration)
	return nil
}

func (m *MemoryStore) PayeeFirstSeen(_ context.Context, userId, payee string) (time.Time, bool, error) {
	v, ok := m.c.Get(payeesKey(userId) + ":" + payee)
	if !ok {
		return time.Time{}, false, nil
	}
	return v.(time.Time), true, nil
}

func (m *MemoryStore) RememberPayee(_ context.Context, userId, payee string, at time.Time) error {
	// Add fails when the key exists, which keeps the first time.
	_ = m.c.Add(payeesKey(userId)+":"+payee, at.UTC(), gocache.NoExpiration)
	return nil
}

func (m *MemoryStore) IsBlocked(_ context.Context, subject, id string) (bool, error) {
	_, ok := m.c.Get(blockKey(subject, id))
	return ok, nil
}

func (m *MemoryStore) SetBlocked(_ context.Context, subject, id string, blocked bool) error {
	if blocked {
		m.c.Set(blockKey(subject, id), time.Now().UTC(), gocache.NoExpiration)
	} else {
		m.c.Delete(blockKey(subject, id))
	}
	return nil
}

func (m *MemoryStore) SaveScore(_ context.Context, userId string, score int, action string, at time.Time) error {
	m.c.Set(profileKey(userId), Profile{UserId: userId, LastRiskScore: score, LastAction: action, UpdatedAt: at.UTC()}, gocache.NoExpiration)
	return nil
}

func (m *MemoryStore) Profile(ctx context.Context, userId string) (*Profile, error) {
	p := Profile{UserId: userId}
	if v, ok := m.c.Get(profileKey(userId)); ok {
		p = v.(Profile)
	}
	p.Blocked, _ = m.IsBlocked(ctx, SubjectUser, userId)
	return &p, nil
}
