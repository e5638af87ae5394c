package cache

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/discbound/recovery/internal/metrics"
	"github.com/discbound/recovery/internal/repository"
)

type RecoveryEventRepository interface {
	GetActive(ctx context.Context) ([]*repository.RecoveryEvent, error)
}

// RecoveryCache keeps active (non-terminal) recovery events in memory for
// the projection read path. Writers call Set after every committed
// transition; terminal events are evicted since nothing re-reads them hot.
type RecoveryCache struct {
	mu    sync.RWMutex
	cache map[uuid.UUID]*repository.RecoveryEvent
	repo  RecoveryEventRepository
}

func NewRecoveryCache(repo RecoveryEventRepository) *RecoveryCache {
	return &RecoveryCache{
		cache: make(map[uuid.UUID]*repository.RecoveryEvent),
		repo:  repo,
	}
}

func (c *RecoveryCache) LoadInitialData(ctx context.Context) error {
	events, err := c.repo.GetActive(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range events {
		evCopy := *ev
		c.cache[ev.ID] = &evCopy
	}
	metrics.RecoveryCacheItems.Set(float64(len(c.cache)))
	zap.L().Info("recovery cache warmed", zap.Int("items", len(c.cache)))
	return nil
}

func (c *RecoveryCache) Get(id uuid.UUID) (*repository.RecoveryEvent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ev, found := c.cache[id]
	if !found {
		return nil, false
	}
	evCopy := *ev
	return &evCopy, true
}

func (c *RecoveryCache) Set(ev *repository.RecoveryEvent) {
	if ev.Status.Terminal() {
		c.Delete(ev.ID)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	evCopy := *ev
	c.cache[ev.ID] = &evCopy
	metrics.RecoveryCacheItems.Set(float64(len(c.cache)))
}

func (c *RecoveryCache) Delete(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, found := c.cache[id]; found {
		delete(c.cache, id)
		metrics.RecoveryCacheItems.Set(float64(len(c.cache)))
	}
}
