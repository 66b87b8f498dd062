package stores

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"

	"github.com/oarkflow/govern"
)

// CachedEvidenceStore fronts an EvidenceStore with a ristretto cache. Packs are
// immutable once sealed, so entries never need invalidation. Lists are not cached.
type CachedEvidenceStore struct {
	next  govern.EvidenceStore
	cache *ristretto.Cache
}

func NewCachedEvidenceStore(next govern.EvidenceStore, cfg govern.EngineConfig) (*CachedEvidenceStore, error) {
	if cfg.EvidenceCacheNumCounters <= 0 {
		cfg.EvidenceCacheNumCounters = 1e5
	}
	if cfg.EvidenceCacheMaxCost <= 0 {
		cfg.EvidenceCacheMaxCost = 1 << 14
	}
	if cfg.EvidenceCacheBuffer <= 0 {
		cfg.EvidenceCacheBuffer = 64
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.EvidenceCacheNumCounters,
		MaxCost:     cfg.EvidenceCacheMaxCost,
		BufferItems: cfg.EvidenceCacheBuffer,
	})
	if err != nil {
		return nil, fmt.Errorf("evidence cache: %w", err)
	}
	return &CachedEvidenceStore{next: next, cache: cache}, nil
}

func (c *CachedEvidenceStore) GetEvidence(ctx context.Context, id string) (*govern.EvidencePack, error) {
	if p, ok := c.lookup("id:" + id); ok {
		return p, nil
	}
	p, err := c.next.GetEvidence(ctx, id)
	if err != nil {
		return nil, err
	}
	c.store(p)
	return p, nil
}

func (c *CachedEvidenceStore) GetEvidenceByDecision(ctx context.Context, decisionID string) (*govern.EvidencePack, error) {
	if p, ok := c.lookup("decision:" + decisionID); ok {
		return p, nil
	}
	p, err := c.next.GetEvidenceByDecision(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	c.store(p)
	return p, nil
}

func (c *CachedEvidenceStore) ListEvidence(ctx context.Context, filter govern.EvidenceFilter) ([]*govern.EvidencePack, error) {
	return c.next.ListEvidence(ctx, filter)
}

// Wait blocks until buffered writes are visible to Get.
func (c *CachedEvidenceStore) Wait() {
	c.cache.Wait()
}

func (c *CachedEvidenceStore) Close() {
	c.cache.Close()
}

func (c *CachedEvidenceStore) lookup(key string) (*govern.EvidencePack, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	p, ok := v.(*govern.EvidencePack)
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

func (c *CachedEvidenceStore) store(p *govern.EvidencePack) {
	cp := *p
	c.cache.Set("id:"+p.ID, &cp, 1)
	c.cache.Set("decision:"+p.DecisionID, &cp, 1)
}
