package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/oarkflow/squealx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/govern"
	"github.com/oarkflow/govern/logger"
	"github.com/oarkflow/govern/stores"
)

// stack is the wired engine plus the handles the commands need to close.
type stack struct {
	cfg      *govern.Config
	db       *squealx.DB
	engine   *govern.Engine
	evidence *stores.CachedEvidenceStore
	redis    *redis.Client
	registry *prometheus.Registry

	// metricsOut receives the registry in text format on Close when set.
	metricsOut io.Writer
}

func openDB(cfg *govern.Config) (*squealx.DB, error) {
	if cfg.Store.Driver != "sqlite" {
		return nil, fmt.Errorf("store driver %q keeps no state between runs; use sqlite", cfg.Store.Driver)
	}
	return stores.Open(cfg.Store.DSN)
}

func openStack(ctx context.Context, cfg *govern.Config, log logger.Logger) (*stack, error) {
	authority, err := cfg.AuthorityMatrix()
	if err != nil {
		return nil, err
	}
	visibility, err := cfg.VisibilityMatrix()
	if err != nil {
		return nil, err
	}
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	if err := stores.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	s := &stack{cfg: cfg, db: db}
	var dir govern.Directory = stores.NewSQLDirectory(db)
	if cfg.Redis.Addr != "" {
		s.redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := s.redis.Ping(ctx).Err(); err != nil {
			s.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
		dir = stores.NewRedisDirectory(s.redis, cfg.Redis.Prefix)
	}

	s.registry = prometheus.NewRegistry()
	metrics, err := govern.NewMetrics(s.registry)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.evidence, err = stores.NewCachedEvidenceStore(stores.NewSQLEvidenceStore(db), cfg.Engine)
	if err != nil {
		s.Close()
		return nil, err
	}
	resolver := govern.NewResolver(dir, govern.WithResolverLogger(log), govern.WithResolverMetrics(metrics))
	s.engine, err = govern.NewEngine(resolver, stores.NewSQLDecisionStore(db), stores.NewSQLPolicyStore(db),
		govern.WithLogger(log),
		govern.WithMetrics(metrics),
		govern.WithEvidenceStore(s.evidence),
		govern.WithAuthorityMatrix(authority),
		govern.WithVisibilityMatrix(visibility),
	)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *stack) Close() {
	if s.metricsOut != nil && s.registry != nil {
		if err := writeMetrics(s.metricsOut, s.registry); err != nil {
			fmt.Fprintf(os.Stderr, "metrics: %v\n", err)
		}
	}
	if s.evidence != nil {
		s.evidence.Close()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}

// writeMetrics encodes every family g gathers in the Prometheus text format.
func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	if c, ok := enc.(expfmt.Closer); ok {
		return c.Close()
	}
	return nil
}
