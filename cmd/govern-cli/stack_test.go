package main

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/spf13/pflag"

	"github.com/oarkflow/govern"
	"github.com/oarkflow/govern/logger"
	"github.com/oarkflow/govern/stores"
)

func memoryConfig(t *testing.T) *govern.Config {
	t.Helper()
	cfg, err := govern.NewConfigLoader().LoadJSON([]byte("{}"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Store = govern.StoreConfig{Driver: "sqlite", DSN: ":memory:"}
	return cfg
}

func TestStackWritesMetricsOnClose(t *testing.T) {
	ctx := context.Background()
	s, err := openStack(ctx, memoryConfig(t), logger.NewNullLogger())
	if err != nil {
		t.Fatalf("open stack: %v", err)
	}
	if err := stores.NewSQLDirectory(s.db).PutUser(ctx, govern.User{ID: "u-sup", Name: "Sam", Role: govern.RoleSupervisor}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if _, err := s.engine.Resolve(ctx, "u-sup"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := s.engine.ApproveAs(ctx, "DEC-404", "Verified with counterparty directly.", "u-sup"); !govern.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	var out bytes.Buffer
	s.metricsOut = &out
	s.Close()
	text := out.String()
	for _, want := range []string{
		"govern_auth_context_resolve_seconds_count 2",
		`govern_decision_denials_total{reason="not_found"} 1`,
		`govern_decision_transitions_total{action="APPROVED",outcome="not_found"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, text)
		}
	}
}

func TestMetricsFlagEnablesDump(t *testing.T) {
	var common commonFlags
	fs := pflag.NewFlagSet("explain", pflag.ContinueOnError)
	common.add(fs)
	if err := fs.Parse([]string{"--quiet"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	s, err := common.open(context.Background(), memoryConfig(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if s.metricsOut != nil {
		t.Fatalf("metrics dump enabled without --metrics")
	}
	s.Close()

	if err := fs.Parse([]string{"--metrics"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	s, err = common.open(context.Background(), memoryConfig(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if s.metricsOut != os.Stderr {
		t.Fatalf("--metrics should route the dump to stderr")
	}
	s.metricsOut = &bytes.Buffer{}
	s.Close()
}
