package stores

import (
	"context"
	"fmt"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/govern"
)

// SQLPolicyStore persists policies in SQL (squealx).
type SQLPolicyStore struct {
	db *squealx.DB
}

func NewSQLPolicyStore(db *squealx.DB) *SQLPolicyStore {
	return &SQLPolicyStore{db: db}
}

// PutPolicy inserts a policy or, for an existing code, bumps its version.
// Evidence snapshots copy code and version, so past packs stay accurate.
func (s *SQLPolicyStore) PutPolicy(ctx context.Context, p govern.Policy) error {
	if p.Version == 0 {
		p.Version = 1
	}
	q := `INSERT INTO policies(code, name, required_authority, risk_level, version, is_active)
		VALUES(:code, :name, :required_authority, :risk_level, :version, :is_active)
		ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			required_authority = excluded.required_authority,
			risk_level = excluded.risk_level,
			is_active = excluded.is_active,
			version = MAX(policies.version + 1, excluded.version)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"code":               p.Code,
		"name":               p.Name,
		"required_authority": string(p.RequiredAuthority),
		"risk_level":         p.RiskLevel,
		"version":            p.Version,
		"is_active":          boolToInt(p.IsActive),
	})
	return err
}

func (s *SQLPolicyStore) GetPolicy(ctx context.Context, code string) (*govern.Policy, error) {
	q := `SELECT code, name, required_authority, risk_level, version, is_active FROM policies WHERE code = :code`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"code": code})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("policy %s: %w", code, govern.ErrNotFound)
	}
	return scanPolicy(r)
}

func (s *SQLPolicyStore) ListPolicies(ctx context.Context) ([]*govern.Policy, error) {
	q := `SELECT code, name, required_authority, risk_level, version, is_active FROM policies ORDER BY code`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*govern.Policy, 0)
	for r.Next() {
		p, err := scanPolicy(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, r.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPolicy(r scanner) (*govern.Policy, error) {
	var code, name, requiredRaw, risk string
	var version, active int
	if err := r.Scan(&code, &name, &requiredRaw, &risk, &version, &active); err != nil {
		return nil, err
	}
	required, err := govern.NormalizeRole(requiredRaw)
	if err != nil {
		return nil, fmt.Errorf("policy %s: %w", code, err)
	}
	return &govern.Policy{Code: code, Name: name, RequiredAuthority: required, RiskLevel: risk, Version: version, IsActive: active != 0}, nil
}
