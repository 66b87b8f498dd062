package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/govern"
)

const evidenceColumns = `id, decision_id, actor_id, actor_name, actor_role, action, justification,
	policy_snapshot_json, merkle_hash, ledger_id, created_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SQLEvidenceStore reads the append-only evidence_packs table. Writes happen
// inside SQLDecisionStore.CommitTransition; InsertEvidence exists for imports
// and for use as a standalone EvidenceWriter.
type SQLEvidenceStore struct {
	db *squealx.DB
}

func NewSQLEvidenceStore(db *squealx.DB) *SQLEvidenceStore {
	return &SQLEvidenceStore{db: db}
}

func (s *SQLEvidenceStore) InsertEvidence(ctx context.Context, p *govern.EvidencePack) error {
	return insertEvidence(ctx, s.db, p)
}

func insertEvidence(ctx context.Context, db execer, p *govern.EvidencePack) error {
	snapshot, err := json.Marshal(p.PolicySnapshot)
	if err != nil {
		return fmt.Errorf("encode policy snapshot: %w", err)
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO evidence_packs(id, decision_id, actor_id, actor_name, actor_role, action, justification,
			policy_code, policy_version, policy_snapshot_json, merkle_hash, ledger_id, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.DecisionID, p.ActorID, p.ActorName, string(p.ActorRole), string(p.Action), p.Justification,
		p.PolicySnapshot.Code, p.PolicySnapshot.Version, string(snapshot), p.MerkleHash, p.LedgerID,
		formatTime(p.CreatedAt),
	)
	return err
}

func (s *SQLEvidenceStore) GetEvidence(ctx context.Context, id string) (*govern.EvidencePack, error) {
	return s.one(ctx, `SELECT `+evidenceColumns+` FROM evidence_packs WHERE id = :id`, map[string]any{"id": id}, "evidence "+id)
}

func (s *SQLEvidenceStore) GetEvidenceByDecision(ctx context.Context, decisionID string) (*govern.EvidencePack, error) {
	return s.one(ctx, `SELECT `+evidenceColumns+` FROM evidence_packs WHERE decision_id = :decision_id`,
		map[string]any{"decision_id": decisionID}, "evidence for decision "+decisionID)
}

func (s *SQLEvidenceStore) one(ctx context.Context, q string, params map[string]any, what string) (*govern.EvidencePack, error) {
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("%s: %w", what, govern.ErrNotFound)
	}
	return scanEvidence(r)
}

func (s *SQLEvidenceStore) ListEvidence(ctx context.Context, filter govern.EvidenceFilter) ([]*govern.EvidencePack, error) {
	q := `SELECT ` + evidenceColumns + ` FROM evidence_packs WHERE 1=1`
	params := map[string]any{}
	if filter.DecisionID != "" {
		q += " AND decision_id = :decision_id"
		params["decision_id"] = filter.DecisionID
	}
	if filter.ActorID != "" {
		q += " AND actor_id = :actor_id"
		params["actor_id"] = filter.ActorID
	}
	if filter.Action != "" {
		q += " AND action = :action"
		params["action"] = string(filter.Action)
	}
	if !filter.StartTime.IsZero() {
		q += " AND created_at >= :start_time"
		params["start_time"] = formatTime(filter.StartTime)
	}
	if !filter.EndTime.IsZero() {
		q += " AND created_at <= :end_time"
		params["end_time"] = formatTime(filter.EndTime)
	}
	q += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		q += " LIMIT :limit"
		params["limit"] = filter.Limit
	}
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*govern.EvidencePack, 0)
	for r.Next() {
		p, err := scanEvidence(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, r.Err()
}

func scanEvidence(r scanner) (*govern.EvidencePack, error) {
	var (
		id, decisionID, actorID, actorName, roleRaw, action, justification string
		snapshotJSON, merkleHash, ledgerID                                 string
		createdRaw                                                         any
	)
	if err := r.Scan(&id, &decisionID, &actorID, &actorName, &roleRaw, &action, &justification,
		&snapshotJSON, &merkleHash, &ledgerID, &createdRaw); err != nil {
		return nil, err
	}
	p := &govern.EvidencePack{
		ID:            id,
		DecisionID:    decisionID,
		ActorID:       actorID,
		ActorName:     actorName,
		ActorRole:     govern.Role(roleRaw),
		Action:        govern.EvidenceAction(action),
		Justification: justification,
		MerkleHash:    merkleHash,
		LedgerID:      ledgerID,
	}
	if err := json.Unmarshal([]byte(snapshotJSON), &p.PolicySnapshot); err != nil {
		return nil, fmt.Errorf("evidence %s snapshot: %w", id, err)
	}
	created, err := parseStoredTime(createdRaw)
	if err != nil {
		return nil, fmt.Errorf("evidence %s: %w", id, err)
	}
	p.CreatedAt = created
	return p, nil
}
