package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/govern"
)

const decisionColumns = `id, entity_id, group_id, type, subject, policy_code, risk, required_authority, status,
	sla_deadline, amount_minor, currency, beneficiary, context_json, decided_at, decided_by, justification,
	execution_ref, created_at, updated_at`

// SQLDecisionStore persists decisions and commits transitions together with
// their evidence in one SQL transaction.
type SQLDecisionStore struct {
	db *squealx.DB
}

func NewSQLDecisionStore(db *squealx.DB) *SQLDecisionStore {
	return &SQLDecisionStore{db: db}
}

func (s *SQLDecisionStore) CreateDecision(ctx context.Context, d *govern.Decision) error {
	ctxJSON, err := json.Marshal(d.Context)
	if err != nil {
		return fmt.Errorf("encode context for %s: %w", d.ID, err)
	}
	if d.Context == nil {
		ctxJSON = []byte("{}")
	}
	status := d.Status
	if status == "" {
		status = govern.StatusPending
	}
	created := d.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	var sla any
	if !d.SLADeadline.IsZero() {
		sla = formatTime(d.SLADeadline)
	}
	q := `INSERT INTO decisions(id, entity_id, group_id, type, subject, policy_code, risk, required_authority, status,
			sla_deadline, amount_minor, currency, beneficiary, context_json, created_at, updated_at)
		VALUES(:id, :entity_id, :group_id, :type, :subject, :policy_code, :risk, :required_authority, :status,
			:sla_deadline, :amount_minor, :currency, :beneficiary, :context_json, :created_at, :updated_at)`
	_, err = s.db.NamedExecContext(ctx, q, map[string]any{
		"id":                 d.ID,
		"entity_id":          nullInt64(d.EntityID),
		"group_id":           nullInt64(d.GroupID),
		"type":               string(d.Type),
		"subject":            d.Subject,
		"policy_code":        d.PolicyCode,
		"risk":               d.Risk,
		"required_authority": string(d.RequiredAuthority),
		"status":             string(status),
		"sla_deadline":       sla,
		"amount_minor":       nullInt64(d.AmountMinor),
		"currency":           d.Currency,
		"beneficiary":        d.Beneficiary,
		"context_json":       string(ctxJSON),
		"created_at":         formatTime(created),
		"updated_at":         formatTime(created),
	})
	return err
}

func (s *SQLDecisionStore) GetDecision(ctx context.Context, id string) (*govern.Decision, error) {
	q := `SELECT ` + decisionColumns + ` FROM decisions WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("decision %s: %w", id, govern.ErrNotFound)
	}
	return scanDecision(r)
}

func (s *SQLDecisionStore) ListDecisions(ctx context.Context, filter govern.DecisionFilter) ([]*govern.Decision, error) {
	q := `SELECT ` + decisionColumns + ` FROM decisions WHERE 1=1`
	params := map[string]any{}
	if filter.Status != "" {
		q += " AND status = :status"
		params["status"] = string(filter.Status)
	}
	if len(filter.Types) > 0 {
		names := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			key := fmt.Sprintf("t%d", i)
			names[i] = ":" + key
			params[key] = string(t)
		}
		q += " AND type IN (" + strings.Join(names, ", ") + ")"
	}
	if !filter.AnyScope {
		scopes := make([]string, 0, 3)
		if len(filter.EntityIDs) > 0 {
			scopes = append(scopes, "entity_id IN ("+bindIDs(params, "e", filter.EntityIDs)+")")
		}
		if len(filter.GroupIDs) > 0 {
			scopes = append(scopes, "(entity_id IS NULL AND group_id IN ("+bindIDs(params, "g", filter.GroupIDs)+"))")
		}
		if filter.IncludeUnanchored {
			scopes = append(scopes, "(entity_id IS NULL AND group_id IS NULL)")
		}
		if len(scopes) == 0 {
			return []*govern.Decision{}, nil
		}
		q += " AND (" + strings.Join(scopes, " OR ") + ")"
	}
	q += " ORDER BY sla_deadline IS NULL, sla_deadline, id"
	if filter.Limit > 0 {
		q += " LIMIT :limit"
		params["limit"] = filter.Limit
	}
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*govern.Decision, 0)
	for r.Next() {
		d, err := scanDecision(r)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, r.Err()
}

// CommitTransition runs the conditional status update and the evidence insert in
// one transaction. Zero affected rows means another transition won the race.
func (s *SQLDecisionStore) CommitTransition(ctx context.Context, t govern.Transition, pack *govern.EvidencePack) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE decisions SET status = ?, decided_at = ?, decided_by = ?, justification = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(t.To), formatTime(t.DecidedAt), t.DecidedBy, t.Justification, formatTime(t.DecidedAt),
		t.DecisionID, string(t.From),
	)
	if err != nil {
		return fmt.Errorf("update decision %s: %w", t.DecisionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var count int
		if err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM decisions WHERE id = ?`, t.DecisionID).Scan(&count); err != nil {
			return err
		}
		if count == 0 {
			err = fmt.Errorf("decision %s: %w", t.DecisionID, govern.ErrNotFound)
			return err
		}
		err = govern.ErrConflict
		return err
	}

	if pack == nil {
		err = fmt.Errorf("%w: no evidence pack for %s", govern.ErrEvidenceWrite, t.DecisionID)
		return err
	}
	if err = insertEvidence(ctx, tx, pack); err != nil {
		err = fmt.Errorf("%w: %v", govern.ErrEvidenceWrite, err)
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transition for %s: %w", t.DecisionID, err)
	}
	return nil
}

func (s *SQLDecisionStore) MarkExecuted(ctx context.Context, id, executionRef string, at time.Time) error {
	q := `UPDATE decisions SET status = :to, execution_ref = :ref, updated_at = :at WHERE id = :id AND status = :from`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"to":   string(govern.StatusExecuted),
		"ref":  executionRef,
		"at":   formatTime(at),
		"id":   id,
		"from": string(govern.StatusApproved),
	})
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, gerr := s.GetDecision(ctx, id); errors.Is(gerr, govern.ErrNotFound) {
			return gerr
		}
		return govern.ErrConflict
	}
	return nil
}

func bindIDs(params map[string]any, prefix string, ids []int64) string {
	names := make([]string, len(ids))
	for i, id := range ids {
		key := fmt.Sprintf("%s%d", prefix, i)
		names[i] = ":" + key
		params[key] = id
	}
	return strings.Join(names, ", ")
}

func scanDecision(r scanner) (*govern.Decision, error) {
	var (
		id, typeRaw, subject, policyCode, risk, requiredRaw, statusRaw string
		currency, beneficiary, contextJSON                             string
		entityID, groupID, amount                                      sql.NullInt64
		decidedBy, justification, executionRef                         sql.NullString
		slaRaw, decidedRaw, createdRaw, updatedRaw                     any
	)
	if err := r.Scan(&id, &entityID, &groupID, &typeRaw, &subject, &policyCode, &risk, &requiredRaw, &statusRaw,
		&slaRaw, &amount, &currency, &beneficiary, &contextJSON, &decidedRaw, &decidedBy, &justification,
		&executionRef, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	t, err := govern.ParseDecisionType(typeRaw)
	if err != nil {
		return nil, fmt.Errorf("decision %s: %w", id, err)
	}
	var required govern.Role
	if requiredRaw != "" {
		if required, err = govern.NormalizeRole(requiredRaw); err != nil {
			return nil, fmt.Errorf("decision %s: %w", id, err)
		}
	}
	d := &govern.Decision{
		ID:                id,
		EntityID:          int64Ptr(entityID),
		GroupID:           int64Ptr(groupID),
		Type:              t,
		Subject:           subject,
		PolicyCode:        policyCode,
		Risk:              risk,
		RequiredAuthority: required,
		Status:            govern.DecisionStatus(statusRaw),
		AmountMinor:       int64Ptr(amount),
		Currency:          currency,
		Beneficiary:       beneficiary,
		DecidedBy:         decidedBy.String,
		Justification:     justification.String,
		ExecutionRef:      executionRef.String,
	}
	if contextJSON != "" && contextJSON != "{}" {
		if err := json.Unmarshal([]byte(contextJSON), &d.Context); err != nil {
			return nil, fmt.Errorf("decision %s context: %w", id, err)
		}
	}
	if d.SLADeadline, err = parseStoredTime(slaRaw); err != nil {
		return nil, err
	}
	if decidedRaw != nil {
		at, err := parseStoredTime(decidedRaw)
		if err != nil {
			return nil, err
		}
		d.DecidedAt = &at
	}
	if d.CreatedAt, err = parseStoredTime(createdRaw); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = parseStoredTime(updatedRaw); err != nil {
		return nil, err
	}
	return d, nil
}
