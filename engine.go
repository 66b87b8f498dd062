package govern

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/oarkflow/govern/logger"
)

// MinJustificationLength is the minimum trimmed justification length, in characters.
const MinJustificationLength = 10

// ErrEvidenceWrite marks an evidence insert failure inside CommitTransition.
var ErrEvidenceWrite = errors.New("evidence write failed")

// ============================================================================
// DECISION ENGINE
// ============================================================================

// Engine gates and applies decision transitions and seals their evidence.
type Engine struct {
	resolver   *Resolver
	decisions  DecisionStore
	policies   PolicyStore
	evidence   EvidenceStore
	matrix     *atomic.Pointer[AuthorityMatrix]
	visibility *VisibilityMatrix
	generator  *EvidenceGenerator
	now        func() time.Time
	logger     logger.Logger
	metrics    *Metrics
}

// EngineOption configures an Engine.
type EngineOption func(*Engine) error

// WithLogger installs a Logger on the Engine.
func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) error {
		e.logger = l
		return nil
	}
}

func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) error {
		e.metrics = m
		return nil
	}
}

// WithEvidenceStore enables evidence reads, verification and policy changes.
func WithEvidenceStore(s EvidenceStore) EngineOption {
	return func(e *Engine) error {
		e.evidence = s
		return nil
	}
}

// WithAuthorityMatrix gives the engine its own matrix instead of the process-wide one.
func WithAuthorityMatrix(m *AuthorityMatrix) EngineOption {
	return func(e *Engine) error {
		if m == nil {
			return fmt.Errorf("authority matrix is nil")
		}
		p := &atomic.Pointer[AuthorityMatrix]{}
		p.Store(m)
		e.matrix = p
		return nil
	}
}

func WithVisibilityMatrix(m *VisibilityMatrix) EngineOption {
	return func(e *Engine) error {
		if m == nil {
			return fmt.Errorf("visibility matrix is nil")
		}
		e.visibility = m
		return nil
	}
}

// WithClock replaces the wall clock used for decidedAt and evidence timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) error {
		e.now = now
		e.generator.now = now
		return nil
	}
}

// WithEvidenceIDFunc replaces the evidence id source.
func WithEvidenceIDFunc(f func() string) EngineOption {
	return func(e *Engine) error {
		e.generator.newID = f
		return nil
	}
}

func NewEngine(resolver *Resolver, decisions DecisionStore, policies PolicyStore, opts ...EngineOption) (*Engine, error) {
	if resolver == nil || decisions == nil || policies == nil {
		return nil, fmt.Errorf("engine requires a resolver, a decision store and a policy store")
	}
	e := &Engine{
		resolver:   resolver,
		decisions:  decisions,
		policies:   policies,
		matrix:     &currentMatrix,
		visibility: defaultVisibility,
		generator:  NewEvidenceGenerator(),
		now:        time.Now,
		logger:     logger.NewNullLogger(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Matrix returns the authority matrix currently used by the engine.
func (e *Engine) Matrix() *AuthorityMatrix {
	return e.matrix.Load()
}

func (e *Engine) Visibility() *VisibilityMatrix {
	return e.visibility
}

// Resolve builds the auth context for userID.
func (e *Engine) Resolve(ctx context.Context, userID string) (*AuthContext, error) {
	return e.resolver.Resolve(ctx, userID)
}

// Approve moves a PENDING decision to APPROVED.
func (e *Engine) Approve(ctx context.Context, decisionID, justification string, actx *AuthContext) (*TransitionResult, error) {
	return e.act(ctx, decisionID, justification, actx, ActionApproved)
}

// Reject moves a PENDING decision to REJECTED.
func (e *Engine) Reject(ctx context.Context, decisionID, justification string, actx *AuthContext) (*TransitionResult, error) {
	return e.act(ctx, decisionID, justification, actx, ActionRejected)
}

// Escalate moves a PENDING decision to ESCALATED. Scope is still checked but the
// authority matrix is not: escalation is open to anyone who can reach the decision.
func (e *Engine) Escalate(ctx context.Context, decisionID, justification string, actx *AuthContext) (*TransitionResult, error) {
	return e.act(ctx, decisionID, justification, actx, ActionEscalated)
}

func (e *Engine) ApproveAs(ctx context.Context, decisionID, justification, userID string) (*TransitionResult, error) {
	return e.actAs(ctx, decisionID, justification, userID, ActionApproved)
}

func (e *Engine) RejectAs(ctx context.Context, decisionID, justification, userID string) (*TransitionResult, error) {
	return e.actAs(ctx, decisionID, justification, userID, ActionRejected)
}

func (e *Engine) EscalateAs(ctx context.Context, decisionID, justification, userID string) (*TransitionResult, error) {
	return e.actAs(ctx, decisionID, justification, userID, ActionEscalated)
}

func (e *Engine) actAs(ctx context.Context, decisionID, justification, userID string, action EvidenceAction) (*TransitionResult, error) {
	actx, err := e.resolver.Resolve(ctx, userID)
	if err != nil {
		e.metrics.observeTransition(action, "error")
		return nil, err
	}
	return e.act(ctx, decisionID, justification, actx, action)
}

// CanAct runs the scope and matrix checks for action without any I/O.
func (e *Engine) CanAct(actx *AuthContext, d *Decision, action EvidenceAction) *AuthorityError {
	if aerr := ValidateDecisionAuthority(actx, d.EntityID, d.Type); aerr != nil {
		return aerr
	}
	if action == ActionEscalated {
		return nil
	}
	m := e.matrix.Load()
	if !m.HasAuthority(actx.platformRole, d.Type) {
		allowed := m.AllowedRoles(d.Type)
		names := make([]string, len(allowed))
		for i, r := range allowed {
			names[i] = string(r)
		}
		reason := fmt.Sprintf("role %s may not %s %s decisions; allowed roles: %s",
			actx.platformRole, verb(action), d.Type, strings.Join(names, ", "))
		if len(names) == 0 {
			reason = fmt.Sprintf("no role may %s %s decisions under authority matrix v%d", verb(action), d.Type, m.Version())
		}
		return &AuthorityError{Reason: reason, EntityID: d.EntityID, Required: names}
	}
	return nil
}

func (e *Engine) act(ctx context.Context, decisionID, justification string, actx *AuthContext, action EvidenceAction) (*TransitionResult, error) {
	res, err := e.apply(ctx, decisionID, justification, actx, action)
	if err != nil {
		reason := errorClass(err)
		e.metrics.observeTransition(action, reason)
		e.metrics.observeDenial(reason)
		actor := ""
		if actx != nil {
			actor = actx.userID
		}
		e.logger.Info("decision action refused",
			"decision_id", decisionID,
			"actor_id", actor,
			"action", string(action),
			"reason", reason,
			"error", err,
		)
		return nil, err
	}
	e.metrics.observeTransition(action, "committed")
	return res, nil
}

func (e *Engine) apply(ctx context.Context, decisionID, justification string, actx *AuthContext, action EvidenceAction) (*TransitionResult, error) {
	d, err := e.decisions.GetDecision(ctx, decisionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{Kind: "decision", ID: decisionID}
		}
		return nil, fmt.Errorf("load decision %s: %w", decisionID, err)
	}
	if d.Status != StatusPending {
		return nil, &InvalidStateError{DecisionID: decisionID, Status: d.Status}
	}

	trimmed := strings.TrimSpace(justification)
	if utf8.RuneCountInString(trimmed) < MinJustificationLength {
		return nil, &ValidationError{Field: "justification", Reason: fmt.Sprintf("justification required, min %d characters", MinJustificationLength)}
	}

	if aerr := e.CanAct(actx, d, action); aerr != nil {
		return nil, aerr
	}

	m := e.matrix.Load()
	policy, err := e.policies.GetPolicy(ctx, d.PolicyCode)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{Kind: "policy", ID: d.PolicyCode}
		}
		return nil, fmt.Errorf("load policy %s: %w", d.PolicyCode, err)
	}
	snapshot := PolicySnapshot{
		Code:              policy.Code,
		Version:           policy.Version,
		Name:              policy.Name,
		RequiredAuthority: policy.RequiredAuthority,
		RiskLevel:         policy.RiskLevel,
		DualControl:       m.RequiresDualControl(d.Type),
		MatrixVersion:     m.Version(),
	}

	pack, err := e.generator.Create(d.ID, actx.Actor(), action, trimmed, snapshot)
	if err != nil {
		return nil, &IntegrityError{DecisionID: d.ID, Err: err}
	}

	t := Transition{
		DecisionID:    d.ID,
		From:          StatusPending,
		To:            action.Status(),
		DecidedAt:     pack.CreatedAt,
		DecidedBy:     actx.userID,
		Justification: trimmed,
	}
	if err := e.decisions.CommitTransition(ctx, t, pack); err != nil {
		switch {
		case errors.Is(err, ErrConflict):
			return nil, &InvalidStateError{DecisionID: d.ID}
		case errors.Is(err, ErrNotFound):
			return nil, &NotFoundError{Kind: "decision", ID: d.ID}
		case errors.Is(err, ErrEvidenceWrite):
			e.logger.Error("evidence write failed, transition rolled back", "decision_id", d.ID, "error", err)
			return nil, &IntegrityError{DecisionID: d.ID, Err: err}
		}
		return nil, fmt.Errorf("commit transition for %s: %w", d.ID, err)
	}

	if snapshot.DualControl && action != ActionEscalated {
		e.logger.Info("dual-control decision resolved by a single authorized actor",
			"decision_id", d.ID, "actor_id", actx.userID, "actor_role", string(actx.platformRole))
	}
	e.logger.Info("decision transition committed",
		"decision_id", d.ID,
		"actor_id", actx.userID,
		"action", string(action),
		"evidence_id", pack.ID,
		"policy", fmt.Sprintf("%s@v%d", snapshot.Code, snapshot.Version),
	)
	return &TransitionResult{
		Success:    true,
		DecisionID: d.ID,
		Status:     t.To,
		EvidenceID: pack.ID,
		MerkleHash: pack.MerkleHash,
	}, nil
}

// MarkExecuted records the downstream execution of an APPROVED decision.
func (e *Engine) MarkExecuted(ctx context.Context, decisionID, executionRef string) error {
	if strings.TrimSpace(executionRef) == "" {
		return &ValidationError{Field: "execution_ref", Reason: "execution reference required"}
	}
	err := e.decisions.MarkExecuted(ctx, decisionID, executionRef, e.now().UTC())
	switch {
	case err == nil:
		e.logger.Info("decision executed", "decision_id", decisionID, "execution_ref", executionRef)
		return nil
	case errors.Is(err, ErrNotFound):
		return &NotFoundError{Kind: "decision", ID: decisionID}
	case errors.Is(err, ErrConflict):
		d, gerr := e.decisions.GetDecision(ctx, decisionID)
		if gerr != nil {
			return &InvalidStateError{DecisionID: decisionID}
		}
		return &InvalidStateError{DecisionID: decisionID, Status: d.Status}
	}
	return fmt.Errorf("mark %s executed: %w", decisionID, err)
}

// ============================================================================
// QUEUE
// ============================================================================

// QueueFilter narrows ListQueue.
type QueueFilter struct {
	Status DecisionStatus // defaults to PENDING
	Types  []DecisionType
	Limit  int
}

// QueueItem is a decision as seen by one actor.
type QueueItem struct {
	Decision    *Decision
	Actionable  bool
	SLABreached bool
}

// ListQueue returns the decisions actx can see. Visibility comes from direct and
// group scopes; Actionable is computed from authority only.
func (e *Engine) ListQueue(ctx context.Context, actx *AuthContext, qf QueueFilter) ([]QueueItem, error) {
	if actx == nil {
		return nil, &AuthorityError{Reason: "no resolved authority context for actor"}
	}
	if !e.visibility.HasVisibility(actx.platformRole, AreaDecisionQueue) {
		return nil, &AuthorityError{Reason: fmt.Sprintf("role %s may not view %s", actx.platformRole, AreaDecisionQueue)}
	}
	f := DecisionFilter{Status: qf.Status, Types: qf.Types, Limit: qf.Limit}
	if f.Status == "" {
		f.Status = StatusPending
	}
	if actx.platformRole == RolePlatformAdmin {
		f.AnyScope = true
	} else {
		f.EntityIDs = GetVisibleEntityIDs(actx)
		f.GroupIDs = make([]int64, 0, len(actx.groupScopes))
		for _, g := range actx.groupScopes {
			f.GroupIDs = append(f.GroupIDs, g.GroupID)
		}
		f.IncludeUnanchored = true
	}
	list, err := e.decisions.ListDecisions(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	now := e.now()
	out := make([]QueueItem, 0, len(list))
	for _, d := range list {
		out = append(out, QueueItem{
			Decision:    d,
			Actionable:  d.Status == StatusPending && e.CanAct(actx, d, ActionApproved) == nil,
			SLABreached: d.SLABreached(now),
		})
	}
	return out, nil
}

// ============================================================================
// EVIDENCE & POLICY CHANGE
// ============================================================================

func (e *Engine) Evidence(ctx context.Context, id string) (*EvidencePack, error) {
	if e.evidence == nil {
		return nil, fmt.Errorf("no evidence store configured")
	}
	p, err := e.evidence.GetEvidence(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, &NotFoundError{Kind: "evidence", ID: id}
	}
	return p, err
}

func (e *Engine) EvidenceForDecision(ctx context.Context, decisionID string) (*EvidencePack, error) {
	if e.evidence == nil {
		return nil, fmt.Errorf("no evidence store configured")
	}
	p, err := e.evidence.GetEvidenceByDecision(ctx, decisionID)
	if errors.Is(err, ErrNotFound) {
		return nil, &NotFoundError{Kind: "evidence for decision", ID: decisionID}
	}
	return p, err
}

// VerifyEvidence reloads a pack and recomputes its seal.
func (e *Engine) VerifyEvidence(ctx context.Context, id string) error {
	p, err := e.Evidence(ctx, id)
	if err != nil {
		return err
	}
	return VerifyEvidence(p)
}

// ApplyPolicyChange installs next as the engine's authority matrix. The change
// must be backed by an APPROVED POLICY_CHANGE decision with intact evidence
// whose recorded digest (see ProposeAuthorityMatrix) matches next. The version
// must follow the current one, so a decision applies at most once.
func (e *Engine) ApplyPolicyChange(ctx context.Context, decisionID string, next *AuthorityMatrix) error {
	if next == nil {
		return &ValidationError{Field: "authority_matrix", Reason: "replacement matrix required"}
	}
	d, err := e.decisions.GetDecision(ctx, decisionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &NotFoundError{Kind: "decision", ID: decisionID}
		}
		return err
	}
	if d.Type != DecisionPolicyChange {
		return &ValidationError{Field: "decision_type", Reason: fmt.Sprintf("decision %s is %s, not %s", d.ID, d.Type, DecisionPolicyChange)}
	}
	if d.Status != StatusApproved && d.Status != StatusExecuted {
		return &InvalidStateError{DecisionID: d.ID, Status: d.Status}
	}
	proposed, _ := d.Context[AuthorityDigestKey].(string)
	if proposed == "" {
		return &ValidationError{Field: "authority_matrix", Reason: fmt.Sprintf("decision %s does not name a proposed matrix", d.ID)}
	}
	digest, err := next.Digest()
	if err != nil {
		return err
	}
	if digest != proposed {
		return &ValidationError{Field: "authority_matrix", Reason: fmt.Sprintf("matrix v%d is not the one approved by %s", next.Version(), d.ID)}
	}
	pack, err := e.EvidenceForDecision(ctx, d.ID)
	if err != nil {
		return err
	}
	if err := VerifyEvidence(pack); err != nil {
		return err
	}
	prev := e.matrix.Load().Version()
	if err := swapAuthorityMatrix(e.matrix, next); err != nil {
		return &ValidationError{Field: "authority_matrix", Reason: err.Error()}
	}
	e.logger.Info("authority matrix replaced",
		"decision_id", d.ID,
		"evidence_id", pack.ID,
		"from_version", prev,
		"to_version", next.Version(),
	)
	return nil
}

func verb(a EvidenceAction) string {
	switch a {
	case ActionApproved:
		return "approve"
	case ActionRejected:
		return "reject"
	}
	return "escalate"
}

func errorClass(err error) string {
	switch {
	case IsNotFound(err):
		return "not_found"
	case IsValidation(err):
		return "validation"
	case IsAuthority(err):
		return "authority"
	case IsInvalidState(err):
		return "invalid_state"
	case IsIntegrity(err):
		return "integrity"
	}
	return "error"
}
