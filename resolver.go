package govern

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oarkflow/govern/logger"
)

// Resolver builds a fresh AuthContext per call. Nothing is cached between calls.
type Resolver struct {
	dir     Directory
	logger  logger.Logger
	metrics *Metrics
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

func WithResolverLogger(l logger.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

func WithResolverMetrics(m *Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

func NewResolver(dir Directory, opts ...ResolverOption) *Resolver {
	r := &Resolver{dir: dir, logger: logger.NewNullLogger()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve loads the user, its entity scopes and its group scopes with active
// members expanded. A missing user yields NotFoundError; a user without any
// assignment yields a context with empty scope lists.
func (r *Resolver) Resolve(ctx context.Context, userID string) (*AuthContext, error) {
	start := time.Now()
	defer func() { r.metrics.observeResolve(time.Since(start)) }()

	user, err := r.dir.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{Kind: "user", ID: userID}
		}
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}
	if user == nil {
		return nil, &NotFoundError{Kind: "user", ID: userID}
	}

	entityRows, err := r.dir.ListEntityRoles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load entity roles for %s: %w", userID, err)
	}
	entityScopes := make([]EntityScope, 0, len(entityRows))
	for _, row := range entityRows {
		entityScopes = append(entityScopes, EntityScope{EntityID: row.EntityID, LegalName: row.LegalName, Role: row.Role})
	}

	groupRows, err := r.dir.ListGroupRoles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load group roles for %s: %w", userID, err)
	}
	groupScopes := make([]GroupScope, 0, len(groupRows))
	for _, row := range groupRows {
		members, err := r.dir.ListActiveMembers(ctx, row.GroupID)
		if err != nil {
			return nil, fmt.Errorf("load members of group %d: %w", row.GroupID, err)
		}
		groupScopes = append(groupScopes, GroupScope{GroupID: row.GroupID, Name: row.GroupName, Role: row.Role, MemberEntityIDs: members})
	}

	actx := NewAuthContext(user, entityScopes, groupScopes)
	r.logger.Debug("auth context resolved",
		"user_id", userID,
		"platform_role", string(actx.platformRole),
		"entity_scopes", len(actx.entityScopes),
		"group_scopes", len(actx.groupScopes),
	)
	return actx, nil
}
