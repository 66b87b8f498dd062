package stores

import (
	"context"
	"fmt"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/govern"
)

// SQLDirectory serves users and scope assignments from SQL (squealx).
// Role strings read from the database pass through the govern parsers so that
// legacy spellings never reach the authorization core.
type SQLDirectory struct {
	db *squealx.DB
}

func NewSQLDirectory(db *squealx.DB) *SQLDirectory {
	return &SQLDirectory{db: db}
}

func (s *SQLDirectory) PutUser(ctx context.Context, u govern.User) error {
	q := `INSERT INTO users(id, name, platform_role) VALUES(:id, :name, :platform_role)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, platform_role = excluded.platform_role`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": u.ID, "name": u.Name, "platform_role": string(u.Role)})
	return err
}

func (s *SQLDirectory) PutEntity(ctx context.Context, id int64, legalName string) error {
	q := `INSERT INTO entities(id, legal_name) VALUES(:id, :legal_name)
		ON CONFLICT(id) DO UPDATE SET legal_name = excluded.legal_name`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": id, "legal_name": legalName})
	return err
}

func (s *SQLDirectory) PutGroup(ctx context.Context, id int64, name string) error {
	q := `INSERT INTO entity_groups(id, name) VALUES(:id, :name)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": id, "name": name})
	return err
}

// AssignEntityRole upserts; the primary key keeps one role per user and entity.
func (s *SQLDirectory) AssignEntityRole(ctx context.Context, userID string, entityID int64, role govern.EntityRole) error {
	q := `INSERT INTO entity_roles(user_id, entity_id, role) VALUES(:user_id, :entity_id, :role)
		ON CONFLICT(user_id, entity_id) DO UPDATE SET role = excluded.role`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"user_id": userID, "entity_id": entityID, "role": string(role)})
	return err
}

func (s *SQLDirectory) AssignGroupRole(ctx context.Context, userID string, groupID int64, role govern.GroupRole) error {
	q := `INSERT INTO group_roles(user_id, group_id, role) VALUES(:user_id, :group_id, :role)
		ON CONFLICT(user_id, group_id) DO UPDATE SET role = excluded.role`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"user_id": userID, "group_id": groupID, "role": string(role)})
	return err
}

func (s *SQLDirectory) SetMembership(ctx context.Context, m govern.GroupMembership) error {
	q := `INSERT INTO group_memberships(group_id, entity_id, status) VALUES(:group_id, :entity_id, :status)
		ON CONFLICT(group_id, entity_id) DO UPDATE SET status = excluded.status`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"group_id": m.GroupID, "entity_id": m.EntityID, "status": string(m.Status)})
	return err
}

func (s *SQLDirectory) GetUser(ctx context.Context, userID string) (*govern.User, error) {
	q := `SELECT id, name, platform_role FROM users WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": userID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("user %s: %w", userID, govern.ErrNotFound)
	}
	var id, name, roleRaw string
	if err := r.Scan(&id, &name, &roleRaw); err != nil {
		return nil, err
	}
	role, err := govern.NormalizeRole(roleRaw)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", userID, err)
	}
	return &govern.User{ID: id, Name: name, Role: role}, nil
}

func (s *SQLDirectory) ListEntityRoles(ctx context.Context, userID string) ([]govern.EntityRoleAssignment, error) {
	q := `SELECT er.entity_id, COALESCE(e.legal_name, ''), er.role
		FROM entity_roles er LEFT JOIN entities e ON e.id = er.entity_id
		WHERE er.user_id = :user_id ORDER BY er.entity_id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"user_id": userID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]govern.EntityRoleAssignment, 0)
	for r.Next() {
		var entityID int64
		var legalName, roleRaw string
		if err := r.Scan(&entityID, &legalName, &roleRaw); err != nil {
			return nil, err
		}
		role, err := govern.ParseEntityRole(roleRaw)
		if err != nil {
			return nil, fmt.Errorf("entity role for %s on %d: %w", userID, entityID, err)
		}
		out = append(out, govern.EntityRoleAssignment{UserID: userID, EntityID: entityID, LegalName: legalName, Role: role})
	}
	return out, r.Err()
}

func (s *SQLDirectory) ListGroupRoles(ctx context.Context, userID string) ([]govern.GroupRoleAssignment, error) {
	q := `SELECT gr.group_id, COALESCE(g.name, ''), gr.role
		FROM group_roles gr LEFT JOIN entity_groups g ON g.id = gr.group_id
		WHERE gr.user_id = :user_id ORDER BY gr.group_id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"user_id": userID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]govern.GroupRoleAssignment, 0)
	for r.Next() {
		var groupID int64
		var name, roleRaw string
		if err := r.Scan(&groupID, &name, &roleRaw); err != nil {
			return nil, err
		}
		role, err := govern.ParseGroupRole(roleRaw)
		if err != nil {
			return nil, fmt.Errorf("group role for %s on %d: %w", userID, groupID, err)
		}
		out = append(out, govern.GroupRoleAssignment{UserID: userID, GroupID: groupID, GroupName: name, Role: role})
	}
	return out, r.Err()
}

func (s *SQLDirectory) ListActiveMembers(ctx context.Context, groupID int64) ([]int64, error) {
	q := `SELECT entity_id FROM group_memberships WHERE group_id = :group_id AND status = :status ORDER BY entity_id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"group_id": groupID, "status": string(govern.MembershipActive)})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]int64, 0)
	for r.Next() {
		var id int64
		if err := r.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, r.Err()
}
