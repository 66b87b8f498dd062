package stores

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/govern"
)

func newRedisDirectory(t *testing.T) (*RedisDirectory, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisDirectory(client, "acme"), srv
}

func TestRedisDirectoryKeys(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	d := NewRedisDirectory(client, "")
	if got := d.key("user", "u-sup"); got != "govern:user:u-sup" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := NewRedisDirectory(client, "acme").key("members", int64(12)); got != "acme:members:12" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestSortedKeys(t *testing.T) {
	ids, err := sortedKeys(map[string]string{"12": "ENTITY_ADMIN", "3": "ENTITY_VIEWER", "7": "ENTITY_APPROVER"})
	if err != nil {
		t.Fatalf("sortedKeys: %v", err)
	}
	if len(ids) != 3 || ids[0] != 3 || ids[1] != 7 || ids[2] != 12 {
		t.Fatalf("unexpected order %v", ids)
	}
	if _, err := sortedKeys(map[string]string{"x": "ENTITY_ADMIN"}); err == nil {
		t.Fatalf("expected error for non-numeric id")
	}
}

func TestRedisDirectoryUsersAndRoles(t *testing.T) {
	d, srv := newRedisDirectory(t)
	ctx := context.Background()
	if err := d.PutUser(ctx, govern.User{ID: "u-sup", Name: "Sam", Role: govern.RoleSupervisor}); err != nil {
		t.Fatalf("put user: %v", err)
	}
	srv.HSet("acme:user:u-old", "name", "Olga", "role", "compliance_officer")
	srv.HSet("acme:user:u-bad", "name", "Bob", "role", "janitor")

	u, err := d.GetUser(ctx, "u-old")
	if err != nil || u.Role != govern.RoleCompliance || u.Name != "Olga" {
		t.Fatalf("legacy role should normalize, got %+v, %v", u, err)
	}
	if _, err := d.GetUser(ctx, "u-bad"); !govern.IsValidation(err) {
		t.Fatalf("unknown role should fail validation, got %v", err)
	}
	if _, err := d.GetUser(ctx, "u-none"); !errors.Is(err, govern.ErrNotFound) {
		t.Fatalf("missing user should be ErrNotFound, got %v", err)
	}

	_ = d.PutEntity(ctx, 7, "Acme Ltd")
	_ = d.AssignEntityRole(ctx, "u-sup", 12, govern.EntityViewer)
	_ = d.AssignEntityRole(ctx, "u-sup", 7, govern.EntityApprover)
	_ = d.PutGroup(ctx, 1, "Acme Holding")
	_ = d.AssignGroupRole(ctx, "u-sup", 1, govern.GroupFinance)

	entities, err := d.ListEntityRoles(ctx, "u-sup")
	if err != nil {
		t.Fatalf("entity roles: %v", err)
	}
	if len(entities) != 2 || entities[0].EntityID != 7 || entities[0].LegalName != "Acme Ltd" ||
		entities[0].Role != govern.EntityApprover || entities[1].EntityID != 12 || entities[1].LegalName != "" {
		t.Fatalf("unexpected entity roles %+v", entities)
	}
	groups, err := d.ListGroupRoles(ctx, "u-sup")
	if err != nil {
		t.Fatalf("group roles: %v", err)
	}
	if len(groups) != 1 || groups[0].GroupName != "Acme Holding" || groups[0].Role != govern.GroupFinance {
		t.Fatalf("unexpected group roles %+v", groups)
	}
	if roles, err := d.ListEntityRoles(ctx, "u-none"); err != nil || len(roles) != 0 {
		t.Fatalf("user without roles: %v, %v", roles, err)
	}

	srv.HSet("acme:entity_roles:u-bad", "9", "OWNER")
	if _, err := d.ListEntityRoles(ctx, "u-bad"); !govern.IsValidation(err) {
		t.Fatalf("unknown entity role should fail, got %v", err)
	}
	srv.HSet("acme:group_roles:u-bad", "x", "GROUP_VIEWER")
	if _, err := d.ListGroupRoles(ctx, "u-bad"); err == nil {
		t.Fatalf("non-numeric group id should fail")
	}
}

func TestRedisDirectoryActiveMembers(t *testing.T) {
	d, srv := newRedisDirectory(t)
	ctx := context.Background()
	for _, m := range []govern.GroupMembership{
		{GroupID: 1, EntityID: 9, Status: govern.MembershipActive},
		{GroupID: 1, EntityID: 3, Status: govern.MembershipActive},
		{GroupID: 1, EntityID: 5, Status: govern.MembershipInactive},
		{GroupID: 2, EntityID: 4, Status: govern.MembershipActive},
	} {
		if err := d.SetMembership(ctx, m); err != nil {
			t.Fatalf("membership: %v", err)
		}
	}
	ids, err := d.ListActiveMembers(ctx, 1)
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if len(ids) != 2 || ids[0] != 3 || ids[1] != 9 {
		t.Fatalf("expected active members [3 9], got %v", ids)
	}
	if err := d.SetMembership(ctx, govern.GroupMembership{GroupID: 1, EntityID: 9, Status: govern.MembershipInactive}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if ids, _ := d.ListActiveMembers(ctx, 1); len(ids) != 1 || ids[0] != 3 {
		t.Fatalf("deactivated member still listed: %v", ids)
	}
	if ids, err := d.ListActiveMembers(ctx, 99); err != nil || len(ids) != 0 {
		t.Fatalf("unknown group: %v, %v", ids, err)
	}
	srv.HSet("acme:members:3", "x", "ACTIVE")
	if _, err := d.ListActiveMembers(ctx, 3); err == nil {
		t.Fatalf("non-numeric member id should fail")
	}
}

func TestRedisDirectoryResolve(t *testing.T) {
	d, _ := newRedisDirectory(t)
	ctx := context.Background()
	_ = d.PutUser(ctx, govern.User{ID: "u-grp", Name: "Gail", Role: govern.RoleSupervisor})
	_ = d.AssignEntityRole(ctx, "u-grp", 7, govern.EntityApprover)
	_ = d.AssignGroupRole(ctx, "u-grp", 1, govern.GroupViewer)
	_ = d.SetMembership(ctx, govern.GroupMembership{GroupID: 1, EntityID: 7, Status: govern.MembershipActive})
	_ = d.SetMembership(ctx, govern.GroupMembership{GroupID: 1, EntityID: 9, Status: govern.MembershipActive})
	_ = d.SetMembership(ctx, govern.GroupMembership{GroupID: 1, EntityID: 11, Status: govern.MembershipInactive})

	actx, err := govern.NewResolver(d).Resolve(ctx, "u-grp")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	visible := govern.GetVisibleEntityIDs(actx)
	if len(visible) != 2 || visible[0] != 7 || visible[1] != 9 {
		t.Fatalf("expected visible [7 9], got %v", visible)
	}
	if !govern.HasEntityAuthority(actx, 7) || govern.HasEntityAuthority(actx, 9) {
		t.Fatalf("group visibility must not grant authority")
	}
}

func TestRedisDirectoryUnavailable(t *testing.T) {
	d, srv := newRedisDirectory(t)
	srv.SetError("ERR directory offline")
	if _, err := d.GetUser(context.Background(), "u-sup"); err == nil || errors.Is(err, govern.ErrNotFound) {
		t.Fatalf("server errors must surface as-is, got %v", err)
	}
}
