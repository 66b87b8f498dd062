package stores

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/govern"
)

// RedisDirectory serves users and scope assignments from Redis hashes:
//
//	{prefix}:user:{userID}         name, role
//	{prefix}:entity_roles:{userID} entityID -> role
//	{prefix}:group_roles:{userID}  groupID -> role
//	{prefix}:members:{groupID}     entityID -> membership status
//	{prefix}:entity_names          entityID -> legal name
//	{prefix}:group_names           groupID -> name
type RedisDirectory struct {
	client *redis.Client
	prefix string
}

func NewRedisDirectory(client *redis.Client, prefix string) *RedisDirectory {
	if prefix == "" {
		prefix = "govern"
	}
	return &RedisDirectory{client: client, prefix: prefix}
}

func (r *RedisDirectory) key(parts ...any) string {
	k := r.prefix
	for _, p := range parts {
		k += fmt.Sprintf(":%v", p)
	}
	return k
}

func (r *RedisDirectory) PutUser(ctx context.Context, u govern.User) error {
	return r.client.HSet(ctx, r.key("user", u.ID), "name", u.Name, "role", string(u.Role)).Err()
}

func (r *RedisDirectory) PutEntity(ctx context.Context, id int64, legalName string) error {
	return r.client.HSet(ctx, r.key("entity_names"), strconv.FormatInt(id, 10), legalName).Err()
}

func (r *RedisDirectory) PutGroup(ctx context.Context, id int64, name string) error {
	return r.client.HSet(ctx, r.key("group_names"), strconv.FormatInt(id, 10), name).Err()
}

func (r *RedisDirectory) AssignEntityRole(ctx context.Context, userID string, entityID int64, role govern.EntityRole) error {
	return r.client.HSet(ctx, r.key("entity_roles", userID), strconv.FormatInt(entityID, 10), string(role)).Err()
}

func (r *RedisDirectory) AssignGroupRole(ctx context.Context, userID string, groupID int64, role govern.GroupRole) error {
	return r.client.HSet(ctx, r.key("group_roles", userID), strconv.FormatInt(groupID, 10), string(role)).Err()
}

func (r *RedisDirectory) SetMembership(ctx context.Context, m govern.GroupMembership) error {
	return r.client.HSet(ctx, r.key("members", m.GroupID), strconv.FormatInt(m.EntityID, 10), string(m.Status)).Err()
}

func (r *RedisDirectory) GetUser(ctx context.Context, userID string) (*govern.User, error) {
	fields, err := r.client.HGetAll(ctx, r.key("user", userID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("user %s: %w", userID, govern.ErrNotFound)
	}
	role, err := govern.NormalizeRole(fields["role"])
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", userID, err)
	}
	return &govern.User{ID: userID, Name: fields["name"], Role: role}, nil
}

func (r *RedisDirectory) ListEntityRoles(ctx context.Context, userID string) ([]govern.EntityRoleAssignment, error) {
	raw, err := r.client.HGetAll(ctx, r.key("entity_roles", userID)).Result()
	if err != nil {
		return nil, err
	}
	ids, err := sortedKeys(raw)
	if err != nil {
		return nil, fmt.Errorf("entity roles for %s: %w", userID, err)
	}
	names, err := r.names(ctx, "entity_names", ids)
	if err != nil {
		return nil, err
	}
	out := make([]govern.EntityRoleAssignment, 0, len(ids))
	for i, id := range ids {
		role, err := govern.ParseEntityRole(raw[strconv.FormatInt(id, 10)])
		if err != nil {
			return nil, fmt.Errorf("entity role for %s on %d: %w", userID, id, err)
		}
		out = append(out, govern.EntityRoleAssignment{UserID: userID, EntityID: id, LegalName: names[i], Role: role})
	}
	return out, nil
}

func (r *RedisDirectory) ListGroupRoles(ctx context.Context, userID string) ([]govern.GroupRoleAssignment, error) {
	raw, err := r.client.HGetAll(ctx, r.key("group_roles", userID)).Result()
	if err != nil {
		return nil, err
	}
	ids, err := sortedKeys(raw)
	if err != nil {
		return nil, fmt.Errorf("group roles for %s: %w", userID, err)
	}
	names, err := r.names(ctx, "group_names", ids)
	if err != nil {
		return nil, err
	}
	out := make([]govern.GroupRoleAssignment, 0, len(ids))
	for i, id := range ids {
		role, err := govern.ParseGroupRole(raw[strconv.FormatInt(id, 10)])
		if err != nil {
			return nil, fmt.Errorf("group role for %s on %d: %w", userID, id, err)
		}
		out = append(out, govern.GroupRoleAssignment{UserID: userID, GroupID: id, GroupName: names[i], Role: role})
	}
	return out, nil
}

func (r *RedisDirectory) ListActiveMembers(ctx context.Context, groupID int64) ([]int64, error) {
	raw, err := r.client.HGetAll(ctx, r.key("members", groupID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(raw))
	for field, status := range raw {
		if govern.MembershipStatus(status) != govern.MembershipActive {
			continue
		}
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("group %d member %q: %w", groupID, field, err)
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// names resolves display names for ids; missing names come back empty.
func (r *RedisDirectory) names(ctx context.Context, hash string, ids []int64) ([]string, error) {
	out := make([]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	fields := make([]string, len(ids))
	for i, id := range ids {
		fields[i] = strconv.FormatInt(id, 10)
	}
	vals, err := r.client.HMGet(ctx, r.key(hash), fields...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[i] = s
		}
	}
	return out, nil
}

func sortedKeys(m map[string]string) ([]int64, error) {
	ids := make([]int64, 0, len(m))
	for k := range m {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
