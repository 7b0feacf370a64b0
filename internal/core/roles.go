package core

import "github.com/collabboard/collabboard-server/internal/rbac"

// roleCache is the sole authority for mutation checks: connection -> board -> role.
// Entries come from the storage lookup at join and from role-change pushes.
type roleCache struct {
	entries map[string]map[string]rbac.Role
}

func newRoleCache() *roleCache {
	return &roleCache{entries: make(map[string]map[string]rbac.Role)}
}

func (r *roleCache) resolve(connID, board string) (rbac.Role, bool) {
	role, ok := r.entries[connID][board]
	return role, ok
}

func (r *roleCache) set(connID, board string, role rbac.Role) {
	boards, ok := r.entries[connID]
	if !ok {
		boards = make(map[string]rbac.Role)
		r.entries[connID] = boards
	}
	boards[board] = role
}

// overwrite replaces an existing entry and reports whether there was one.
func (r *roleCache) overwrite(connID, board string, role rbac.Role) bool {
	if _, ok := r.entries[connID][board]; !ok {
		return false
	}
	r.entries[connID][board] = role
	return true
}

func (r *roleCache) forget(connID, board string) {
	boards, ok := r.entries[connID]
	if !ok {
		return
	}
	delete(boards, board)
	if len(boards) == 0 {
		delete(r.entries, connID)
	}
}

func (r *roleCache) drop(connID string) {
	delete(r.entries, connID)
}
