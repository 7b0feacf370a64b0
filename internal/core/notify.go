package core

import (
	"context"

	"github.com/collabboard/collabboard-server/internal/rbac"
)

// NotifyRoleChanged overwrites the cached role of every connection of the
// identity joined to board and pushes role_changed to each. RoleNone also
// removes those connections from the room. It returns once the hub has
// applied the change, so no later check can see the old role.
func (h *Hub) NotifyRoleChanged(ctx context.Context, identityID, board string, role rbac.Role) error {
	if !role.Valid() {
		role = rbac.RoleNone
	}
	return h.call(ctx, func() {
		n := h.applyRoleChange(identityID, board, role)
		h.log.Info().
			Str("user_id", identityID).
			Str("board_id", board).
			Str("role", role.String()).
			Int("connections", n).
			Msg("role changed")
	})
}

func (h *Hub) applyRoleChange(identityID, board string, role rbac.Role) int {
	n := 0
	for _, c := range h.sessions.activeConnections(identityID) {
		if pj := h.pending[c.ID][board]; pj != nil {
			r := role
			pj.override = &r
		}
		if _, ok := h.roles.resolve(c.ID, board); !ok {
			continue
		}
		if role == rbac.RoleNone {
			h.removeFromBoard(c, board)
		} else {
			h.roles.overwrite(c.ID, board, role)
		}
		c.send(&Event{Kind: EventRoleChanged, Board: board, Role: role})
		n++
	}
	return n
}

// PushToIdentity delivers a notification event to every live connection of
// the identity.
func (h *Hub) PushToIdentity(ctx context.Context, identityID, name string, payload any) error {
	return h.call(ctx, func() {
		for _, c := range h.sessions.activeConnections(identityID) {
			c.send(&Event{Kind: EventNotification, Notification: &Notification{Name: name, Payload: payload}})
		}
	})
}
