// Package bus carries role changes and pushes from the HTTP side to the
// realtime hubs, either in-process or across processes over Redis.
package bus

import (
	"context"
	"encoding/json"

	"github.com/collabboard/collabboard-server/internal/rbac"
)

// Publisher is how non-realtime code reaches live connections.
type Publisher interface {
	NotifyRoleChanged(ctx context.Context, identityID, board string, role rbac.Role) error
	PushToIdentity(ctx context.Context, identityID, name string, payload any) error
}

// Target receives delivered notifications. *core.Hub implements it.
type Target interface {
	NotifyRoleChanged(ctx context.Context, identityID, board string, role rbac.Role) error
	PushToIdentity(ctx context.Context, identityID, name string, payload any) error
}

const (
	kindRoleChanged = "role_changed"
	kindPush        = "push"
)

// envelope is the wire form published on the Redis channel. ID is set on
// role changes, which subscribers acknowledge. Origin names the publishing
// process, whose own subscriber skips the already applied change.
type envelope struct {
	ID         string          `json:"id,omitempty"`
	Origin     string          `json:"origin,omitempty"`
	Kind       string          `json:"kind"`
	IdentityID string          `json:"identity_id"`
	Board      string          `json:"board_id,omitempty"`
	Role       rbac.Role       `json:"role,omitempty"`
	Name       string          `json:"name,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Local delivers straight to a hub in the same process.
type Local struct {
	target Target
}

func NewLocal(target Target) *Local {
	return &Local{target: target}
}

func (l *Local) NotifyRoleChanged(ctx context.Context, identityID, board string, role rbac.Role) error {
	return l.target.NotifyRoleChanged(ctx, identityID, board, role)
}

func (l *Local) PushToIdentity(ctx context.Context, identityID, name string, payload any) error {
	return l.target.PushToIdentity(ctx, identityID, name, payload)
}
