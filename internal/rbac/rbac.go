// Package rbac defines the ordered board roles and what each may do.
package rbac

// Role is a user's access level on one board, ordered none < viewer <
// editor < owner.
type Role string

// Action is something a role may be allowed to do on a board.
type Action string

const (
	// RoleNone grants nothing; the board is invisible.
	RoleNone Role = "none"
	// RoleViewer may read, chat and comment.
	RoleViewer Role = "viewer"
	// RoleEditor may also create, update and delete objects.
	RoleEditor Role = "editor"
	// RoleOwner may do everything, including managing members.
	RoleOwner Role = "owner"
)

const (
	// ActionRead covers snapshots, activity and presence.
	ActionRead Action = "read"
	// ActionComment attaches a comment to an object.
	ActionComment Action = "comment"
	// ActionChat posts to the board chat.
	ActionChat Action = "chat"
	// ActionWrite mutates board objects.
	ActionWrite Action = "write"
	// ActionManage changes membership and shares the board.
	ActionManage Action = "manage"
)

func (r Role) rank() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleEditor:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether r ranks at or above other.
func (r Role) AtLeast(other Role) bool {
	return r.rank() >= other.rank()
}

// Valid reports whether r is one of the known roles, including none.
func (r Role) Valid() bool {
	switch r {
	case RoleNone, RoleViewer, RoleEditor, RoleOwner:
		return true
	default:
		return false
	}
}

func (r Role) String() string {
	return string(r)
}

// Can reports whether role permits action.
func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionComment || action == ActionChat || action == ActionWrite
	case RoleViewer:
		return action == ActionRead || action == ActionComment || action == ActionChat
	default:
		return false
	}
}

// Normalize maps storage or wire strings to a role. Unknown values grant nothing.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleEditor, RoleOwner:
		return Role(role)
	default:
		return RoleNone
	}
}

// Assignable reports whether role may be granted through membership.
// Ownership comes from the board row only.
func Assignable(role Role) bool {
	return role == RoleViewer || role == RoleEditor
}
