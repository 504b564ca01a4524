// Package rbac decides which document actions a role may perform.
package rbac

import (
	"errors"
	"fmt"
	"strings"
)

type Role string
type Action string

const (
	RoleViewer    Role = "viewer"
	RoleCommenter Role = "commenter"
	RoleEditor    Role = "editor"
	RoleAdmin     Role = "admin"
)

const (
	// ActionRead covers the document, its threads and the selection state.
	ActionRead Action = "read"
	// ActionComment covers opening threads, replying and deleting or restoring comments.
	ActionComment Action = "comment"
	// ActionEdit covers text edits, undo and redo.
	ActionEdit Action = "edit"
	// ActionResolve covers deleting whole threads.
	ActionResolve Action = "resolve"
	ActionAdmin   Action = "admin"
)

var ErrForbidden = errors.New("forbidden")

var grants = map[Role][]Action{
	RoleViewer:    {ActionRead},
	RoleCommenter: {ActionRead, ActionComment},
	RoleEditor:    {ActionRead, ActionComment, ActionEdit, ActionResolve},
}

func Can(role Role, action Action) bool {
	if role == RoleAdmin {
		return true
	}
	for _, a := range grants[role] {
		if a == action {
			return true
		}
	}
	return false
}

// Require returns ErrForbidden, wrapped with the role and action, when role
// may not perform action.
func Require(role Role, action Action) error {
	if Can(role, action) {
		return nil
	}
	return fmt.Errorf("%w: %s may not %s", ErrForbidden, role, action)
}

// Parse accepts a role name case-insensitively.
func Parse(role string) (Role, bool) {
	switch r := Role(strings.ToLower(strings.TrimSpace(role))); r {
	case RoleViewer, RoleCommenter, RoleEditor, RoleAdmin:
		return r, true
	}
	return "", false
}

// Normalize maps an unknown or empty role to fallback.
func Normalize(role string, fallback Role) Role {
	if r, ok := Parse(role); ok {
		return r
	}
	return fallback
}
