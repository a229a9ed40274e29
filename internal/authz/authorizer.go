// Package authz decides whether a user may act on a table, using Cedar policies.
package authz

import "context"

// Actions that can be performed on a table
const (
	ActionRead   = "read"
	ActionWrite  = "write"
	ActionDelete = "delete"
)

// Authorizer evaluates authorization decisions using Cedar policies.
type Authorizer interface {
	// Authorize checks if the principal can perform the action on the table.
	Authorize(ctx context.Context, req Request) (Decision, error)
}

// Request represents an authorization request.
type Request struct {
	// Principal is the id of the authenticated user.
	Principal string

	// Action is the Cedar action name (read, write, delete).
	Action string

	// TableID identifies the table being accessed.
	TableID string

	// TableOwner is the user id recorded as the table's owner.
	TableOwner string
}

// Decision represents the result of an authorization check.
type Decision struct {
	// Allowed indicates whether the request is permitted.
	Allowed bool

	// Reasons provides policy IDs that contributed to the decision.
	Reasons []string
}
