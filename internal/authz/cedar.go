package authz

import (
	"context"
	"fmt"
	"log/slog"

	cedar "github.com/cedar-policy/cedar-go"
)

const cedarNamespace = "Sheetsync"

// CedarAuthorizer evaluates requests against a Cedar policy set
type CedarAuthorizer struct {
	policySet *cedar.PolicySet
}

var _ Authorizer = (*CedarAuthorizer)(nil)

// NewCedarAuthorizer creates a new Cedar-based authorizer.
// If policyBytes is nil, built-in default policies are used.
func NewCedarAuthorizer(policyBytes []byte) (*CedarAuthorizer, error) {
	if policyBytes == nil {
		policyBytes = []byte(defaultPolicies)
	}

	ps, err := cedar.NewPolicySetFromBytes("policies.cedar", policyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Cedar policies: %w", err)
	}

	return &CedarAuthorizer{policySet: ps}, nil
}

// Authorize builds the user and table entities for req and evaluates the policy set
func (a *CedarAuthorizer) Authorize(_ context.Context, req Request) (Decision, error) {
	if req.Principal == "" {
		return Decision{}, fmt.Errorf("authorization request has no principal")
	}

	principalUID := cedar.NewEntityUID(cedar.EntityType(cedarNamespace+"::User"), cedar.String(req.Principal))
	ownerUID := cedar.NewEntityUID(cedar.EntityType(cedarNamespace+"::User"), cedar.String(req.TableOwner))
	resourceUID := cedar.NewEntityUID(cedar.EntityType(cedarNamespace+"::Table"), cedar.String(req.TableID))
	actionUID := cedar.NewEntityUID(cedar.EntityType(cedarNamespace+"::Action"), cedar.String(req.Action))

	entities := cedar.EntityMap{
		principalUID: cedar.Entity{UID: principalUID},
		resourceUID: cedar.Entity{
			UID: resourceUID,
			Attributes: cedar.NewRecord(cedar.RecordMap{
				"owner": ownerUID,
			}),
		},
	}

	decision, diagnostic := cedar.Authorize(a.policySet, entities, cedar.Request{
		Principal: principalUID,
		Action:    actionUID,
		Resource:  resourceUID,
		Context:   cedar.NewRecord(cedar.RecordMap{}),
	})

	slog.Debug("Authorization decision",
		"action", req.Action,
		"decision", decision,
		"principal", req.Principal,
		"table_id", req.TableID,
	)

	var reasons []string
	for _, r := range diagnostic.Reasons {
		reasons = append(reasons, string(r.PolicyID))
	}

	return Decision{
		Allowed: decision == cedar.Allow,
		Reasons: reasons,
	}, nil
}
