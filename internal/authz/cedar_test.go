package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCedarAuthorizer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		policyBytes []byte
		wantErr     string
	}{
		{
			name:        "nil bytes uses default policies",
			policyBytes: nil,
		},
		{
			name:        "empty bytes creates authorizer with no policies",
			policyBytes: []byte(""),
		},
		{
			name:        "invalid policy bytes returns error",
			policyBytes: []byte("this is not a valid cedar policy!!!"),
			wantErr:     "failed to parse Cedar policies",
		},
		{
			name: "valid custom policy bytes succeeds",
			policyBytes: []byte(`permit(
				principal,
				action == Sheetsync::Action::"read",
				resource
			);`),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			authorizer, err := NewCedarAuthorizer(tt.policyBytes)

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, authorizer)
				return
			}

			require.NoError(t, err)
			assert.NotNil(t, authorizer)
			assert.NotNil(t, authorizer.policySet)
		})
	}
}

func TestCedarAuthorizer_Authorize(t *testing.T) {
	t.Parallel()

	authorizer, err := NewCedarAuthorizer(nil)
	require.NoError(t, err)

	tests := []struct {
		name        string
		request     Request
		wantAllowed bool
	}{
		{
			name:        "owner may read",
			request:     Request{Principal: "alice", Action: ActionRead, TableID: "t1", TableOwner: "alice"},
			wantAllowed: true,
		},
		{
			name:        "owner may write",
			request:     Request{Principal: "alice", Action: ActionWrite, TableID: "t1", TableOwner: "alice"},
			wantAllowed: true,
		},
		{
			name:        "owner may delete",
			request:     Request{Principal: "alice", Action: ActionDelete, TableID: "t1", TableOwner: "alice"},
			wantAllowed: true,
		},
		{
			name:        "other user may not read",
			request:     Request{Principal: "bob", Action: ActionRead, TableID: "t1", TableOwner: "alice"},
			wantAllowed: false,
		},
		{
			name:        "other user may not delete",
			request:     Request{Principal: "bob", Action: ActionDelete, TableID: "t1", TableOwner: "alice"},
			wantAllowed: false,
		},
		{
			name:        "unknown action is denied",
			request:     Request{Principal: "alice", Action: "admin", TableID: "t1", TableOwner: "alice"},
			wantAllowed: false,
		},
		{
			name:        "owner match is case sensitive",
			request:     Request{Principal: "Alice", Action: ActionRead, TableID: "t1", TableOwner: "alice"},
			wantAllowed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			decision, err := authorizer.Authorize(context.Background(), tt.request)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAllowed, decision.Allowed)
			if tt.wantAllowed {
				assert.Len(t, decision.Reasons, 1)
			}
		})
	}
}

func TestCedarAuthorizer_RequiresPrincipal(t *testing.T) {
	t.Parallel()

	authorizer, err := NewCedarAuthorizer(nil)
	require.NoError(t, err)

	_, err = authorizer.Authorize(context.Background(), Request{Action: ActionRead, TableID: "t1", TableOwner: "alice"})
	assert.ErrorContains(t, err, "no principal")
}

func TestCedarAuthorizer_CustomPolicy(t *testing.T) {
	t.Parallel()

	// Anyone may read, only owners may change
	authorizer, err := NewCedarAuthorizer([]byte(`
permit(principal, action == Sheetsync::Action::"read", resource);
permit(principal, action, resource) when { resource.owner == principal };
`))
	require.NoError(t, err)

	read, err := authorizer.Authorize(context.Background(),
		Request{Principal: "bob", Action: ActionRead, TableID: "t1", TableOwner: "alice"})
	require.NoError(t, err)
	assert.True(t, read.Allowed)

	write, err := authorizer.Authorize(context.Background(),
		Request{Principal: "bob", Action: ActionWrite, TableID: "t1", TableOwner: "alice"})
	require.NoError(t, err)
	assert.False(t, write.Allowed)
}
