package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorrc/notify-gateway/internal/core/domain"
)

func TestOPAAuthorizer_DefaultPolicy(t *testing.T) {
	ctx := context.Background()
	a, err := NewOPAAuthorizer(ctx, "")
	require.NoError(t, err)
	require.NoError(t, a.HealthCheck(ctx))

	tenant := domain.Identity{UserID: "tenant-001", Role: domain.RoleTenant}
	contractor := domain.Identity{UserID: "contractor-001", Role: domain.RoleContractor}
	admin := domain.Identity{UserID: "admin-1", Role: domain.RoleAdmin}

	tests := []struct {
		name     string
		identity domain.Identity
		topic    domain.Topic
		want     bool
	}{
		{"own user topic", tenant, domain.UserTopic("tenant-001"), true},
		{"other user topic", tenant, domain.UserTopic("tenant-002"), false},
		{"own role topic", tenant, domain.RoleTopic(domain.RoleTenant), true},
		{"other role topic", tenant, domain.RoleTopic(domain.RoleAgent), false},
		{"ticket topic", tenant, domain.TicketTopic("456"), true},
		{"jobs as tenant", tenant, domain.JobsTopic(domain.JobFilter{"trade": "plumbing"}), false},
		{"jobs as contractor", contractor, domain.JobsTopic(domain.JobFilter{"trade": "plumbing"}), true},
		{"admin joins anything", admin, domain.UserTopic("tenant-001"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allowed, err := a.AuthorizeJoin(ctx, tt.identity, tt.topic)
			require.NoError(t, err)
			assert.Equal(t, tt.want, allowed)
		})
	}
}

func TestOPAAuthorizer_CustomPolicyFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "topics.rego")
	policy := `package notify.topics

default allow := false

allow if input.identity.tenant_id == "org-1"
`
	require.NoError(t, os.WriteFile(path, []byte(policy), 0o600))

	a, err := NewOPAAuthorizerFromFile(ctx, path)
	require.NoError(t, err)

	allowed, err := a.AuthorizeJoin(ctx, domain.Identity{UserID: "u", Role: domain.RoleAgent, TenantID: "org-1"}, domain.TicketTopic("1"))
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = a.AuthorizeJoin(ctx, domain.Identity{UserID: "u", Role: domain.RoleAgent, TenantID: "org-2"}, domain.TicketTopic("1"))
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestOPAAuthorizer_InvalidPolicy(t *testing.T) {
	_, err := NewOPAAuthorizer(context.Background(), "package notify.topics\n\nallow if {")
	assert.Error(t, err)

	_, err = NewOPAAuthorizerFromFile(context.Background(), filepath.Join(t.TempDir(), "missing.rego"))
	assert.Error(t, err)
}

func TestAllowAll(t *testing.T) {
	allowed, err := AllowAll{}.AuthorizeJoin(context.Background(), domain.Identity{}, domain.TicketTopic("1"))
	require.NoError(t, err)
	assert.True(t, allowed)
}
