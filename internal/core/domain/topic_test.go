package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorrc/notify-gateway/internal/core/domain"
	apperrors "github.com/lorrc/notify-gateway/internal/core/errors"
)

func TestParseTopic(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		family  domain.Family
		key     string
		wantErr error
	}{
		{name: "user topic", input: "user:tenant-001", family: domain.FamilyUser, key: "tenant-001"},
		{name: "role topic", input: "role:contractor", family: domain.FamilyRole, key: "contractor"},
		{name: "ticket topic", input: "ticket:456", family: domain.FamilyTicket, key: "456"},
		{name: "jobs topic", input: "jobs:trade=plumbing", family: domain.FamilyJobs, key: "trade=plumbing"},
		{name: "jobs key is sorted", input: "jobs:trade=plumbing,region=north", family: domain.FamilyJobs, key: "region=north,trade=plumbing"},
		{name: "opaque jobs key kept", input: "jobs:urgent,trade=hvac", family: domain.FamilyJobs, key: "urgent,trade=hvac"},
		{name: "key may contain separator", input: "ticket:a:b", family: domain.FamilyTicket, key: "a:b"},
		{name: "missing separator", input: "ticket", wantErr: apperrors.ErrInvalidTopic},
		{name: "empty key", input: "ticket:", wantErr: apperrors.ErrInvalidTopic},
		{name: "unknown family", input: "invoice:9", wantErr: apperrors.ErrUnknownFamily},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topic, err := domain.ParseTopic(tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.family, topic.Family())
			assert.Equal(t, tt.key, topic.Key())
		})
	}
}

func TestIdentityTopics(t *testing.T) {
	id := domain.Identity{UserID: "tenant-001", Role: domain.RoleTenant, TenantID: "org-1"}

	assert.Equal(t,
		[]domain.Topic{"user:tenant-001", "role:tenant"},
		id.Topics(),
	)
}

func TestJobFilter_KeyIsOrderIndependent(t *testing.T) {
	a := domain.JobFilter{"trade": "plumbing", "region": "north"}
	b := domain.JobFilter{"region": "north", "trade": "plumbing"}

	assert.Equal(t, "region=north,trade=plumbing", a.Key())
	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, domain.Topic("jobs:region=north,trade=plumbing"), domain.JobsTopic(a))
	assert.Equal(t, a, domain.ParseJobFilter(a.Key()))
}

func TestJobFilter_Validate(t *testing.T) {
	assert.ErrorIs(t, domain.JobFilter{}.Validate(), apperrors.ErrInvalidJobFilter)
	assert.ErrorIs(t, domain.JobFilter{"a=b": "c"}.Validate(), apperrors.ErrInvalidJobFilter)
	assert.ErrorIs(t, domain.JobFilter{"trade": "x,y"}.Validate(), apperrors.ErrInvalidJobFilter)
	assert.NoError(t, domain.JobFilter{"trade": "plumbing"}.Validate())
}

func TestResolveSubscription(t *testing.T) {
	t.Run("bare jobs family with filter", func(t *testing.T) {
		topic, filter, err := domain.ResolveSubscription("jobs", domain.JobFilter{"trade": "roofing"})
		require.NoError(t, err)
		assert.Equal(t, domain.Topic("jobs:trade=roofing"), topic)
		assert.Equal(t, domain.JobFilter{"trade": "roofing"}, filter)
	})

	t.Run("bare jobs family without filter", func(t *testing.T) {
		_, _, err := domain.ResolveSubscription("jobs", nil)
		assert.ErrorIs(t, err, apperrors.ErrInvalidJobFilter)
	})

	t.Run("direct jobs key echoes parsed filter", func(t *testing.T) {
		topic, filter, err := domain.ResolveSubscription("jobs:region=south,trade=hvac", nil)
		require.NoError(t, err)
		assert.Equal(t, domain.Topic("jobs:region=south,trade=hvac"), topic)
		assert.Equal(t, domain.JobFilter{"region": "south", "trade": "hvac"}, filter)
	})

	t.Run("unsorted direct jobs key joins the canonical topic", func(t *testing.T) {
		direct, _, err := domain.ResolveSubscription("jobs:trade=plumbing,region=north", nil)
		require.NoError(t, err)
		viaFilter, _, err := domain.ResolveSubscription("jobs", domain.JobFilter{"region": "north", "trade": "plumbing"})
		require.NoError(t, err)
		assert.Equal(t, viaFilter, direct)
	})

	t.Run("direct jobs key with matching filter", func(t *testing.T) {
		topic, filter, err := domain.ResolveSubscription("jobs:trade=hvac", domain.JobFilter{"trade": "hvac"})
		require.NoError(t, err)
		assert.Equal(t, domain.Topic("jobs:trade=hvac"), topic)
		assert.Equal(t, domain.JobFilter{"trade": "hvac"}, filter)
	})

	t.Run("direct jobs key with conflicting filter", func(t *testing.T) {
		_, _, err := domain.ResolveSubscription("jobs:trade=hvac", domain.JobFilter{"trade": "roofing"})
		assert.ErrorIs(t, err, apperrors.ErrInvalidJobFilter)
	})

	t.Run("opaque jobs key", func(t *testing.T) {
		_, filter, err := domain.ResolveSubscription("jobs:urgent", nil)
		require.NoError(t, err)
		assert.Equal(t, domain.JobFilter{"key": "urgent"}, filter)
	})

	t.Run("ticket topic has no filter", func(t *testing.T) {
		topic, filter, err := domain.ResolveSubscription("ticket:456", nil)
		require.NoError(t, err)
		assert.Equal(t, domain.TicketTopic("456"), topic)
		assert.Nil(t, filter)
	})
}
