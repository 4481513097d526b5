package policy

import (
	"context"

	"github.com/lorrc/notify-gateway/internal/core/domain"
	"github.com/lorrc/notify-gateway/internal/core/ports"
)

// AllowAll grants every join. Topic families are still validated by the
// hub before the authorizer is consulted.
type AllowAll struct{}

var _ ports.TopicAuthorizer = AllowAll{}

func (AllowAll) AuthorizeJoin(context.Context, domain.Identity, domain.Topic) (bool, error) {
	return true, nil
}

func (AllowAll) HealthCheck(context.Context) error { return nil }
