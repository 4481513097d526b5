// Package policy decides which topics a connection may join.
package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/lorrc/notify-gateway/internal/core/domain"
	"github.com/lorrc/notify-gateway/internal/core/ports"
)

const topicQuery = "data.notify.topics.allow"

// DefaultTopicPolicy lets a connection follow any ticket, contractors
// watch job offers, and admins join anything. Identity topics are always
// allowed.
const DefaultTopicPolicy = `package notify.topics

default allow := false

allow if input.identity.role == "admin"

allow if input.topic == concat(":", ["user", input.identity.user_id])

allow if input.topic == concat(":", ["role", input.identity.role])

allow if input.family == "ticket"

allow if {
	input.family == "jobs"
	input.identity.role == "contractor"
}
`

// OPAAuthorizer evaluates topic joins against a Rego policy. Custom
// policies must define data.notify.topics.allow.
type OPAAuthorizer struct {
	query rego.PreparedEvalQuery
}

var _ ports.TopicAuthorizer = (*OPAAuthorizer)(nil)

// NewOPAAuthorizer compiles source. An empty source uses DefaultTopicPolicy.
func NewOPAAuthorizer(ctx context.Context, source string) (*OPAAuthorizer, error) {
	if source == "" {
		source = DefaultTopicPolicy
	}
	query, err := rego.New(
		rego.Query(topicQuery),
		rego.Module("topics.rego", source),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile topic policy: %w", err)
	}
	return &OPAAuthorizer{query: query}, nil
}

// NewOPAAuthorizerFromFile loads the policy at path, or the default policy
// when path is empty.
func NewOPAAuthorizerFromFile(ctx context.Context, path string) (*OPAAuthorizer, error) {
	if path == "" {
		return NewOPAAuthorizer(ctx, "")
	}
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topic policy: %w", err)
	}
	return NewOPAAuthorizer(ctx, string(source))
}

func (a *OPAAuthorizer) AuthorizeJoin(ctx context.Context, identity domain.Identity, topic domain.Topic) (bool, error) {
	rs, err := a.query.Eval(ctx, rego.EvalInput(buildInput(identity, topic)))
	if err != nil {
		return false, fmt.Errorf("evaluate topic policy: %w", err)
	}
	return rs.Allowed(), nil
}

// HealthCheck evaluates the prepared policy against a minimal input.
func (a *OPAAuthorizer) HealthCheck(ctx context.Context) error {
	probe := domain.Identity{UserID: "health", Role: domain.RoleTenant}
	rs, err := a.query.Eval(ctx, rego.EvalInput(buildInput(probe, domain.UserTopic(probe.UserID))))
	if err != nil {
		return fmt.Errorf("eval topic policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return fmt.Errorf("topic policy query returned no result")
	}
	return nil
}

func buildInput(identity domain.Identity, topic domain.Topic) map[string]interface{} {
	return map[string]interface{}{
		"identity": map[string]interface{}{
			"user_id":   identity.UserID,
			"role":      string(identity.Role),
			"tenant_id": identity.TenantID,
		},
		"topic":  string(topic),
		"family": string(topic.Family()),
		"key":    topic.Key(),
	}
}
