package domain

import (
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/lorrc/notify-gateway/internal/core/errors"
)

// Topic is a named multicast address. Topics with no members are never
// stored; looking one up simply yields nobody.
type Topic string

// Family is the prefix part of a topic name.
type Family string

const (
	FamilyUser   Family = "user"
	FamilyRole   Family = "role"
	FamilyTicket Family = "ticket"
	FamilyJobs   Family = "jobs"
)

const topicSeparator = ":"

// UserTopic addresses every connection of one user.
func UserTopic(userID string) Topic {
	return Topic(string(FamilyUser) + topicSeparator + userID)
}

// RoleTopic addresses every connection authenticated with role.
func RoleTopic(role Role) Topic {
	return Topic(string(FamilyRole) + topicSeparator + string(role))
}

// TicketTopic addresses the connections following one ticket.
func TicketTopic(ticketID string) Topic {
	return Topic(string(FamilyTicket) + topicSeparator + ticketID)
}

// JobsTopic addresses contractors watching job offers matching filter.
func JobsTopic(filter JobFilter) Topic {
	return Topic(string(FamilyJobs) + topicSeparator + filter.Key())
}

func (t Topic) String() string { return string(t) }

// Family returns the prefix of t, or "" when t carries none.
func (t Topic) Family() Family {
	family, _, ok := strings.Cut(string(t), topicSeparator)
	if !ok {
		return ""
	}
	return Family(family)
}

// Key returns the part after the family prefix.
func (t Topic) Key() string {
	_, key, _ := strings.Cut(string(t), topicSeparator)
	return key
}

// ParseTopic checks the family prefix convention. Beyond a known family and
// a non-empty key, topic names are opaque, except that a jobs key written
// as k=v pairs is put in canonical order.
func ParseTopic(s string) (Topic, error) {
	family, key, ok := strings.Cut(s, topicSeparator)
	if !ok || key == "" {
		return "", fmt.Errorf("%w: %q", apperrors.ErrInvalidTopic, s)
	}
	switch Family(family) {
	case FamilyUser, FamilyRole, FamilyTicket:
		return Topic(s), nil
	case FamilyJobs:
		return Topic(string(FamilyJobs) + topicSeparator + canonicalJobsKey(key)), nil
	}
	return "", fmt.Errorf("%w: %q", apperrors.ErrUnknownFamily, family)
}

// JobFilter holds the parameters a contractor subscribes to job offers with,
// e.g. trade=plumbing, region=north.
type JobFilter map[string]string

// Key renders the canonical, order-independent form of the filter.
func (f JobFilter) Key() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+f[k])
	}
	return strings.Join(parts, ",")
}

// Validate rejects filters that cannot be rendered unambiguously.
func (f JobFilter) Validate() error {
	if len(f) == 0 {
		return fmt.Errorf("%w: empty filter", apperrors.ErrInvalidJobFilter)
	}
	for k, v := range f {
		if k == "" || strings.ContainsAny(k, "=,:") || strings.ContainsAny(v, "=,") {
			return fmt.Errorf("%w: %q=%q", apperrors.ErrInvalidJobFilter, k, v)
		}
	}
	return nil
}

// ParseJobFilter reverses JobFilter.Key. A key that is not in k=v form is
// treated as a single opaque filter value under "key".
func ParseJobFilter(key string) JobFilter {
	f := make(JobFilter)
	if key == "" {
		return f
	}
	for _, part := range strings.Split(key, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return JobFilter{"key": key}
		}
		f[k] = v
	}
	return f
}

// canonicalJobsKey sorts a k=v jobs key. Opaque keys are returned as is.
func canonicalJobsKey(key string) string {
	for _, part := range strings.Split(key, ",") {
		if !strings.Contains(part, "=") {
			return key
		}
	}
	return ParseJobFilter(key).Key()
}

// ResolveSubscription turns what a client asked for into the concrete topic
// it will be joined to. A bare "jobs" family (or "jobs:") with a filter is
// resolved to the canonical jobs topic; a direct jobs:<key> has its filter
// parameters recovered so they can be echoed back. A direct jobs:<key>
// sent together with a filter must name the same parameters.
func ResolveSubscription(raw string, filter JobFilter) (Topic, JobFilter, error) {
	if raw == string(FamilyJobs) || raw == string(FamilyJobs)+topicSeparator {
		if err := filter.Validate(); err != nil {
			return "", nil, err
		}
		return JobsTopic(filter), filter, nil
	}

	topic, err := ParseTopic(raw)
	if err != nil {
		return "", nil, err
	}
	if topic.Family() != FamilyJobs {
		return topic, nil, nil
	}

	if len(filter) > 0 {
		if err := filter.Validate(); err != nil {
			return "", nil, err
		}
		if filter.Key() != topic.Key() {
			return "", nil, fmt.Errorf("%w: topic %q does not match filter %q",
				apperrors.ErrInvalidJobFilter, topic, filter.Key())
		}
		return topic, filter, nil
	}
	return topic, ParseJobFilter(topic.Key()), nil
}
