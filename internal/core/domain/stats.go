package domain

import "time"

// ConnectionInfo is a read-only snapshot of one open connection.
type ConnectionInfo struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Role         Role      `json:"role"`
	TenantID     string    `json:"tenantId,omitempty"`
	Topics       []Topic   `json:"topics"`
	RemoteAddr   string    `json:"remoteAddr,omitempty"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// TopicStats is the membership count of one live topic.
type TopicStats struct {
	Topic   Topic `json:"topic"`
	Members int   `json:"members"`
}

// HubStats are the counters kept by the local connection hub.
type HubStats struct {
	Connections      int          `json:"connections"`
	UniqueUsers      int          `json:"uniqueUsers"`
	Topics           []TopicStats `json:"topics"`
	Delivered        uint64       `json:"delivered"`
	Dropped          uint64       `json:"dropped"`
	Reaped           uint64       `json:"reaped"`
	RejectedJoins    uint64       `json:"rejectedJoins"`
	ConnectionsTotal uint64       `json:"connectionsTotal"`
}

// BrokerStatus describes the health of the cross-process medium. A
// degraded broker means this node still serves its own connections while
// cross-process delivery silently fails.
type BrokerStatus struct {
	Backend         string     `json:"backend"`
	Connected       bool       `json:"connected"`
	Degraded        bool       `json:"degraded"`
	LastError       string     `json:"lastError,omitempty"`
	LastErrorAt     *time.Time `json:"lastErrorAt,omitempty"`
	Published       uint64     `json:"published"`
	PublishFailures uint64     `json:"publishFailures"`
	Received        uint64     `json:"received"`
}

// ProcessStats are host-level figures for this gateway process.
type ProcessStats struct {
	PID        int32   `json:"pid"`
	RSSBytes   uint64  `json:"rssBytes"`
	CPUPercent float64 `json:"cpuPercent"`
	Goroutines int     `json:"goroutines"`
}

// NodeStatus is one gateway process as seen by the cluster node table.
type NodeStatus struct {
	NodeID      string    `json:"nodeId"`
	Hostname    string    `json:"hostname"`
	Broker      string    `json:"broker"`
	Version     string    `json:"version"`
	StartedAt   time.Time `json:"startedAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
	Connections int       `json:"connections"`
	UniqueUsers int       `json:"uniqueUsers"`
	Topics      int       `json:"topics"`
}

// Snapshot is everything the stats monitor reports.
type Snapshot struct {
	NodeID    string        `json:"nodeId"`
	Version   string        `json:"version"`
	Timestamp time.Time     `json:"timestamp"`
	Uptime    string        `json:"uptime"`
	Hub       HubStats      `json:"hub"`
	Broker    BrokerStatus  `json:"broker"`
	Process   *ProcessStats `json:"process,omitempty"`
	Cluster   []NodeStatus  `json:"cluster,omitempty"`
}
