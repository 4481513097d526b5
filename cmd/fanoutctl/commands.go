package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/pflag"

	"github.com/lorrc/notify-gateway/internal/auth"
	"github.com/lorrc/notify-gateway/internal/core/domain"
)

func runStats(args []string) error {
	fs := pflag.NewFlagSet("stats", pflag.ContinueOnError)
	c := gatewayFlags(fs)
	asJSON := fs.Bool("json", false, "print the raw snapshot")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var snap domain.Snapshot
	if err := c.do(http.MethodGet, "/stats", nil, &snap); err != nil {
		return err
	}
	if *asJSON {
		return printJSON(snap)
	}

	fmt.Printf("node %s (version %s, up %s)\n\n", snap.NodeID, snap.Version, snap.Uptime)

	summary := newTable([]string{"Metric", "Value"})
	summary.AppendBulk([][]string{
		{"connections", strconv.Itoa(snap.Hub.Connections)},
		{"unique users", strconv.Itoa(snap.Hub.UniqueUsers)},
		{"topics", strconv.Itoa(len(snap.Hub.Topics))},
		{"delivered", formatUint(snap.Hub.Delivered)},
		{"dropped", formatUint(snap.Hub.Dropped)},
		{"reaped", formatUint(snap.Hub.Reaped)},
		{"rejected joins", formatUint(snap.Hub.RejectedJoins)},
		{"broker", brokerState(snap.Broker)},
		{"published", formatUint(snap.Broker.Published)},
		{"publish failures", formatUint(snap.Broker.PublishFailures)},
		{"received", formatUint(snap.Broker.Received)},
	})
	if snap.Process != nil {
		summary.AppendBulk([][]string{
			{"rss", formatBytes(snap.Process.RSSBytes)},
			{"cpu", fmt.Sprintf("%.1f%%", snap.Process.CPUPercent)},
			{"goroutines", strconv.Itoa(snap.Process.Goroutines)},
		})
	}
	summary.Render()

	if len(snap.Cluster) == 0 {
		return nil
	}

	fmt.Println()
	nodes := newTable([]string{"Node", "Host", "Broker", "Version", "Conns", "Users", "Topics", "Last Seen"})
	for _, n := range snap.Cluster {
		nodes.Append([]string{
			n.NodeID,
			n.Hostname,
			n.Broker,
			n.Version,
			strconv.Itoa(n.Connections),
			strconv.Itoa(n.UniqueUsers),
			strconv.Itoa(n.Topics),
			time.Since(n.LastSeenAt).Round(time.Second).String() + " ago",
		})
	}
	nodes.Render()
	return nil
}

func runTopics(args []string) error {
	fs := pflag.NewFlagSet("topics", pflag.ContinueOnError)
	c := gatewayFlags(fs)
	prefix := fs.String("prefix", "", "only show topics starting with this prefix")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var resp struct {
		Data []domain.TopicStats `json:"data"`
	}
	if err := c.do(http.MethodGet, "/stats/topics", nil, &resp); err != nil {
		return err
	}

	table := newTable([]string{"Topic", "Members"})
	for _, ts := range resp.Data {
		if *prefix != "" && !strings.HasPrefix(string(ts.Topic), *prefix) {
			continue
		}
		table.Append([]string{string(ts.Topic), strconv.Itoa(ts.Members)})
	}
	table.Render()
	return nil
}

func runConnections(args []string) error {
	fs := pflag.NewFlagSet("connections", pflag.ContinueOnError)
	c := gatewayFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: fanoutctl connections <user-id>")
	}

	var resp struct {
		Data []domain.ConnectionInfo `json:"data"`
	}
	err := c.do(http.MethodGet, "/connections/"+url.PathEscape(fs.Arg(0)), nil, &resp)
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		fmt.Printf("%s has no connections on this node\n", fs.Arg(0))
		return nil
	}
	if err != nil {
		return err
	}

	table := newTable([]string{"Connection", "Role", "Remote", "Connected", "Idle", "Topics"})
	for _, conn := range resp.Data {
		topics := make([]string, len(conn.Topics))
		for i, t := range conn.Topics {
			topics[i] = string(t)
		}
		table.Append([]string{
			conn.ID,
			string(conn.Role),
			conn.RemoteAddr,
			conn.ConnectedAt.Local().Format(time.DateTime),
			time.Since(conn.LastActivity).Round(time.Second).String(),
			strings.Join(topics, " "),
		})
	}
	table.Render()
	return nil
}

func runNotify(args []string) error {
	fs := pflag.NewFlagSet("notify", pflag.ContinueOnError)
	c := gatewayFlags(fs)
	user := fs.String("user", "", "deliver to every connection of this user")
	topic := fs.String("topic", "", "deliver to the members of this topic")
	role := fs.String("role", "", "deliver to every connection with this role")
	broadcast := fs.Bool("broadcast", false, "deliver to every connection")
	event := fs.StringP("event", "e", "", "event kind, e.g. ticket:updated")
	data := fs.StringP("data", "d", "", "event payload as JSON")
	origin := fs.String("origin", "fanoutctl", "origin recorded on the event")
	metadata := fs.StringToString("meta", nil, "metadata key=value pairs")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var path string
	targets := 0
	if *user != "" {
		path, targets = "/notify/users/"+url.PathEscape(*user), targets+1
	}
	if *topic != "" {
		path, targets = "/notify/topics/"+url.PathEscape(*topic), targets+1
	}
	if *role != "" {
		path, targets = "/notify/roles/"+url.PathEscape(*role), targets+1
	}
	if *broadcast {
		path, targets = "/notify/broadcast", targets+1
	}
	if targets != 1 {
		return errors.New("exactly one of --user, --topic, --role or --broadcast is required")
	}
	if *event == "" {
		return errors.New("--event is required")
	}

	body := map[string]any{
		"event":  *event,
		"origin": *origin,
	}
	if *data != "" {
		var payload any
		if err := json.Unmarshal([]byte(*data), &payload); err != nil {
			return fmt.Errorf("--data is not valid JSON: %w", err)
		}
		body["data"] = payload
	}
	if len(*metadata) > 0 {
		body["metadata"] = *metadata
	}

	var result domain.DispatchResult
	if err := c.do(http.MethodPost, path, body, &result); err != nil {
		return err
	}
	fmt.Printf("envelope %s: %d local recipients, forwarded=%t\n", result.EnvelopeID, result.LocalRecipients, result.Forwarded)
	return nil
}

func runDisconnect(args []string) error {
	fs := pflag.NewFlagSet("disconnect", pflag.ContinueOnError)
	c := gatewayFlags(fs)
	reason := fs.String("reason", "", "reason sent in the close frame")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: fanoutctl disconnect <user-id> [--reason text]")
	}

	path := "/connections/" + url.PathEscape(fs.Arg(0))
	if *reason != "" {
		path += "?reason=" + url.QueryEscape(*reason)
	}

	var result domain.DispatchResult
	if err := c.do(http.MethodDelete, path, nil, &result); err != nil {
		return err
	}
	fmt.Printf("closed %d local connections, forwarded=%t\n", result.LocalRecipients, result.Forwarded)
	return nil
}

func runToken(args []string) error {
	fs := pflag.NewFlagSet("token", pflag.ContinueOnError)
	secret := fs.String("secret", os.Getenv("JWT_SECRET"), "signing secret")
	issuer := fs.String("issuer", os.Getenv("JWT_ISSUER"), "token issuer")
	user := fs.String("user", "", "user ID (token subject)")
	role := fs.String("role", string(domain.RoleTenant), "role: tenant, agent, contractor or admin")
	tenant := fs.String("tenant", "", "tenant/organization ID")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *secret == "" {
		return errors.New("--secret or JWT_SECRET is required")
	}

	parsed, err := domain.ParseRole(*role)
	if err != nil {
		return err
	}

	var opts []auth.TokenOption
	if *issuer != "" {
		opts = append(opts, auth.WithIssuer(*issuer))
	}
	token, err := auth.NewTokenManager(*secret, *ttl, opts...).GenerateToken(domain.Identity{
		UserID:   *user,
		Role:     parsed,
		TenantID: *tenant,
	})
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func runHashKey(args []string) error {
	fs := pflag.NewFlagSet("hash-key", pflag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: fanoutctl hash-key <service-key>")
	}

	hash, err := auth.HashServiceKey(fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func newTable(header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	return table
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func brokerState(s domain.BrokerStatus) string {
	switch {
	case s.Degraded && s.LastError != "":
		return fmt.Sprintf("%s (degraded: %s)", s.Backend, s.LastError)
	case s.Degraded:
		return s.Backend + " (degraded)"
	case !s.Connected:
		return s.Backend + " (disconnected)"
	default:
		return s.Backend
	}
}

func formatUint(n uint64) string {
	return strconv.FormatUint(n, 10)
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
