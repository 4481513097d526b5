// Command fanoutctl is the operator tool for a running notify gateway: it
// reads stats, publishes test events, forces disconnects and mints
// development tokens and service key hashes.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

type command struct {
	name    string
	summary string
	run     func(args []string) error
}

var commands = []command{
	{"stats", "show the node snapshot and cluster view", runStats},
	{"topics", "list live topics and their member counts", runTopics},
	{"connections", "list the open connections of a user", runConnections},
	{"notify", "publish an event to a user, topic, role or everyone", runNotify},
	{"disconnect", "close every connection of a user on every node", runDisconnect},
	{"token", "mint a connection token for local testing", runToken},
	{"hash-key", "print the bcrypt hash of a publisher service key", runHashKey},
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	name := os.Args[1]
	for _, cmd := range commands {
		if cmd.name == name {
			if err := cmd.run(os.Args[2:]); err != nil {
				if err != pflag.ErrHelp {
					fmt.Fprintf(os.Stderr, "fanoutctl %s: %v\n", name, err)
				}
				os.Exit(1)
			}
			return
		}
	}

	fmt.Fprintf(os.Stderr, "fanoutctl: unknown command %q\n\n", name)
	usage()
	os.Exit(2)
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: fanoutctl <command> [flags]")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Commands:")
	for _, cmd := range commands {
		fmt.Fprintf(os.Stderr, "  %-12s %s\n", cmd.name, cmd.summary)
	}
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "The gateway is addressed by --url or NOTIFY_GATEWAY_URL and the")
	fmt.Fprintln(os.Stderr, "publisher key is read from --key or NOTIFY_SERVICE_KEY.")
}

// gatewayFlags registers the flags shared by every command that calls the
// internal API.
func gatewayFlags(fs *pflag.FlagSet) *client {
	c := &client{}
	fs.StringVar(&c.baseURL, "url", envOr("NOTIFY_GATEWAY_URL", "http://localhost:8080"), "gateway base URL")
	fs.StringVar(&c.serviceKey, "key", os.Getenv("NOTIFY_SERVICE_KEY"), "publisher service key")
	fs.DurationVar(&c.timeout, "timeout", defaultTimeout, "request timeout")
	return c
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
