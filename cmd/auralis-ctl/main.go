// ABOUTME: Remote control CLI for the Auralis daemon
// ABOUTME: Lists, watches, connects and disconnects endpoints over the WebSocket bridge
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/Resonate-Protocol/auralis/internal/client"
	"github.com/Resonate-Protocol/auralis/internal/discovery"
	"github.com/Resonate-Protocol/auralis/internal/graph"
	"github.com/Resonate-Protocol/auralis/internal/protocol"
	"github.com/Resonate-Protocol/auralis/internal/version"
	"github.com/google/uuid"
)

var (
	serverAddr = flag.String("server", "", "Daemon address host:port (skip mDNS)")
	name       = flag.String("name", "auralis-ctl", "Client name shown by the daemon")
	timeout    = flag.Duration("timeout", 10*time.Second, "How long to wait for discovery and replies")
	verbose    = flag.Bool("v", false, "Log connection details to stderr")
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: auralis-ctl [flags] <command>

Commands:
  list                      Print the visible endpoints
  watch                     Print endpoint events as they happen
  connect <a> <b>           Connect two endpoints (merge outputs or link a stream)
  disconnect <cluster>      Split a cluster back into its devices
  shutdown                  Tear down every cluster and stop the daemon

Endpoints are given by ID or by name.

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	if *verbose {
		log.SetOutput(os.Stderr)
	} else {
		log.SetOutput(io.Discard)
	}

	addr, path, err := findDaemon()
	if err != nil {
		fatalf("%v", err)
	}

	c := client.NewClient(client.Config{
		ServerAddr: addr,
		Path:       path,
		Name:       *name,
		DeviceInfo: protocol.DeviceInfo{
			ProductName:     version.Product + " CLI",
			Manufacturer:    version.Manufacturer,
			SoftwareVersion: version.Version,
		},
	})
	if err := c.Connect(); err != nil {
		fatalf("failed to connect to %s: %v", addr, err)
	}
	defer c.Close()

	orbs, err := waitForMirror(c)
	if err != nil {
		fatalf("%v", err)
	}

	switch args[0] {
	case "list":
		printOrbs(os.Stdout, orbs)

	case "watch":
		watch(c, orbs)

	case "connect":
		if len(args) != 3 {
			fatalf("connect needs two endpoints")
		}
		a, err := resolve(orbs, args[1])
		if err != nil {
			fatalf("%v", err)
		}
		b, err := resolve(orbs, args[2])
		if err != nil {
			fatalf("%v", err)
		}
		if err := c.RequestConnect(a, b); err != nil {
			fatalf("request failed: %v", err)
		}
		awaitRejection(c)

	case "disconnect":
		if len(args) != 2 {
			fatalf("disconnect needs one endpoint")
		}
		id, err := resolve(orbs, args[1])
		if err != nil {
			fatalf("%v", err)
		}
		if err := c.RequestDisconnect(id); err != nil {
			fatalf("request failed: %v", err)
		}
		awaitRejection(c)

	case "shutdown":
		if err := c.RequestShutdown(); err != nil {
			fatalf("request failed: %v", err)
		}
		awaitRejection(c)

	default:
		usage()
		os.Exit(2)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "auralis-ctl: "+format+"\n", args...)
	os.Exit(1)
}

// findDaemon returns the -server address or the first daemon found via mDNS
func findDaemon() (string, string, error) {
	if *serverAddr != "" {
		return *serverAddr, discovery.DefaultPath, nil
	}

	disc := discovery.NewManager(discovery.Config{ServiceName: *name})
	defer disc.Stop()
	if err := disc.Browse(); err != nil {
		return "", "", fmt.Errorf("failed to browse for daemons: %w", err)
	}

	select {
	case server := <-disc.Servers():
		return server.Addr(), server.Path, nil
	case <-time.After(*timeout):
		return "", "", fmt.Errorf("no daemon found after %s (use -server)", *timeout)
	}
}

// waitForMirror collects the replayed endpoints
func waitForMirror(c *client.Client) ([]graph.Orb, error) {
	var orbs []graph.Orb
	deadline := time.After(*timeout)

	for {
		select {
		case ev, ok := <-c.Events:
			if !ok {
				return nil, fmt.Errorf("connection closed during replay")
			}
			orbs = applyEvent(orbs, ev)
		case <-c.Synced():
			// Replayed events may still be buffered
			for {
				select {
				case ev, ok := <-c.Events:
					if !ok {
						return orbs, nil
					}
					orbs = applyEvent(orbs, ev)
				default:
					return orbs, nil
				}
			}
		case <-deadline:
			return nil, fmt.Errorf("timed out waiting for the endpoint list")
		}
	}
}

func applyEvent(orbs []graph.Orb, ev graph.Event) []graph.Orb {
	switch ev.Type {
	case graph.EventAdd:
		for i, orb := range orbs {
			if orb.ID == ev.Orb.ID {
				orbs[i] = ev.Orb
				return orbs
			}
		}
		return append(orbs, ev.Orb)
	case graph.EventRemove:
		for i, orb := range orbs {
			if orb.ID == ev.ID {
				return append(orbs[:i], orbs[i+1:]...)
			}
		}
	}
	return orbs
}

// resolve accepts an endpoint ID, an unambiguous ID prefix or a name
func resolve(orbs []graph.Orb, arg string) (uuid.UUID, error) {
	if id, err := uuid.Parse(arg); err == nil {
		return id, nil
	}

	var matches []graph.Orb
	for _, orb := range orbs {
		if strings.EqualFold(orb.Name, arg) || strings.HasPrefix(orb.ID.String(), strings.ToLower(arg)) {
			matches = append(matches, orb)
		}
	}

	switch len(matches) {
	case 0:
		return uuid.Nil, fmt.Errorf("no endpoint matches %q", arg)
	case 1:
		return matches[0].ID, nil
	default:
		return uuid.Nil, fmt.Errorf("%q is ambiguous (%d endpoints match)", arg, len(matches))
	}
}

func printOrbs(w io.Writer, orbs []graph.Orb) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tROLE\tMEMBERS")
	for _, orb := range orbs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", orb.ID, orb.Name, orb.Kind.Role, strings.Join(orb.Kind.Members, ", "))
	}
	tw.Flush()
}

func watch(c *client.Client, orbs []graph.Orb) {
	for _, orb := range orbs {
		fmt.Println(graph.AddEvent(orb))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case ev, ok := <-c.Events:
			if !ok {
				fmt.Println("Connection closed")
				return
			}
			fmt.Println(ev)
		case se := <-c.Errors:
			fmt.Printf("Error: %s: %s\n", se.Error, se.Message)
		case <-sigChan:
			return
		}
	}
}

// awaitRejection reports a server/error that arrives shortly after a request.
// Accepted requests get no reply; their effects show up as events.
func awaitRejection(c *client.Client) {
	select {
	case se := <-c.Errors:
		fatalf("rejected: %s: %s", se.Error, se.Message)
	case <-time.After(500 * time.Millisecond):
		fmt.Println("Requested")
	}
}
