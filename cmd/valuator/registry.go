package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/subcommands"

	"github.com/portfolio-valuator/internal/app"
	"github.com/portfolio-valuator/internal/registry"
)

// registryCmd holds the flags for the 'registry' subcommand.
type registryCmd struct {
	asJSON bool
}

func (*registryCmd) Name() string     { return "registry" }
func (*registryCmd) Synopsis() string { return "list or maintain recognized protocols" }
func (*registryCmd) Usage() string {
	return `valuator registry [-json] list
valuator registry import <file.yaml>
valuator registry delete <key>

  list prints the effective registry, including protocols stored in
  Postgres when REGISTRY_FROM_DATABASE is set. import stores every protocol
  of a registry file in Postgres; delete removes a stored protocol.
`
}

func (c *registryCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.asJSON, "json", false, "print protocols as JSON")
}

func (c *registryCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "registry requires an action: list, import or delete")
		return subcommands.ExitUsageError
	}

	switch action := f.Arg(0); action {
	case "list":
		return c.list(ctx)
	case "import", "delete":
		if f.NArg() != 2 {
			fmt.Fprintf(os.Stderr, "registry %s requires one argument\n", action)
			return subcommands.ExitUsageError
		}
		if action == "import" {
			return c.importFile(ctx, f.Arg(1))
		}
		return c.delete(ctx, f.Arg(1))
	default:
		fmt.Fprintf(os.Stderr, "unknown action %q\n", action)
		return subcommands.ExitUsageError
	}
}

func (c *registryCmd) list(ctx context.Context) subcommands.ExitStatus {
	a, err := setup(ctx, app.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	protocols := a.Registry.Protocols()
	if c.asJSON {
		err = printJSON(map[string]interface{}{"version": a.Registry.Version(), "protocols": protocols})
	} else {
		err = writeProtocols(protocols, a.Registry.Version())
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func writeProtocols(protocols []registry.Protocol, version string) error {
	fmt.Printf("registry %s, %d protocols\n\n", version, len(protocols))
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tTYPE\tLABEL\tADDRESSES")
	for _, p := range protocols {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Key, p.Type, p.Label, strings.Join(p.Addresses, ","))
	}
	return tw.Flush()
}

func (c *registryCmd) importFile(ctx context.Context, path string) subcommands.ExitStatus {
	file, err := registry.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", path, err)
		return subcommands.ExitFailure
	}

	a, err := setup(ctx, app.Options{RegistryDB: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	for _, p := range file.Protocols() {
		id, err := a.Protocols.UpsertProtocol(ctx, p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error storing %s: %v\n", p.Key, err)
			return subcommands.ExitFailure
		}
		fmt.Printf("stored %s (%s)\n", p.Key, id)
	}
	return subcommands.ExitSuccess
}

func (c *registryCmd) delete(ctx context.Context, key string) subcommands.ExitStatus {
	a, err := setup(ctx, app.Options{RegistryDB: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	deleted, err := a.Protocols.DeleteProtocol(ctx, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error deleting %s: %v\n", key, err)
		return subcommands.ExitFailure
	}
	if !deleted {
		fmt.Fprintf(os.Stderr, "protocol %s is not stored\n", key)
		return subcommands.ExitFailure
	}
	fmt.Printf("deleted %s\n", key)
	return subcommands.ExitSuccess
}
