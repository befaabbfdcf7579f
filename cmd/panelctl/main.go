// Command panelctl runs provisioning operations against configured panels
// from the shell. It reads the same environment as the provisioner.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/goccy/go-json"

	environment "kurut-provisioner/internal/env"
)

type command struct {
	usage string
	run   func(ctx context.Context, env *environment.Env, args []string) (any, error)
}

var commands = map[string]command{
	"servers":        {usage: "list active panel servers", run: listServers},
	"plans":          {usage: "list active plans", run: listPlans},
	"inbounds":       {usage: "-server ID: list remote inbounds", run: listInbounds},
	"create-inbound": {usage: "-server ID -plan ID -port N [-remark R]", run: createInbound},
	"add":            {usage: "-server ID (-inbound ID | -port N) -plan ID [-count N] [-label L]", run: addClients},
	"delete":         {usage: "-server ID (-inbound ID | -port N) -cred C [-purge]", run: deleteClient},
	"toggle":         {usage: "-server ID (-inbound ID | -port N) -cred C", run: toggleClient},
	"renew-uuid":     {usage: "-server ID (-inbound ID | -port N) -cred C", run: renewUUID},
	"traffic":        {usage: "-server ID (-inbound ID | -port N) -cred C -gib G [-mode extend|renew]", run: extendTraffic},
	"expiry":         {usage: "-server ID (-inbound ID | -port N) -cred C -days D [-mode extend|renew]", run: editExpiry},
	"link":           {usage: "-server ID (-inbound ID | -port N) -cred C [-bypass]", run: clientLink},
	"sync":           {usage: "[-server ID]: refresh the local mirror (all active servers without -server)", run: syncMirror},
	"mirror":         {usage: "-server ID: list mirrored clients", run: listMirror},
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: panelctl <command> [flags]")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-15s %s\n", name, commands[name].usage)
	}
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := environment.Setup(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup: %v\n", err)
		os.Exit(1)
	}
	defer env.Close()

	out, err := cmd.run(ctx, env, os.Args[2:])
	if out != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		env.Close()
		os.Exit(1)
	}
}

func newFlags(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ContinueOnError)
}
