// Command dbctl is an operator tool for inspecting and patching control
// plane state directly against the SQLite store, for use when the HTTP
// API is unreachable or a one-off fix is needed. Flag-driven action
// dispatch with a -json output toggle, against the control plane schema.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/abtestlab/controlplane/internal/domain"
	"github.com/abtestlab/controlplane/internal/repo/sqlite"
)

func main() {
	dbPath := flag.String("db", "controlplane.db", "Path to SQLite database")
	action := flag.String("action", "", "Action to perform: get-run, list-flags, set-flag, pause-run")
	tenantID := flag.String("tenant", "", "Tenant ID")
	runID := flag.String("run", "", "Run ID")
	key := flag.String("key", "", "Flag key")
	value := flag.String("value", "", "Flag value")
	jsonOutput := flag.Bool("json", false, "Output as JSON")
	flag.Parse()

	if *action == "" || *tenantID == "" {
		fmt.Fprintf(os.Stderr, "Usage: dbctl -db <path> -action <action> -tenant <id> [flags]\n")
		fmt.Fprintf(os.Stderr, "Actions: get-run -run <id>, list-flags, set-flag -key <k> -value <v>, pause-run -run <id>\n")
		os.Exit(1)
	}

	store, err := sqlite.Open(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()
	repos := sqlite.NewRepos(store)
	ctx := context.Background()

	switch *action {
	case "get-run":
		run, err := repos.Runs.Get(ctx, *tenantID, *runID)
		fatalOn(err, "get run")
		if run == nil {
			fmt.Fprintf(os.Stderr, "run not found: %s\n", *runID)
			os.Exit(1)
		}
		printResult(run, *jsonOutput, func() {
			fmt.Printf("%s\t%s\t%s\n", run.ID, run.Name, run.Status)
		})

	case "list-flags":
		flagRows, err := repos.TenantFlags.ListByTenant(ctx, *tenantID)
		fatalOn(err, "list flags")
		printResult(flagRows, *jsonOutput, func() {
			for _, f := range flagRows {
				fmt.Printf("%s=%s\n", f.Key, f.Value)
			}
		})

	case "set-flag":
		if *key == "" {
			fmt.Fprintln(os.Stderr, "set-flag requires -key")
			os.Exit(1)
		}
		err := repos.TenantFlags.Set(ctx, &domain.TenantFlag{
			TenantID: *tenantID, Key: *key, Value: *value, UpdatedAt: time.Now().UTC(),
		})
		fatalOn(err, "set flag")
		if !*jsonOutput {
			fmt.Printf("flag %s set for tenant %s\n", *key, *tenantID)
		} else {
			json.NewEncoder(os.Stdout).Encode(map[string]any{"success": true, "key": *key, "value": *value})
		}

	case "pause-run":
		run, err := repos.Runs.Get(ctx, *tenantID, *runID)
		fatalOn(err, "get run")
		if run == nil {
			fmt.Fprintf(os.Stderr, "run not found: %s\n", *runID)
			os.Exit(1)
		}
		err = repos.Runs.CompareAndSwapStatus(ctx, *tenantID, *runID, run.Status, domain.RunPaused)
		fatalOn(err, "pause run")
		if !*jsonOutput {
			fmt.Printf("run %s paused\n", *runID)
		} else {
			json.NewEncoder(os.Stdout).Encode(map[string]any{"success": true, "run_id": *runID, "status": "paused"})
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown action: %s\n", *action)
		os.Exit(1)
	}
}

func fatalOn(err error, what string) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
		os.Exit(1)
	}
}

func printResult(v any, asJSON bool, plain func()) {
	if asJSON {
		json.NewEncoder(os.Stdout).Encode(v)
		return
	}
	plain()
}
