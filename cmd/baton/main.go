package main

import (
	"fmt"
	"os"
)

const usage = `baton - workflow orchestration engine

Usage:
  baton <command> [flags]

Commands:
  run       Execute a workflow file
  validate  Validate a workflow file without running it
  graph     Render a workflow's routing graph as Mermaid
  agents    List resolvable agents
  history   Inspect recorded runs
  schedule  Fire workflows from a cron schedules file
  serve     Expose the engine as MCP tools over stdio
  version   Print the version
  update    Update baton to the latest release

Run "baton <command> -h" for command flags.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "run":
		runRun(args)
	case "validate":
		runValidate(args)
	case "graph":
		runGraph(args)
	case "agents":
		runAgents(args)
	case "history":
		runHistory(args)
	case "schedule":
		runSchedule(args)
	case "serve":
		runServe(args)
	case "update":
		runUpdate(args)
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n%s", cmd, usage)
		os.Exit(1)
	}
}
