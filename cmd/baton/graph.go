package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/batonflow/baton/internal/diagram"
	"github.com/batonflow/baton/pkg/schema"
)

func runGraph(args []string) {
	fs := flag.NewFlagSet("graph", flag.ExitOnError)
	file := fs.String("f", "", "workflow file (YAML or JSON)")
	out := fs.String("o", "", "output file (default: stdout)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *file == "" {
		fmt.Fprintln(os.Stderr, "Error: -f workflow file is required")
		os.Exit(1)
	}

	def, err := schema.LoadDefinition(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	rendered := diagram.RenderMermaid(diagram.Build(def))
	if *out == "" {
		fmt.Print(rendered)
		return
	}
	if err := os.WriteFile(*out, []byte(rendered), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot write %s: %v\n", *out, err)
		os.Exit(1)
	}
	fmt.Printf("Diagram written to %s\n", *out)
}
