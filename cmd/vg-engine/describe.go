package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vigraph/vg-server-sub000/generator"
	"github.com/vigraph/vg-server-sub000/modules"
)

// NewDescribeCommand creates the describe command.
func NewDescribeCommand(rootOpts *RootOptions) *cobra.Command {
	var schema bool

	cmd := &cobra.Command{
		Use:   "describe [type]...",
		Short: "Describe registered element types",
		Long: `Prints the pins, properties and defaults of element types. Without
arguments every registered type is described. With --schema the JSON Schema
of each type's properties is printed instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := modules.NewRegistry()
			if err != nil {
				return err
			}
			gen := generator.New(registry)
			if len(args) == 0 {
				args = registry.Types()
			}
			if schema {
				return printSchemas(cmd.OutOrStdout(), gen, args)
			}
			return printDescriptions(cmd.OutOrStdout(), gen, args, rootOpts.Output)
		},
	}
	cmd.Flags().BoolVar(&schema, "schema", false, "print property JSON Schemas")
	return cmd
}

func printSchemas(w io.Writer, gen *generator.Generator, types []string) error {
	schemas := make(map[string]any, len(types))
	for _, typ := range types {
		s, err := gen.JSONSchema(typ)
		if err != nil {
			return err
		}
		schemas[typ] = s
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(schemas)
}

func printDescriptions(w io.Writer, gen *generator.Generator, types []string, output string) error {
	descs := make([]generator.Description, 0, len(types))
	for _, typ := range types {
		d, err := gen.Describe(typ)
		if err != nil {
			return err
		}
		descs = append(descs, d)
	}

	if output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(descs)
	}

	for i, d := range descs {
		if i > 0 {
			_, _ = fmt.Fprintln(w)
		}
		_, _ = fmt.Fprintf(w, "%s (%s)", d.Type, d.Category)
		if d.Description != "" {
			_, _ = fmt.Fprintf(w, ": %s", d.Description)
		}
		_, _ = fmt.Fprintln(w)
		for _, p := range d.Inputs {
			_, _ = fmt.Fprintf(w, "  in   %-10s %s\n", p.Name, p.Type)
		}
		for _, p := range d.Outputs {
			_, _ = fmt.Fprintf(w, "  out  %-10s %s\n", p.Name, p.Type)
		}
		names := make([]string, 0, len(d.Properties))
		for name := range d.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			p := d.Properties[name]
			var notes []string
			if p.Required {
				notes = append(notes, "required")
			}
			if p.Default != nil {
				notes = append(notes, fmt.Sprintf("default %v", p.Default))
			}
			_, _ = fmt.Fprintf(w, "  prop %-10s %s %s\n", name, p.Type, strings.Join(notes, ", "))
		}
	}
	return nil
}
