package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vigraph/vg-server-sub000/description"
	"github.com/vigraph/vg-server-sub000/element"
	"github.com/vigraph/vg-server-sub000/engine"
	"github.com/vigraph/vg-server-sub000/errors"
	"github.com/vigraph/vg-server-sub000/modules"
)

// ValidationResult is the outcome of validating one description file.
type ValidationResult struct {
	Path     string   `json:"path"`
	Valid    bool     `json:"valid"`
	Error    string   `json:"error,omitempty"`
	Kind     string   `json:"kind,omitempty"`
	Elements int      `json:"elements"`
	Channels []string `json:"channels,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <graph-file>...",
		Short: "Check graph descriptions without running them",
		Long: `Loads each graph description, checks its structure, element types,
properties, pin types, cycles and channel types, and reports the result.
Elements with no connections and no router channel are reported as warnings.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, rootOpts, args)
		},
	}
}

func runValidate(cmd *cobra.Command, opts *RootOptions, paths []string) error {
	registry, err := modules.NewRegistry()
	if err != nil {
		return err
	}

	results := make([]ValidationResult, 0, len(paths))
	failed := 0
	for _, path := range paths {
		res := validateFile(registry, path)
		if !res.Valid {
			failed++
		}
		results = append(results, res)
	}

	out := cmd.OutOrStdout()
	if opts.Output == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			if r.Valid {
				_, _ = fmt.Fprintf(out, "ok    %s (%d elements)\n", r.Path, r.Elements)
				for _, w := range r.Warnings {
					_, _ = fmt.Fprintf(out, "warn  %s: %s\n", r.Path, w)
				}
			} else {
				_, _ = fmt.Fprintf(out, "FAIL  %s: %s\n", r.Path, r.Error)
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d descriptions invalid", failed, len(paths))
	}
	return nil
}

func validateFile(registry *element.Registry, path string) ValidationResult {
	res := ValidationResult{Path: path}
	var warnings []string
	d, err := description.Load(path)
	if err == nil {
		warnings, err = engine.Check(registry, d, nil)
	}
	if err != nil {
		res.Error = err.Error()
		if kind := errors.Kind(err); kind != nil {
			res.Kind = kind.Error()
		}
		return res
	}
	res.Valid = true
	res.Elements = countElements(d)
	res.Channels = channelNames(d)
	res.Warnings = warnings
	return res
}

func countElements(d *description.Graph) int {
	n := len(d.Elements)
	for i := range d.Subgraphs {
		n += countElements(&d.Subgraphs[i].Graph)
	}
	return n
}

// channelNames lists the channels named by channel properties and
// subscriptions
func channelNames(d *description.Graph) []string {
	seen := make(map[string]bool)
	var names []string
	var visit func(g *description.Graph)
	visit = func(g *description.Graph) {
		for _, e := range g.Elements {
			if ch, ok := e.Properties["channel"].(string); ok && !seen[ch] {
				seen[ch] = true
				names = append(names, ch)
			}
		}
		for i := range g.Subgraphs {
			visit(&g.Subgraphs[i].Graph)
		}
	}
	visit(d)
	for _, s := range d.Subscriptions {
		if !seen[s.Channel] {
			seen[s.Channel] = true
			names = append(names, s.Channel)
		}
	}
	return names
}
