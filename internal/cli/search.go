package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dshills/manifold/internal/project/search"
)

// SearchResult is the result printed by search.
type SearchResult struct {
	Query      string         `json:"query"`
	Matches    []search.Match `json:"matches"`
	Kinds      []string       `json:"kinds,omitempty"`
	Namespaces []string       `json:"namespaces,omitempty"`
}

// SearchOptions reads the search flags.
func SearchOptions(cmd *cobra.Command) (search.Options, error) {
	opts := search.DefaultOptions()

	mode, err := OptionalStringFlag(cmd, "mode")
	if err != nil {
		return opts, err
	}
	if mode != "" {
		if opts.Mode, err = search.ParseMode(strings.ToLower(mode)); err != nil {
			return opts, err
		}
	}
	if cmd.Flags().Lookup("kind") != nil {
		if opts.Kinds, err = cmd.Flags().GetStringSlice("kind"); err != nil {
			return opts, fmt.Errorf("failed to read --kind flag: %w", err)
		}
	}
	if opts.Namespace, err = OptionalStringFlag(cmd, "namespace"); err != nil {
		return opts, err
	}
	if cmd.Flags().Lookup("limit") != nil {
		if opts.Limit, err = cmd.Flags().GetInt("limit"); err != nil {
			return opts, fmt.Errorf("failed to read --limit flag: %w", err)
		}
		if opts.Limit < 0 {
			return opts, fmt.Errorf("--limit must not be negative")
		}
	}
	if opts.CaseSensitive, err = OptionalBoolFlag(cmd, "case-sensitive"); err != nil {
		return opts, err
	}
	return opts, nil
}

func RunSearch(cmd *cobra.Command, args []string) error {
	opts, err := SearchOptions(cmd)
	if err != nil {
		return err
	}
	asJSON, err := OptionalBoolFlag(cmd, "json")
	if err != nil {
		return err
	}
	quick, err := OptionalBoolFlag(cmd, "quick")
	if err != nil {
		return err
	}

	application, err := openApplication(cmd, false)
	if err != nil {
		return err
	}
	defer application.Shutdown()
	engine := application.Engine()

	query := args[0]
	matches, err := engine.Search(commandContext(cmd), query, opts)
	if err != nil {
		return err
	}
	result := SearchResult{Query: query, Matches: matches}
	if result.Matches == nil {
		result.Matches = []search.Match{}
	}
	if quick {
		groups := engine.QuickSearch(query)
		result.Kinds = groups.Kinds
		result.Namespaces = groups.Namespaces
	}

	out := cmd.OutOrStdout()
	if asJSON {
		return writeJSON(out, result)
	}

	if len(matches) == 0 {
		fmt.Fprintf(out, "no resources match %q\n", query)
	} else {
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KIND\tNAMESPACE\tNAME\tSCORE")
		for _, m := range matches {
			ns := m.Namespace
			if ns == "" {
				ns = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\n", m.Kind, ns, m.Name, m.Score)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	if len(result.Kinds) > 0 {
		fmt.Fprintf(out, "kinds: %s\n", strings.Join(result.Kinds, ", "))
	}
	if len(result.Namespaces) > 0 {
		fmt.Fprintf(out, "namespaces: %s\n", strings.Join(result.Namespaces, ", "))
	}
	return nil
}
