package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dshills/manifold/internal/project/access"
	"github.com/dshills/manifold/internal/project/model"
)

func RunCanI(cmd *cobra.Command, args []string) error {
	source, err := OptionalStringFlag(cmd, "permissions")
	if err != nil {
		return err
	}
	if source == "" {
		return fmt.Errorf("--permissions is required")
	}
	data, err := readInput(cmd, source)
	if err != nil {
		return err
	}
	set := access.ParseCanI(string(data))

	application, err := openApplication(cmd, false)
	if err != nil {
		return err
	}
	defer application.Shutdown()
	engine := application.Engine()
	engine.SetPermissions(set)

	verb := strings.ToLower(args[0])
	resources := engine.Resources()
	var targets []*model.Resource
	if len(args) > 1 {
		files := engine.Files()
		for _, ref := range args[1:] {
			r, err := findResource(resources, files, ref)
			if err != nil {
				return err
			}
			targets = append(targets, r)
		}
	} else {
		targets = resources.Sorted()
	}

	out := cmd.OutOrStdout()
	if set.FullAccess {
		fmt.Fprintln(out, "full access")
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ALLOWED\tRESOURCE\tKIND\tNAME")
	for _, r := range targets {
		ok, err := engine.Permitted(r.ID, verb)
		if err != nil {
			return err
		}
		answer := "no"
		if ok {
			answer = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", answer, access.ResourceName(r.Kind, r.APIVersion), r.Kind, r.Name)
	}
	return tw.Flush()
}
