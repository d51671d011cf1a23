package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func RunConfig(cmd *cobra.Command, args []string) error {
	showSources, err := OptionalBoolFlag(cmd, "sources")
	if err != nil {
		return err
	}
	application, err := newApplication(cmd)
	if err != nil {
		return err
	}
	defer application.Shutdown()
	cfg := application.Config()

	out := cmd.OutOrStdout()
	if !showSources {
		data, err := cfg.TOML()
		if err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
		_, err = out.Write(data)
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SETTING\tVALUE\tSOURCE")
	for _, s := range cfg.Settings() {
		fmt.Fprintf(tw, "%s\t%v\t%s\n", s.Path, s.Value, s.Source)
	}
	return tw.Flush()
}
