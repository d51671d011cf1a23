// Package cli implements the manifold command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewRootCommand(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "manifold",
		Short: "Map Kubernetes manifests, their files and their references",
		Long: `Manifold scans a folder of Kubernetes manifests, kustomizations and Helm
charts, and keeps a graph of resources, files, composition and references
in sync with the filesystem.

Commands read the folder given by --root (default: the current directory).
Settings come from the user config file, <root>/.manifold.toml,
MANIFOLD_* environment variables and flags, in increasing precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringP("root", "r", ".", "Root folder to scan")
	pf.StringP("config", "c", "", "Path to the user configuration file")
	pf.String("log-level", "", "Log level: debug|info|warn|error")
	pf.String("log-format", "", "Log format: text|json")

	// Inspect Commands
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan the root folder and summarize what was found",
		Args:  cobra.NoArgs,
		RunE:  RunScan,
	}
	scanCmd.Flags().Bool("json", false, "Print machine-readable scan summary")
	scanCmd.Flags().String("snapshot", "", "Write the canonical CBOR snapshot to this file")

	treeCmd := &cobra.Command{
		Use:   "tree",
		Short: "Print the file tree with the resources each file holds",
		Args:  cobra.NoArgs,
		RunE:  RunTree,
	}
	treeCmd.Flags().Bool("files-only", false, "Hide resources")

	refsCmd := &cobra.Command{
		Use:   "refs <resource>",
		Short: "Show the composition and reference edges of a resource",
		Long: `Show the composition and reference edges of a resource.

A resource is named by its ID, Kind/name, Kind/namespace/name, or the
path of a file holding exactly one resource.`,
		Args: cobra.ExactArgs(1),
		RunE: RunRefs,
	}
	refsCmd.Flags().Bool("json", false, "Print machine-readable edges")

	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search resources by name",
		Args:  cobra.ExactArgs(1),
		RunE:  RunSearch,
	}
	searchCmd.Flags().String("mode", "fuzzy", "Match mode: fuzzy|exact|prefix|contains|glob|regex")
	searchCmd.Flags().StringSliceP("kind", "k", nil, "Restrict results to these kinds")
	searchCmd.Flags().StringP("namespace", "n", "", "Restrict results to one namespace")
	searchCmd.Flags().Int("limit", 20, "Maximum number of results (0 = unlimited)")
	searchCmd.Flags().Bool("case-sensitive", false, "Match case-sensitively")
	searchCmd.Flags().Bool("quick", false, "Also list kinds and namespaces starting with the query")
	searchCmd.Flags().Bool("json", false, "Print machine-readable matches")

	// Sync Commands
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Scan the root folder and report changes until interrupted",
		Args:  cobra.NoArgs,
		RunE:  RunWatch,
	}

	// Preview Commands
	previewCmd := &cobra.Command{
		Use:   "preview",
		Short: "Render a kustomization, a Helm chart or a cluster listing",
	}
	previewKustomizeCmd := &cobra.Command{
		Use:   "kustomize <resource>",
		Short: "Render a kustomization and show the resulting resources",
		Args:  cobra.ExactArgs(1),
		RunE:  RunPreviewKustomize,
	}
	previewHelmCmd := &cobra.Command{
		Use:   "helm <values-file>",
		Short: "Render the chart owning a values file",
		Args:  cobra.ExactArgs(1),
		RunE:  RunPreviewHelm,
	}
	previewClusterCmd := &cobra.Command{
		Use:   "cluster <file|->",
		Short: "Show the resources of a \"kubectl get -o json\" listing",
		Args:  cobra.ExactArgs(1),
		RunE:  RunPreviewCluster,
	}
	previewClusterCmd.Flags().String("context", "cluster", "Name of the cluster context the listing came from")
	for _, c := range []*cobra.Command{previewKustomizeCmd, previewHelmCmd, previewClusterCmd} {
		c.Flags().Bool("json", false, "Print machine-readable preview")
		previewCmd.AddCommand(c)
	}

	canICmd := &cobra.Command{
		Use:   "can-i <verb> [resource...]",
		Short: "Check a permission listing against resources",
		Long: `Check a permission listing against resources.

The listing is the output of "kubectl auth can-i --list". Without
resources every resource under the root is checked.`,
		Args: cobra.MinimumNArgs(1),
		RunE: RunCanI,
	}
	canICmd.Flags().StringP("permissions", "p", "", "File holding the can-i listing, or - for stdin")
	_ = canICmd.MarkFlagRequired("permissions")

	// Additional Commands
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  RunConfig,
	}
	configCmd.Flags().Bool("sources", false, "Show which layer supplied each setting")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "manifold %s\n", version)
		},
	}

	rootCmd.AddCommand(
		scanCmd,
		treeCmd,
		refsCmd,
		searchCmd,
		watchCmd,
		previewCmd,
		canICmd,
		configCmd,
		versionCmd,
	)

	return rootCmd
}
