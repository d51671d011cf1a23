package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dshills/manifold/internal/app"
)

// overrideFlags maps persistent flags to the settings they override.
var overrideFlags = map[string]string{
	"log-level":  "log.level",
	"log-format": "log.format",
}

func OptionalStringFlag(cmd *cobra.Command, name string) (string, error) {
	if cmd == nil || cmd.Flags().Lookup(name) == nil {
		return "", nil
	}
	value, err := cmd.Flags().GetString(name)
	if err != nil {
		return "", fmt.Errorf("failed to read --%s flag: %w", name, err)
	}
	return strings.TrimSpace(value), nil
}

func OptionalBoolFlag(cmd *cobra.Command, name string) (bool, error) {
	if cmd == nil || cmd.Flags().Lookup(name) == nil {
		return false, nil
	}
	value, err := cmd.Flags().GetBool(name)
	if err != nil {
		return false, fmt.Errorf("failed to read --%s flag: %w", name, err)
	}
	return value, nil
}

// ApplicationOptions builds app options from the persistent flags. Only
// flags given on the command line become config overrides.
func ApplicationOptions(cmd *cobra.Command) (app.Options, error) {
	root, err := OptionalStringFlag(cmd, "root")
	if err != nil {
		return app.Options{}, err
	}
	if root == "" {
		root = "."
	}
	configPath, err := OptionalStringFlag(cmd, "config")
	if err != nil {
		return app.Options{}, err
	}

	overrides := make(map[string]any)
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if path, ok := overrideFlags[f.Name]; ok {
			overrides[path] = strings.TrimSpace(f.Value.String())
		}
	})

	return app.Options{
		ConfigPath:    configPath,
		WorkspacePath: root,
		Overrides:     overrides,
		LogOutput:     cmd.ErrOrStderr(),
	}, nil
}

func newApplication(cmd *cobra.Command) (*app.Application, error) {
	opts, err := ApplicationOptions(cmd)
	if err != nil {
		return nil, err
	}
	return app.New(opts)
}

// openApplication creates the application and scans the root folder.
func openApplication(cmd *cobra.Command, watch bool) (*app.Application, error) {
	application, err := newApplication(cmd)
	if err != nil {
		return nil, err
	}
	if err := application.Open(commandContext(cmd), watch); err != nil {
		application.Shutdown()
		return nil, err
	}
	return application, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
