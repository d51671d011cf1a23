// Package app wires configuration, logging, the external renderer and the
// project engine together for the manifold commands.
package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/dshills/manifold/internal/config"
	"github.com/dshills/manifold/internal/config/loader"
	"github.com/dshills/manifold/internal/project"
	"github.com/dshills/manifold/internal/project/preview"
	"github.com/dshills/manifold/internal/project/vfs"
	"github.com/dshills/manifold/internal/project/watcher"
)

// Application owns the components one command invocation needs.
type Application struct {
	config   *config.Config
	log      *slog.Logger
	renderer *ExecRenderer
	engine   *project.Engine

	shutdownOnce sync.Once

	// Options
	opts Options
}

// Options configures the application.
type Options struct {
	// ConfigPath is the path to the configuration file.
	ConfigPath string

	// WorkspacePath is the root folder; its .manifold.toml is read when set.
	WorkspacePath string

	// Overrides maps dotted config paths to command-line values.
	Overrides map[string]any

	// LogOutput receives log records. Defaults to os.Stderr.
	LogOutput io.Writer

	// ConfigFS reads config files; nil uses the OS.
	ConfigFS loader.FileSystem

	// FS is the filesystem scans read; nil uses the OS.
	FS vfs.VFS

	// WatcherFactory replaces the fsnotify watcher.
	WatcherFactory watcher.Factory

	// Renderer replaces the exec renderer.
	Renderer preview.Renderer
}

// New creates a new Application with the given options.
func New(opts Options) (*Application, error) {
	app := &Application{opts: opts}

	if err := app.bootstrap(); err != nil {
		return nil, err
	}

	return app, nil
}

// bootstrap initializes all components in dependency order.
func (app *Application) bootstrap() error {
	// 1. Config
	cfg, err := config.Load(config.Options{
		Path:          app.opts.ConfigPath,
		WorkspaceRoot: app.opts.WorkspacePath,
		Overrides:     app.opts.Overrides,
		FS:            app.opts.ConfigFS,
	})
	if err != nil {
		return &StageError{Stage: StageConfig, Err: err}
	}
	app.config = cfg

	// 2. Logger
	out := app.opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	app.log, err = NewLogger(cfg.Log, out)
	if err != nil {
		return &StageError{Stage: StageLogger, Err: err}
	}

	// 3. Renderer
	app.renderer = NewExecRenderer(cfg.Preview)

	// 4. Engine
	engineOpts := []project.Option{
		project.WithConfig(cfg),
		project.WithLogger(app.log.With("component", "engine")),
	}
	if app.opts.Renderer != nil {
		engineOpts = append(engineOpts, project.WithRenderer(app.opts.Renderer))
	} else {
		engineOpts = append(engineOpts, project.WithRenderer(app.renderer))
	}
	if app.opts.FS != nil {
		engineOpts = append(engineOpts, project.WithVFS(app.opts.FS))
	}
	if app.opts.WatcherFactory != nil {
		engineOpts = append(engineOpts, project.WithWatcherFactory(app.opts.WatcherFactory))
	}
	app.engine = project.New(engineOpts...)

	app.log.Debug("application initialized",
		"workspace", app.opts.WorkspacePath,
		"config", app.opts.ConfigPath)
	return nil
}

// Open scans the workspace folder and starts the watch when the
// configuration enables it and watch is true.
func (app *Application) Open(ctx context.Context, watch bool) error {
	if app.opts.WorkspacePath == "" {
		return ErrNoWorkspace
	}
	if err := app.engine.SetRootFolder(ctx, app.opts.WorkspacePath); err != nil {
		return &StageError{Stage: StageScan, Err: err}
	}
	if watch && app.config.Watch.Enabled {
		if err := app.engine.StartWatch(); err != nil {
			return &StageError{Stage: StageWatch, Err: err}
		}
	}
	return nil
}

// Shutdown stops the engine. It is safe to call more than once.
func (app *Application) Shutdown() {
	app.shutdownOnce.Do(func() {
		if err := app.engine.Close(); err != nil {
			app.log.Warn("closing engine", "error", err)
		}
	})
}

// Config returns the effective configuration.
func (app *Application) Config() *config.Config {
	return app.config
}

// Logger returns the application logger.
func (app *Application) Logger() *slog.Logger {
	return app.log
}

// Engine returns the project engine.
func (app *Application) Engine() *project.Engine {
	return app.engine
}
