package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dshills/manifold/internal/config/layer"
	"github.com/dshills/manifold/internal/config/loader"
	"github.com/dshills/manifold/internal/project/watcher"
	"github.com/pelletier/go-toml/v2"
)

const (
	// EnvPrefix prefixes every environment setting.
	EnvPrefix = "MANIFOLD_"
	// EnvConfigPath names the user config file, overriding the default
	// location.
	EnvConfigPath = EnvPrefix + "CONFIG"
	// WorkspaceFile is the per-root config file name.
	WorkspaceFile = ".manifold.toml"
)

// Duration is a time.Duration written as a string such as "1s" or "250ms".
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config holds every manifold setting.
type Config struct {
	Scan    ScanConfig    `toml:"scan"`
	Watch   WatchConfig   `toml:"watch"`
	History HistoryConfig `toml:"history"`
	Preview PreviewConfig `toml:"preview"`
	Log     LogConfig     `toml:"log"`

	resolved *layer.Resolved
}

// ScanConfig configures folder scans.
type ScanConfig struct {
	// Excludes are gitignore-style rules shared by the scanner and the
	// watcher.
	Excludes []string `toml:"excludes"`
	// Workers bounds parallel parsing; 0 uses GOMAXPROCS.
	Workers int `toml:"workers"`
	// MaxFileSize skips larger files; 0 disables the limit.
	MaxFileSize int64 `toml:"maxFileSize"`
}

// WatchConfig configures the watch and its batch accumulator.
type WatchConfig struct {
	Enabled    bool     `toml:"enabled"`
	IdleDelay  Duration `toml:"idleDelay"`
	MaxWait    Duration `toml:"maxWait"`
	BufferSize int      `toml:"bufferSize"`
}

// HistoryConfig configures selection history.
type HistoryConfig struct {
	Capacity int `toml:"capacity"`
}

// PreviewConfig names the external render tools used by the CLI.
type PreviewConfig struct {
	KustomizeCommand []string `toml:"kustomizeCommand"`
	HelmCommand      []string `toml:"helmCommand"`
	Timeout          Duration `toml:"timeout"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level"`
	// Format is text or json.
	Format string `toml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Scan: ScanConfig{
			Excludes: append([]string(nil), watcher.DefaultExcludes...),
		},
		Watch: WatchConfig{
			Enabled:    true,
			IdleDelay:  Duration(time.Second),
			MaxWait:    Duration(5 * time.Second),
			BufferSize: 256,
		},
		History: HistoryConfig{Capacity: 100},
		Preview: PreviewConfig{
			KustomizeCommand: []string{"kubectl", "kustomize"},
			HelmCommand:      []string{"helm", "template"},
			Timeout:          Duration(30 * time.Second),
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Options selects the sources Load reads.
type Options struct {
	// Path is an explicit user config file; empty falls back to
	// MANIFOLD_CONFIG, then the user config directory.
	Path string
	// WorkspaceRoot enables <root>/.manifold.toml when set.
	WorkspaceRoot string
	// Overrides maps dotted setting paths to flag values.
	Overrides map[string]any
	// FS reads config files; nil uses the OS.
	FS loader.FileSystem
}

// UserConfigPath returns the user config file location.
func UserConfigPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "manifold", "config.toml")
}

// Load merges every layer and decodes the result. Missing files are
// skipped; malformed files, unknown keys and invalid values are errors.
func Load(opts Options) (*Config, error) {
	fsys := opts.FS
	if fsys == nil {
		fsys = loader.DefaultFS()
	}

	defaults, err := toMap(Default())
	if err != nil {
		return nil, err
	}
	stack := layer.NewStack()
	stack.Push(layer.NewLayer("default", layer.SourceBuiltin, defaults))

	userPath := opts.Path
	if userPath == "" {
		userPath = UserConfigPath()
	}
	if userPath != "" {
		if err := addFileLayer(stack, fsys, "user", layer.SourceUser, userPath); err != nil {
			return nil, err
		}
	}
	if opts.WorkspaceRoot != "" {
		wsPath := filepath.Join(opts.WorkspaceRoot, WorkspaceFile)
		if err := addFileLayer(stack, fsys, "workspace", layer.SourceWorkspace, wsPath); err != nil {
			return nil, err
		}
	}

	env, err := loader.NewEnvLoader(EnvPrefix).Load()
	if err != nil {
		return nil, err
	}
	stack.Push(layer.NewLayer("env", layer.SourceEnv, env))

	if len(opts.Overrides) > 0 {
		args := make(map[string]any)
		for path, v := range opts.Overrides {
			layer.SetByPath(args, path, v)
		}
		stack.Push(layer.NewLayer("args", layer.SourceArgs, args))
	}

	resolved := stack.Resolve()
	cfg, err := decode(resolved.Data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.resolved = resolved
	return cfg, nil
}

func addFileLayer(stack *layer.Stack, fsys loader.FileSystem, name string, source layer.Source, path string) error {
	data, err := loader.NewFile(fsys, path).Load()
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}
	l := layer.NewLayer(name, source, data)
	l.File = path
	stack.Push(l)
	return nil
}

// toMap converts cfg into the generic form layers hold.
func toMap(cfg *Config) (map[string]any, error) {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	var m map[string]any
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return m, nil
}

// decode converts a merged map into a Config, rejecting unknown keys.
func decode(merged map[string]any) (*Config, error) {
	data, err := toml.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encoding merged config: %w", err)
	}
	var cfg Config
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch {
	case c.Watch.IdleDelay <= 0:
		return &ValidationError{Path: "watch.idleDelay", Message: "must be positive"}
	case c.Watch.MaxWait < c.Watch.IdleDelay:
		return &ValidationError{Path: "watch.maxWait", Message: "must not be shorter than watch.idleDelay"}
	case c.Watch.BufferSize < 0:
		return &ValidationError{Path: "watch.bufferSize", Message: "must not be negative"}
	case c.History.Capacity <= 0:
		return &ValidationError{Path: "history.capacity", Message: "must be positive"}
	case c.Scan.Workers < 0:
		return &ValidationError{Path: "scan.workers", Message: "must not be negative"}
	case c.Scan.MaxFileSize < 0:
		return &ValidationError{Path: "scan.maxFileSize", Message: "must not be negative"}
	case c.Log.Format != "text" && c.Log.Format != "json":
		return &ValidationError{Path: "log.format", Message: fmt.Sprintf("unknown format %q", c.Log.Format)}
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return &ValidationError{Path: "log.level", Message: err.Error()}
	}
	return nil
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(l.Level))
	return level, err
}

// Excludes returns the scan exclude rules as a matcher.
func (c *Config) Excludes() *watcher.IgnorePatterns {
	return watcher.NewIgnorePatterns(c.Scan.Excludes...)
}

// Source returns the name of the layer that supplied a dotted setting
// path, or "" for unknown paths and configurations Load did not build.
func (c *Config) Source(path string) string {
	if c.resolved == nil {
		return ""
	}
	if l, ok := c.resolved.Origin(path); ok {
		return l.Name
	}
	return ""
}

// Setting is one effective leaf setting.
type Setting struct {
	Path   string
	Value  any
	Source string
	// File is the config file that set it, if any.
	File string
}

// Settings lists every leaf setting Load merged, in path order.
func (c *Config) Settings() []Setting {
	if c.resolved == nil {
		return nil
	}
	paths := c.resolved.Leaves()
	out := make([]Setting, 0, len(paths))
	for _, path := range paths {
		l, _ := c.resolved.Origin(path)
		value, _ := layer.GetByPath(c.resolved.Data, path)
		out = append(out, Setting{Path: path, Value: value, Source: l.Name, File: l.File})
	}
	return out
}

// TOML encodes the effective configuration.
func (c *Config) TOML() ([]byte, error) {
	return toml.Marshal(c)
}
