// Package config loads manifold settings.
//
// Configuration is organized in layers with higher layers overriding lower:
//
//	┌─────────────────────────────┐
//	│  5. Command Line Flags      │  ← Highest priority
//	├─────────────────────────────┤
//	│  4. Environment Variables   │  ← MANIFOLD_*
//	├─────────────────────────────┤
//	│  3. Workspace               │  ← <root>/.manifold.toml
//	├─────────────────────────────┤
//	│  2. User Settings           │  ← MANIFOLD_CONFIG or ~/.config/manifold/config.toml
//	├─────────────────────────────┤
//	│  1. Built-in Defaults       │  ← Lowest priority
//	└─────────────────────────────┘
//
// A missing file contributes nothing. The merged map is decoded strictly
// into Config: unknown keys are errors.
//
// Example config.toml:
//
//	[scan]
//	excludes = ["node_modules/", "*.tmp"]
//	workers = 8
//
//	[watch]
//	idleDelay = "1s"
//	maxWait = "5s"
//
//	[history]
//	capacity = 100
//
//	[preview]
//	kustomizeCommand = ["kubectl", "kustomize"]
//	helmCommand = ["helm", "template"]
//
//	[log]
//	level = "info"
//	format = "text"
//
// # Sub-packages
//
//   - loader: TOML file and environment variable loading
//   - layer: priority-ordered merging of configuration maps
package config
