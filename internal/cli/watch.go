package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/manifold/internal/project"
)

// watchPollInterval is how often watch checks for a dead watcher.
const watchPollInterval = time.Second

// maxWatchRestarts bounds how often watch re-issues a dead watcher.
const maxWatchRestarts = 1

// ErrWatchDisabled is returned by watch when the configuration turns the
// watch off.
var ErrWatchDisabled = errors.New("watching is disabled by configuration")

// lockedWriter serializes writes from change handlers.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// RunWatch scans the root folder and prints every applied batch until the
// command context ends. A watch that dies is restarted once.
func RunWatch(cmd *cobra.Command, args []string) error {
	application, err := newApplication(cmd)
	if err != nil {
		return err
	}
	defer application.Shutdown()
	if !application.Config().Watch.Enabled {
		return ErrWatchDisabled
	}

	engine := application.Engine()
	out := &lockedWriter{w: cmd.OutOrStdout()}
	engine.OnChange(func(c project.Change) {
		writeChange(out, engine, c)
	})

	ctx := commandContext(cmd)
	if err := application.Open(ctx, true); err != nil {
		return err
	}
	fmt.Fprintf(out, "watching %s\n", engine.Root())
	return followWatch(ctx, engine, out, application.Logger(), watchPollInterval)
}

// followWatch polls the watch status until ctx ends.
func followWatch(ctx context.Context, engine *project.Engine, out io.Writer, log *slog.Logger, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	restarts := 0
	for {
		select {
		case <-ctx.Done():
			status := engine.WatchStatus()
			fmt.Fprintf(out, "stopped after %d events\n", status.TotalEvents)
			return nil
		case <-ticker.C:
			status := engine.WatchStatus()
			if !status.Dead {
				continue
			}
			if restarts >= maxWatchRestarts {
				return fmt.Errorf("watch stopped: %w", status.LastError)
			}
			restarts++
			log.Warn("watch died, restarting", "root", engine.Root(), "error", status.LastError)
			if err := engine.StartWatch(); err != nil {
				return fmt.Errorf("restarting watch: %w", err)
			}
			fmt.Fprintf(out, "watch restarted\n")
		}
	}
}

func writeChange(w io.Writer, engine *project.Engine, c project.Change) {
	switch c.Kind {
	case project.ChangeScanned:
		summary := Summarize(engine)
		fmt.Fprintf(w, "scanned: %d resources found in %d files\n", summary.Resources, summary.Files)
	case project.ChangeApplied:
		rep := c.Report
		fmt.Fprintf(w, "applied %d events (%d dropped): %d added, %d removed, %d re-resolved\n",
			rep.Applied, rep.Dropped, len(rep.Added), len(rep.Removed), len(rep.Recomputed))
		for _, p := range rep.Paths {
			fmt.Fprintf(w, "  changed %s\n", p)
		}
		for _, d := range rep.Diagnostics {
			fmt.Fprintf(w, "  warning: %s\n", d)
		}
	}
}
