package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	osexec "os/exec"
	"strings"
	"time"

	"github.com/dshills/manifold/internal/config"
	"github.com/dshills/manifold/internal/project/preview"
)

// ExecRenderer renders previews by running the configured kustomize and
// Helm commands.
type ExecRenderer struct {
	kustomize []string
	helm      []string
	timeout   time.Duration
}

// NewExecRenderer creates a renderer from the preview settings.
func NewExecRenderer(cfg config.PreviewConfig) *ExecRenderer {
	return &ExecRenderer{
		kustomize: cfg.KustomizeCommand,
		helm:      cfg.HelmCommand,
		timeout:   cfg.Timeout.Std(),
	}
}

// Render runs the tool for req. A tool that exits non-zero yields its
// standard error as RenderResult.ErrorText; a tool that cannot be started
// is an error.
func (r *ExecRenderer) Render(ctx context.Context, req preview.RenderRequest) (preview.RenderResult, error) {
	cmd, cancel, err := r.buildCommand(ctx, req)
	if err != nil {
		return preview.RenderResult{}, err
	}
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	var exitErr *osexec.ExitError
	switch {
	case err == nil:
		return preview.RenderResult{Output: stdout.String()}, nil
	case errors.As(err, &exitErr):
		text := strings.TrimSpace(stderr.String())
		if text == "" {
			text = exitErr.Error()
		}
		return preview.RenderResult{ErrorText: text}, nil
	default:
		return preview.RenderResult{}, fmt.Errorf("%w: %s: %w", ErrRenderTool, cmd.Path, err)
	}
}

// buildCommand creates the osexec.Cmd for a request.
func (r *ExecRenderer) buildCommand(ctx context.Context, req preview.RenderRequest) (*osexec.Cmd, context.CancelFunc, error) {
	var argv []string
	switch req.Source {
	case preview.Kustomization:
		if len(r.kustomize) > 0 {
			argv = append(append(argv, r.kustomize...), req.Dir)
		}
	case preview.Helm:
		if len(r.helm) > 0 {
			argv = append(append(argv, r.helm...), req.Dir)
			if req.ValuesFile != "" {
				argv = append(argv, "--values", req.ValuesFile)
			}
		}
	default:
		return nil, nil, fmt.Errorf("%w: no command renders %s previews", ErrRenderTool, req.Source)
	}
	if len(argv) == 0 || argv[0] == "" {
		return nil, nil, fmt.Errorf("%w: empty %s command", ErrRenderTool, req.Source)
	}

	cancel := context.CancelFunc(func() {})
	if r.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
	}
	cmd := osexec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = req.Dir
	return cmd, cancel, nil
}

var _ preview.Renderer = (*ExecRenderer)(nil)
