package app

import "errors"

var (
	// ErrNoWorkspace is returned by Open when no workspace folder was given.
	ErrNoWorkspace = errors.New("no workspace folder")

	// ErrRenderTool reports a render tool that is not configured or could
	// not be started. A tool that runs and fails yields a RenderError.
	ErrRenderTool = errors.New("render tool unavailable")
)

// Stage names a step of bringing the application up.
type Stage string

const (
	StageConfig Stage = "config"
	StageLogger Stage = "logger"
	StageScan   Stage = "scan"
	StageWatch  Stage = "watch"
)

// StageError reports the stage New or Open failed in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return string(e.Stage) + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// FailedStage returns the stage err reports, or "" for other errors.
func FailedStage(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
