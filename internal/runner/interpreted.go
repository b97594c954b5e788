package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/rdelgatto/jobagent/internal/jobpkg"
	"github.com/rdelgatto/jobagent/internal/toolexec"
)

// Compile-time interface satisfaction check.
var _ Runner = (*PythonRunner)(nil)

// PythonRunner executes Python job packages inside a per-instance venv.
type PythonRunner struct {
	PythonBin string
	// WheelDir is the shared artifact directory pip installs prefer.
	WheelDir string
	Exec     toolexec.Runner
	Logger   *slog.Logger
}

// Language returns the package language this runner handles.
func (r *PythonRunner) Language() string {
	return jobpkg.LanguagePython
}

// driverTemplate is the host script that loads the entry module and invokes
// its entry point with whichever accepted signature it declares. The extended
// signature receives the schedule identity; older jobs omit it.
const driverTemplate = `import inspect
import os
import sys

import %s as job

settings = os.environ.get("JOB_APP_SETTINGS", "{}")
agent_id = os.environ.get("JOB_AGENT_ID", "")
job_id = int(os.environ.get("JOB_ID", "0"))
instance_id = int(os.environ.get("JOB_INSTANCE_ID", "0"))
schedule_id = int(os.environ.get("JOB_SCHEDULE_ID", "0"))

fn = getattr(job, "execute_job", None)
if fn is None:
    print("entry module declares no execute_job", file=sys.stderr)
    sys.exit(1)

if len(inspect.signature(fn).parameters) >= 5:
    fn(settings, agent_id, job_id, instance_id, schedule_id)
else:
    fn(settings, agent_id, job_id, instance_id)
`

// Run prepares a venv, installs packaged requirements against the shared
// artifact directory, and runs the driver script. There is no build step for
// an interpreted package, so preparation failures classify as execution
// failures.
func (r *PythonRunner) Run(ctx context.Context, spec RunSpec) (RunResult, error) {
	venvDir := filepath.Join(spec.Pkg.Dir, "venv")
	res, err := r.Exec.Run(ctx, toolexec.Spec{
		Dir:  spec.Pkg.Dir,
		Name: r.PythonBin,
		Args: []string{"-m", "venv", venvDir},
	})
	if err != nil {
		return RunResult{}, fmt.Errorf("%w: create venv: %v", ErrExecutionFailed, err)
	}
	if res.ExitCode != 0 {
		return RunResult{ExitCode: res.ExitCode},
			fmt.Errorf("%w: create venv exited %d: %s", ErrExecutionFailed, res.ExitCode, outputTail(res))
	}

	venvPython := filepath.Join(venvDir, "bin", "python")

	reqPath := filepath.Join(spec.Pkg.CodeDir(), "requirements.txt")
	if _, statErr := os.Stat(reqPath); statErr == nil {
		res, err = r.Exec.Run(ctx, toolexec.Spec{
			Dir:     spec.Pkg.CodeDir(),
			Name:    venvPython,
			Args:    []string{"-m", "pip", "install", "-r", reqPath, "--find-links", r.WheelDir},
			LogLine: spec.LogLine,
		})
		if err != nil {
			return RunResult{}, fmt.Errorf("%w: install requirements: %v", ErrExecutionFailed, err)
		}
		if res.ExitCode != 0 {
			return RunResult{ExitCode: res.ExitCode},
				fmt.Errorf("%w: pip install exited %d: %s", ErrExecutionFailed, res.ExitCode, outputTail(res))
		}
	}

	module := strings.TrimSuffix(spec.Pkg.EntryFile, ".py")
	driver := fmt.Sprintf(driverTemplate, module)
	driverPath := filepath.Join(spec.Pkg.CodeDir(), "_driver.py")
	if err := os.WriteFile(driverPath, []byte(driver), 0o644); err != nil {
		return RunResult{}, fmt.Errorf("write driver: %w", err)
	}

	r.Logger.Debug("venv prepared", "job_id", spec.Pkg.JobID, "module", module)

	res, err = r.Exec.Run(ctx, toolexec.Spec{
		Dir:     spec.Pkg.CodeDir(),
		Env:     contextEnv(spec),
		Name:    venvPython,
		Args:    []string{driverPath},
		LogLine: spec.LogLine,
	})
	if err != nil {
		return RunResult{}, fmt.Errorf("%w: %v", ErrExecutionFailed, err)
	}
	if res.ExitCode != 0 {
		return RunResult{ExitCode: res.ExitCode},
			fmt.Errorf("%w: job exited %d: %s", ErrExecutionFailed, res.ExitCode, outputTail(res))
	}
	return RunResult{}, nil
}
