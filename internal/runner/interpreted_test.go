package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rdelgatto/jobagent/internal/jobpkg"
	"github.com/rdelgatto/jobagent/internal/toolexec"
)

func newPythonSpec(t *testing.T) RunSpec {
	t.Helper()
	return RunSpec{
		Pkg: makePackage(t, jobpkg.LanguagePython, "main.py",
			"def execute_job(settings, agent_id, job_id, instance_id, schedule_id):\n    pass\n"),
		Context: ExecutionContext{
			AgentID:     "01HX5ZZKBKACTAV9WEVGEMMVRZ",
			JobID:       10,
			InstanceID:  20,
			Environment: "Production",
		},
		Settings: `{}`,
	}
}

func TestPythonRunHappyPath(t *testing.T) {
	exec := &fakeExec{}
	r := &PythonRunner{PythonBin: "python3", WheelDir: t.TempDir(), Exec: exec, Logger: testLogger()}
	spec := newPythonSpec(t)

	if _, err := r.Run(context.Background(), spec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// No requirements file: venv creation then the driver, no pip install.
	if len(exec.specs) != 2 {
		t.Fatalf("got %d tool invocations, want venv then driver", len(exec.specs))
	}
	if exec.specs[0].Args[1] != "venv" {
		t.Errorf("first invocation = %v, want python -m venv", exec.specs[0].Args)
	}

	venvPython := filepath.Join(spec.Pkg.Dir, "venv", "bin", "python")
	if exec.specs[1].Name != venvPython {
		t.Errorf("driver ran with %q, want the venv interpreter", exec.specs[1].Name)
	}
	env := strings.Join(exec.specs[1].Env, "\n")
	for _, want := range []string{"JOB_ID=10", "JOB_INSTANCE_ID=20", "JOB_ENVIRONMENT=Production"} {
		if !strings.Contains(env, want) {
			t.Errorf("driver env missing %q", want)
		}
	}

	driver, err := os.ReadFile(filepath.Join(spec.Pkg.CodeDir(), "_driver.py"))
	if err != nil {
		t.Fatalf("read driver: %v", err)
	}
	if !strings.Contains(string(driver), "import main as job") {
		t.Error("driver does not import the entry module")
	}
}

func TestPythonInstallsRequirementsFromWheelDir(t *testing.T) {
	exec := &fakeExec{}
	wheelDir := t.TempDir()
	r := &PythonRunner{PythonBin: "python3", WheelDir: wheelDir, Exec: exec, Logger: testLogger()}
	spec := newPythonSpec(t)
	if err := os.WriteFile(filepath.Join(spec.Pkg.CodeDir(), "requirements.txt"), []byte("requests==2.32.0\n"), 0o644); err != nil {
		t.Fatalf("write requirements: %v", err)
	}

	if _, err := r.Run(context.Background(), spec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(exec.specs) != 3 {
		t.Fatalf("got %d tool invocations, want venv, pip install, driver", len(exec.specs))
	}
	install := strings.Join(exec.specs[1].Args, " ")
	if !strings.Contains(install, "pip install") || !strings.Contains(install, "--find-links "+wheelDir) {
		t.Errorf("install invocation = %q, want pip install with --find-links", install)
	}
}

func TestPythonVenvFailure(t *testing.T) {
	exec := &fakeExec{results: []toolexec.Result{{ExitCode: 1, Stderr: []byte("venv module missing")}}}
	r := &PythonRunner{PythonBin: "python3", WheelDir: t.TempDir(), Exec: exec, Logger: testLogger()}

	_, err := r.Run(context.Background(), newPythonSpec(t))
	if !errors.Is(err, ErrExecutionFailed) {
		t.Errorf("err = %v, want ErrExecutionFailed for environment preparation", err)
	}
	if errors.Is(err, ErrCompilationFailed) {
		t.Error("interpreted runner classified a failure as compilation")
	}
}

func TestPythonPipFailure(t *testing.T) {
	exec := &fakeExec{results: []toolexec.Result{{}, {ExitCode: 1, Stderr: []byte("no matching distribution")}}}
	r := &PythonRunner{PythonBin: "python3", WheelDir: t.TempDir(), Exec: exec, Logger: testLogger()}
	spec := newPythonSpec(t)
	if err := os.WriteFile(filepath.Join(spec.Pkg.CodeDir(), "requirements.txt"), []byte("ghost==1.0\n"), 0o644); err != nil {
		t.Fatalf("write requirements: %v", err)
	}

	_, err := r.Run(context.Background(), spec)
	if !errors.Is(err, ErrExecutionFailed) {
		t.Errorf("err = %v, want ErrExecutionFailed for pip install", err)
	}
	if errors.Is(err, ErrCompilationFailed) {
		t.Error("interpreted runner classified a failure as compilation")
	}
}

func TestPythonExecutionFailure(t *testing.T) {
	exec := &fakeExec{results: []toolexec.Result{{}, {ExitCode: 2, Stderr: []byte("Traceback")}}}
	r := &PythonRunner{PythonBin: "python3", WheelDir: t.TempDir(), Exec: exec, Logger: testLogger()}

	res, err := r.Run(context.Background(), newPythonSpec(t))
	if !errors.Is(err, ErrExecutionFailed) {
		t.Fatalf("err = %v, want ErrExecutionFailed", err)
	}
	if res.ExitCode != 2 {
		t.Errorf("ExitCode = %d, want 2", res.ExitCode)
	}
}

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry()
	py := &PythonRunner{PythonBin: "python3", Exec: &fakeExec{}, Logger: testLogger()}
	reg.Register(py)
	reg.Register(&CSharpRunner{DotnetBin: "dotnet", Exec: &fakeExec{}, Logger: testLogger()})

	got, err := reg.Resolve(jobpkg.LanguagePython)
	if err != nil || got != py {
		t.Errorf("Resolve(Python) = %v, %v", got, err)
	}
	if _, err := reg.Resolve("Rust"); err == nil {
		t.Error("Resolve(Rust) succeeded, want error")
	}
	if langs := reg.Languages(); len(langs) != 2 || langs[0] != jobpkg.LanguageCSharp {
		t.Errorf("Languages() = %v", langs)
	}
}
