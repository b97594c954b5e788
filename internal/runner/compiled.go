package runner

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rdelgatto/jobagent/internal/jobpkg"
	"github.com/rdelgatto/jobagent/internal/toolexec"
)

// Compile-time interface satisfaction check.
var _ Runner = (*CSharpRunner)(nil)

// entryShape is one accepted ExecuteJob signature, probed in order.
type entryShape struct {
	name string
	// params is the number of parameters the signature declares.
	params int
	// call renders the invocation inside the generated host program.
	call string
}

// entryShapes lists the accepted shapes, preferred first. The extended shape
// receives the schedule identity; the legacy shape predates schedules.
var entryShapes = []entryShape{
	{
		name:   "extended",
		params: 5,
		call:   "job.ExecuteJob(settings, agentId, jobId, instanceId, scheduleId);",
	},
	{
		name:   "legacy",
		params: 4,
		call:   "job.ExecuteJob(settings, agentId, jobId, instanceId);",
	},
}

// executeJobPattern captures the parameter list of an ExecuteJob declaration.
var executeJobPattern = regexp.MustCompile(`ExecuteJob\s*\(([^)]*)\)`)

// CSharpRunner builds and runs CSharp job packages with the dotnet toolchain.
type CSharpRunner struct {
	DotnetBin string
	Exec      toolexec.Runner
	Logger    *slog.Logger
}

// Language returns the package language this runner handles.
func (r *CSharpRunner) Language() string {
	return jobpkg.LanguageCSharp
}

const hostProgramTemplate = `using System;

static class JobHost
{
    static int Main()
    {
        var settings = Environment.GetEnvironmentVariable("JOB_APP_SETTINGS") ?? "{}";
        var agentId = Environment.GetEnvironmentVariable("JOB_AGENT_ID") ?? "";
        var jobId = long.Parse(Environment.GetEnvironmentVariable("JOB_ID") ?? "0");
        var instanceId = long.Parse(Environment.GetEnvironmentVariable("JOB_INSTANCE_ID") ?? "0");
        var scheduleId = long.Parse(Environment.GetEnvironmentVariable("JOB_SCHEDULE_ID") ?? "0");
        var job = new %s();
        %s
        return 0;
    }
}
`

const projectTemplate = `<Project Sdk="Microsoft.NET.Sdk">
  <PropertyGroup>
    <OutputType>Exe</OutputType>
    <TargetFramework>net8.0</TargetFramework>
    <Nullable>disable</Nullable>
    <AssemblyName>job</AssemblyName>
  </PropertyGroup>
  <ItemGroup>
%s  </ItemGroup>
</Project>
`

// Run builds the package and executes the resulting binary. A build failure
// means the job code never started; a non-zero exit from the built binary
// means the job ran and failed.
func (r *CSharpRunner) Run(ctx context.Context, spec RunSpec) (RunResult, error) {
	shape, err := probeEntryShape(spec.Pkg.EntryPath())
	if err != nil {
		return RunResult{}, err
	}

	buildDir := filepath.Join(spec.Pkg.Dir, "build")
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return RunResult{}, fmt.Errorf("create build dir: %w", err)
	}

	if err := copySources(spec.Pkg, buildDir); err != nil {
		return RunResult{}, err
	}

	className := strings.TrimSuffix(spec.Pkg.EntryFile, filepath.Ext(spec.Pkg.EntryFile))
	host := fmt.Sprintf(hostProgramTemplate, className, shape.call)
	if err := os.WriteFile(filepath.Join(buildDir, "JobHost.cs"), []byte(host), 0o644); err != nil {
		return RunResult{}, fmt.Errorf("write host program: %w", err)
	}

	project := fmt.Sprintf(projectTemplate, assemblyReferences(spec))
	if err := os.WriteFile(filepath.Join(buildDir, "job.csproj"), []byte(project), 0o644); err != nil {
		return RunResult{}, fmt.Errorf("write project file: %w", err)
	}

	outDir := filepath.Join(buildDir, "out")
	res, err := r.Exec.Run(ctx, toolexec.Spec{
		Dir:     buildDir,
		Name:    r.DotnetBin,
		Args:    []string{"build", "job.csproj", "-o", outDir},
		LogLine: spec.LogLine,
	})
	if err != nil {
		return RunResult{}, fmt.Errorf("%w: %v", ErrCompilationFailed, err)
	}
	if res.ExitCode != 0 {
		return RunResult{ExitCode: res.ExitCode},
			fmt.Errorf("%w: dotnet build exited %d: %s", ErrCompilationFailed, res.ExitCode, outputTail(res))
	}

	r.Logger.Debug("package built", "job_id", spec.Pkg.JobID, "shape", shape.name)

	res, err = r.Exec.Run(ctx, toolexec.Spec{
		Dir:     buildDir,
		Env:     contextEnv(spec),
		Name:    r.DotnetBin,
		Args:    []string{filepath.Join(outDir, "job.dll")},
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

// probeEntryShape reads the entry source and picks the first accepted shape
// whose parameter count the declared ExecuteJob matches.
func probeEntryShape(entryPath string) (entryShape, error) {
	src, err := os.ReadFile(entryPath)
	if err != nil {
		return entryShape{}, fmt.Errorf("%w: read entry source: %v", ErrCompilationFailed, err)
	}

	declared := make(map[int]bool)
	for _, m := range executeJobPattern.FindAllSubmatch(src, -1) {
		declared[countParams(string(m[1]))] = true
	}

	for _, shape := range entryShapes {
		if declared[shape.params] {
			return shape, nil
		}
	}
	return entryShape{}, fmt.Errorf("%w: entry declares no accepted ExecuteJob signature", ErrCompilationFailed)
}

// countParams counts the parameters in a captured parameter list.
func countParams(list string) int {
	if strings.TrimSpace(list) == "" {
		return 0
	}
	return strings.Count(list, ",") + 1
}

// copySources copies the entry file and its siblings into the build dir.
func copySources(pkg *jobpkg.Package, buildDir string) error {
	names := append([]string{pkg.EntryFile}, pkg.Siblings...)
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(pkg.CodeDir(), name))
		if err != nil {
			return fmt.Errorf("read source %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(buildDir, name), data, 0o644); err != nil {
			return fmt.Errorf("copy source %s: %w", name, err)
		}
	}
	return nil
}

// assemblyReferences renders Reference items for every assembly found under
// the resolved artifacts.
func assemblyReferences(spec RunSpec) string {
	var b strings.Builder
	for _, art := range spec.Artifacts {
		for _, dll := range findAssemblies(art.Path) {
			name := strings.TrimSuffix(filepath.Base(dll), ".dll")
			fmt.Fprintf(&b, "    <Reference Include=%q>\n      <HintPath>%s</HintPath>\n    </Reference>\n", name, dll)
		}
	}
	return b.String()
}

// findAssemblies returns the .dll files under an artifact path. A path that
// is itself a .dll is returned as-is.
func findAssemblies(path string) []string {
	info, err := os.Stat(path)
	if err != nil {
		return nil
	}
	if !info.IsDir() {
		if strings.HasSuffix(path, ".dll") {
			return []string{path}
		}
		return nil
	}

	var dlls []string
	filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() && strings.HasSuffix(p, ".dll") {
			dlls = append(dlls, p)
		}
		return nil
	})
	return dlls
}

// contextEnv renders the execution context as JOB_* environment entries.
func contextEnv(spec RunSpec) []string {
	c := spec.Context
	return []string{
		"JOB_APP_SETTINGS=" + spec.Settings,
		"JOB_AGENT_ID=" + c.AgentID,
		fmt.Sprintf("JOB_ID=%d", c.JobID),
		fmt.Sprintf("JOB_INSTANCE_ID=%d", c.InstanceID),
		fmt.Sprintf("JOB_SCHEDULE_ID=%d", c.ScheduleID),
		"JOB_ENVIRONMENT=" + c.Environment,
		"JOB_WEBHOOK_PARAMETERS=" + c.WebhookParameters,
	}
}

// outputTail returns the trailing lines of a tool result for error messages,
// preferring stderr.
func outputTail(res toolexec.Result) string {
	out := res.Stderr
	if len(out) == 0 {
		out = res.Stdout
	}
	s := strings.TrimSpace(string(out))
	lines := strings.Split(s, "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return strings.Join(lines, "\n")
}
