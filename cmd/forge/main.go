// forge is a small CLI for driving the dynamic call execution engine: it
// resolves one role.method invocation through the full lifecycle
// (cache/generate, guardrails, sandboxed execution, contract validation)
// and prints the resulting Outcome.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/exec"

	"github.com/deepnoodle-ai/forge"
	"github.com/deepnoodle-ai/forge/artifact"
	"github.com/deepnoodle-ai/forge/config"
	"github.com/deepnoodle-ai/forge/engine"
	"github.com/deepnoodle-ai/forge/environment"
	"github.com/deepnoodle-ai/forge/generate/providers/anthropic"
	"github.com/deepnoodle-ai/forge/registry"
	"github.com/deepnoodle-ai/forge/sandbox"
	"github.com/deepnoodle-ai/forge/slogger"
	"github.com/deepnoodle-ai/forge/worker"
	"github.com/fatih/color"
)

func main() {
	var (
		configPath string
		role       string
		method     string
		argsJSON   string
		kwargsJSON string
		workerBin  string
		logLevel   string
	)
	flag.StringVar(&configPath, "config", "", "path to a YAML config file")
	flag.StringVar(&role, "role", "assistant", "role to invoke")
	flag.StringVar(&method, "method", "", "method to invoke (required)")
	flag.StringVar(&argsJSON, "args", "[]", "positional arguments as a JSON array")
	flag.StringVar(&kwargsJSON, "kwargs", "{}", "keyword arguments as a JSON object")
	flag.StringVar(&workerBin, "worker", "forge-worker", "worker binary for dependency-bearing programs")
	flag.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	if method == "" {
		fmt.Fprintln(os.Stderr, "forge: -method is required")
		os.Exit(2)
	}

	var args []any
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		fatal("parse -args: %v", err)
	}
	var kwargs map[string]any
	if err := json.Unmarshal([]byte(kwargsJSON), &kwargs); err != nil {
		fatal("parse -kwargs: %v", err)
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			fatal("%v", err)
		}
		cfg = loaded
	}
	logger := slogger.New(slogger.LevelFromString(logLevel))

	artifacts, err := artifact.Open(artifact.StoreOptions{Dir: cfg.ArtifactDir, Logger: logger})
	if err != nil {
		fatal("%v", err)
	}
	tools, err := registry.Open(registry.Options{Path: cfg.RegistryPath, Logger: logger})
	if err != nil {
		fatal("%v", err)
	}
	envManager, err := environment.NewManager(environment.ManagerOptions{Root: cfg.EnvironmentDir})
	if err != nil {
		fatal("%v", err)
	}
	recorder, err := engine.NewJSONLRecorder(cfg.RecordPath)
	if err != nil {
		fatal("%v", err)
	}
	defer recorder.Close()

	supervisor := worker.NewSupervisor(worker.SupervisorOptions{
		Command: func(envID, dir string) *exec.Cmd {
			cmd := exec.Command(workerBin)
			cmd.Dir = dir
			cmd.Env = append(os.Environ(), "FORGE_ENV_ID="+envID)
			return cmd
		},
		MaxRestarts: cfg.Worker.MaxRestarts,
		CallTimeout: cfg.Worker.CallTimeout,
	})
	defer supervisor.Shutdown()

	eng, err := engine.New(engine.Options{
		Config:     cfg,
		Generator:  anthropic.New(anthropic.WithModel(cfg.Model)),
		Artifacts:  artifacts,
		Registry:   tools,
		Sandbox:    sandbox.New(sandbox.Options{Runtime: jsonRuntime(), Timeout: cfg.SandboxTimeout}),
		EnvManager: envManager,
		Supervisor: supervisor,
		Recorder:   recorder,
		Logger:     logger,
	})
	if err != nil {
		fatal("%v", err)
	}

	outcome := eng.Execute(context.Background(), forge.NewInvocation(role, method, args, kwargs))
	if outcome.IsOK() {
		color.Green("ok")
		encoded, _ := json.MarshalIndent(outcome.Value(), "", "  ")
		fmt.Println(string(encoded))
		return
	}
	color.Red("error (%s)", outcome.Class())
	fmt.Println(outcome.Message())
	os.Exit(1)
}

// jsonRuntime mirrors the demonstration runtime in forge-worker: program
// source is a JSON value describing the result.
func jsonRuntime() sandbox.Runtime {
	return sandbox.RuntimeFunc(func(ctx context.Context, program *forge.Program, receiver *sandbox.Receiver) (any, error) {
		var value any
		if err := json.Unmarshal([]byte(program.Source), &value); err != nil {
			return nil, fmt.Errorf("program is not executable by this runtime: %w", err)
		}
		return value, nil
	})
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "forge: "+format+"\n", args...)
	os.Exit(1)
}
