package worker

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/deepnoodle-ai/forge/environment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{
			name: "valid envelope",
			raw:  `{"id":"r1","method":"fetch","code":"return 1"}`,
		},
		{
			name: "valid with args and context",
			raw:  `{"id":"r1","method":"fetch","code":"x","args":[1,"a"],"kwargs":{"k":1},"context":{}}`,
		},
		{
			name:    "missing method",
			raw:     `{"id":"r1","code":"x"}`,
			wantErr: "invalid request envelope",
		},
		{
			name:    "empty id",
			raw:     `{"id":"","method":"fetch","code":"x"}`,
			wantErr: "invalid request envelope",
		},
		{
			name:    "args not an array",
			raw:     `{"id":"r1","method":"fetch","code":"x","args":{"not":"array"}}`,
			wantErr: "invalid request envelope",
		},
		{
			name:    "not json",
			raw:     `{broken`,
			wantErr: "decode request",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRequest([]byte(tt.raw))
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestCheckSerializable(t *testing.T) {
	ok := &Request{ID: "r1", Method: "fetch", Code: "x", Args: []any{1, "a"}}
	assert.NoError(t, CheckSerializable(ok))

	bad := &Request{ID: "r1", Method: "fetch", Code: "x", Args: []any{make(chan int)}}
	err := CheckSerializable(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not plain serializable data")
}

func TestServeLoop(t *testing.T) {
	input := strings.Join([]string{
		`{"id":"r1","method":"double","code":"x","args":[21]}`,
		`{"no":"good"}`,
		`{"id":"r2","method":"boom","code":"x"}`,
	}, "\n") + "\n"
	var output bytes.Buffer

	err := Serve(context.Background(), strings.NewReader(input), &output,
		func(ctx context.Context, request *Request) (any, map[string]any, error) {
			if request.Method == "boom" {
				return nil, nil, errors.New("kaput")
			}
			return 42, map[string]any{"seen": request.ID}, nil
		})
	require.NoError(t, err, "EOF is a graceful shutdown")

	lines := strings.Split(strings.TrimSpace(output.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], `"status":"ok"`)
	assert.Contains(t, lines[0], `"value":42`)
	assert.Contains(t, lines[1], `"invalid_request"`)
	assert.Contains(t, lines[2], `"execution_error"`)
	assert.Contains(t, lines[2], "kaput")
}

// echoCommand builds a worker that answers every request line with a
// fixed valid response.
func echoCommand(envID, dir string) *exec.Cmd {
	return exec.Command("sh", "-c",
		`while read line; do printf '{"id":"r1","status":"ok","value":7,"worker_pid":0,"restarts":0}\n'; done`)
}

// crashCommand builds a worker that exits before answering anything.
func crashCommand(envID, dir string) *exec.Cmd {
	return exec.Command("sh", "-c", "read line; exit 1")
}

// hangCommand builds a worker that reads a request and never answers.
func hangCommand(envID, dir string) *exec.Cmd {
	return exec.Command("sh", "-c", "read line; sleep 60")
}

func testRequest() *Request {
	return &Request{ID: "r1", Method: "fetch", Code: "return 7"}
}

func TestExecutorCall(t *testing.T) {
	executor, err := StartExecutor("env-a", t.TempDir(), echoCommand)
	require.NoError(t, err)
	defer executor.Shutdown()

	response, err := executor.Call(context.Background(), testRequest(), 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, response.Status)
	assert.EqualValues(t, 7, response.Value)
}

func TestExecutorCrash(t *testing.T) {
	executor, err := StartExecutor("env-a", t.TempDir(), crashCommand)
	require.NoError(t, err)

	_, err = executor.Call(context.Background(), testRequest(), 5*time.Second)
	var crash *CrashError
	require.ErrorAs(t, err, &crash)
	assert.Equal(t, "env-a", crash.EnvID)
}

func TestExecutorTimeoutKillsWorker(t *testing.T) {
	executor, err := StartExecutor("env-a", t.TempDir(), hangCommand)
	require.NoError(t, err)

	start := time.Now()
	_, err = executor.Call(context.Background(), testRequest(), 100*time.Millisecond)
	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Less(t, time.Since(start), 5*time.Second, "deadline enforced by killing, not waiting")
}

func TestSupervisorRestartBudget(t *testing.T) {
	supervisor := NewSupervisor(SupervisorOptions{
		Command:     crashCommand,
		MaxRestarts: 1,
		CallTimeout: 5 * time.Second,
	})
	defer supervisor.Shutdown()
	env := &environment.Handle{ID: "env-a", Dir: t.TempDir()}
	ctx := context.Background()

	// Crashes within the budget return the raw crash error; each one
	// burns a restart.
	_, err := supervisor.Execute(ctx, env, testRequest())
	var crash *CrashError
	require.ErrorAs(t, err, &crash)

	// The crash past the budget is terminal.
	_, err = supervisor.Execute(ctx, env, testRequest())
	var exhausted *BudgetExhaustedError
	require.ErrorAs(t, err, &exhausted)

	// Further calls for the same environment fail without spawning.
	_, err = supervisor.Execute(ctx, env, testRequest())
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "env-a", exhausted.EnvID)
}

func TestSupervisorSuccessResetsBudget(t *testing.T) {
	launches := 0
	command := func(envID, dir string) *exec.Cmd {
		launches++
		if launches == 1 {
			return crashCommand(envID, dir)
		}
		return echoCommand(envID, dir)
	}
	supervisor := NewSupervisor(SupervisorOptions{
		Command:     command,
		MaxRestarts: 1,
		CallTimeout: 5 * time.Second,
	})
	defer supervisor.Shutdown()
	env := &environment.Handle{ID: "env-a", Dir: t.TempDir()}
	ctx := context.Background()

	_, err := supervisor.Execute(ctx, env, testRequest())
	var crash *CrashError
	require.ErrorAs(t, err, &crash)

	response, err := supervisor.Execute(ctx, env, testRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, response.Restarts)

	// A later crash starts a fresh budget instead of compounding.
	supervisor.Shutdown()
	launches = 0
	_, err = supervisor.Execute(ctx, env, testRequest())
	require.ErrorAs(t, err, &crash)
	var exhausted *BudgetExhaustedError
	assert.False(t, errors.As(err, &exhausted))
}

func TestSupervisorEnvironmentSwitch(t *testing.T) {
	supervisor := NewSupervisor(SupervisorOptions{
		Command:     crashCommand,
		MaxRestarts: 1,
		CallTimeout: 5 * time.Second,
	})
	defer supervisor.Shutdown()
	ctx := context.Background()
	envA := &environment.Handle{ID: "env-a", Dir: t.TempDir()}
	envB := &environment.Handle{ID: "env-b", Dir: t.TempDir()}

	supervisor.Execute(ctx, envA, testRequest())
	supervisor.Execute(ctx, envA, testRequest())
	_, err := supervisor.Execute(ctx, envA, testRequest())
	var exhausted *BudgetExhaustedError
	require.ErrorAs(t, err, &exhausted)

	// A different environment gets its own fresh budget.
	_, err = supervisor.Execute(ctx, envB, testRequest())
	var crash *CrashError
	require.ErrorAs(t, err, &crash)
}
