package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

// TimeoutError is returned when a worker fails to answer within the
// deadline. The process has already been killed by the time Call returns.
type TimeoutError struct {
	EnvID   string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("worker for env %s timed out after %s", e.EnvID, e.Elapsed)
}

// CrashError is returned when the worker process exits or its pipe breaks
// mid-request.
type CrashError struct {
	EnvID  string
	Reason string
}

func (e *CrashError) Error() string {
	return fmt.Sprintf("worker for env %s crashed: %s", e.EnvID, e.Reason)
}

// CommandFunc builds the exec.Cmd that launches a worker bound to an
// environment directory. Injected so tests can substitute a stub binary.
type CommandFunc func(envID, dir string) *exec.Cmd

// Executor owns a single live worker subprocess and serializes requests
// to it. Timeouts are enforced from the outside by killing the process;
// the executed code is untrusted and is never asked to yield.
type Executor struct {
	envID   string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	scanner *bufio.Scanner
	mutex   sync.Mutex
	pid     int
}

// StartExecutor launches a worker for the given environment.
func StartExecutor(envID, dir string, command CommandFunc) (*Executor, error) {
	cmd := command(envID, dir)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Executor{
		envID:   envID,
		cmd:     cmd,
		stdin:   stdin,
		scanner: scanner,
		pid:     cmd.Process.Pid,
	}, nil
}

func (e *Executor) PID() int { return e.pid }

// Call sends one request and waits for its response. At most one request
// is in flight per worker. On timeout the process is killed and a
// *TimeoutError returned; on a broken pipe or early exit a *CrashError.
func (e *Executor) Call(ctx context.Context, request *Request, timeout time.Duration) (*Response, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if err := CheckSerializable(request); err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	if _, err := e.stdin.Write(append(encoded, '\n')); err != nil {
		return nil, &CrashError{EnvID: e.envID, Reason: fmt.Sprintf("write request: %v", err)}
	}

	type result struct {
		response *Response
		err      error
	}
	done := make(chan result, 1)
	go func() {
		if !e.scanner.Scan() {
			reason := "worker closed its output"
			if err := e.scanner.Err(); err != nil {
				reason = err.Error()
			}
			done <- result{err: &CrashError{EnvID: e.envID, Reason: reason}}
			return
		}
		var response Response
		if err := json.Unmarshal(e.scanner.Bytes(), &response); err != nil {
			done <- result{err: &CrashError{EnvID: e.envID, Reason: fmt.Sprintf("malformed response: %v", err)}}
			return
		}
		done <- result{response: &response}
	}()

	start := time.Now()
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case r := <-done:
		if r.err != nil {
			e.kill()
			return nil, r.err
		}
		return r.response, nil
	case <-timer:
		e.kill()
		return nil, &TimeoutError{EnvID: e.envID, Elapsed: time.Since(start)}
	case <-ctx.Done():
		e.kill()
		return nil, ctx.Err()
	}
}

// Shutdown closes the worker's stdin and waits briefly for a clean exit,
// killing it if it lingers.
func (e *Executor) Shutdown() {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.stdin.Close()
	done := make(chan struct{})
	go func() {
		e.cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		if e.cmd.Process != nil {
			e.cmd.Process.Kill()
		}
		<-done
	}
}

func (e *Executor) kill() {
	if e.cmd.Process != nil {
		e.cmd.Process.Kill()
	}
	go e.cmd.Wait()
}
