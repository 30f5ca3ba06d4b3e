// forge-worker is the subprocess that executes dependency-bearing
// programs. The parent engine launches one worker per environment id and
// speaks line-delimited JSON over stdin/stdout. Closing stdin is the
// graceful-shutdown signal.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/deepnoodle-ai/forge/worker"
)

func main() {
	ctx := context.Background()
	if err := worker.Serve(ctx, os.Stdin, os.Stdout, execute); err != nil {
		fmt.Fprintf(os.Stderr, "forge-worker: %v\n", err)
		os.Exit(1)
	}
}

// execute runs one request. This binary ships with a small demonstration
// runtime: the program source is expected to be a JSON value describing
// the result. Deployments embed their own interpreter here.
func execute(ctx context.Context, request *worker.Request) (any, map[string]any, error) {
	var value any
	if err := json.Unmarshal([]byte(request.Code), &value); err != nil {
		return nil, request.Context, fmt.Errorf("program is not executable by this worker: %w", err)
	}
	return value, request.Context, nil
}
