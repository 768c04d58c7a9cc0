package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/edgerun/inferedge/internal/apperr"
	"github.com/edgerun/inferedge/internal/metrics"
)

// Timeout is the hard deadline for a single plugin invocation.
const Timeout = 10 * time.Second

const pollInterval = 50 * time.Millisecond

// Runner spawns one child process per invocation and speaks the
// single-line-JSON stdin/stdout protocol with it. No state is shared
// between calls.
type Runner struct {
	dir string
	log hclog.Logger
}

// NewRunner builds a runner rooted at dir (the plugin directory).
func NewRunner(dir string, log hclog.Logger) *Runner {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Runner{dir: dir, log: log}
}

// Run invokes the named plugin with request, enforcing the hard
// timeout via a 50ms poll loop and killing the child unconditionally
// on expiry. ctx cancellation is honored in addition to the fixed
// deadline.
func (r *Runner) Run(ctx context.Context, pluginName string, request Request) (Response, error) {
	binary := filepath.Join(r.dir, pluginName)
	if _, err := os.Stat(binary); err != nil {
		return Response{}, apperr.New(apperr.CodePlugin, fmt.Sprintf("plugin binary not found: %s", binary))
	}

	input, err := json.Marshal(request)
	if err != nil {
		return Response{}, apperr.Wrap(apperr.CodePlugin, "failed to serialize plugin request", err)
	}

	r.log.Debug("launching plugin", "plugin", pluginName, "input", string(input))

	cmd := exec.Command(binary)
	cmd.Stdin = bytes.NewReader(input)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	// Once the child has exited (or been killed), stop waiting for its
	// stdout after a short grace period, so a grandchild that inherited
	// the pipe cannot hold Wait open past the kill.
	cmd.WaitDelay = time.Second

	if err := cmd.Start(); err != nil {
		metrics.ObservePluginInvocation(pluginName, "spawn_error")
		return Response{}, apperr.Wrap(apperr.CodePlugin, fmt.Sprintf("failed to spawn %q", pluginName), err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	deadline := time.Now().Add(Timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-waitErr:
			_ = err // exit code is ignored; only stdout JSON matters
			return r.decode(pluginName, stdout.Bytes())
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			<-waitErr
			metrics.ObservePluginInvocation(pluginName, "cancelled")
			return Response{}, apperr.Wrap(apperr.CodePlugin, fmt.Sprintf("plugin %q cancelled", pluginName), ctx.Err())
		case <-ticker.C:
			if time.Now().After(deadline) {
				_ = cmd.Process.Kill()
				<-waitErr
				metrics.ObservePluginInvocation(pluginName, "timeout")
				return Response{}, apperr.New(apperr.CodePlugin, fmt.Sprintf("plugin %q timed out after %s", pluginName, Timeout))
			}
		}
	}
}

func (r *Runner) decode(pluginName string, stdout []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(stdout, &resp); err != nil {
		metrics.ObservePluginInvocation(pluginName, "invalid_json")
		raw := string(stdout)
		if len(raw) > 200 {
			raw = raw[:200]
		}
		return Response{}, apperr.Wrap(apperr.CodePlugin,
			fmt.Sprintf("plugin %q returned invalid JSON | raw: %s", pluginName, raw), err)
	}
	if resp.Success {
		metrics.ObservePluginInvocation(pluginName, "ok")
	} else {
		metrics.ObservePluginInvocation(pluginName, "plugin_error")
	}
	return resp, nil
}
