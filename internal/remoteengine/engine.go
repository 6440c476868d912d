// Package remoteengine submits calculation tasks to a kiln compute daemon
// over a socket.io transport. Each submission opens a connection, emits the
// task and waits for the daemon's result or error event, bounded by a
// per-task timeout.
package remoteengine

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/zclconf/go-cty/cty"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"

	"github.com/kilnworks/kiln/internal/ctxlog"
	"github.com/kilnworks/kiln/internal/engine"
)

// Event names of the compute daemon protocol.
const (
	runEvent    = "task:run"
	resultEvent = "task:result"
	errorEvent  = "task:error"
)

// Config locates the compute daemon.
type Config struct {
	// URL is the daemon endpoint, e.g. "https://hpc-gw.example.com/kiln/".
	URL string
	// Namespace is the socket.io namespace tasks are submitted under.
	Namespace string
	// Timeout bounds one task submission end to end. Defaults to an hour;
	// calculations are long-running.
	Timeout time.Duration
	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool
}

// Engine submits tasks to a remote compute daemon.
type Engine struct {
	cfg Config
}

// New creates a remote engine from its configuration.
func New(cfg Config) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Hour
	}
	return &Engine{cfg: cfg}
}

// opResult safely passes one submission's outcome through the done channel.
type opResult struct {
	outputs map[string]cty.Value
	files   []string
	err     error
}

// Run submits one task and waits for the daemon to report its result.
func (e *Engine) Run(ctx context.Context, req *engine.Request) (*engine.Result, error) {
	logger := ctxlog.FromContext(ctx).With("engine", "remote", "url", e.cfg.URL, "stage", req.Stage, "item", req.Item)
	logger.Debug("Submitting task")
	defer logger.Debug("Submission finished")

	var isConnected atomic.Bool

	done := make(chan opResult, 1)
	opCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	payload, err := req.WireJSON()
	if err != nil {
		return nil, err
	}
	var emitData map[string]any
	if err := json.Unmarshal(payload, &emitData); err != nil {
		return nil, fmt.Errorf("preparing task payload: %w", err)
	}

	parsedURL, err := url.Parse(e.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	opts := socket.DefaultOptions()
	opts.SetPath(parsedURL.Path)

	if e.cfg.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(e.cfg.Namespace, opts)
	defer func() {
		logger.Debug("Disconnecting from compute daemon")
		io.Disconnect()
	}()

	io.On(types.EventName("connect"), func(...any) {
		isConnected.Store(true)
		logger.Info("Connected to compute daemon", "namespace", e.cfg.Namespace, "sid", io.Id())
		io.Emit(runEvent, emitData)
	})

	io.On(types.EventName("connect_error"), func(errs ...any) {
		done <- opResult{err: errs[0].(error)}
	})

	io.On(types.EventName(resultEvent), func(data ...any) {
		done <- decodeResult(data)
	})

	io.On(types.EventName(errorEvent), func(data ...any) {
		done <- opResult{err: decodeError(data)}
	})

	start := time.Now()
	io.Connect()

	select {
	case <-opCtx.Done():
		if isConnected.Load() {
			return nil, fmt.Errorf("timed out after connecting while waiting for task '%s' to finish", req.Stage)
		}
		return nil, fmt.Errorf("timed out while waiting for initial connection")
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		return &engine.Result{Outputs: res.outputs, Files: res.files, Elapsed: time.Since(start)}, nil
	}
}

// decodeResult parses the daemon's result event payload.
func decodeResult(data []any) opResult {
	if len(data) == 0 {
		return opResult{err: fmt.Errorf("compute daemon sent an empty result payload")}
	}
	raw, err := json.Marshal(data[0])
	if err != nil {
		return opResult{err: fmt.Errorf("re-encoding result payload: %w", err)}
	}

	var payload struct {
		Outputs json.RawMessage `json:"outputs"`
		Files   []string        `json:"files"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return opResult{err: fmt.Errorf("parsing result payload: %w", err)}
	}

	outputs := map[string]cty.Value{}
	if len(payload.Outputs) > 0 {
		outputs, err = engine.DecodeOutputs(payload.Outputs)
		if err != nil {
			return opResult{err: err}
		}
	}
	return opResult{outputs: outputs, files: payload.Files}
}

// decodeError parses the daemon's error event payload.
func decodeError(data []any) error {
	if len(data) == 0 {
		return fmt.Errorf("compute daemon reported an unspecified failure")
	}
	if m, ok := data[0].(map[string]any); ok {
		if msg, ok := m["message"].(string); ok {
			return fmt.Errorf("compute daemon: %s", msg)
		}
	}
	return fmt.Errorf("compute daemon: %v", data[0])
}
