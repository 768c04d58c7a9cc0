// Package inference implements the single-model inference actor: one
// dedicated worker goroutine (pinned to its own OS thread, since the
// eventual native model handle is not safely shared across threads)
// owns the model and serializes all generation through a bounded
// queue.
package inference

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/edgerun/inferedge/internal/apperr"
	"github.com/edgerun/inferedge/internal/metrics"
)

const (
	// QueueCapacity bounds the number of jobs waiting for the worker.
	QueueCapacity = 32
	// ContextWindow is the fixed context size the worker requests.
	ContextWindow = 2048

	minTokens  = 1
	maxTokens  = 512
	minTemp    = 0.0
	maxTemp    = 2.0
)

type workerState int32

const (
	stateInitializing workerState = iota
	stateLoaded
	stateMock
	stateLoadFailed
)

type job struct {
	prompt      string
	maxTokens   int
	temperature float64
	reply       chan jobResult
}

type jobResult struct {
	text string
	err  error
}

// Actor owns the model lifecycle and fronts it with a bounded FIFO
// queue. Construct with Spawn; it returns immediately while loading
// proceeds on the worker goroutine.
type Actor struct {
	jobs      chan job
	ready     atomic.Bool
	state     atomic.Int32
	modelName string
	threads   int
	log       *slog.Logger
	done      chan struct{}
}

// Spawn creates the actor and starts its worker goroutine. The worker
// enters mock mode when modelPath does not exist, load-failed when it
// cannot be inspected for any other reason, and loaded otherwise.
func Spawn(modelPath string, threads int, log *slog.Logger) *Actor {
	if log == nil {
		log = slog.Default()
	}
	a := &Actor{
		jobs:      make(chan job, QueueCapacity),
		modelName: deriveModelName(modelPath),
		threads:   threads,
		log:       log,
		done:      make(chan struct{}),
	}
	go a.workerLoop(modelPath)
	return a
}

func deriveModelName(modelPath string) string {
	if modelPath == "" {
		return "unknown-model"
	}
	base := filepath.Base(modelPath)
	if base == "." || base == string(filepath.Separator) {
		return "unknown-model"
	}
	return base
}

// ModelName returns the configured model's base file name, or
// "unknown-model" if none was configured.
func (a *Actor) ModelName() string {
	return a.modelName
}

// IsReady reports whether the worker has either loaded the model or
// decisively entered mock or load-failed mode.
func (a *Actor) IsReady() bool {
	return a.ready.Load()
}

// IsLoaded reports whether a real model was loaded (as opposed to
// mock or load-failed) — distinct from IsReady, which is true in all
// three terminal states. The readiness endpoint's llm_loaded signal
// reports IsReady, not IsLoaded.
func (a *Actor) IsLoaded() bool {
	return workerState(a.state.Load()) == stateLoaded
}

func (a *Actor) workerLoop(modelPath string) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var backend Backend
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		a.log.Warn("model file not found, entering mock mode", "path", modelPath, "error", err)
		a.state.Store(int32(stateMock))
	} else if err != nil {
		a.log.Error("model failed to load", "path", modelPath, "error", err)
		a.state.Store(int32(stateLoadFailed))
	} else {
		backend = newPlaceholderBackend(a.modelName)
		a.log.Info("model loaded", "path", modelPath, "context_window", ContextWindow, "threads", a.threads)
		a.state.Store(int32(stateLoaded))
	}
	a.ready.Store(true)

	for j := range a.jobs {
		metrics.InferenceQueueDepth.Set(float64(len(a.jobs)))
		start := time.Now()
		text, err := a.process(backend, j)
		if err != nil {
			metrics.ObserveInference("error", time.Since(start))
		} else {
			metrics.ObserveInference("ok", time.Since(start))
		}
		a.deliver(j, jobResult{text: text, err: err})
	}
	close(a.done)
}

func (a *Actor) process(backend Backend, j job) (string, error) {
	switch workerState(a.state.Load()) {
	case stateMock:
		return mockInfer(j.prompt), nil
	case stateLoadFailed:
		return "", apperr.New(apperr.CodeLLM, "model failed to load")
	default:
		text, err := backend.Generate(j.prompt, j.maxTokens, j.temperature, a.threads, defaultSamplerParams())
		if err != nil {
			return "", apperr.Wrap(apperr.CodeLLM, "inference failed", err)
		}
		return truncate(strings.TrimSpace(text), j.maxTokens), nil
	}
}

// deliver sends the result to the caller's reply channel without
// blocking forever: if the caller already timed out and stopped
// reading, the reply channel has buffer 1, so this never blocks.
func (a *Actor) deliver(j job, res jobResult) {
	select {
	case j.reply <- res:
	default:
		a.log.Debug("discarding reply for abandoned job")
	}
}

func mockInfer(prompt string) string {
	words := len(strings.Fields(prompt))
	return fmt.Sprintf(
		"[MOCK] Prompt had %d words. Set MODEL_PATH to a valid .gguf file for real inference.",
		words,
	)
}

// truncate caps text at approximately maxTok tokens, using the same
// 4-characters-per-token approximation used for usage accounting
// elsewhere in the gateway.
func truncate(text string, maxTok int) string {
	limit := maxTok * 4
	if limit <= 0 || len(text) <= limit {
		return text
	}
	return strings.TrimSpace(text[:limit])
}

func clampTokens(n int) int {
	if n < minTokens {
		return minTokens
	}
	if n > maxTokens {
		return maxTokens
	}
	return n
}

func clampTemperature(t float64) float64 {
	if t < minTemp {
		return minTemp
	}
	if t > maxTemp {
		return maxTemp
	}
	return t
}

// Infer enqueues a job and awaits its reply, failing fast on a full
// queue and with apperr.ErrTimeout when ctx's deadline elapses first.
func (a *Actor) Infer(ctx context.Context, prompt string, maxTok int, temperature float64) (string, error) {
	reply := make(chan jobResult, 1)
	j := job{
		prompt:      prompt,
		maxTokens:   clampTokens(maxTok),
		temperature: clampTemperature(temperature),
		reply:       reply,
	}

	select {
	case a.jobs <- j:
		metrics.InferenceQueueDepth.Set(float64(len(a.jobs)))
	default:
		metrics.ObserveInference("queue_full", 0)
		return "", apperr.ErrQueueFull
	}

	select {
	case res := <-reply:
		return res.text, res.err
	case <-ctx.Done():
		metrics.ObserveInference("timeout", 0)
		return "", apperr.ErrTimeout
	}
}

// Shutdown closes the job channel; the worker finishes its current
// job (if any) and exits.
func (a *Actor) Shutdown() {
	close(a.jobs)
	<-a.done
}
