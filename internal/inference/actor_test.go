package inference

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgerun/inferedge/internal/apperr"
)

func TestMockMode(t *testing.T) {
	a := Spawn(filepath.Join(t.TempDir(), "does-not-exist.gguf"), 4, nil)
	defer a.Shutdown()

	waitReady(t, a)
	assert.False(t, a.IsLoaded())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	text, err := a.Infer(ctx, "hi there friend", 512, 0.7)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "[MOCK] Prompt had 3 words."))
	assert.True(t, strings.HasSuffix(text, "Set MODEL_PATH to a valid .gguf file for real inference."))
}

func TestLoadedMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.gguf")
	require.NoError(t, os.WriteFile(path, []byte("gguf"), 0o644))

	a := Spawn(path, 4, nil)
	defer a.Shutdown()

	waitReady(t, a)
	assert.True(t, a.IsLoaded())
	assert.Equal(t, "model.gguf", a.ModelName())
}

func TestQueueFull(t *testing.T) {
	// An actor with no worker goroutine never drains its channel, so
	// filling the buffer directly deterministically triggers QueueFull.
	a := &Actor{jobs: make(chan job, QueueCapacity)}
	for i := 0; i < QueueCapacity; i++ {
		a.jobs <- job{prompt: "x", maxTokens: 1, temperature: 0, reply: make(chan jobResult, 1)}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := a.Infer(ctx, "one more", 1, 0)
	assert.ErrorIs(t, err, apperr.ErrQueueFull)
}

func TestInferTimeout(t *testing.T) {
	a := Spawn(filepath.Join(t.TempDir(), "missing.gguf"), 1, nil)
	defer a.Shutdown()
	waitReady(t, a)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)
	_, err := a.Infer(ctx, "slow", 1, 0)
	assert.ErrorIs(t, err, apperr.ErrTimeout)
}

func TestConcurrentInfer_EachCallAnswered(t *testing.T) {
	a := Spawn(filepath.Join(t.TempDir(), "missing.gguf"), 1, nil)
	defer a.Shutdown()
	waitReady(t, a)

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			text, err := a.Infer(ctx, "hello world", 512, 0.7)
			require.NoError(t, err)
			results[i] = text
		}(i)
	}
	wg.Wait()
	for _, r := range results {
		assert.Contains(t, r, "[MOCK]")
	}
}

func waitReady(t *testing.T, a *Actor) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !a.IsReady() {
		if time.Now().After(deadline) {
			t.Fatal("actor never became ready")
		}
		time.Sleep(time.Millisecond)
	}
}
