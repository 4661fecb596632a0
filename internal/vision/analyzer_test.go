package vision

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixelka/repa/internal/llm"
)

// fakeVision answers per image URL and tracks concurrency
type fakeVision struct {
	answers  map[string]string
	failures map[string]error
	delay    time.Duration
	active   atomic.Int32
	peak     atomic.Int32
}

func (f *fakeVision) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err, ok := f.failures[req.ImageURL]; ok {
		return "", err
	}
	return f.answers[req.ImageURL], nil
}

func newAnalyzer(c llm.Completer, cfg Config) *Analyzer {
	return New(c, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAnalyze_PartialFailure(t *testing.T) {
	fake := &fakeVision{
		answers: map[string]string{
			"https://img.ch/1.jpg": "Bright living room",
			"https://img.ch/3.jpg": "Modern kitchen",
			"https://img.ch/4.jpg": "   ",
		},
		failures: map[string]error{
			"https://img.ch/2.jpg": errors.New("image too large"),
		},
	}
	a := newAnalyzer(fake, Config{Concurrency: 2})

	urls := []string{"https://img.ch/1.jpg", "https://img.ch/2.jpg", "https://img.ch/3.jpg", "https://img.ch/4.jpg"}
	results := a.Analyze(context.Background(), urls)
	require.Len(t, results, 4)

	for i, u := range urls {
		assert.Equal(t, u, results[i].URL)
	}

	require.NotNil(t, results[0].Description)
	assert.Equal(t, "Bright living room", *results[0].Description)
	assert.Nil(t, results[0].Error)

	assert.Nil(t, results[1].Description)
	require.NotNil(t, results[1].Error)
	assert.Contains(t, *results[1].Error, "image too large")
	assert.True(t, results[1].Failed())

	require.NotNil(t, results[2].Description)
	assert.Equal(t, "Modern kitchen", *results[2].Description)

	assert.Nil(t, results[3].Description)
	assert.NotNil(t, results[3].Error)
}

func TestAnalyze_Empty(t *testing.T) {
	a := newAnalyzer(&fakeVision{}, Config{})

	results := a.Analyze(context.Background(), nil)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestAnalyze_ConcurrencyBounded(t *testing.T) {
	fake := &fakeVision{answers: map[string]string{}, delay: 20 * time.Millisecond}
	urls := make([]string, 8)
	for i := range urls {
		urls[i] = "https://img.ch/" + string(rune('a'+i)) + ".jpg"
		fake.answers[urls[i]] = "room"
	}
	a := newAnalyzer(fake, Config{Concurrency: 3})

	results := a.Analyze(context.Background(), urls)
	assert.Len(t, results, 8)
	assert.LessOrEqual(t, fake.peak.Load(), int32(3))
}

func TestAnalyze_PerImageTimeout(t *testing.T) {
	fake := &fakeVision{answers: map[string]string{"https://img.ch/slow.jpg": "late"}, delay: time.Second}
	a := newAnalyzer(fake, Config{ImageTimeout: 20 * time.Millisecond})

	results := a.Analyze(context.Background(), []string{"https://img.ch/slow.jpg"})
	require.Len(t, results, 1)
	assert.Nil(t, results[0].Description)
	require.NotNil(t, results[0].Error)
	assert.Contains(t, *results[0].Error, context.DeadlineExceeded.Error())
}
