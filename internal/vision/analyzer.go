package vision

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mixelka/repa/internal/llm"
	"github.com/mixelka/repa/internal/metrics"
	"github.com/mixelka/repa/pkg/models"
)

const imagePrompt = `Analyze this apartment/property image. Identify:
1. Room type (living room, bedroom, kitchen, bathroom, exterior, view, etc.)
2. Key features and condition (modern, renovated, spacious, natural light, etc.)
3. Furnishing status (furnished, unfurnished, partially furnished)
4. Notable amenities or highlights
5. Overall impression (scale 1-10)

Be concise but specific. Focus on details that would matter to a renter.`

// Config for the image analyzer
type Config struct {
	Model        string
	Concurrency  int
	ImageTimeout time.Duration
	MaxTokens    int
}

// Analyzer describes listing images with a vision model
type Analyzer struct {
	llm    llm.Completer
	cfg    Config
	logger *slog.Logger
}

// New creates a new image analyzer
func New(completer llm.Completer, cfg Config, logger *slog.Logger) *Analyzer {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.ImageTimeout <= 0 {
		cfg.ImageTimeout = 30 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 300
	}

	return &Analyzer{
		llm:    completer,
		cfg:    cfg,
		logger: logger.With("component", "vision"),
	}
}

// Analyze describes every image independently.
// The result has one entry per input URL, in input order. Failed images carry an error and no description.
func (a *Analyzer) Analyze(ctx context.Context, urls []string) []models.ImageAnalysisResult {
	results := make([]models.ImageAnalysisResult, len(urls))

	var g errgroup.Group
	g.SetLimit(a.cfg.Concurrency)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			results[i] = a.analyzeOne(ctx, u)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (a *Analyzer) analyzeOne(ctx context.Context, imageURL string) models.ImageAnalysisResult {
	result := models.ImageAnalysisResult{URL: imageURL}

	imgCtx, cancel := context.WithTimeout(ctx, a.cfg.ImageTimeout)
	defer cancel()

	out, err := a.llm.Complete(imgCtx, llm.CompletionRequest{
		Model:     a.cfg.Model,
		User:      imagePrompt,
		ImageURL:  imageURL,
		MaxTokens: a.cfg.MaxTokens,
	})
	if err == nil && strings.TrimSpace(out) == "" {
		err = fmt.Errorf("empty description")
	}
	if err != nil {
		a.logger.Warn("Image analysis failed", "url", imageURL, "error", err)
		reason := err.Error()
		result.Error = &reason
		metrics.RecordImage(true)
		return result
	}

	description := strings.TrimSpace(out)
	result.Description = &description
	metrics.RecordImage(false)
	return result
}
