package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/phrazzld/sunlog-api/internal/config"
	"github.com/phrazzld/sunlog-api/internal/domain"
	"github.com/phrazzld/sunlog-api/internal/extraction"
	"google.golang.org/genai"
)

// ProviderName is recorded in audit rows for readings produced by Gemini.
const ProviderName = "gemini"

// contentGenerator is the subset of *genai.Models the extractor calls.
type contentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Extractor extracts readings with a Gemini model.
type Extractor struct {
	models     contentGenerator
	model      string
	maxRetries int
	baseDelay  time.Duration
	timeout    time.Duration
	logger     *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
	sleep func(ctx context.Context, d time.Duration) error
}

var _ extraction.Extractor = (*Extractor)(nil)

// NewExtractor creates a Gemini client from cfg.
func NewExtractor(ctx context.Context, cfg config.ExtractorConfig, logger *slog.Logger) (*Extractor, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("gemini api key cannot be empty")
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("gemini model name cannot be empty")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return newExtractor(client.Models, cfg, logger), nil
}

func newExtractor(models contentGenerator, cfg config.ExtractorConfig, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	baseDelay := time.Duration(cfg.RetryDelaySeconds) * time.Second
	if baseDelay <= 0 {
		baseDelay = 2 * time.Second
	}

	return &Extractor{
		models:     models,
		model:      cfg.ModelName,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		timeout:    cfg.Timeout,
		logger:     logger.With(slog.String("component", "gemini_extractor"), slog.String("model", cfg.ModelName)),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:      sleepContext,
	}
}

// Name implements extraction.Extractor.
func (e *Extractor) Name() string {
	return ProviderName
}

// Extract implements extraction.Extractor.
func (e *Extractor) Extract(ctx context.Context, data []byte, mimeType string) ([]domain.Reading, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", extraction.ErrInvalidResponse)
	}

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{Text: ExtractionPrompt},
			{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}},
		},
	}}
	genConfig := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}

	for attempt := 0; ; attempt++ {
		attemptNum := attempt + 1
		e.logger.InfoContext(ctx, "making gemini api call",
			slog.Int("attempt", attemptNum),
			slog.Int("max_attempts", e.maxRetries+1))

		text, err := e.generate(ctx, contents, genConfig)
		if err == nil {
			readings, parseErr := extraction.ParseReadings(text)
			if parseErr != nil {
				e.logger.WarnContext(ctx, "gemini response rejected",
					slog.String("error", parseErr.Error()))
				return nil, parseErr
			}
			e.logger.InfoContext(ctx, "gemini extraction succeeded",
				slog.Int("attempt", attemptNum),
				slog.Int("readings", len(readings)))
			return readings, nil
		}

		if !isTransient(err) {
			e.logger.WarnContext(ctx, "permanent gemini error, not retrying",
				slog.String("error", err.Error()))
			if errors.Is(err, domain.ErrExtractionFailed) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", domain.ErrExtractionFailed, err)
		}

		if attempt >= e.maxRetries {
			e.logger.WarnContext(ctx, "maximum retry attempts reached",
				slog.Int("max_retries", e.maxRetries),
				slog.String("error", err.Error()))
			return nil, fmt.Errorf("%w: exceeded maximum retry attempts (%d): %v",
				extraction.ErrTransientFailure, e.maxRetries, err)
		}

		delay := e.backoff(attempt)
		e.logger.InfoContext(ctx, "retrying gemini call after delay",
			slog.Int("attempt", attemptNum),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))

		if err := e.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("%w: %v", extraction.ErrTransientFailure, err)
		}
	}
}

func (e *Extractor) generate(
	ctx context.Context,
	contents []*genai.Content,
	genConfig *genai.GenerateContentConfig,
) (string, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	resp, err := e.models.GenerateContent(ctx, e.model, contents, genConfig)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return "", fmt.Errorf("%w: no candidates in response", extraction.ErrInvalidResponse)
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", extraction.ErrContentBlocked
	}
	if candidate.Content == nil {
		return "", fmt.Errorf("%w: empty content in response", extraction.ErrInvalidResponse)
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}

// backoff returns baseDelay * 2^attempt scaled by a jitter factor in [0.5, 1).
func (e *Extractor) backoff(attempt int) time.Duration {
	e.rngMu.Lock()
	jitter := 0.5 + e.rng.Float64()*0.5
	e.rngMu.Unlock()

	return time.Duration(float64(e.baseDelay) * math.Pow(2, float64(attempt)) * jitter)
}

// isTransient reports whether a failed call may succeed when retried.
func isTransient(err error) bool {
	if errors.Is(err, domain.ErrExtractionFailed) || errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		default:
			return false
		}
	}
	// network failures and per-attempt deadlines
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
