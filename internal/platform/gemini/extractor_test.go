package gemini

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/sunlog-api/internal/config"
	"github.com/phrazzld/sunlog-api/internal/domain"
	"github.com/phrazzld/sunlog-api/internal/extraction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type call struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

// scriptedModels replays one response or error per call.
type scriptedModels struct {
	mu        sync.Mutex
	responses []*genai.GenerateContentResponse
	errs      []error
	calls     []call
}

func (s *scriptedModels) GenerateContent(
	_ context.Context,
	model string,
	contents []*genai.Content,
	cfg *genai.GenerateContentConfig,
) (*genai.GenerateContentResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.calls)
	s.calls = append(s.calls, call{model: model, contents: contents, config: cfg})
	var (
		resp *genai.GenerateContentResponse
		err  error
	)
	if i < len(s.responses) {
		resp = s.responses[i]
	}
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return resp, err
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Parts: []*genai.Part{{Text: text}}},
			FinishReason: genai.FinishReasonStop,
		}},
	}
}

func newTestExtractor(models contentGenerator, maxRetries int) (*Extractor, *[]time.Duration) {
	e := newExtractor(models, config.ExtractorConfig{
		ModelName:         "gemini-2.5-flash",
		MaxRetries:        maxRetries,
		RetryDelaySeconds: 1,
	}, nil)
	var slept []time.Duration
	e.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return e, &slept
}

var jpeg = []byte{0xff, 0xd8, 0xff}

func TestExtract_Success(t *testing.T) {
	models := &scriptedModels{responses: []*genai.GenerateContentResponse{
		textResponse("```json\n[{\"date\":\"2025-01-15\",\"time\":\"09:00\",\"m1\":45.5}]\n```"),
	}}
	e, slept := newTestExtractor(models, 3)

	readings, err := e.Extract(context.Background(), jpeg, "image/jpeg")
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.Equal(t, 45.5, readings[0].M1)
	assert.Empty(t, *slept)

	require.Len(t, models.calls, 1)
	c := models.calls[0]
	assert.Equal(t, "gemini-2.5-flash", c.model)
	assert.Equal(t, "application/json", c.config.ResponseMIMEType)
	require.Len(t, c.contents[0].Parts, 2)
	assert.Equal(t, ExtractionPrompt, c.contents[0].Parts[0].Text)
	assert.Equal(t, "image/jpeg", c.contents[0].Parts[1].InlineData.MIMEType)
	assert.Equal(t, jpeg, c.contents[0].Parts[1].InlineData.Data)
}

func TestExtract_RetriesTransientErrors(t *testing.T) {
	models := &scriptedModels{
		errs: []error{
			genai.APIError{Code: 503, Message: "overloaded"},
			errors.New("connection reset by peer"),
			nil,
		},
		responses: []*genai.GenerateContentResponse{nil, nil, textResponse(`[{"date":"2025-01-15","m1":1}]`)},
	}
	e, slept := newTestExtractor(models, 3)

	readings, err := e.Extract(context.Background(), jpeg, "image/jpeg")
	require.NoError(t, err)
	assert.Len(t, readings, 1)
	assert.Len(t, models.calls, 3)

	require.Len(t, *slept, 2)
	assert.GreaterOrEqual(t, (*slept)[0], 500*time.Millisecond)
	assert.Less(t, (*slept)[0], time.Second)
	assert.GreaterOrEqual(t, (*slept)[1], time.Second)
	assert.Less(t, (*slept)[1], 2*time.Second)
}

func TestExtract_GivesUpAfterMaxRetries(t *testing.T) {
	overloaded := genai.APIError{Code: 429, Message: "quota"}
	models := &scriptedModels{errs: []error{overloaded, overloaded, overloaded}}
	e, _ := newTestExtractor(models, 2)

	_, err := e.Extract(context.Background(), jpeg, "image/jpeg")
	assert.ErrorIs(t, err, extraction.ErrTransientFailure)
	assert.ErrorIs(t, err, domain.ErrExtractionFailed)
	assert.Len(t, models.calls, 3)
}

func TestExtract_PermanentFailures(t *testing.T) {
	tests := []struct {
		name    string
		resp    *genai.GenerateContentResponse
		err     error
		wantErr error
	}{
		{
			name:    "bad request",
			err:     genai.APIError{Code: 400, Message: "invalid image"},
			wantErr: domain.ErrExtractionFailed,
		},
		{
			name: "safety block",
			resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
				FinishReason: genai.FinishReasonSafety,
			}}},
			wantErr: extraction.ErrContentBlocked,
		},
		{
			name:    "no candidates",
			resp:    &genai.GenerateContentResponse{},
			wantErr: extraction.ErrInvalidResponse,
		},
		{
			name:    "prose instead of json",
			resp:    textResponse("Sorry, I can't read this."),
			wantErr: extraction.ErrInvalidResponse,
		},
		{
			name:    "nothing found",
			resp:    textResponse("[]"),
			wantErr: extraction.ErrNoReadings,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			models := &scriptedModels{
				responses: []*genai.GenerateContentResponse{tc.resp},
				errs:      []error{tc.err},
			}
			e, slept := newTestExtractor(models, 3)

			_, err := e.Extract(context.Background(), jpeg, "image/png")
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Len(t, models.calls, 1, "permanent errors are not retried")
			assert.Empty(t, *slept)
		})
	}
}

func TestExtract_CancelledDuringBackoff(t *testing.T) {
	models := &scriptedModels{errs: []error{genai.APIError{Code: 500}}}
	e, _ := newTestExtractor(models, 3)
	e.sleep = func(context.Context, time.Duration) error { return context.Canceled }

	_, err := e.Extract(context.Background(), jpeg, "image/jpeg")
	assert.ErrorIs(t, err, extraction.ErrTransientFailure)
	assert.Len(t, models.calls, 1)
}

func TestExtract_EmptyImage(t *testing.T) {
	models := &scriptedModels{}
	e, _ := newTestExtractor(models, 0)

	_, err := e.Extract(context.Background(), nil, "image/jpeg")
	assert.ErrorIs(t, err, extraction.ErrInvalidResponse)
	assert.Empty(t, models.calls)
}

func TestNewExtractor_RequiresKey(t *testing.T) {
	_, err := NewExtractor(context.Background(), config.ExtractorConfig{ModelName: "m"}, nil)
	assert.Error(t, err)
}
