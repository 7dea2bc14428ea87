package extraction

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/sunlog-api/internal/domain"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func readingValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// rawReading mirrors the JSON a model returns; m1 is a pointer so that a
// missing value is distinguishable from zero.
type rawReading struct {
	Date  string   `json:"date"`
	Time  *string  `json:"time"`
	M1    *float64 `json:"m1"`
	M2    *float64 `json:"m2"`
	Notes *string  `json:"notes"`
}

// StripCodeFence removes a surrounding markdown code fence, with or without a
// language tag, from a model response.
func StripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	} else {
		text = strings.TrimPrefix(text, "json")
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// ParseReadings decodes a model response holding a JSON array of readings.
// Every row must be valid; an empty array yields ErrNoReadings.
func ParseReadings(text string) ([]domain.Reading, error) {
	body := StripCodeFence(text)
	if body == "" {
		return nil, fmt.Errorf("%w: empty response", ErrInvalidResponse)
	}

	var raws []rawReading
	if err := json.Unmarshal([]byte(body), &raws); err != nil {
		return nil, fmt.Errorf("%w: failed to parse JSON response: %v", ErrInvalidResponse, err)
	}
	if len(raws) == 0 {
		return nil, ErrNoReadings
	}

	readings := make([]domain.Reading, 0, len(raws))
	for i, r := range raws {
		if r.M1 == nil {
			return nil, fmt.Errorf("%w: reading %d: m1 is required", ErrInvalidResponse, i)
		}
		readings = append(readings, domain.Reading{
			Date:  r.Date,
			Time:  emptyToNil(r.Time),
			M1:    *r.M1,
			M2:    r.M2,
			Notes: emptyToNil(r.Notes),
		})
	}

	if err := ValidateReadings(readings); err != nil {
		return nil, err
	}
	return readings, nil
}

// ValidateReadings checks every reading against its validate tags.
func ValidateReadings(readings []domain.Reading) error {
	for i := range readings {
		if err := readingValidator().Struct(readings[i]); err != nil {
			return fmt.Errorf("%w: reading %d: %v", ErrInvalidResponse, i, err)
		}
	}
	return nil
}

func emptyToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
