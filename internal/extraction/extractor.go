package extraction

import (
	"context"
	"fmt"

	"github.com/phrazzld/sunlog-api/internal/domain"
)

// Extractor reads solar production readings out of an image.
type Extractor interface {
	// Name identifies the provider in audit records.
	Name() string

	// Extract returns the readings found in the image. It returns
	// ErrNoReadings when the image holds none, and an error wrapping
	// domain.ErrExtractionFailed for every other failure.
	Extract(ctx context.Context, data []byte, mimeType string) ([]domain.Reading, error)
}

// SafeExtract calls ex and converts a panic into ErrExtractorPanicked.
func SafeExtract(ctx context.Context, ex Extractor, data []byte, mimeType string) (readings []domain.Reading, err error) {
	defer func() {
		if p := recover(); p != nil {
			readings = nil
			err = fmt.Errorf("%w: %v", ErrExtractorPanicked, p)
		}
	}()
	return ex.Extract(ctx, data, mimeType)
}
