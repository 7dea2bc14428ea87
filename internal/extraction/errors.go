package extraction

import (
	"fmt"

	"github.com/phrazzld/sunlog-api/internal/domain"
)

// Common errors returned by extractors. All of them wrap
// domain.ErrExtractionFailed.
var (
	// ErrInvalidResponse is returned when the model response cannot be parsed or is malformed
	ErrInvalidResponse = fmt.Errorf("%w: invalid response from model", domain.ErrExtractionFailed)

	// ErrNoReadings is returned when the model found nothing to extract
	ErrNoReadings = fmt.Errorf("%w: no readings found in image", domain.ErrExtractionFailed)

	// ErrContentBlocked is returned when the model blocks the image due to safety filters
	ErrContentBlocked = fmt.Errorf("%w: content blocked by model safety filters", domain.ErrExtractionFailed)

	// ErrTransientFailure is returned for temporary errors that persisted through all retries
	ErrTransientFailure = fmt.Errorf("%w: transient model failure", domain.ErrExtractionFailed)

	// ErrExtractorPanicked is returned when an extractor panics
	ErrExtractorPanicked = fmt.Errorf("%w: extractor panicked", domain.ErrExtractionFailed)
)
