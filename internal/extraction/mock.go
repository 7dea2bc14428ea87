package extraction

import (
	"context"

	"github.com/phrazzld/sunlog-api/internal/domain"
)

// MockProviderName is the provider name recorded for the mock extractor.
const MockProviderName = "mock"

// Mock is a deterministic extractor for development and tests. It ignores
// the image and always returns the same three readings.
type Mock struct{}

var _ Extractor = Mock{}

// NewMock returns the mock extractor.
func NewMock() Mock {
	return Mock{}
}

// Name implements Extractor.
func (Mock) Name() string {
	return MockProviderName
}

// Extract implements Extractor.
func (Mock) Extract(ctx context.Context, _ []byte, _ string) ([]domain.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []domain.Reading{
		mockReading("2025-01-15", "09:00", 45.5, 32.1, "Morning reading"),
		mockReading("2025-01-16", "09:15", 52.3, 38.7, "Sunny day"),
		mockReading("2025-01-17", "09:00", 48.7, 35.2, "Partly cloudy"),
	}, nil
}

func mockReading(date, tm string, m1, m2 float64, notes string) domain.Reading {
	return domain.Reading{Date: date, Time: &tm, M1: m1, M2: &m2, Notes: &notes}
}
