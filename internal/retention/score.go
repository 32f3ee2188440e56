package retention

import (
	"fmt"
	"math"
	"time"
)

// ValidateSimilarity rejects similarity scores that are NaN or outside [0,1].
func ValidateSimilarity(similarity float64) error {
	if math.IsNaN(similarity) || similarity < 0 || similarity > 1 {
		return fmt.Errorf("%w: %v not in [0,1]", ErrInvalidScore, similarity)
	}
	return nil
}

// ValidateCreatedAt rejects a zero creation time.
func ValidateCreatedAt(createdAt time.Time) error {
	if createdAt.IsZero() {
		return ErrMissingCreatedAt
	}
	return nil
}

// Combine returns the ranking key for a hit: similarity * retention.
func Combine(similarity, retention float64) (float64, error) {
	if err := ValidateSimilarity(similarity); err != nil {
		return 0, err
	}
	return similarity * retention, nil
}
