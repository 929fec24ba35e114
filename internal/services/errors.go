package services

import (
	"errors"
	"fmt"

	"github.com/quantforge/analysis-engine/internal/models"
)

// ErrAllProvidersFailed indicates the fallback chain was exhausted
// without a single well-formed completion. The coordinator maps it to a
// 500-class response.
var ErrAllProvidersFailed = errors.New("all inference providers failed")

// RateLimitError carries the quota details of a denied admission. The
// coordinator maps it to a 429-class response.
type RateLimitError struct {
	Info models.LimitInfo
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s limit of %d requests exceeded", e.Info.LimitType, e.Info.Limit)
}

// AsRateLimitError unwraps err into a RateLimitError if it is one.
func AsRateLimitError(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}
