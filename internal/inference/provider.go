package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/your-org/vigil/internal/models"
)

// Input is the visual payload handed to a provider for one attempt.
type Input struct {
	CameraID  string
	Timestamp time.Time
	Mode      models.AnalysisMode
	Frames    [][]byte // JPEG bytes; single_frame uses Frames[0]
	Clip      []byte   // short clip bytes for video_native
}

// ImageCount returns how many images the attempt sends, for cost accounting.
func (in Input) ImageCount() int {
	if in.Mode == models.ModeVideoNative {
		return 1
	}
	if in.Mode == models.ModeSingleFrame && len(in.Frames) > 0 {
		return 1
	}
	return len(in.Frames)
}

// RawResult is a provider's response before normalization. Providers that do
// not return confidence or boxes leave those fields zero rather than
// fabricating values.
type RawResult struct {
	Text       string
	Confidence float32
	Detections []models.Detection
}

// Provider is the uniform adapter interface for one inference vendor.
type Provider interface {
	ID() string
	Supports(mode models.AnalysisMode) bool
	Analyze(ctx context.Context, in Input) (*RawResult, error)
	EstimateCost(in Input) float64
}

// Chain-level failures.
var (
	ErrAllProvidersExhausted = errors.New("all providers exhausted")
	ErrCostLimitExceeded     = errors.New("cost limit exceeded")
)

// TransientError marks a provider failure worth retrying within the chain
// (network hiccup, 5xx, timeout).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// UnavailableError marks a provider failure that retrying cannot fix
// (authentication, quota, unsupported input). The chain advances immediately.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string { return fmt.Sprintf("provider unavailable: %v", e.Err) }
func (e *UnavailableError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried on the same provider.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
