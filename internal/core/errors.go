package core

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnauthorized means the catalog or provider credential is missing or expired.
	ErrUnauthorized = errors.New("catalog credential missing or expired")

	// Validation errors
	ErrNoNameProvided     = errors.New("no playlist name provided")
	ErrNoSongsProvided    = errors.New("no songs provided")
	ErrNameTooLong        = errors.New("playlist name too long")
	ErrDescriptionTooLong = errors.New("playlist description too long")

	// Publish step errors
	ErrImageProcessing  = errors.New("cover image processing failed")
	ErrPlaylistCreation = errors.New("playlist creation failed")
	ErrTrackAddition    = errors.New("adding tracks failed")
	ErrImageUpload      = errors.New("cover image upload failed")

	ErrQuotaExceeded          = errors.New("daily prediction quota reached")
	ErrPredictorNotConfigured = errors.New("setlist predictor not configured")
	ErrNoSetlists             = errors.New("no setlists found")
	ErrArtistNotFound         = errors.New("artist not found")
	ErrInvalidTransition      = errors.New("invalid export state transition")
)

// ProviderError is a structured failure returned by a remote provider.
type ProviderError struct {
	Status  int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Status, e.Message)
}

// ExportKind classifies hard publish failures.
type ExportKind string

const (
	ExportNoName           ExportKind = "no_name_provided"
	ExportNoSongs          ExportKind = "no_songs_provided"
	ExportNameTooLong      ExportKind = "name_too_long"
	ExportDescTooLong      ExportKind = "description_too_long"
	ExportImageProcessing  ExportKind = "image_processing_error"
	ExportPlaylistCreation ExportKind = "playlist_creation_error"
	ExportUnauthorized     ExportKind = "unauthorized"
	ExportUnexpected       ExportKind = "unexpected_error"
)

// ExportError is a publish failure after which nothing was created remotely.
type ExportError struct {
	Kind   ExportKind
	Status int
	Err    error
}

func (e *ExportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("export failed (%s, status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("export failed (%s): %v", e.Kind, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether the failure happened before any remote call.
func (e *ExportError) IsValidation() bool {
	switch e.Kind {
	case ExportNoName, ExportNoSongs, ExportNameTooLong, ExportDescTooLong, ExportImageProcessing:
		return true
	default:
		return false
	}
}

// QuotaDeniedError is returned when the daily prediction cap is reached.
type QuotaDeniedError struct {
	UserID     string
	RetryAfter time.Time
}

func (e *QuotaDeniedError) Error() string {
	return fmt.Sprintf("user %s: %v, retry after %s", e.UserID, ErrQuotaExceeded, e.RetryAfter.Format(time.RFC3339))
}

func (e *QuotaDeniedError) Unwrap() error {
	return ErrQuotaExceeded
}

// providerStatus extracts the provider status code from err, or 0.
func providerStatus(err error) int {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Status
	}
	return 0
}
