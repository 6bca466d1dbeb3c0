package ingestion

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cropsight/platform/pkg/geodata"
)

var (
	errSignInRequired     = errors.New("You must be signed in to upload shapefiles.")
	errCaptureDateMissing = errors.New("Capture date is required.")
	errCaptureDateInvalid = errors.New("Capture date is invalid.")
	errDatasetMissing     = errors.New("Attach a zipped shapefile (.zip) or GeoJSON file.")
	errNoPolygons         = errors.New("No polygon features were found in the uploaded dataset.")
)

type ValidationError struct {
	reason error
}

func (e ValidationError) Error() string {
	return e.reason.Error()
}

func (e ValidationError) Unwrap() error {
	return e.reason
}

func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// Validator applies the upload-side checks that run before a workflow is
// started.
type Validator struct {
	maxFeatures int
}

func NewValidator(maxFeatures int) *Validator {
	if maxFeatures <= 0 {
		maxFeatures = DefaultMaxFeatures
	}
	return &Validator{maxFeatures: maxFeatures}
}

// CaptureDate parses the submitted capture date.
func (v *Validator) CaptureDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, ValidationError{reason: errCaptureDateMissing}
	}
	date, err := ParseCaptureDate(raw)
	if err != nil {
		return time.Time{}, ValidationError{reason: errCaptureDateInvalid}
	}
	return date, nil
}

// Dataset checks that a named file was attached.
func (v *Validator) Dataset(name string) error {
	if strings.TrimSpace(name) == "" {
		return ValidationError{reason: errDatasetMissing}
	}
	return nil
}

func (v *Validator) Features(fc *geodata.FeatureCollection) error {
	n := fc.Len()
	if n == 0 {
		return ValidationError{reason: errNoPolygons}
	}
	if n > v.maxFeatures {
		return ValidationError{reason: fmt.Errorf(
			"Please split the dataset; uploads are limited to %d features (attempted %d).", v.maxFeatures, n)}
	}
	return nil
}

// ParseCaptureDate accepts a calendar date or an RFC 3339 timestamp and
// returns the UTC calendar date at midnight.
func ParseCaptureDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}
