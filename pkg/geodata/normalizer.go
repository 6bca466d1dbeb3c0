package geodata

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultMaxBytes is the upload ceiling used when none is configured.
const DefaultMaxBytes int64 = 50 * 1024 * 1024

// Normalizer turns an uploaded zipped shapefile or GeoJSON document into a
// single collection of polygonal features. It performs no I/O besides
// scratch space for archive extraction.
type Normalizer struct {
	MaxBytes int64
}

func NewNormalizer(maxBytes int64) *Normalizer {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Normalizer{MaxBytes: maxBytes}
}

// Supported reports whether the declared name carries an accepted extension.
func Supported(declaredName string) bool {
	return formatOf(declaredName) != ""
}

func formatOf(declaredName string) string {
	switch strings.ToLower(filepath.Ext(strings.TrimSpace(declaredName))) {
	case ".zip":
		return "zip"
	case ".geojson", ".json":
		return "geojson"
	default:
		return ""
	}
}

func (n *Normalizer) Normalize(data []byte, declaredName string) (*FeatureCollection, error) {
	format := formatOf(declaredName)
	if format == "" {
		return nil, newFormatError(UnsupportedFormat, "Only zipped shapefiles (.zip) or GeoJSON (.geojson/.json) are supported.", nil)
	}
	if len(data) == 0 {
		return nil, newFormatError(EmptyPayload, "The uploaded file is empty.", nil)
	}
	maxBytes := n.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if int64(len(data)) > maxBytes {
		return nil, TooLarge(maxBytes)
	}

	if format == "zip" {
		return n.decodeShapefileZip(data)
	}
	return decodeGeoJSON(data)
}

// TooLarge is the PayloadTooLarge error for a maxBytes ceiling.
func TooLarge(maxBytes int64) error {
	return newFormatError(PayloadTooLarge, fmt.Sprintf("File exceeds the %s limit.", formatLimit(maxBytes)), nil)
}

func formatLimit(maxBytes int64) string {
	const mb = 1024 * 1024
	if maxBytes%mb == 0 {
		return fmt.Sprintf("%d MB", maxBytes/mb)
	}
	return fmt.Sprintf("%d bytes", maxBytes)
}
