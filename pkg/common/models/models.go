package models

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // cache.invalidate
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

func NewEvent(eventType, source string, data map[string]interface{}) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// UserContext is the identity snapshot taken when a dataset is submitted.
// Email and Name are optional.
type UserContext struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Crop is a catalogue entry for a known crop identifier.
type Crop struct {
	Code  string `json:"code"`
	Class int    `json:"class"`
	Label string `json:"label"`
}

// CropCatalog lists the crops the dashboards know how to label.
var CropCatalog = []Crop{
	{Code: "corn", Class: 1, Label: "Corn"},
	{Code: "onion", Class: 2, Label: "Onion"},
	{Code: "rice", Class: 3, Label: "Rice"},
}

// LookupCrop resolves either a crop code ("corn") or a class number ("1").
func LookupCrop(identifier string) (Crop, bool) {
	for _, crop := range CropCatalog {
		if crop.Code == identifier {
			return crop, true
		}
		if identifier == strconv.Itoa(crop.Class) {
			return crop, true
		}
	}
	return Crop{}, false
}
