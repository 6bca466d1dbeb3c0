package ingestlog

import (
	"time"

	"github.com/lib/pq"
)

// Record is one audit row per ingestion run that reached its commit. The user
// fields are a snapshot taken at submission time.
type Record struct {
	ID               int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID           string         `gorm:"type:text;not null" json:"userId"`
	UserEmail        *string        `gorm:"type:text" json:"userEmail"`
	UserName         *string        `gorm:"type:text" json:"userName"`
	FileName         *string        `gorm:"type:text" json:"fileName"`
	CaptureDate      time.Time      `gorm:"type:date;not null" json:"captureDate"`
	TotalFeatures    int            `gorm:"not null" json:"totalFeatures"`
	InsertedFeatures int            `gorm:"not null" json:"insertedFeatures"`
	SkippedFeatures  int            `gorm:"not null" json:"skippedFeatures"`
	Crops            pq.StringArray `gorm:"type:text[];not null" json:"crops"`
	CreatedAt        time.Time      `gorm:"type:timestamptz;not null;default:now()" json:"createdAt"`
}

func (Record) TableName() string {
	return "crop_ingestion_logs"
}

// Entry is the API view of a Record.
type Entry struct {
	ID               int64    `json:"id"`
	UserID           string   `json:"userId"`
	UserEmail        *string  `json:"userEmail"`
	UserName         *string  `json:"userName"`
	FileName         *string  `json:"fileName"`
	CaptureDate      string   `json:"captureDate"`
	TotalFeatures    int      `json:"totalFeatures"`
	InsertedFeatures int      `json:"insertedFeatures"`
	SkippedFeatures  int      `json:"skippedFeatures"`
	Crops            []string `json:"crops"`
	CreatedAt        string   `json:"createdAt"`
}

type SearchOptions struct {
	Term    string
	Page    int
	PerPage int
}

type SearchResult struct {
	Logs    []Entry `json:"logs"`
	Total   int64   `json:"total"`
	Page    int     `json:"page"`
	PerPage int     `json:"perPage"`
}

func (r Record) Entry() Entry {
	crops := []string(r.Crops)
	if crops == nil {
		crops = []string{}
	}
	return Entry{
		ID:               r.ID,
		UserID:           r.UserID,
		UserEmail:        r.UserEmail,
		UserName:         r.UserName,
		FileName:         r.FileName,
		CaptureDate:      isoTime(r.CaptureDate),
		TotalFeatures:    r.TotalFeatures,
		InsertedFeatures: r.InsertedFeatures,
		SkippedFeatures:  r.SkippedFeatures,
		Crops:            crops,
		CreatedAt:        isoTime(r.CreatedAt),
	}
}

func isoTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
