package ingestlog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

var (
	ErrNotFound  = errors.New("Log entry not found.")
	ErrInvalidID = errors.New("Invalid log identifier.")
)

const (
	DefaultLimit    = 50
	MaxLimit        = 200
	DefaultPerPage  = 20
	MinPerPage      = 5
	MaxPerPage      = 100
	MinSearchLength = 3
)

// Reader is the query surface of the log store.
type Reader interface {
	List(ctx context.Context, limit int) ([]Entry, error)
	Search(ctx context.Context, opts SearchOptions) (*SearchResult, error)
	Get(ctx context.Context, id int64) (*Entry, error)
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Record{})
}

// Append writes rec through tx, which is the ingestion transaction. A nil tx
// writes through the repository's own connection.
func (r *Repository) Append(ctx context.Context, tx *gorm.DB, rec *Record) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Crops == nil {
		rec.Crops = []string{}
	}
	if err := tx.WithContext(ctx).Create(rec).Error; err != nil {
		return 0, fmt.Errorf("append ingestion log: %w", err)
	}
	return rec.ID, nil
}

func (r *Repository) List(ctx context.Context, limit int) ([]Entry, error) {
	limit = listLimit(limit)

	var rows []Record
	if err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return toEntries(rows), nil
}

func (r *Repository) Search(ctx context.Context, opts SearchOptions) (*SearchResult, error) {
	opts = normalizeSearch(opts)

	query := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&Record{})
		if opts.Term != "" {
			pattern := "%" + opts.Term + "%"
			q = q.Where(
				"user_name ILIKE ? OR user_email ILIKE ? OR file_name ILIKE ? OR EXISTS (SELECT 1 FROM unnest(crops) AS crop WHERE crop ILIKE ?)",
				pattern, pattern, pattern, pattern,
			)
		}
		return q
	}

	var total int64
	if err := query().Count(&total).Error; err != nil {
		return nil, err
	}

	page, offset := pageWindow(total, opts.Page, opts.PerPage)

	var rows []Record
	if err := query().Order("created_at DESC").Limit(opts.PerPage).Offset(offset).Find(&rows).Error; err != nil {
		return nil, err
	}

	return &SearchResult{
		Logs:    toEntries(rows),
		Total:   total,
		Page:    page,
		PerPage: opts.PerPage,
	}, nil
}

func (r *Repository) Get(ctx context.Context, id int64) (*Entry, error) {
	if id <= 0 {
		return nil, ErrInvalidID
	}
	var rec Record
	result := r.db.WithContext(ctx).First(&rec, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	entry := rec.Entry()
	return &entry, nil
}

func (r *Repository) Count(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&Record{}).Count(&total).Error
	return total, err
}

func normalizeSearch(opts SearchOptions) SearchOptions {
	opts.Term = strings.TrimSpace(opts.Term)
	if len([]rune(opts.Term)) < MinSearchLength {
		opts.Term = ""
	}
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PerPage == 0 {
		opts.PerPage = DefaultPerPage
	} else {
		opts.PerPage = clamp(opts.PerPage, MinPerPage, MaxPerPage)
	}
	return opts
}

// listLimit resolves the row count of a recent-logs listing. The listing is a
// first page of search results, so the page size bounds apply after MaxLimit.
func listLimit(limit int) int {
	if limit == 0 {
		limit = DefaultLimit
	}
	return clamp(clamp(limit, 1, MaxLimit), MinPerPage, MaxPerPage)
}

// pageWindow clamps page to the last page and returns the row offset.
func pageWindow(total int64, page, perPage int) (int, int) {
	totalPages := int((total + int64(perPage) - 1) / int64(perPage))
	if totalPages < 1 {
		totalPages = 1
	}
	if page > totalPages {
		page = totalPages
	}
	if total == 0 {
		return page, 0
	}
	return page, (page - 1) * perPage
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func toEntries(rows []Record) []Entry {
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.Entry())
	}
	return entries
}
