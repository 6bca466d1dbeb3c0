package ingestlog

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cropsight/platform/pkg/common/database/dbtest"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestNormalizeSearch(t *testing.T) {
	tests := []struct {
		name string
		in   SearchOptions
		want SearchOptions
	}{
		{"defaults", SearchOptions{}, SearchOptions{Page: 1, PerPage: DefaultPerPage}},
		{"short term ignored", SearchOptions{Term: " co ", Page: 2, PerPage: 10}, SearchOptions{Page: 2, PerPage: 10}},
		{"term trimmed", SearchOptions{Term: "  corn ", PerPage: 3}, SearchOptions{Term: "corn", Page: 1, PerPage: MinPerPage}},
		{"per page capped", SearchOptions{Page: -4, PerPage: 500}, SearchOptions{Page: 1, PerPage: MaxPerPage}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, normalizeSearch(tt.in))
		})
	}
}

func TestListLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, DefaultLimit},
		{-3, MinPerPage},
		{1, MinPerPage},
		{5, 5},
		{42, 42},
		{150, MaxPerPage},
		{1000, MaxPerPage},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.in), func(t *testing.T) {
			require.Equal(t, tt.want, listLimit(tt.in))
		})
	}
}

func TestPageWindow(t *testing.T) {
	page, offset := pageWindow(0, 3, 20)
	require.Equal(t, 1, page)
	require.Equal(t, 0, offset)

	page, offset = pageWindow(45, 2, 20)
	require.Equal(t, 2, page)
	require.Equal(t, 20, offset)

	page, offset = pageWindow(45, 9, 20)
	require.Equal(t, 3, page)
	require.Equal(t, 40, offset)
}

func TestRecordEntry(t *testing.T) {
	name := "Ana"
	rec := Record{
		ID:          4,
		UserID:      "u-1",
		UserName:    &name,
		CaptureDate: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		CreatedAt:   time.Date(2024, 5, 2, 9, 30, 0, 0, time.FixedZone("PHT", 8*3600)),
	}
	entry := rec.Entry()
	require.Equal(t, "2024-05-01T00:00:00.000Z", entry.CaptureDate)
	require.Equal(t, "2024-05-02T01:30:00.000Z", entry.CreatedAt)
	require.Equal(t, []string{}, entry.Crops)
	require.Equal(t, &name, entry.UserName)

	require.Equal(t, "", Record{}.Entry().CreatedAt)
}

func seed(t *testing.T, repo *Repository, db *gorm.DB) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		email := fmt.Sprintf("user%d@example.com", i)
		file := fmt.Sprintf("fields-%02d.geojson", i)
		crops := []string{"corn"}
		if i%3 == 0 {
			crops = []string{"onion", "rice"}
		}
		rec := &Record{
			UserID:           fmt.Sprintf("u-%d", i),
			UserEmail:        &email,
			FileName:         &file,
			CaptureDate:      base,
			TotalFeatures:    5,
			InsertedFeatures: 4,
			SkippedFeatures:  1,
			Crops:            crops,
			CreatedAt:        base.Add(time.Duration(i) * time.Minute),
		}
		_, err := repo.Append(ctx, db, rec)
		require.NoError(t, err)
		require.NotZero(t, rec.ID)
	}
}

func TestRepositoryQueries(t *testing.T) {
	db := dbtest.PostGIS(t)
	repo := NewRepository(db)
	require.NoError(t, repo.AutoMigrate())
	seed(t, repo, db)
	ctx := context.Background()

	recent, err := repo.List(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, MinPerPage)
	require.Equal(t, "u-11", recent[0].UserID)

	all, err := repo.List(ctx, 1000)
	require.NoError(t, err)
	require.Len(t, all, 12)

	result, err := repo.Search(ctx, SearchOptions{Term: "ONION", PerPage: 5})
	require.NoError(t, err)
	require.EqualValues(t, 4, result.Total)
	require.Len(t, result.Logs, 4)

	result, err = repo.Search(ctx, SearchOptions{Term: "fields-0", Page: 7, PerPage: 5})
	require.NoError(t, err)
	require.EqualValues(t, 10, result.Total)
	require.Equal(t, 2, result.Page)
	require.Len(t, result.Logs, 5)

	result, err = repo.Search(ctx, SearchOptions{Term: "no-such-thing"})
	require.NoError(t, err)
	require.Zero(t, result.Total)
	require.Equal(t, 1, result.Page)
	require.Empty(t, result.Logs)

	entry, err := repo.Get(ctx, all[0].ID)
	require.NoError(t, err)
	require.Equal(t, all[0].UserID, entry.UserID)

	_, err = repo.Get(ctx, 99999)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = repo.Get(ctx, 0)
	require.ErrorIs(t, err, ErrInvalidID)
}

func TestAppendRollsBackWithTransaction(t *testing.T) {
	db := dbtest.PostGIS(t)
	repo := NewRepository(db)
	require.NoError(t, repo.AutoMigrate())
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := repo.Append(ctx, tx, &Record{UserID: "u-1", CaptureDate: time.Now(), Crops: []string{"corn"}})
		require.NoError(t, err)
		return fmt.Errorf("abort")
	})
	require.Error(t, err)

	total, err := repo.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, total)
}
