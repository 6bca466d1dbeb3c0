package ingestion

import (
	"context"
	"fmt"

	"github.com/cropsight/platform/pkg/ingestlog"
	"gorm.io/gorm"
)

// Store runs the persistence of one ingestion inside a transaction. When fn
// returns an error nothing it wrote survives.
type Store interface {
	WithinTransaction(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the write surface available inside the ingestion transaction.
type Tx interface {
	// InsertGeometry stores geometry, given in the srid reference system, as
	// a WGS84 multipolygon.
	InsertGeometry(ctx context.Context, row *CropGeometry, geometry []byte, srid int) error
	AppendLog(ctx context.Context, rec *ingestlog.Record) (int64, error)
}

const insertGeometrySQL = `INSERT INTO crop_geometries (
	dn, class, fid_1, ph_code_bgy, ph_code_reg, reg_name, ph_code_pro, pro_name,
	ph_code_mun, mun_name, bgy_name, area_sqm, crop_name, geom, capture_date
) VALUES (
	?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
	ST_Multi(ST_Transform(ST_SetSRID(ST_GeomFromGeoJSON(?), ?::integer), 4326))::geometry(MultiPolygon, 4326),
	?
)`

var migrations = []string{
	`CREATE OR REPLACE FUNCTION crop_geometries_touch_updated_at() RETURNS trigger AS $$
BEGIN
	NEW.updated_at = now();
	RETURN NEW;
END;
$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS crop_geometries_updated_at ON crop_geometries`,
	`CREATE TRIGGER crop_geometries_updated_at BEFORE UPDATE ON crop_geometries
	FOR EACH ROW EXECUTE FUNCTION crop_geometries_touch_updated_at()`,
}

type Repository struct {
	db   *gorm.DB
	logs *ingestlog.Repository
}

func NewRepository(db *gorm.DB, logs *ingestlog.Repository) *Repository {
	return &Repository{db: db, logs: logs}
}

// Migrate creates the PostGIS extension, the geometry and log tables and the
// updated_at trigger.
func (r *Repository) Migrate(ctx context.Context) error {
	db := r.db.WithContext(ctx)
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS postgis").Error; err != nil {
		return fmt.Errorf("enable postgis: %w", err)
	}
	if err := db.AutoMigrate(&CropGeometry{}); err != nil {
		return fmt.Errorf("migrate crop geometries: %w", err)
	}
	for _, stmt := range migrations {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migrate crop geometries trigger: %w", err)
		}
	}
	return r.logs.AutoMigrate()
}

func (r *Repository) WithinTransaction(ctx context.Context, fn func(tx Tx) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{tx: tx, logs: r.logs})
	})
}

func (r *Repository) CountGeometries(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&CropGeometry{}).Count(&total).Error
	return total, err
}

type gormTx struct {
	tx   *gorm.DB
	logs *ingestlog.Repository
}

func (t *gormTx) InsertGeometry(ctx context.Context, row *CropGeometry, geometry []byte, srid int) error {
	return t.tx.WithContext(ctx).Exec(insertGeometrySQL,
		row.DN, row.Class, row.FID1,
		row.PHCodeBgy, row.PHCodeReg, row.RegName,
		row.PHCodePro, row.ProName,
		row.PHCodeMun, row.MunName, row.BgyName,
		row.AreaSqm, row.CropName,
		string(geometry), srid,
		row.CaptureDate.Format("2006-01-02"),
	).Error
}

func (t *gormTx) AppendLog(ctx context.Context, rec *ingestlog.Record) (int64, error) {
	return t.logs.Append(ctx, t.tx, rec)
}
