package ingestion

import (
	"time"

	"github.com/cropsight/platform/pkg/common/models"
	"github.com/cropsight/platform/pkg/geodata"
)

// WorkflowName identifies ingestion runs in the workflow checkpoint table.
const WorkflowName = "data-pipeline-ingestion"

// Input is the durable workflow input of one run.
type Input struct {
	CaptureDate string                     `json:"captureDateIso"`
	DatasetName string                     `json:"datasetName"`
	Features    *geodata.FeatureCollection `json:"featureCollection"`
	User        models.UserContext         `json:"user"`
}

// Result summarises a finished run. It doubles as the workflow state that is
// checkpointed between steps.
type Result struct {
	RunID       string   `json:"runId"`
	Inserted    int      `json:"inserted"`
	Skipped     int      `json:"skipped"`
	Crops       []string `json:"crops"`
	LogID       int64    `json:"logId"`
	DatasetName string   `json:"datasetName"`
	CaptureDate string   `json:"captureDateIso"`
}

// CropGeometry is one accepted feature. The geometry column is written from
// GeoJSON by the database and never read back into this struct.
type CropGeometry struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	DN          string    `gorm:"column:dn;type:text;not null" json:"dn"`
	Class       *int      `gorm:"column:class" json:"class,omitempty"`
	FID1        *int      `gorm:"column:fid_1" json:"fid_1,omitempty"`
	PHCodeBgy   *string   `gorm:"column:ph_code_bgy;type:text" json:"ph_code_bgy,omitempty"`
	PHCodeReg   *string   `gorm:"column:ph_code_reg;type:text" json:"ph_code_reg,omitempty"`
	RegName     *string   `gorm:"column:reg_name;type:text" json:"reg_name,omitempty"`
	PHCodePro   *string   `gorm:"column:ph_code_pro;type:text" json:"ph_code_pro,omitempty"`
	ProName     *string   `gorm:"column:pro_name;type:text" json:"pro_name,omitempty"`
	PHCodeMun   *string   `gorm:"column:ph_code_mun;type:text" json:"ph_code_mun,omitempty"`
	MunName     *string   `gorm:"column:mun_name;type:text" json:"mun_name,omitempty"`
	BgyName     *string   `gorm:"column:bgy_name;type:text" json:"bgy_name,omitempty"`
	AreaSqm     *float64  `gorm:"column:area_sqm;type:double precision" json:"area_sqm,omitempty"`
	CropName    *string   `gorm:"column:crop_name;type:text" json:"crop_name,omitempty"`
	Geom        string    `gorm:"column:geom;type:geometry(MultiPolygon,4326);not null;->" json:"-"`
	CaptureDate time.Time `gorm:"column:capture_date;type:date;not null" json:"capture_date"`
	CreatedAt   time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()" json:"updated_at"`
}

func (CropGeometry) TableName() string {
	return "crop_geometries"
}

// UploadResult is the response of an upload submission.
type UploadResult struct {
	Status        string   `json:"status"`
	Message       string   `json:"message"`
	Inserted      int      `json:"inserted"`
	Skipped       int      `json:"skipped"`
	WorkflowRunID string   `json:"workflowRunId,omitempty"`
	DatasetName   string   `json:"datasetName,omitempty"`
	Errors        []string `json:"errors,omitempty"`
}

const (
	UploadSuccess = "success"
	UploadError   = "error"
)
