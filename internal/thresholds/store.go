package thresholds

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/fieldwatch/internal/errors"
	"github.com/tphakala/fieldwatch/internal/sensor"
)

// ErrOverrideNotFound is returned when deleting an override that does not exist
var ErrOverrideNotFound = errors.NewStd("threshold override not found")

// OverrideStore persists node overrides
type OverrideStore interface {
	Load(ctx context.Context) ([]Override, error)
	Save(ctx context.Context, o Override) error
	Delete(ctx context.Context, key Key) error
}

// OverrideEntity is one row of threshold_overrides
type OverrideEntity struct {
	ID           uint      `gorm:"primaryKey"`
	SensorID     string    `gorm:"size:50;not null;uniqueIndex:idx_override_sensor_type"`
	SensorType   string    `gorm:"size:32;not null;uniqueIndex:idx_override_sensor_type"`
	Min          float64   `gorm:"not null"`
	Max          float64   `gorm:"not null"`
	CriticalLow  float64   `gorm:"not null"`
	CriticalHigh float64   `gorm:"not null"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (OverrideEntity) TableName() string {
	return "threshold_overrides"
}

// GormOverrideStore stores overrides in the history database
type GormOverrideStore struct {
	db *gorm.DB
}

// NewGormOverrideStore creates the store and migrates its table
func NewGormOverrideStore(db *gorm.DB) (*GormOverrideStore, error) {
	if err := db.AutoMigrate(&OverrideEntity{}); err != nil {
		return nil, errors.New(err).
			Component("thresholds").
			Category(errors.CategoryDatabase).
			Context("operation", "migrate-threshold-overrides").
			Build()
	}
	return &GormOverrideStore{db: db}, nil
}

// Load returns every persisted override
func (s *GormOverrideStore) Load(ctx context.Context) ([]Override, error) {
	var rows []OverrideEntity
	if err := s.db.WithContext(ctx).Order("sensor_id ASC, sensor_type ASC").Find(&rows).Error; err != nil {
		return nil, errors.New(err).
			Component("thresholds").
			Category(errors.CategoryDatabase).
			Context("operation", "load-threshold-overrides").
			Build()
	}

	out := make([]Override, 0, len(rows))
	for i := range rows {
		out = append(out, Override{
			Key: Key{SensorID: rows[i].SensorID, SensorType: sensor.Type(rows[i].SensorType)},
			Band: Band{
				Min:      rows[i].Min,
				Max:      rows[i].Max,
				Critical: Critical{Low: rows[i].CriticalLow, High: rows[i].CriticalHigh},
			},
		})
	}
	return out, nil
}

// Save upserts an override keyed by (sensor_id, sensor_type)
func (s *GormOverrideStore) Save(ctx context.Context, o Override) error {
	row := OverrideEntity{
		SensorID:     o.SensorID,
		SensorType:   string(o.SensorType),
		Min:          o.Band.Min,
		Max:          o.Band.Max,
		CriticalLow:  o.Band.Critical.Low,
		CriticalHigh: o.Band.Critical.High,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "sensor_id"}, {Name: "sensor_type"}},
			DoUpdates: clause.AssignmentColumns([]string{"min", "max", "critical_low", "critical_high", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return errors.New(err).
			Component("thresholds").
			Category(errors.CategoryDatabase).
			SensorContext(o.SensorID, string(o.SensorType)).
			Context("operation", "save-threshold-override").
			Build()
	}
	return nil
}

// Delete removes an override
func (s *GormOverrideStore) Delete(ctx context.Context, key Key) error {
	result := s.db.WithContext(ctx).
		Where("sensor_id = ? AND sensor_type = ?", key.SensorID, string(key.SensorType)).
		Delete(&OverrideEntity{})
	if result.Error != nil {
		return errors.New(result.Error).
			Component("thresholds").
			Category(errors.CategoryDatabase).
			SensorContext(key.SensorID, string(key.SensorType)).
			Context("operation", "delete-threshold-override").
			Build()
	}
	if result.RowsAffected == 0 {
		return errors.New(ErrOverrideNotFound).
			Component("thresholds").
			Category(errors.CategoryNotFound).
			SensorContext(key.SensorID, string(key.SensorType)).
			Build()
	}
	return nil
}
