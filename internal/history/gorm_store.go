package history

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/fieldwatch/internal/alert"
	"github.com/tphakala/fieldwatch/internal/conf"
	"github.com/tphakala/fieldwatch/internal/errors"
	"github.com/tphakala/fieldwatch/internal/logger"
	"github.com/tphakala/fieldwatch/internal/sensor"
)

const slowQueryThreshold = 500 * time.Millisecond

// OpenDatabase opens the configured gorm backend. The memory driver has no
// database and is rejected here.
func OpenDatabase(settings conf.HistorySettings) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(getLogger(), slowQueryThreshold,
			AlertEntity{}.TableName(), "threshold_overrides"),
	}

	var dialector gorm.Dialector
	switch settings.Driver {
	case conf.DriverSQLite:
		if dir := filepath.Dir(settings.Path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.New(err).
					Component("history").
					Category(errors.CategoryFileIO).
					Context("path", settings.Path).
					Build()
			}
		}
		dialector = sqlite.Open(settings.Path + "?_busy_timeout=5000&_journal_mode=WAL")
	case conf.DriverMySQL:
		dialector = mysql.Open(settings.DSN)
	default:
		return nil, errors.Newf("history driver %q has no database", settings.Driver).
			Component("history").
			Category(errors.CategoryConfiguration).
			Build()
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, errors.New(err).
			Component("history").
			Category(errors.CategoryDatabase).
			Context("driver", settings.Driver).
			Build()
	}

	if settings.Driver == conf.DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, dbError(err, "open")
		}
		sqlDB.SetMaxOpenConns(1)
	}

	getLogger().Info("history database opened", logger.String("driver", settings.Driver))
	return db, nil
}

// GormStore keeps alert history in a relational database
type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the history tables and returns the store
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&AlertEntity{}, &AlertEventEntity{}, &ReadingEntity{}); err != nil {
		return nil, dbError(err, "migrate")
	}
	return &GormStore{db: db}, nil
}

// DB returns the underlying connection
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// AppendEvent upserts the alert snapshot and inserts the event row
func (s *GormStore) AppendEvent(ctx context.Context, ev alert.Event) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		snapshot := toAlertEntity(&ev.Alert)
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(&snapshot).Error; err != nil {
			return err
		}

		row := toEventEntity(&ev)
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	})
	return dbError(err, "append-event")
}

// UpsertAlert stores the snapshot alone
func (s *GormStore) UpsertAlert(ctx context.Context, a alert.Alert) error {
	snapshot := toAlertEntity(&a)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&snapshot).Error
	return dbError(err, "upsert-alert")
}

// AppendReading stores one reading
func (s *GormStore) AppendReading(ctx context.Context, r sensor.Reading) error {
	row := toReadingEntity(&r)
	return dbError(s.db.WithContext(ctx).Create(&row).Error, "append-reading")
}

// MarkAllRead flags every unread alert as read
func (s *GormStore) MarkAllRead(ctx context.Context, at time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Model(&AlertEntity{}).
		Where("is_read = ?", false).
		Updates(map[string]any{"is_read": true, "updated_at": at.UTC()})
	return result.RowsAffected, dbError(result.Error, "mark-all-read")
}

// QueryAlerts returns one page of alerts, newest first
func (s *GormStore) QueryAlerts(ctx context.Context, f alert.Filter) (alert.Page, error) {
	f = f.Normalized()

	var total int64
	if err := s.filtered(ctx, &f).Count(&total).Error; err != nil {
		return alert.Page{}, dbError(err, "count-alerts")
	}

	var rows []AlertEntity
	err := s.filtered(ctx, &f).
		Order("opened_at DESC").
		Order("id DESC").
		Limit(f.Limit).
		Offset(f.Offset).
		Find(&rows).Error
	if err != nil {
		return alert.Page{}, dbError(err, "query-alerts")
	}

	page := alert.Page{
		Alerts:  make([]alert.Alert, 0, len(rows)),
		Total:   int(total),
		Limit:   f.Limit,
		Offset:  f.Offset,
		HasMore: int64(f.Offset+len(rows)) < total,
	}
	for i := range rows {
		page.Alerts = append(page.Alerts, rows[i].toAlert())
	}
	return page, nil
}

func (s *GormStore) filtered(ctx context.Context, f *alert.Filter) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&AlertEntity{})
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		q = q.Where("status IN ?", statuses)
	}
	if len(f.Severities) > 0 {
		severities := make([]int, len(f.Severities))
		for i, sev := range f.Severities {
			severities[i] = int(sev)
		}
		q = q.Where("severity IN ?", severities)
	}
	if f.SensorID != "" {
		q = q.Where("sensor_id = ?", f.SensorID)
	}
	if len(f.AlertTypes) > 0 {
		types := make([]string, len(f.AlertTypes))
		for i, t := range f.AlertTypes {
			types[i] = string(t)
		}
		q = q.Where("alert_type IN ?", types)
	}
	if !f.Since.IsZero() {
		q = q.Where("opened_at >= ?", f.Since.UTC())
	}
	if !f.Until.IsZero() {
		q = q.Where("opened_at < ?", f.Until.UTC())
	}
	if f.IsRead != nil {
		q = q.Where("is_read = ?", *f.IsRead)
	}
	return q
}

// GetAlert returns one stored alert
func (s *GormStore) GetAlert(ctx context.Context, id string) (alert.Alert, error) {
	var row AlertEntity
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return alert.Alert{}, notFound(id)
	}
	if err != nil {
		return alert.Alert{}, dbError(err, "get-alert")
	}
	return row.toAlert(), nil
}

// UnreadCount counts alerts not yet read
func (s *GormStore) UnreadCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&AlertEntity{}).Where("is_read = ?", false).Count(&n).Error
	return n, dbError(err, "unread-count")
}

// LoadOpen returns open and acknowledged alerts
func (s *GormStore) LoadOpen(ctx context.Context) ([]alert.Alert, error) {
	var rows []AlertEntity
	err := s.db.WithContext(ctx).
		Where("status IN ?", []string{string(alert.StatusOpen), string(alert.StatusAcknowledged)}).
		Find(&rows).Error
	if err != nil {
		return nil, dbError(err, "load-open")
	}

	alerts := make([]alert.Alert, 0, len(rows))
	for i := range rows {
		alerts = append(alerts, rows[i].toAlert())
	}
	return alerts, nil
}

// PurgeClosed deletes terminal alerts and their events
func (s *GormStore) PurgeClosed(ctx context.Context, before time.Time) (int64, error) {
	var purged int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&AlertEntity{}).
			Where("status IN ? AND status_changed_at < ?",
				[]string{string(alert.StatusResolved), string(alert.StatusDismissed)}, before.UTC()).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("alert_id IN ?", ids).Delete(&AlertEventEntity{}).Error; err != nil {
			return err
		}
		result := tx.Where("id IN ?", ids).Delete(&AlertEntity{})
		purged = result.RowsAffected
		return result.Error
	})
	return purged, dbError(err, "purge-closed")
}

// EventCount returns the number of stored events for an alert
func (s *GormStore) EventCount(ctx context.Context, alertID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&AlertEventEntity{}).Where("alert_id = ?", alertID).Count(&n).Error
	return n, dbError(err, "event-count")
}

// Close closes the database connection
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return dbError(err, "close")
	}
	return dbError(sqlDB.Close(), "close")
}
