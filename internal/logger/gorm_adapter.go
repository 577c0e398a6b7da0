package logger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"
)

// GormLoggerAdapter routes GORM output through a module Logger.
// Statements go to TRACE so the history store stays quiet unless
// "history" is explicitly set to trace in module_levels. Every statement
// is tagged with the table it touches.
type GormLoggerAdapter struct {
	logger        Logger
	slowThreshold time.Duration
	lookupTables  map[string]bool
}

// NewGormLoggerAdapter creates a GORM logger. Queries slower than
// slowThreshold are logged as warnings; zero disables the check.
// lookupTables name the tables where a missing row is an answer, not a
// failure: a not-found on one of them is logged at debug, anywhere else
// it is a query error.
func NewGormLoggerAdapter(log Logger, slowThreshold time.Duration, lookupTables ...string) *GormLoggerAdapter {
	if log == nil {
		log = NewSlogLogger(nil, LogLevelInfo, nil)
	}
	lookups := make(map[string]bool, len(lookupTables))
	for _, t := range lookupTables {
		lookups[strings.ToLower(t)] = true
	}
	return &GormLoggerAdapter{
		logger:        log,
		slowThreshold: slowThreshold,
		lookupTables:  lookups,
	}
}

// LogMode ignores GORM's level; levels come from the central logging config.
func (a *GormLoggerAdapter) LogMode(_ gorm_logger.LogLevel) gorm_logger.Interface {
	return a
}

func (a *GormLoggerAdapter) Info(_ context.Context, msg string, data ...any) {
	a.logger.Debug(fmt.Sprintf(msg, data...))
}

func (a *GormLoggerAdapter) Warn(_ context.Context, msg string, data ...any) {
	a.logger.Warn(fmt.Sprintf(msg, data...))
}

func (a *GormLoggerAdapter) Error(_ context.Context, msg string, data ...any) {
	a.logger.Error(fmt.Sprintf(msg, data...))
}

// Trace logs each statement
func (a *GormLoggerAdapter) Trace(_ context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	elapsed := time.Since(begin)
	sql, rows := fc()
	table := statementTable(sql)

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound) && a.lookupTables[table]:
		a.logger.Debug("row not found",
			String("table", table),
			String("sql", sql))
	case err != nil:
		a.logger.Warn("query error",
			String("table", table),
			String("sql", sql),
			Int64("rows_affected", rows),
			Duration("elapsed", elapsed),
			Error(err))
	case a.slowThreshold > 0 && elapsed > a.slowThreshold:
		a.logger.Warn("slow query",
			String("table", table),
			String("sql", sql),
			Int64("rows_affected", rows),
			Duration("elapsed", elapsed),
			Duration("threshold", a.slowThreshold))
	default:
		a.logger.Trace("sql query",
			String("table", table),
			String("sql", sql),
			Int64("rows_affected", rows))
	}
}

// statementTable returns the first table named after FROM, INTO or UPDATE,
// or "" when there is none.
func statementTable(sql string) string {
	fields := strings.Fields(strings.ToLower(sql))
	for i, f := range fields[:max(len(fields)-1, 0)] {
		switch f {
		case "from", "into", "update":
			return strings.Trim(fields[i+1], "`\"'[]();")
		}
	}
	return ""
}
