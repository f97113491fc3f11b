package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Monthlyaway/qr-link/internal/model"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrQRCodeMissing is returned by writes that target a QR code row which does not exist
var ErrQRCodeMissing = errors.New("qr code row missing")

// Options describes how to open the backing database
type Options struct {
	Driver       string
	DSN          string
	MaxIdleConns int
	MaxOpenConns int
	LogQueries   bool
}

// QRRepository handles database operations for QR codes and their scans
type QRRepository struct {
	db *gorm.DB
}

// NewQRRepository opens the database, configures the pool and migrates the schema
func NewQRRepository(opts Options) (*QRRepository, error) {
	dialector, err := dialectorFor(opts.Driver, opts.DSN)
	if err != nil {
		return nil, err
	}

	logLevel := logger.Warn
	if opts.LogQueries {
		logLevel = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}

	if err := db.AutoMigrate(&model.QRCode{}, &model.ScanEvent{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &QRRepository{db: db}, nil
}

func dialectorFor(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "mysql", "":
		return mysql.Open(dsn), nil
	case "postgres":
		return postgres.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// CreateQRCode inserts a new QR code
func (r *QRRepository) CreateQRCode(ctx context.Context, qr *model.QRCode) error {
	if err := r.db.WithContext(ctx).Create(qr).Error; err != nil {
		return fmt.Errorf("failed to create qr code: %w", err)
	}
	return nil
}

// GetQRCode retrieves a QR code by identifier. A missing row yields (nil, nil).
func (r *QRRepository) GetQRCode(ctx context.Context, id string) (*model.QRCode, error) {
	var qr model.QRCode
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&qr).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get qr code: %w", err)
	}
	return &qr, nil
}

// CreateScanEvent inserts one scan record
func (r *QRRepository) CreateScanEvent(ctx context.Context, scan *model.ScanEvent) error {
	if err := r.db.WithContext(ctx).Create(scan).Error; err != nil {
		return fmt.Errorf("failed to create scan event: %w", err)
	}
	return nil
}

// IncrementUsageCount bumps usage_count in a single UPDATE so concurrent scans never lose an increment
func (r *QRRepository) IncrementUsageCount(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&model.QRCode{}).
		Where("id = ?", id).
		UpdateColumn("usage_count", gorm.Expr("usage_count + ?", 1))
	if res.Error != nil {
		return fmt.Errorf("failed to increment usage count: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("failed to increment usage count for %s: %w", id, ErrQRCodeMissing)
	}
	return nil
}

// ListQRCodeIDs retrieves every QR identifier, used to warm the Bloom filter
func (r *QRRepository) ListQRCodeIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&model.QRCode{}).
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list qr code ids: %w", err)
	}
	return ids, nil
}

// statsColumns are the scan columns aggregated by ScanStats
var statsColumns = []string{"device_type", "browser", "os", "country"}

type groupCount struct {
	Label string
	Total int64
}

// ScanStats aggregates the scans of one QR code by device, browser, OS and country
func (r *QRRepository) ScanStats(ctx context.Context, id string) (*model.ScanStats, error) {
	stats := &model.ScanStats{QRID: id}
	groups := make(map[string]map[string]int64, len(statsColumns))

	for _, column := range statsColumns {
		var rows []groupCount
		err := r.db.WithContext(ctx).Model(&model.ScanEvent{}).
			Select(fmt.Sprintf("COALESCE(%s, '%s') AS label, COUNT(*) AS total", column, model.Unknown)).
			Where("qr_id = ?", id).
			Group(column).
			Scan(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("failed to aggregate scans by %s: %w", column, err)
		}

		counts := make(map[string]int64, len(rows))
		for _, row := range rows {
			counts[row.Label] += row.Total
		}
		groups[column] = counts
	}

	for _, n := range groups["device_type"] {
		stats.TotalScans += n
	}
	stats.Devices = groups["device_type"]
	stats.Browsers = groups["browser"]
	stats.OS = groups["os"]
	stats.Countries = groups["country"]

	return stats, nil
}

// Ping checks database connectivity
func (r *QRRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (r *QRRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
