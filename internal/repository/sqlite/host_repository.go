// Package sqlite provides an embedded SQLite host registry built on GORM.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/limiquantix/servicecluster/internal/domain"
	"github.com/limiquantix/servicecluster/internal/services/host"
)

// Ensure HostRepository implements host.Repository
var _ host.Repository = (*HostRepository)(nil)

// hostModel is the GORM row for a registered host.
type hostModel struct {
	ID                  int64   `gorm:"primaryKey;autoIncrement"`
	Name                string  `gorm:"column:name;size:100;not null"`
	MACAddress          string  `gorm:"column:mac_address;size:17;not null;uniqueIndex"`
	IPAddress           string  `gorm:"column:ip_address;size:45;not null;uniqueIndex"`
	TotalDiskGB         int64   `gorm:"column:total_disk_gb;not null"`
	AvailableDiskGB     int64   `gorm:"column:available_disk_gb;not null"`
	TotalMemoryGB       int64   `gorm:"column:total_memory_gb;not null"`
	AvailableMemoryGB   int64   `gorm:"column:available_memory_gb;not null"`
	CPUModel            string  `gorm:"column:cpu_model;size:100;not null"`
	AvailableCPUPercent float64 `gorm:"column:available_cpu_percent;not null"`
	CoreCount           int32   `gorm:"column:core_count;not null"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (hostModel) TableName() string { return "service_clusters" }

func (m *hostModel) toDomain() *domain.Host {
	return &domain.Host{
		ID:                  m.ID,
		Name:                m.Name,
		MACAddress:          m.MACAddress,
		IPAddress:           m.IPAddress,
		TotalDiskGB:         m.TotalDiskGB,
		AvailableDiskGB:     m.AvailableDiskGB,
		TotalMemoryGB:       m.TotalMemoryGB,
		AvailableMemoryGB:   m.AvailableMemoryGB,
		CPUModel:            m.CPUModel,
		AvailableCPUPercent: m.AvailableCPUPercent,
		CoreCount:           m.CoreCount,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

func (m *hostModel) setMutable(h *domain.Host) {
	m.Name = h.Name
	m.MACAddress = h.MACAddress
	m.IPAddress = h.IPAddress
	m.TotalDiskGB = h.TotalDiskGB
	m.AvailableDiskGB = h.AvailableDiskGB
	m.TotalMemoryGB = h.TotalMemoryGB
	m.AvailableMemoryGB = h.AvailableMemoryGB
	m.CPUModel = h.CPUModel
	m.AvailableCPUPercent = h.AvailableCPUPercent
	m.CoreCount = h.CoreCount
}

// Open opens the SQLite database at path and migrates the host schema.
// Use ":memory:" for a throwaway database.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sqlite handle: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases shared.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&hostModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite schema: %w", err)
	}

	return db, nil
}

// HostRepository implements host.Repository on top of GORM and SQLite.
type HostRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewHostRepository creates a new SQLite host repository.
func NewHostRepository(db *gorm.DB, logger *zap.Logger) *HostRepository {
	return &HostRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "host")),
	}
}

// UpsertByMAC overwrites the host registered under the same MAC address or creates a new one.
func (r *HostRepository) UpsertByMAC(ctx context.Context, h *domain.Host) (*domain.Host, bool, error) {
	var (
		row     hostModel
		created bool
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("mac_address = ?", h.MACAddress).First(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row = hostModel{}
			row.setMutable(h)
			created = true
			return tx.Create(&row).Error
		case err != nil:
			return err
		}

		row.setMutable(h)
		return tx.Save(&row).Error
	})
	if err != nil {
		return nil, false, handleDBError(err, "upsert host")
	}

	r.logger.Debug("Upserted host",
		zap.Int64("id", row.ID),
		zap.String("mac_address", row.MACAddress),
		zap.Bool("created", created),
	)
	return row.toDomain(), created, nil
}

// Get retrieves a host by ID.
func (r *HostRepository) Get(ctx context.Context, id int64) (*domain.Host, error) {
	var row hostModel
	if err := r.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, handleDBError(err, "get host")
	}
	return row.toDomain(), nil
}

// Update overwrites all mutable fields of an existing host.
func (r *HostRepository) Update(ctx context.Context, id int64, h *domain.Host) (*domain.Host, error) {
	var row hostModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&row, id).Error; err != nil {
			return err
		}
		row.setMutable(h)
		return tx.Save(&row).Error
	})
	if err != nil {
		return nil, handleDBError(err, "update host")
	}

	r.logger.Debug("Updated host", zap.Int64("id", id))
	return row.toDomain(), nil
}

// Delete removes a host by ID.
func (r *HostRepository) Delete(ctx context.Context, id int64) error {
	result := r.db.WithContext(ctx).Delete(&hostModel{}, id)
	if result.Error != nil {
		return handleDBError(result.Error, "delete host")
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}

	r.logger.Debug("Deleted host", zap.Int64("id", id))
	return nil
}

// List returns all hosts ordered by ID.
func (r *HostRepository) List(ctx context.Context) ([]*domain.Host, error) {
	return r.find(r.db.WithContext(ctx))
}

// SearchByName returns hosts whose name contains pattern. instr is case-sensitive
// and treats pattern literally.
func (r *HostRepository) SearchByName(ctx context.Context, pattern string) ([]*domain.Host, error) {
	return r.find(r.db.WithContext(ctx).Where("instr(name, ?) > 0", pattern))
}

// ListAvailable returns hosts with free disk, memory and CPU.
func (r *HostRepository) ListAvailable(ctx context.Context) ([]*domain.Host, error) {
	return r.find(r.db.WithContext(ctx).Where(
		"available_disk_gb > 0 AND available_memory_gb > 0 AND available_cpu_percent > 0",
	))
}

func (r *HostRepository) find(q *gorm.DB) ([]*domain.Host, error) {
	var rows []hostModel
	if err := q.Order("id").Find(&rows).Error; err != nil {
		return nil, handleDBError(err, "list hosts")
	}

	hosts := make([]*domain.Host, 0, len(rows))
	for i := range rows {
		hosts = append(hosts, rows[i].toDomain())
	}
	return hosts, nil
}

// handleDBError translates GORM errors into domain errors.
func handleDBError(err error, op string) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domain.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return domain.ErrConflict
	default:
		return fmt.Errorf("failed to %s: %w", op, err)
	}
}
