package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/limiquantix/servicecluster/internal/domain"
	"github.com/limiquantix/servicecluster/internal/services/host"
)

// Ensure HostRepository implements host.Repository
var _ host.Repository = (*HostRepository)(nil)

const hostColumns = `
	id, name, mac_address, ip_address,
	total_disk_gb, available_disk_gb, total_memory_gb, available_memory_gb,
	cpu_model, available_cpu_percent, core_count, created_at, updated_at`

// HostRepository implements host.Repository using PostgreSQL.
type HostRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewHostRepository creates a new PostgreSQL host repository.
func NewHostRepository(db *DB, logger *zap.Logger) *HostRepository {
	return &HostRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "host")),
	}
}

// UpsertByMAC inserts a host or overwrites the row with the same MAC address in one statement.
func (r *HostRepository) UpsertByMAC(ctx context.Context, h *domain.Host) (*domain.Host, bool, error) {
	query := `
		INSERT INTO service_clusters (
			name, mac_address, ip_address,
			total_disk_gb, available_disk_gb, total_memory_gb, available_memory_gb,
			cpu_model, available_cpu_percent, core_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (mac_address) DO UPDATE SET
			name = EXCLUDED.name,
			ip_address = EXCLUDED.ip_address,
			total_disk_gb = EXCLUDED.total_disk_gb,
			available_disk_gb = EXCLUDED.available_disk_gb,
			total_memory_gb = EXCLUDED.total_memory_gb,
			available_memory_gb = EXCLUDED.available_memory_gb,
			cpu_model = EXCLUDED.cpu_model,
			available_cpu_percent = EXCLUDED.available_cpu_percent,
			core_count = EXCLUDED.core_count,
			updated_at = NOW()
		RETURNING id, created_at, updated_at, (xmax = 0) AS inserted
	`

	result := h.Clone()
	var inserted bool
	err := r.db.pool.QueryRow(ctx, query,
		h.Name, h.MACAddress, h.IPAddress,
		h.TotalDiskGB, h.AvailableDiskGB, h.TotalMemoryGB, h.AvailableMemoryGB,
		h.CPUModel, h.AvailableCPUPercent, h.CoreCount,
	).Scan(&result.ID, &result.CreatedAt, &result.UpdatedAt, &inserted)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, false, domain.ErrConflict
		}
		return nil, false, fmt.Errorf("failed to upsert host: %w", err)
	}

	r.logger.Debug("Upserted host",
		zap.Int64("id", result.ID),
		zap.String("mac_address", result.MACAddress),
		zap.Bool("created", inserted),
	)
	return result, inserted, nil
}

// Get retrieves a host by ID.
func (r *HostRepository) Get(ctx context.Context, id int64) (*domain.Host, error) {
	query := `SELECT ` + hostColumns + ` FROM service_clusters WHERE id = $1`

	h, err := scanHost(r.db.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get host: %w", err)
	}
	return h, nil
}

// Update overwrites all mutable fields of an existing host.
func (r *HostRepository) Update(ctx context.Context, id int64, h *domain.Host) (*domain.Host, error) {
	query := `
		UPDATE service_clusters SET
			name = $2,
			mac_address = $3,
			ip_address = $4,
			total_disk_gb = $5,
			available_disk_gb = $6,
			total_memory_gb = $7,
			available_memory_gb = $8,
			cpu_model = $9,
			available_cpu_percent = $10,
			core_count = $11,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + hostColumns

	updated, err := scanHost(r.db.pool.QueryRow(ctx, query, id,
		h.Name, h.MACAddress, h.IPAddress,
		h.TotalDiskGB, h.AvailableDiskGB, h.TotalMemoryGB, h.AvailableMemoryGB,
		h.CPUModel, h.AvailableCPUPercent, h.CoreCount,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, domain.ErrConflict
		}
		return nil, fmt.Errorf("failed to update host: %w", err)
	}

	r.logger.Debug("Updated host", zap.Int64("id", id))
	return updated, nil
}

// Delete removes a host by ID.
func (r *HostRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.pool.Exec(ctx, `DELETE FROM service_clusters WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete host: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	r.logger.Debug("Deleted host", zap.Int64("id", id))
	return nil
}

// List returns all hosts ordered by ID.
func (r *HostRepository) List(ctx context.Context) ([]*domain.Host, error) {
	return r.query(ctx, `SELECT `+hostColumns+` FROM service_clusters ORDER BY id`)
}

// SearchByName returns hosts whose name contains pattern. Matching is case-sensitive
// and pattern is taken literally.
func (r *HostRepository) SearchByName(ctx context.Context, pattern string) ([]*domain.Host, error) {
	return r.query(ctx,
		`SELECT `+hostColumns+` FROM service_clusters WHERE strpos(name, $1) > 0 ORDER BY id`,
		pattern,
	)
}

// ListAvailable returns hosts with free disk, memory and CPU.
func (r *HostRepository) ListAvailable(ctx context.Context) ([]*domain.Host, error) {
	return r.query(ctx, `
		SELECT `+hostColumns+` FROM service_clusters
		WHERE available_disk_gb > 0 AND available_memory_gb > 0 AND available_cpu_percent > 0
		ORDER BY id`)
}

func (r *HostRepository) query(ctx context.Context, sql string, args ...any) ([]*domain.Host, error) {
	rows, err := r.db.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list hosts: %w", err)
	}
	defer rows.Close()

	var hosts []*domain.Host
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan host: %w", err)
		}
		hosts = append(hosts, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate hosts: %w", err)
	}

	return hosts, nil
}

func scanHost(row pgx.Row) (*domain.Host, error) {
	var h domain.Host
	err := row.Scan(
		&h.ID, &h.Name, &h.MACAddress, &h.IPAddress,
		&h.TotalDiskGB, &h.AvailableDiskGB, &h.TotalMemoryGB, &h.AvailableMemoryGB,
		&h.CPUModel, &h.AvailableCPUPercent, &h.CoreCount, &h.CreatedAt, &h.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// isUniqueViolation checks if the error is a unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
