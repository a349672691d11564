package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/samijaber1/cellguard/internal/storage"
)

// EnsureService finds a service by name, creating it if missing.
func (s *Store) EnsureService(ctx context.Context, name string) (*storage.Service, error) {
	_, err := s.exec(ctx, `
		INSERT INTO services (name, created_at) VALUES (?, ?)
		ON CONFLICT(name) DO NOTHING
	`, name, utc(time.Now()))
	if err != nil {
		return nil, fmt.Errorf("failed to ensure service: %w", err)
	}
	return s.GetService(ctx, name)
}

// GetService looks a service up by name.
func (s *Store) GetService(ctx context.Context, name string) (*storage.Service, error) {
	return s.scanService(s.queryRow(ctx, "SELECT id, name, created_at FROM services WHERE name = ?", name))
}

// GetServiceByID looks a service up by id.
func (s *Store) GetServiceByID(ctx context.Context, id int64) (*storage.Service, error) {
	return s.scanService(s.queryRow(ctx, "SELECT id, name, created_at FROM services WHERE id = ?", id))
}

func (s *Store) scanService(row *sql.Row) (*storage.Service, error) {
	var svc storage.Service
	if err := row.Scan(&svc.ID, &svc.Name, &svc.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get service: %w", err)
	}
	svc.CreatedAt = utc(svc.CreatedAt)
	return &svc, nil
}

// ListServices returns every service ordered by id.
func (s *Store) ListServices(ctx context.Context) ([]storage.Service, error) {
	rows, err := s.query(ctx, "SELECT id, name, created_at FROM services ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	defer rows.Close()

	var services []storage.Service
	for rows.Next() {
		var svc storage.Service
		if err := rows.Scan(&svc.ID, &svc.Name, &svc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		svc.CreatedAt = utc(svc.CreatedAt)
		services = append(services, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return services, nil
}
