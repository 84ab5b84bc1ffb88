package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"berrytrace/internal/domain"
)

type ItemStore struct {
	db *sql.DB
}

func NewItemStore(db *sql.DB) *ItemStore {
	return &ItemStore{db: db}
}

const itemColumns = "id, qr_code, qr_code_path, status, notes, created_at"

func (s *ItemStore) Create(ctx context.Context, qrCode, qrCodePath, notes string) (*domain.Item, error) {
	// Timestamps are written from Go in UTC so that range comparisons against
	// bound parameters stay consistent at the text level.
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO items (qr_code, qr_code_path, notes, created_at) VALUES (?, ?, ?, ?)
	`, qrCode, qrCodePath, notes, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return s.GetByID(ctx, id)
}

func (s *ItemStore) GetByID(ctx context.Context, id int64) (*domain.Item, error) {
	item := &domain.Item{}
	err := s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+` FROM items WHERE id = ?
	`, id).Scan(&item.ID, &item.QRCode, &item.QRCodePath, &item.Status, &item.Notes, &item.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

// GetByCode looks an item up by its identity code. Codes are only
// probabilistically unique; when duplicates exist the oldest row wins.
func (s *ItemStore) GetByCode(ctx context.Context, qrCode string) (*domain.Item, error) {
	item := &domain.Item{}
	err := s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+` FROM items WHERE qr_code = ? ORDER BY id ASC LIMIT 1
	`, qrCode).Scan(&item.ID, &item.QRCode, &item.QRCodePath, &item.Status, &item.Notes, &item.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item with code %q: %w", qrCode, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item by code: %w", err)
	}
	return item, nil
}

// List returns items newest first, optionally filtered by status ("" = all).
func (s *ItemStore) List(ctx context.Context, status domain.Status) ([]*domain.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items ORDER BY created_at DESC, id DESC`
	args := []any{}
	if status != "" {
		query = `SELECT ` + itemColumns + ` FROM items WHERE status = ? ORDER BY created_at DESC, id DESC`
		args = append(args, status)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	var items []*domain.Item
	for rows.Next() {
		item := &domain.Item{}
		if err := rows.Scan(&item.ID, &item.QRCode, &item.QRCodePath, &item.Status, &item.Notes, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}
	return items, nil
}

func (s *ItemStore) UpdateStatus(ctx context.Context, id int64, status domain.Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrInvalid, status)
	}

	result, err := s.db.ExecContext(ctx, `UPDATE items SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update item status: %w", err)
	}
	return oneRowAffected(result, id)
}

func (s *ItemStore) UpdateCodePath(ctx context.Context, id int64, qrCodePath string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE items SET qr_code_path = ? WHERE id = ?`, qrCodePath, id)
	if err != nil {
		return fmt.Errorf("failed to update qr code path: %w", err)
	}
	return oneRowAffected(result, id)
}

// Delete removes the item row; records cascade at the relational level.
func (s *ItemStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return oneRowAffected(result, id)
}

// CreatedSince counts items created at or after t.
func (s *ItemStore) CreatedSince(ctx context.Context, t time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items WHERE created_at >= ?`, t.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return count, nil
}

// Statistics returns total items, per-status counts, and the total record
// count across both tables.
func (s *ItemStore) Statistics(ctx context.Context) (*domain.Statistics, error) {
	stats := &domain.Statistics{StatusCounts: map[string]int{}}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&stats.TotalItems); err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count statuses: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		stats.StatusCounts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&stats.TotalRecords); err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	return stats, nil
}

func oneRowAffected(result sql.Result, id int64) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("item %d: %w", id, domain.ErrNotFound)
	}
	return nil
}
