package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"berrytrace/internal/domain"
)

type RecordStore struct {
	db *sql.DB
}

func NewRecordStore(db *sql.DB) *RecordStore {
	return &RecordStore{db: db}
}

const recordColumns = "id, item_id, image_path, description, growth_stage, health_status, size_estimate, color_description, recorded_at"

func (s *RecordStore) Create(ctx context.Context, rec domain.Record) (*domain.Record, error) {
	if rec.HealthStatus == "" {
		rec.HealthStatus = domain.DefaultHealthStatus
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}
	// Stored in UTC so MAX() and equality joins compare consistently.
	rec.RecordedAt = rec.RecordedAt.UTC()

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO records (item_id, image_path, description, growth_stage, health_status, size_estimate, color_description, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ItemID, rec.ImagePath, rec.Description, rec.GrowthStage, rec.HealthStatus, rec.SizeEstimate, rec.ColorDescription, rec.RecordedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return s.GetByID(ctx, id)
}

func (s *RecordStore) GetByID(ctx context.Context, id int64) (*domain.Record, error) {
	rec := &domain.Record{}
	err := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM records WHERE id = ?
	`, id).Scan(&rec.ID, &rec.ItemID, &rec.ImagePath, &rec.Description, &rec.GrowthStage,
		&rec.HealthStatus, &rec.SizeEstimate, &rec.ColorDescription, &rec.RecordedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

// ListByItem returns an item's records newest first. limit <= 0 means all.
func (s *RecordStore) ListByItem(ctx context.Context, itemID int64, limit int) ([]*domain.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE item_id = ? ORDER BY recorded_at DESC, id DESC`
	args := []any{itemID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()
	return scanRecords(rows)
}

// LatestPerItem returns every item joined to its single most recent record,
// computed via a max-recorded_at-per-item grouping joined back to the full
// row. itemID 0 covers all items, newest item first. Items without records
// appear with a nil Latest.
func (s *RecordStore) LatestPerItem(ctx context.Context, itemID int64) ([]*domain.ItemLatest, error) {
	query := `
		SELECT i.id, i.qr_code, i.qr_code_path, i.status, i.notes, i.created_at,
		       r.id, r.image_path, r.description, r.growth_stage, r.health_status,
		       r.size_estimate, r.color_description, r.recorded_at
		FROM items i
		LEFT JOIN (
			SELECT r1.* FROM records r1
			JOIN (
				SELECT item_id, MAX(recorded_at) AS max_recorded_at
				FROM records GROUP BY item_id
			) latest ON r1.item_id = latest.item_id AND r1.recorded_at = latest.max_recorded_at
			GROUP BY r1.item_id
		) r ON r.item_id = i.id`
	args := []any{}
	if itemID > 0 {
		query += ` WHERE i.id = ?`
		args = append(args, itemID)
	}
	query += ` ORDER BY i.created_at DESC, i.id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest per item: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	var results []*domain.ItemLatest
	for rows.Next() {
		item := &domain.Item{}
		var recID sql.NullInt64
		var imagePath, description, stage, health, size, color sql.NullString
		var recordedAt sql.NullTime

		if err := rows.Scan(&item.ID, &item.QRCode, &item.QRCodePath, &item.Status, &item.Notes, &item.CreatedAt,
			&recID, &imagePath, &description, &stage, &health, &size, &color, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan latest row: %w", err)
		}

		entry := &domain.ItemLatest{Item: item}
		if recID.Valid {
			entry.Latest = &domain.Record{
				ID:               recID.Int64,
				ItemID:           item.ID,
				ImagePath:        imagePath.String,
				Description:      description.String,
				GrowthStage:      stage.String,
				HealthStatus:     health.String,
				SizeEstimate:     size.String,
				ColorDescription: color.String,
				RecordedAt:       recordedAt.Time,
			}
		}
		results = append(results, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating latest rows: %w", err)
	}
	return results, nil
}

func (s *RecordStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("record %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *RecordStore) CountByItem(ctx context.Context, itemID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE item_id = ?`, itemID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// ImagePaths returns every artifact path referenced by a record row. Used by
// the integrity scan as the "still referenced" set.
func (s *RecordStore) ImagePaths(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT image_path FROM records`)
	if err != nil {
		return nil, fmt.Errorf("failed to query image paths: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan image path: %w", err)
		}
		if p != "" {
			paths = append(paths, p)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating image paths: %w", err)
	}
	return paths, nil
}

// PruneOldest deletes an item's rows beyond the newest keep records and
// returns the deleted rows so the caller can remove their artifacts.
func (s *RecordStore) PruneOldest(ctx context.Context, itemID int64, keep int) ([]*domain.Record, error) {
	if keep <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM records WHERE item_id = ?
		ORDER BY recorded_at DESC, id DESC LIMIT -1 OFFSET ?
	`, itemID, keep)
	if err != nil {
		return nil, fmt.Errorf("failed to query prunable records: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	pruned, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(pruned) == 0 {
		return nil, nil
	}

	ids := make([]string, len(pruned))
	args := make([]any, len(pruned))
	for i, rec := range pruned {
		ids[i] = "?"
		args[i] = rec.ID
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM records WHERE id IN (`+strings.Join(ids, ",")+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to prune records: %w", err)
	}
	return pruned, nil
}

// GroupLatestByStage counts latest-per-item records by growth stage,
// skipping records without one.
func (s *RecordStore) GroupLatestByStage(ctx context.Context) (map[string]int, error) {
	return s.groupLatest(ctx, "growth_stage", true)
}

// GroupLatestByHealth counts latest-per-item records by health status.
func (s *RecordStore) GroupLatestByHealth(ctx context.Context) (map[string]int, error) {
	return s.groupLatest(ctx, "health_status", false)
}

func (s *RecordStore) groupLatest(ctx context.Context, column string, skipEmpty bool) (map[string]int, error) {
	where := ""
	if skipEmpty {
		where = fmt.Sprintf("WHERE sr.%s != ''", column)
	}
	query := fmt.Sprintf(`
		SELECT sr.%[1]s, COUNT(*)
		FROM records sr
		JOIN (
			SELECT item_id, MAX(recorded_at) AS max_recorded_at
			FROM records GROUP BY item_id
		) latest ON sr.item_id = latest.item_id AND sr.recorded_at = latest.max_recorded_at
		%[2]s
		GROUP BY sr.%[1]s`, column, where)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to group latest records: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	counts := map[string]int{}
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("failed to scan group count: %w", err)
		}
		counts[key] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating group counts: %w", err)
	}
	return counts, nil
}

func scanRecords(rows *sql.Rows) ([]*domain.Record, error) {
	var records []*domain.Record
	for rows.Next() {
		rec := &domain.Record{}
		if err := rows.Scan(&rec.ID, &rec.ItemID, &rec.ImagePath, &rec.Description, &rec.GrowthStage,
			&rec.HealthStatus, &rec.SizeEstimate, &rec.ColorDescription, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}
