// Package service composes the identity-code generator, the artifact store,
// and the repositories into lifecycle operations. The database and the file
// system fail independently and share no transaction, so each multi-step
// operation here is a short saga: a fixed step order with an explicit
// compensating action at each failure point.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"berrytrace/internal/describe"
	"berrytrace/internal/domain"
	"berrytrace/internal/metrics"
	"berrytrace/internal/qrcode"
)

// itemRepository is the subset of store.ItemStore that TraceService requires.
type itemRepository interface {
	Create(ctx context.Context, qrCode, qrCodePath, notes string) (*domain.Item, error)
	GetByID(ctx context.Context, id int64) (*domain.Item, error)
	GetByCode(ctx context.Context, qrCode string) (*domain.Item, error)
	List(ctx context.Context, status domain.Status) ([]*domain.Item, error)
	UpdateStatus(ctx context.Context, id int64, status domain.Status) error
	UpdateCodePath(ctx context.Context, id int64, qrCodePath string) error
	Delete(ctx context.Context, id int64) error
	CreatedSince(ctx context.Context, t time.Time) (int, error)
	Statistics(ctx context.Context) (*domain.Statistics, error)
}

// recordRepository is the subset of store.RecordStore that TraceService requires.
type recordRepository interface {
	Create(ctx context.Context, rec domain.Record) (*domain.Record, error)
	GetByID(ctx context.Context, id int64) (*domain.Record, error)
	ListByItem(ctx context.Context, itemID int64, limit int) ([]*domain.Record, error)
	LatestPerItem(ctx context.Context, itemID int64) ([]*domain.ItemLatest, error)
	Delete(ctx context.Context, id int64) error
	ImagePaths(ctx context.Context) ([]string, error)
	PruneOldest(ctx context.Context, itemID int64, keep int) ([]*domain.Record, error)
	GroupLatestByStage(ctx context.Context) (map[string]int, error)
	GroupLatestByHealth(ctx context.Context) (map[string]int, error)
}

// codeGenerator is the subset of qrcode.Generator that TraceService requires.
type codeGenerator interface {
	GenerateItemIdentity(prefix string) (string, string, error)
	EmbedID(oldPath, code string, id int64) (string, error)
	BatchGenerate(count int, prefix string) []qrcode.Identity
	Delete(path string) bool
}

// artifactStore is the subset of imagestore.Store that TraceService requires.
type artifactStore interface {
	Save(sourcePath string, itemID int64, resize, thumbnail bool) (string, error)
	Delete(path string, deleteThumbnail bool) bool
	List(itemID int64) ([]string, error)
	FindOrphans(referenced []string) ([]string, error)
	Exists(path string) bool
	ThumbnailPath(path string) (string, bool)
}

// pinger reports store reachability; satisfied by *sql.DB.
type pinger interface {
	PingContext(ctx context.Context) error
}

// Options bound the optional behaviors of the service.
type Options struct {
	// MaxRecordsPerItem caps retained records per item; after a successful
	// insert, rows beyond the newest N are pruned oldest-first along with
	// their artifacts. <= 0 disables pruning.
	MaxRecordsPerItem int
	// DescribeRetries bounds calls to the describer per observation.
	DescribeRetries int
}

type TraceService struct {
	items     itemRepository
	records   recordRepository
	codes     codeGenerator
	images    artifactStore
	describer describe.Describer // nil when no backend is configured
	db        pinger
	metrics   *metrics.Metrics
	logger    *slog.Logger
	opts      Options
}

func NewTraceService(
	items itemRepository,
	records recordRepository,
	codes codeGenerator,
	images artifactStore,
	describer describe.Describer,
	db pinger,
	m *metrics.Metrics,
	logger *slog.Logger,
	opts Options,
) *TraceService {
	if opts.DescribeRetries <= 0 {
		opts.DescribeRetries = 1
	}
	return &TraceService{
		items:     items,
		records:   records,
		codes:     codes,
		images:    images,
		describer: describer,
		db:        db,
		metrics:   m,
		logger:    logger,
		opts:      opts,
	}
}

// CreateItem generates an identity code and image, persists the item row,
// then best-effort renames the image to embed the assigned row id. A row
// insert failure deletes the freshly rendered identity artifact; a rename or
// path-update failure is logged and accepted, leaving the item valid under
// its original artifact path.
func (s *TraceService) CreateItem(ctx context.Context, notes, prefix string) (*domain.Item, error) {
	code, qrPath, err := s.codes.GenerateItemIdentity(prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to generate identity: %w", err)
	}

	item, err := s.items.Create(ctx, code, qrPath, notes)
	if err != nil {
		s.codes.Delete(qrPath)
		s.metrics.Compensations.WithLabelValues("create_item").Inc()
		return nil, fmt.Errorf("failed to create item row: %w", err)
	}

	if newPath, err := s.codes.EmbedID(qrPath, code, item.ID); err != nil {
		s.logger.Warn("failed to rename identity artifact", "item_id", item.ID, "error", err)
	} else if err := s.items.UpdateCodePath(ctx, item.ID, newPath); err != nil {
		s.logger.Warn("failed to update identity artifact path", "item_id", item.ID, "error", err)
	} else {
		item.QRCodePath = newPath
	}

	s.metrics.ItemsCreated.Inc()
	s.logger.Info("item created", "item_id", item.ID, "qr_code", item.QRCode)
	return item, nil
}

// ObservationInput carries optional annotations for a new record. An empty
// HealthStatus defaults to "healthy"; an empty Description is filled by the
// describer when one is configured, falling back to FallbackDescription.
type ObservationInput struct {
	Description         string
	FallbackDescription string
	GrowthStage         string
	HealthStatus        string
	SizeEstimate        string
	ColorDescription    string
}

// AddObservation verifies the item exists, persists the photo artifact, then
// inserts the record row. A row insert failure deletes the just-saved
// artifact. Describer failures degrade to the fallback description and are
// never surfaced as operation failures.
func (s *TraceService) AddObservation(ctx context.Context, itemID int64, imagePath string, input ObservationInput) (*domain.Record, error) {
	if _, err := s.items.GetByID(ctx, itemID); err != nil {
		return nil, err
	}

	savedPath, err := s.images.Save(imagePath, itemID, true, true)
	if err != nil {
		return nil, fmt.Errorf("failed to save observation image: %w", err)
	}

	description := input.Description
	if description == "" && s.describer != nil {
		if text, err := s.describeWithRetry(ctx, savedPath); err != nil {
			s.logger.Warn("description generation failed, using fallback", "item_id", itemID, "error", err)
			description = input.FallbackDescription
		} else {
			description = text
		}
	} else if description == "" {
		description = input.FallbackDescription
	}

	rec, err := s.records.Create(ctx, domain.Record{
		ItemID:           itemID,
		ImagePath:        savedPath,
		Description:      description,
		GrowthStage:      input.GrowthStage,
		HealthStatus:     input.HealthStatus,
		SizeEstimate:     input.SizeEstimate,
		ColorDescription: input.ColorDescription,
		RecordedAt:       time.Now(),
	})
	if err != nil {
		s.images.Delete(savedPath, true)
		s.metrics.Compensations.WithLabelValues("add_observation").Inc()
		return nil, fmt.Errorf("failed to create observation record: %w", err)
	}

	s.pruneRecords(ctx, itemID)

	s.metrics.Observations.Inc()
	s.logger.Info("observation added", "item_id", itemID, "record_id", rec.ID)
	return rec, nil
}

func (s *TraceService) describeWithRetry(ctx context.Context, imagePath string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= s.opts.DescribeRetries; attempt++ {
		text, err := s.describer.Describe(ctx, imagePath)
		if err == nil {
			return text, nil
		}
		lastErr = err
		s.logger.Debug("describe attempt failed", "attempt", attempt, "error", err)
	}
	return "", lastErr
}

// pruneRecords enforces the retention cap. Prune failures are logged only;
// the observation that triggered them has already committed.
func (s *TraceService) pruneRecords(ctx context.Context, itemID int64) {
	if s.opts.MaxRecordsPerItem <= 0 {
		return
	}
	pruned, err := s.records.PruneOldest(ctx, itemID, s.opts.MaxRecordsPerItem)
	if err != nil {
		s.logger.Error("failed to prune old records", "item_id", itemID, "error", err)
		return
	}
	for _, rec := range pruned {
		s.images.Delete(rec.ImagePath, true)
	}
	if len(pruned) > 0 {
		s.logger.Info("pruned old records", "item_id", itemID, "count", len(pruned))
	}
}

// DeleteItem removes the item row first (records cascade with it), then the
// identity artifact, then each record's photo and thumbnail. The row is the
// source of truth, so it goes first; artifact cleanup after it is
// best-effort, and an interruption in between leaves orphans the integrity
// scan can find.
func (s *TraceService) DeleteItem(ctx context.Context, itemID int64) error {
	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return err
	}
	records, err := s.records.ListByItem(ctx, itemID, 0)
	if err != nil {
		return fmt.Errorf("failed to list records for deletion: %w", err)
	}

	if err := s.items.Delete(ctx, itemID); err != nil {
		return fmt.Errorf("failed to delete item row: %w", err)
	}

	if item.QRCodePath != "" {
		s.codes.Delete(item.QRCodePath)
	}
	for _, rec := range records {
		s.images.Delete(rec.ImagePath, true)
	}

	s.logger.Info("item deleted", "item_id", itemID, "records_removed", len(records))
	return nil
}

// DeleteRecord removes a single observation record and its artifact.
func (s *TraceService) DeleteRecord(ctx context.Context, recordID int64) error {
	rec, err := s.records.GetByID(ctx, recordID)
	if err != nil {
		return err
	}
	if err := s.records.Delete(ctx, recordID); err != nil {
		return fmt.Errorf("failed to delete record row: %w", err)
	}
	s.images.Delete(rec.ImagePath, true)
	s.logger.Info("record deleted", "record_id", recordID, "item_id", rec.ItemID)
	return nil
}

// UpdateStatus moves an item through its lifecycle. Unknown statuses are
// rejected before any write.
func (s *TraceService) UpdateStatus(ctx context.Context, itemID int64, status domain.Status) (*domain.Item, error) {
	if err := s.items.UpdateStatus(ctx, itemID, status); err != nil {
		return nil, err
	}
	return s.items.GetByID(ctx, itemID)
}

// GetItem returns the bare item row.
func (s *TraceService) GetItem(ctx context.Context, itemID int64) (*domain.Item, error) {
	return s.items.GetByID(ctx, itemID)
}

// ListItems returns items newest first, optionally filtered by status.
func (s *TraceService) ListItems(ctx context.Context, status domain.Status) ([]*domain.Item, error) {
	return s.items.List(ctx, status)
}

// GetFullInfo returns the item, its complete record sequence newest first,
// and the record count.
func (s *TraceService) GetFullInfo(ctx context.Context, itemID int64) (*domain.FullInfo, error) {
	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	records, err := s.records.ListByItem(ctx, itemID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return &domain.FullInfo{Item: item, Records: records, RecordCount: len(records)}, nil
}

// FindByCode validates the code format structurally, then resolves it to the
// item's full info.
func (s *TraceService) FindByCode(ctx context.Context, code string) (*domain.FullInfo, error) {
	if !qrcode.ValidateFormat(code) {
		return nil, fmt.Errorf("%w: malformed identity code %q", domain.ErrInvalid, code)
	}
	item, err := s.items.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.GetFullInfo(ctx, item.ID)
}

// ListWithLatest returns the latest-per-item view, optionally filtered by
// status and capped at limit entries.
func (s *TraceService) ListWithLatest(ctx context.Context, status domain.Status, limit int) ([]*domain.ItemLatest, error) {
	entries, err := s.records.LatestPerItem(ctx, 0)
	if err != nil {
		return nil, err
	}
	if status != "" {
		filtered := entries[:0]
		for _, e := range entries {
			if e.Item.Status == status {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Timeline projects an item's records into an ordered growth timeline,
// newest first, with thumbnail paths where they exist.
func (s *TraceService) Timeline(ctx context.Context, itemID int64) ([]*domain.TimelineEntry, error) {
	if _, err := s.items.GetByID(ctx, itemID); err != nil {
		return nil, err
	}
	records, err := s.records.ListByItem(ctx, itemID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	timeline := make([]*domain.TimelineEntry, 0, len(records))
	for _, rec := range records {
		entry := &domain.TimelineEntry{
			ID:           rec.ID,
			RecordedAt:   rec.RecordedAt,
			GrowthStage:  rec.GrowthStage,
			HealthStatus: rec.HealthStatus,
			Description:  rec.Description,
			ImagePath:    rec.ImagePath,
		}
		if thumb, ok := s.images.ThumbnailPath(rec.ImagePath); ok {
			entry.ThumbnailPath = thumb
		}
		timeline = append(timeline, entry)
	}
	return timeline, nil
}

// Export serializes an item's full info as an indented JSON document with
// RFC 3339 timestamps. ParseExport reverses it.
func (s *TraceService) Export(ctx context.Context, itemID int64) ([]byte, error) {
	info, err := s.GetFullInfo(ctx, itemID)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal export: %w", err)
	}
	return data, nil
}

// ParseExport decodes a document produced by Export.
func ParseExport(data []byte) (*domain.FullInfo, error) {
	var info domain.FullInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("%w: malformed export document: %v", domain.ErrInvalid, err)
	}
	return &info, nil
}

// BatchGenerateCodes pre-renders count identities, best-effort.
func (s *TraceService) BatchGenerateCodes(count int, prefix string) []qrcode.Identity {
	return s.codes.BatchGenerate(count, prefix)
}

// IntegrityScan verifies database reachability and reconciles rows against
// artifact files: artifacts with no referencing row are orphans, referenced
// paths with no file are missing. It only reports; healing is an operator
// decision.
func (s *TraceService) IntegrityScan(ctx context.Context) (*domain.IntegrityReport, error) {
	report := &domain.IntegrityReport{Valid: true}

	if err := s.db.PingContext(ctx); err != nil {
		report.Valid = false
		report.AddIssue("database unreachable: %v", err)
		return report, nil
	}

	referenced, err := s.records.ImagePaths(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect referenced paths: %w", err)
	}

	orphans, err := s.images.FindOrphans(referenced)
	if err != nil {
		return nil, fmt.Errorf("failed to scan for orphans: %w", err)
	}
	if len(orphans) > 0 {
		report.OrphanedImages = orphans
		report.AddIssue("found %d orphaned image file(s)", len(orphans))
	}

	for _, path := range referenced {
		if !s.images.Exists(path) {
			report.MissingImages = append(report.MissingImages, path)
		}
	}
	if len(report.MissingImages) > 0 {
		report.Valid = false
		report.AddIssue("found %d missing image file(s)", len(report.MissingImages))
	}

	s.metrics.ScanOrphans.Set(float64(len(report.OrphanedImages)))
	s.metrics.ScanMissing.Set(float64(len(report.MissingImages)))
	s.logger.Info("integrity scan complete", "valid", report.Valid,
		"orphans", len(report.OrphanedImages), "missing", len(report.MissingImages))
	return report, nil
}

// StatisticsReport extends the repository statistics with counts since the
// start of the local day and week (Monday) and latest-record groupings.
func (s *TraceService) StatisticsReport(ctx context.Context) (*domain.StatisticsReport, error) {
	stats, err := s.items.Statistics(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	weekStart := dayStart.AddDate(0, 0, -mondayOffset(now.Weekday()))

	today, err := s.items.CreatedSince(ctx, dayStart)
	if err != nil {
		return nil, err
	}
	week, err := s.items.CreatedSince(ctx, weekStart)
	if err != nil {
		return nil, err
	}
	stages, err := s.records.GroupLatestByStage(ctx)
	if err != nil {
		return nil, err
	}
	health, err := s.records.GroupLatestByHealth(ctx)
	if err != nil {
		return nil, err
	}

	return &domain.StatisticsReport{
		Statistics:         *stats,
		TodayNewItems:      today,
		WeekNewItems:       week,
		GrowthStageCounts:  stages,
		HealthStatusCounts: health,
	}, nil
}

func mondayOffset(d time.Weekday) int {
	// time.Weekday counts Sunday as 0; the report week starts Monday.
	return (int(d) + 6) % 7
}

// IsNotFound and IsInvalid let consumers branch on outcomes without
// importing the domain package's sentinels directly.
func IsNotFound(err error) bool { return errors.Is(err, domain.ErrNotFound) }
func IsInvalid(err error) bool  { return errors.Is(err, domain.ErrInvalid) }
