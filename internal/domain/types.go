package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel outcomes. Callers branch with errors.Is rather than inspecting
// message text; stores and services wrap these with context.
var (
	// ErrNotFound means a referenced item or record does not exist. No side
	// effect has occurred when it is returned.
	ErrNotFound = errors.New("not found")
	// ErrInvalid means the input was rejected before any side effect.
	ErrInvalid = errors.New("invalid input")
)

// Status is an item's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusHarvested Status = "harvested"
	StatusDead      Status = "dead"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusHarvested, StatusDead:
		return true
	}
	return false
}

// DefaultHealthStatus is the sentinel recorded when no health tag is supplied.
const DefaultHealthStatus = "healthy"

// Item is one tracked berry, addressed by an assigned id and a scannable
// identity code.
type Item struct {
	ID         int64     `json:"id"`
	QRCode     string    `json:"qr_code"`
	QRCodePath string    `json:"qr_code_path"`
	Status     Status    `json:"status"`
	Notes      string    `json:"notes"`
	CreatedAt  time.Time `json:"created_at"`
}

// Record is one timestamped photographic observation of an item.
type Record struct {
	ID               int64     `json:"id"`
	ItemID           int64     `json:"item_id"`
	ImagePath        string    `json:"image_path"`
	Description      string    `json:"description"`
	GrowthStage      string    `json:"growth_stage"`
	HealthStatus     string    `json:"health_status"`
	SizeEstimate     string    `json:"size_estimate"`
	ColorDescription string    `json:"color_description"`
	RecordedAt       time.Time `json:"recorded_at"`
}

// ItemLatest pairs an item with its most recently recorded observation.
// Latest is nil when the item has no records yet. When two records share a
// timestamp either one may be returned.
type ItemLatest struct {
	Item   *Item   `json:"item"`
	Latest *Record `json:"latest"`
}

// FullInfo is the export document: an item, its full record sequence newest
// first, and the record count. Timestamps marshal as RFC 3339.
type FullInfo struct {
	Item        *Item     `json:"item"`
	Records     []*Record `json:"records"`
	RecordCount int       `json:"record_count"`
}

// TimelineEntry is one step of an item's growth timeline.
type TimelineEntry struct {
	ID            int64     `json:"id"`
	RecordedAt    time.Time `json:"recorded_at"`
	GrowthStage   string    `json:"growth_stage"`
	HealthStatus  string    `json:"health_status"`
	Description   string    `json:"description"`
	ImagePath     string    `json:"image_path"`
	ThumbnailPath string    `json:"thumbnail_path,omitempty"`
}

// Statistics are the repository-level counts.
type Statistics struct {
	TotalItems   int            `json:"total_items"`
	StatusCounts map[string]int `json:"status_counts"`
	TotalRecords int            `json:"total_records"`
}

// StatisticsReport extends Statistics with time-windowed counts and
// latest-record groupings.
type StatisticsReport struct {
	Statistics
	TodayNewItems      int            `json:"today_new_items"`
	WeekNewItems       int            `json:"week_new_items"`
	GrowthStageCounts  map[string]int `json:"growth_stage_counts"`
	HealthStatusCounts map[string]int `json:"health_status_counts"`
}

// IntegrityReport is the outcome of a consistency scan. The scan only
// reports; it never deletes or repairs anything.
type IntegrityReport struct {
	Valid          bool     `json:"valid"`
	Issues         []string `json:"issues"`
	OrphanedImages []string `json:"orphaned_images,omitempty"`
	MissingImages  []string `json:"missing_images,omitempty"`
}

func (r *IntegrityReport) AddIssue(format string, args ...any) {
	r.Issues = append(r.Issues, fmt.Sprintf(format, args...))
}
