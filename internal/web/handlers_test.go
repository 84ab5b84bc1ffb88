package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"berrytrace/internal/db"
	"berrytrace/internal/domain"
	"berrytrace/internal/imagestore"
	"berrytrace/internal/metrics"
	"berrytrace/internal/qrcode"
	"berrytrace/internal/service"
	"berrytrace/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	database, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, database.Close()) })

	logger := slog.Default()
	codes, err := qrcode.NewGenerator(t.TempDir(), 4, 4, "SB", logger)
	require.NoError(t, err)
	images, err := imagestore.NewStore(t.TempDir(), 1920, 300, logger)
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	svc := service.NewTraceService(
		store.NewItemStore(database),
		store.NewRecordStore(database),
		codes,
		images,
		nil,
		database,
		metrics.New(registry),
		logger,
		service.Options{MaxRecordsPerItem: 10},
	)
	return NewServer(svc, registry, logger)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func createItemViaAPI(t *testing.T, h http.Handler, notes string) domain.Item {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/items", map[string]string{"notes": notes})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var item domain.Item
	decodeJSON(t, rec, &item)
	return item
}

func observationImage(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 12, 12))
	for y := 0; y < 12; y++ {
		for x := 0; x < 12; x++ {
			img.Set(x, y, color.RGBA{R: 180, G: 40, B: 50, A: 255})
		}
	}
	path := filepath.Join(t.TempDir(), "obs.jpg")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, jpeg.Encode(f, img, nil))
	require.NoError(t, f.Close())
	return path
}

func TestCreateAndGetItem(t *testing.T) {
	h := newTestServer(t).Handler()

	item := createItemViaAPI(t, h, "greenhouse 2")
	assert.NotZero(t, item.ID)
	assert.Equal(t, "greenhouse 2", item.Notes)
	assert.True(t, qrcode.ValidateFormat(item.QRCode))

	rec := doJSON(t, h, http.MethodGet, fmt.Sprintf("/items/%d", item.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info domain.FullInfo
	decodeJSON(t, rec, &info)
	assert.Equal(t, item.ID, info.Item.ID)
	assert.Zero(t, info.RecordCount)
}

func TestCreateItem_MalformedBody(t *testing.T) {
	h := newTestServer(t).Handler()

	req := httptest.NewRequest(http.MethodPost, "/items", strings.NewReader("{nope"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetItem_NotFound(t *testing.T) {
	h := newTestServer(t).Handler()

	rec := doJSON(t, h, http.MethodGet, "/items/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp struct {
		Error string `json:"error"`
	}
	decodeJSON(t, rec, &resp)
	assert.NotEmpty(t, resp.Error)
}

func TestGetItem_MalformedID(t *testing.T) {
	h := newTestServer(t).Handler()

	rec := doJSON(t, h, http.MethodGet, "/items/banana", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListItems(t *testing.T) {
	h := newTestServer(t).Handler()

	item := createItemViaAPI(t, h, "")
	createItemViaAPI(t, h, "")

	rec := doJSON(t, h, http.MethodPut, fmt.Sprintf("/items/%d/status", item.ID), map[string]string{"status": "harvested"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/items", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var all []domain.ItemLatest
	decodeJSON(t, rec, &all)
	assert.Len(t, all, 2)

	rec = doJSON(t, h, http.MethodGet, "/items?status=harvested", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var harvested []domain.ItemLatest
	decodeJSON(t, rec, &harvested)
	require.Len(t, harvested, 1)
	assert.Equal(t, item.ID, harvested[0].Item.ID)

	rec = doJSON(t, h, http.MethodGet, "/items?status=burnt", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/items?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateStatus_Invalid(t *testing.T) {
	h := newTestServer(t).Handler()
	item := createItemViaAPI(t, h, "")

	rec := doJSON(t, h, http.MethodPut, fmt.Sprintf("/items/%d/status", item.ID), map[string]string{"status": "composted"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddObservationAndTimeline(t *testing.T) {
	h := newTestServer(t).Handler()
	item := createItemViaAPI(t, h, "")
	src := observationImage(t)

	rec := doJSON(t, h, http.MethodPost, fmt.Sprintf("/items/%d/records", item.ID), map[string]string{
		"image_path":   src,
		"description":  "first berries showing",
		"growth_stage": "fruiting",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var record domain.Record
	decodeJSON(t, rec, &record)
	assert.Equal(t, "first berries showing", record.Description)
	assert.Equal(t, "healthy", record.HealthStatus)

	rec = doJSON(t, h, http.MethodGet, fmt.Sprintf("/items/%d/timeline", item.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var timeline []domain.TimelineEntry
	decodeJSON(t, rec, &timeline)
	require.Len(t, timeline, 1)
	assert.Equal(t, record.ID, timeline[0].ID)
	assert.Equal(t, "fruiting", timeline[0].GrowthStage)
}

func TestAddObservation_MissingImagePath(t *testing.T) {
	h := newTestServer(t).Handler()
	item := createItemViaAPI(t, h, "")

	rec := doJSON(t, h, http.MethodPost, fmt.Sprintf("/items/%d/records", item.ID), map[string]string{
		"description": "no image supplied",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteRecord(t *testing.T) {
	h := newTestServer(t).Handler()
	item := createItemViaAPI(t, h, "")
	src := observationImage(t)

	rec := doJSON(t, h, http.MethodPost, fmt.Sprintf("/items/%d/records", item.ID), map[string]string{"image_path": src})
	require.Equal(t, http.StatusCreated, rec.Code)
	var record domain.Record
	decodeJSON(t, rec, &record)

	rec = doJSON(t, h, http.MethodDelete, fmt.Sprintf("/records/%d", record.ID), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, fmt.Sprintf("/records/%d", record.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteItem(t *testing.T) {
	h := newTestServer(t).Handler()
	item := createItemViaAPI(t, h, "")

	rec := doJSON(t, h, http.MethodDelete, fmt.Sprintf("/items/%d", item.ID), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodGet, fmt.Sprintf("/items/%d", item.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearch(t *testing.T) {
	h := newTestServer(t).Handler()
	item := createItemViaAPI(t, h, "")

	rec := doJSON(t, h, http.MethodGet, "/search?code="+item.QRCode, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info domain.FullInfo
	decodeJSON(t, rec, &info)
	assert.Equal(t, item.ID, info.Item.ID)

	rec = doJSON(t, h, http.MethodGet, "/search", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "code parameter required")

	rec = doJSON(t, h, http.MethodGet, "/search?code=garbage", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "malformed code rejected")

	rec = doJSON(t, h, http.MethodGet, "/search?code=SB_20240101_120000_FFFFFFFF", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportEndpoint(t *testing.T) {
	h := newTestServer(t).Handler()
	item := createItemViaAPI(t, h, "export test")

	rec := doJSON(t, h, http.MethodGet, fmt.Sprintf("/items/%d/export", item.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	info, err := service.ParseExport(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, item.ID, info.Item.ID)
}

func TestStatisticsEndpoint(t *testing.T) {
	h := newTestServer(t).Handler()
	createItemViaAPI(t, h, "")

	rec := doJSON(t, h, http.MethodGet, "/statistics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report domain.StatisticsReport
	decodeJSON(t, rec, &report)
	assert.Equal(t, 1, report.TotalItems)
	assert.Equal(t, 1, report.TodayNewItems)
}

func TestIntegrityEndpoint(t *testing.T) {
	h := newTestServer(t).Handler()
	createItemViaAPI(t, h, "")

	rec := doJSON(t, h, http.MethodGet, "/integrity", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report domain.IntegrityReport
	decodeJSON(t, rec, &report)
	assert.True(t, report.Valid)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t).Handler()
	createItemViaAPI(t, h, "")

	rec := doJSON(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "berrytrace_items_created_total")
}
