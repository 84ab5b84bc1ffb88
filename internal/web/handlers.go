package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"berrytrace/internal/domain"
	"berrytrace/internal/service"
)

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", domain.ErrInvalid, err)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed id %q", domain.ErrInvalid, r.PathValue("id"))
	}
	return id, nil
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	status := domain.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		s.writeError(w, fmt.Errorf("%w: unknown status %q", domain.ErrInvalid, status))
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, fmt.Errorf("%w: malformed limit %q", domain.ErrInvalid, raw))
			return
		}
		limit = n
	}

	entries, err := s.service.ListWithLatest(r.Context(), status, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

type createItemRequest struct {
	Notes  string `json:"notes"`
	Prefix string `json:"prefix"`
}

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	item, err := s.service.CreateItem(r.Context(), req.Notes, req.Prefix)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	info, err := s.service.GetFullInfo(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.service.DeleteItem(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req updateStatusRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	item, err := s.service.UpdateStatus(r.Context(), id, domain.Status(req.Status))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, item)
}

type addObservationRequest struct {
	ImagePath        string `json:"image_path"`
	Description      string `json:"description"`
	GrowthStage      string `json:"growth_stage"`
	HealthStatus     string `json:"health_status"`
	SizeEstimate     string `json:"size_estimate"`
	ColorDescription string `json:"color_description"`
}

func (s *Server) handleAddObservation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req addObservationRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.ImagePath == "" {
		s.writeError(w, fmt.Errorf("%w: image_path is required", domain.ErrInvalid))
		return
	}

	rec, err := s.service.AddObservation(r.Context(), id, req.ImagePath, service.ObservationInput{
		Description:      req.Description,
		GrowthStage:      req.GrowthStage,
		HealthStatus:     req.HealthStatus,
		SizeEstimate:     req.SizeEstimate,
		ColorDescription: req.ColorDescription,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	timeline, err := s.service.Timeline(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, timeline)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	data, err := s.service.Export(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Error("failed to write export", "error", err)
	}
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.service.DeleteRecord(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		s.writeError(w, fmt.Errorf("%w: code query parameter is required", domain.ErrInvalid))
		return
	}
	info, err := s.service.FindByCode(r.Context(), code)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.StatisticsReport(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.IntegrityScan(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}
