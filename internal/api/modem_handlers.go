package api

import (
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/hilinkd/hilinkd/internal/models"
	"github.com/hilinkd/hilinkd/internal/monitor"
	"github.com/hilinkd/hilinkd/internal/storage"
)

const (
	defaultSampleLimit = 1000
	maxSampleLimit     = 10000
)

// HandleListModems lists the managed modems
func (s *RESTServer) HandleListModems(w http.ResponseWriter, r *http.Request) {
	snaps := s.modems.Snapshots()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"modems": snaps,
		"total":  len(snaps),
	})
}

// HandleGetModem gets the cached state of one modem
func (s *RESTServer) HandleGetModem(w http.ResponseWriter, r *http.Request) {
	snap, err := s.modems.Snapshot(chi.URLParam(r, "uuid"))
	if err != nil {
		s.respondError(w, http.StatusNotFound, "modem not found")
		return
	}
	s.respondJSON(w, http.StatusOK, snap)
}

// HandleModemAction runs connect, disconnect or reboot
func (s *RESTServer) HandleModemAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "uuid")
	action := chi.URLParam(r, "action")

	err := s.modems.Command(r.Context(), id, action)
	switch {
	case err == nil:
	case errors.Is(err, monitor.ErrModemNotFound):
		s.respondError(w, http.StatusNotFound, "modem not found")
		return
	case errors.Is(err, monitor.ErrUnknownAction):
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, monitor.ErrNotConnected):
		s.respondError(w, http.StatusConflict, err.Error())
		return
	default:
		log.Error().Err(err).Str("modem", id).Str("action", action).Msg("Modem action failed")
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"modem":  id,
		"action": action,
		"status": "ok",
	})
}

// HandleGetModemMetrics lists stored samples, oldest first
func (s *RESTServer) HandleGetModemMetrics(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "uuid")

	start, end, err := s.parseRange(r, 24*time.Hour)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	samples, err := s.store.ListSamples(r.Context(), storage.SampleFilters{
		ModemUUID: id,
		Start:     start,
		End:       end,
		Limit:     queryInt(r, "limit", defaultSampleLimit, maxSampleLimit),
	})
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if samples == nil {
		samples = []*models.MetricSample{}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"modem":   id,
		"start":   start.Unix(),
		"end":     end.Unix(),
		"samples": samples,
		"total":   len(samples),
	})
}

// HandleGetModemStatistics summarizes the samples of a period
func (s *RESTServer) HandleGetModemStatistics(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "uuid")

	period := r.URL.Query().Get("period")
	if period == "" {
		period = "24h"
	}
	length, err := storage.ParsePeriod(period)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	end := s.now()
	samples, err := s.store.ListSamples(r.Context(), storage.SampleFilters{
		ModemUUID: id,
		Start:     end.Add(-length),
		End:       end,
	})
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, storage.ComputeStatistics(id, period, samples))
}

// HandleExportModemData exports samples as CSV or JSON
func (s *RESTServer) HandleExportModemData(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "uuid")

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "json" {
		s.respondError(w, http.StatusBadRequest, "unsupported format")
		return
	}

	start, end, err := s.parseRange(r, 24*time.Hour)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	samples, err := s.store.ListSamples(r.Context(), storage.SampleFilters{
		ModemUUID: id,
		Start:     start,
		End:       end,
	})
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	filename := fmt.Sprintf("modem_%s_%s", id, end.UTC().Format("20060102T150405"))

	if format == "json" {
		if samples == nil {
			samples = []*models.MetricSample{}
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename+".json"))
		s.respondJSON(w, http.StatusOK, samples)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename+".csv"))

	writer := csv.NewWriter(w)
	defer writer.Flush()

	writer.Write([]string{
		"timestamp",
		"signal_strength_dbm",
		"signal_quality_percent",
		"rx_bytes",
		"tx_bytes",
		"connection_state",
		"network_type",
	})
	for _, sample := range samples {
		writer.Write([]string{
			time.Unix(sample.Timestamp, 0).UTC().Format(time.RFC3339),
			strconv.Itoa(sample.SignalStrength),
			strconv.FormatFloat(sample.SignalQuality, 'f', 1, 64),
			strconv.FormatInt(sample.RxBytes, 10),
			strconv.FormatInt(sample.TxBytes, 10),
			strconv.Itoa(sample.ConnectionState),
			strconv.Itoa(sample.NetworkType),
		})
	}
}

// HandleListEvents lists events, newest first
func (s *RESTServer) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := queryInt(r, "limit", 20, 500)
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	filters := storage.EventLogFilters{}

	// Parse filters
	if modem := r.URL.Query().Get("modem"); modem != "" {
		filters.ModemUUID = &modem
	}

	if eventType := r.URL.Query().Get("type"); eventType != "" {
		modelEventType := models.EventType(eventType)
		filters.Type = &modelEventType
	}

	if level := r.URL.Query().Get("level"); level != "" {
		modelEventLevel := models.EventLevel(level)
		filters.Level = &modelEventLevel
	}

	if v := r.URL.Query().Get("start"); v != "" {
		start, err := parseTime(v, time.Time{})
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		filters.StartTime = &start
	}

	if v := r.URL.Query().Get("end"); v != "" {
		end, err := parseTime(v, time.Time{})
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		filters.EndTime = &end
	}

	events, total, err := s.store.ListEventLogs(ctx, filters, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []*models.EventLog{}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}
