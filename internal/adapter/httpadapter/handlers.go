package httpadapter

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/couchcryptid/corona-data-etl/internal/domain"
)

type snapshotHandler func(w http.ResponseWriter, r *http.Request, snap domain.Snapshot)

// withSnapshot answers 503 until the first dataset has been applied, so an
// unvalidated or partial dataset is never served.
func (s *Server) withSnapshot(next snapshotHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, ok := s.view.Latest()
		if !ok {
			body := map[string]string{"status": "not ready"}
			if f, failed := s.view.LastFailure(); failed {
				body["error"] = f.Err.Error()
			}
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
		next(w, r, snap)
	}
}

type datasetResponse struct {
	RunID       string         `json:"runId"`
	GeneratedAt time.Time      `json:"generatedAt"`
	Dataset     domain.Dataset `json:"dataset"`
}

func (s *Server) handleDataset(w http.ResponseWriter, r *http.Request, snap domain.Snapshot) {
	q := r.URL.Query()
	from, err := parseDateParam(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "from: "+err.Error())
		return
	}
	to, err := parseDateParam(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "to: "+err.Error())
		return
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		writeError(w, http.StatusBadRequest, "to is before from")
		return
	}

	ds := snap.Dataset
	if places := q["place"]; len(places) > 0 {
		ds = ds.Select(places...)
	}
	if !from.IsZero() || !to.IsZero() {
		ds = ds.Window(from, to)
	}
	writeJSON(w, http.StatusOK, datasetResponse{RunID: snap.RunID, GeneratedAt: snap.GeneratedAt, Dataset: ds})
}

func (s *Server) handlePlaces(w http.ResponseWriter, r *http.Request, snap domain.Snapshot) {
	ranked := domain.SortByDeaths(snap.Dataset)
	if raw := r.URL.Query().Get("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "top must be a non-negative integer")
			return
		}
		ranked = ranked[:min(n, len(ranked))]
	}
	writeJSON(w, http.StatusOK, ranked)
}

func (s *Server) handlePlace(w http.ResponseWriter, r *http.Request, snap domain.Snapshot) {
	place := r.PathValue("place")
	series, ok := snap.Dataset[place]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown place "+strconv.Quote(place))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"place": place, "series": series})
}

func (s *Server) handleRange(w http.ResponseWriter, _ *http.Request, snap domain.Snapshot) {
	rng, ok := domain.DateRange(snap.Dataset)
	if !ok {
		writeError(w, http.StatusNotFound, "dataset has no entries")
		return
	}
	writeJSON(w, http.StatusOK, rng)
}

type statusResponse struct {
	Ready       bool           `json:"ready"`
	Generation  uint64         `json:"generation,omitempty"`
	RunID       string         `json:"runId,omitempty"`
	GeneratedAt *time.Time     `json:"generatedAt,omitempty"`
	Stats       map[string]int `json:"stats,omitempty"`
	LastError   string         `json:"lastError,omitempty"`
	LastErrorAt *time.Time     `json:"lastErrorAt,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var resp statusResponse
	if snap, ok := s.view.Latest(); ok {
		resp.Ready = true
		resp.Generation = snap.Generation
		resp.RunID = snap.RunID
		resp.GeneratedAt = &snap.GeneratedAt
		resp.Stats = map[string]int{
			"places":        snap.Stats.Places,
			"entries":       snap.Stats.Entries,
			"filledDays":    snap.Stats.FilledDays,
			"clampedDeltas": snap.Stats.ClampedDeltas,
		}
	}
	if f, failed := s.view.LastFailure(); failed {
		resp.LastError = f.Err.Error()
		resp.LastErrorAt = &f.At
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	status := "refresh scheduled"
	if !s.refresher.Trigger() {
		status = "refresh already pending"
	}
	s.logger.Info("refresh requested", "status", status)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": status})
}

func parseDateParam(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return domain.DecodeDate(domain.DateISO, s)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // client may have gone away
}
