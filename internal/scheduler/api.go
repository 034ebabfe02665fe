package scheduler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"reportsync/internal/history"
)

// NewRouter exposes run status and manual triggers.
func NewRouter(s *Scheduler, store history.Store) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		running := []string{}
		for _, report := range s.cfg.Reports {
			if s.Busy(report.Prefix) {
				running = append(running, report.Prefix)
			}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"scheduled": s.Scheduled(),
			"running":   running,
		})
	}).Methods("GET")

	r.HandleFunc("/runs", func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}
		recs, err := store.List(r.Context(), limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, recs)
	}).Methods("GET")

	r.HandleFunc("/runs/latest", func(w http.ResponseWriter, r *http.Request) {
		rec, ok, err := history.Latest(r.Context(), store)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "no runs yet", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}).Methods("GET")

	r.HandleFunc("/runs/{report}", func(w http.ResponseWriter, r *http.Request) {
		report := mux.Vars(r)["report"]
		log.Printf("📥 [API] Manual run requested for %s from %s", report, r.RemoteAddr)
		err := s.Trigger(report)
		switch {
		case errors.Is(err, ErrBusy):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, ErrStopped):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		case err != nil:
			http.Error(w, err.Error(), http.StatusNotFound)
		default:
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "report": report})
		}
	}).Methods("POST")

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
