package analytics

import (
	"encoding/json"
	"net/http"
	"strconv"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// GET /admin/metrics
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.GetMetrics(r.Context())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m)
}

// GET /admin/patients?q=
func (h *Handler) SearchPatients(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		http.Error(w, "missing q parameter", 400)
		return
	}
	hits, err := h.svc.SearchPatients(r.Context(), q)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if hits == nil {
		hits = []PatientHit{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"patients": hits})
}

// GET /admin/appointments?days=
func (h *Handler) UpcomingAppointments(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	appts, err := h.svc.UpcomingAppointments(r.Context(), days)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if appts == nil {
		appts = []UpcomingAppointment{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"appointments": appts})
}

// GET /admin/activity?limit=
func (h *Handler) RecentActivity(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.svc.RecentActivity(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if entries == nil {
		entries = []ActivityEntry{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"activity": entries})
}
