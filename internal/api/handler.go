package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/motorwatch/motorwatch/internal/normalize"
	"github.com/motorwatch/motorwatch/internal/pipeline"
	"github.com/motorwatch/motorwatch/internal/storage"
	"github.com/motorwatch/motorwatch/pkg/models"
)

// maxIngestBody bounds the accepted raw payload size.
const maxIngestBody = 64 << 10

// defaultHistoryMinutes is the historical-data window when the client does
// not pass one.
const defaultHistoryMinutes = 60

// Handler wires the HTTP routes to the pipeline and the store.
type Handler struct {
	coord   *pipeline.Coordinator
	store   storage.Store
	hub     http.Handler
	csvPath string
	log     zerolog.Logger
	now     func() time.Time
}

// New builds the Handler. hub may be nil to disable the WebSocket route;
// csvPath may be empty to disable the download.
func New(coord *pipeline.Coordinator, store storage.Store, hub http.Handler, csvPath string, log zerolog.Logger) *Handler {
	return &Handler{
		coord:   coord,
		store:   store,
		hub:     hub,
		csvPath: csvPath,
		log:     log.With().Str("component", "api").Logger(),
		now:     time.Now,
	}
}

// Router assembles the chi route tree.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler)

	r.Post("/send-data", h.ingestESP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/current-data", h.currentData)
		r.Get("/health-details", h.healthDetails)
		r.Get("/recommendations", h.recommendations)
		r.Get("/historical-data", h.historicalData)
		r.Get("/maintenance-alerts", h.maintenanceAlerts)
		r.Post("/acknowledge-alert/{id}", h.acknowledgeAlert)
		r.Post("/motor-control", h.motorControl)
		r.Get("/system-status", h.systemStatus)
		r.Get("/events", h.events)
		r.Get("/export/csv", h.exportCSV)
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	if h.hub != nil {
		r.Get("/ws", h.hub.ServeHTTP)
	}
	return r
}

// ingestESP receives one push payload from the ESP-class source.
func (h *Handler) ingestESP(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody))
	if err != nil || len(raw) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"status": "error", "message": "no data received",
		})
		return
	}

	if err := h.coord.Ingest(r.Context(), models.SourceESP, raw, h.now()); err != nil {
		status := http.StatusInternalServerError
		var verr *normalize.ValidationError
		if errors.As(err, &verr) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]string{"status": "error", "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "data processed"})
}

func (h *Handler) currentData(w http.ResponseWriter, r *http.Request) {
	snap := h.coord.CurrentSnapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"data":      snap.Reading,
		"health":    snap.Health,
		"anomaly":   snap.Anomaly,
		"sources":   snap.Sources,
		"seq":       snap.Seq,
		"timestamp": h.now().UTC(),
	})
}

func (h *Handler) healthDetails(w http.ResponseWriter, r *http.Request) {
	snap := h.coord.CurrentSnapshot()
	if snap.Health == nil {
		writeJSON(w, http.StatusOK, map[string]any{"message": "no readings processed yet"})
		return
	}
	writeJSON(w, http.StatusOK, snap.Health)
}

func (h *Handler) recommendations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"recommendations": h.coord.Recommendations(),
	})
}

// chartRow is the flattened unit shape the dashboard charts consume.
type chartRow struct {
	Timestamp  time.Time `json:"timestamp"`
	Current    *float64  `json:"current"`
	Voltage    *float64  `json:"voltage"`
	RPM        *float64  `json:"rpm"`
	MotorTemp  *float64  `json:"motor_temp"`
	EnvTemp    *float64  `json:"env_temp"`
	Humidity   *float64  `json:"humidity"`
	Overall    float64   `json:"overall_health_score"`
	Electrical float64   `json:"electrical_health"`
	Thermal    float64   `json:"thermal_health"`
	Mechanical float64   `json:"mechanical_health"`
	Predictive float64   `json:"predictive_health"`
	Efficiency float64   `json:"efficiency_score"`
	Power      float64   `json:"power"`
}

func (h *Handler) historicalData(w http.ResponseWriter, r *http.Request) {
	minutes := defaultHistoryMinutes
	if v := r.URL.Query().Get("minutes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "minutes must be a positive integer"})
			return
		}
		minutes = n
	}

	units, err := h.store.QueryRecent(r.Context(), h.now(), time.Duration(minutes)*time.Minute, 1000)
	if err != nil {
		h.log.Error().Err(err).Msg("historical-data query")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}

	rows := make([]chartRow, 0, len(units))
	for _, u := range units {
		rows = append(rows, chartRow{
			Timestamp:  u.Reading.Timestamp,
			Current:    u.Reading.CurrentA,
			Voltage:    u.Reading.VoltageV,
			RPM:        u.Reading.RPM,
			MotorTemp:  u.Reading.MotorTempC,
			EnvTemp:    u.Reading.AmbientTempC,
			Humidity:   u.Reading.HumidityPct,
			Overall:    u.Health.Overall,
			Electrical: u.Health.Electrical,
			Thermal:    u.Health.Thermal,
			Mechanical: u.Health.Mechanical,
			Predictive: u.Health.Predictive,
			Efficiency: u.Health.Efficiency,
			Power:      u.Reading.PowerKW,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rows})
}

func (h *Handler) maintenanceAlerts(w http.ResponseWriter, r *http.Request) {
	f := storage.AlertFilter{Limit: 200}
	if c := r.URL.Query().Get("category"); c != "" {
		f.Category = models.Category(c)
	}
	if r.URL.Query().Get("active") == "true" {
		f.OnlyActive = true
	}

	alerts, err := h.store.QueryAlerts(r.Context(), f)
	if err != nil {
		h.log.Error().Err(err).Msg("alerts query")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (h *Handler) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	alert, err := h.coord.Acknowledge(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "error", "message": "alert not found"})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("id", id).Msg("acknowledge")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "alert": alert})
}

func (h *Handler) motorControl(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Command == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "command is required"})
		return
	}

	ev := h.coord.Command("motor_control", body.Command)
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "event": ev})
}

func (h *Handler) systemStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.coord.CurrentSnapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"sources":        snap.Sources,
		"health_summary": snap.Health,
		"seq":            snap.Seq,
		"updated_at":     snap.UpdatedAt,
	})
}

func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	events, err := h.store.QueryEvents(r.Context(), 200)
	if err != nil {
		h.log.Error().Err(err).Msg("events query")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *Handler) exportCSV(w http.ResponseWriter, r *http.Request) {
	if h.csvPath == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "csv export is not enabled"})
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="readings.csv"`)
	w.Header().Set("Content-Type", "text/csv")
	http.ServeFile(w, r, h.csvPath)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
