package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"

	"github.com/LeonardoBeccarini/autogrow-agent/internal/agenterr"
	"github.com/LeonardoBeccarini/autogrow-agent/internal/model"
	"github.com/LeonardoBeccarini/autogrow-agent/internal/model/messages"
	"github.com/LeonardoBeccarini/autogrow-agent/pkg/logging"
)

const (
	maxBodySize = 1 << 16

	ReadHeaderTimeout = 5 * time.Second
	WriteTimeout      = 30 * time.Second
	IdleTimeout       = 120 * time.Second
)

// Check is an optional dependency probe shown on /healthz.
type Check func() bool

type API struct {
	agent   *Agent
	metrics *Metrics
	log     logging.Logger
	wait    time.Duration
	checks  map[string]Check
}

// NewAPI builds the operator API. wait bounds how long a command request
// waits for the control loop.
func NewAPI(a *Agent, m *Metrics, wait time.Duration, log logging.Logger) *API {
	if wait <= 0 {
		wait = 10 * time.Second
	}
	return &API{agent: a, metrics: m, log: log, wait: wait, checks: map[string]Check{}}
}

// WithCheck adds a named dependency to /healthz.
func (api *API) WithCheck(name string, c Check) *API {
	api.checks[name] = c
	return api
}

func (api *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/status", errorHandler(api.log, api.status))
	r.Route("/watering", func(r chi.Router) {
		r.Post("/start", errorHandler(api.log, api.start))
		r.Post("/stop", errorHandler(api.log, api.stop))
		r.Post("/resync", errorHandler(api.log, api.resync))
	})
	r.Get("/healthz", errorHandler(api.log, api.healthz))
	r.Get("/readyz", errorHandler(api.log, api.readyz))
	r.Method(http.MethodGet, "/metrics", api.metrics.Handler())
	return r
}

// NewHTTPServer wraps h with the server timeouts used by the agent.
func NewHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: ReadHeaderTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}
}

type statusResponse struct {
	Device      model.DeviceIdentity `json:"device"`
	Active      bool                 `json:"active"`
	CycleID     string               `json:"cycle_id,omitempty"`
	StartedAtMs *int64               `json:"started_at_ms"`
	DurationS   float64              `json:"duration_s"`
	RemainingS  float64              `json:"remaining_s"`
	DriverLevel bool                 `json:"driver_level"`
}

type commandResponse struct {
	Accepted bool           `json:"accepted"`
	Changed  bool           `json:"changed"`
	Status   statusResponse `json:"status"`
}

type startRequest struct {
	DurationS *float64 `json:"duration_s"`
}

type httpError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *httpError) Error() string { return e.Message }

func newHTTPError(status int, code, msg string) *httpError {
	return &httpError{Status: status, Code: code, Message: msg}
}

type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// errorHandler turns a returned *httpError into its JSON body and anything
// else into a logged 500.
func errorHandler(log logging.Logger, fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		if err == nil {
			return
		}
		var he *httpError
		if errors.As(err, &he) {
			log.WithField("status", he.Status).WithField("code", he.Code).Debugf("api: %s %s: %s", r.Method, r.URL.Path, he.Message)
			respondJSON(w, he.Status, he)
			return
		}
		log.WithError(err).Errorf("api: %s %s", r.Method, r.URL.Path)
		respondJSON(w, http.StatusInternalServerError, newHTTPError(http.StatusInternalServerError, "internal", "internal server error"))
	}
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

func (api *API) snapshot() statusResponse {
	st := api.agent.Status()
	resp := statusResponse{
		Device:      api.agent.Controller().Identity(),
		Active:      st.Active,
		CycleID:     st.CycleID,
		DurationS:   st.Duration.Seconds(),
		RemainingS:  st.Remaining.Seconds(),
		DriverLevel: st.DriverLevel,
	}
	if st.StartedAt != nil {
		ms := st.StartedAt.UnixMilli()
		resp.StartedAtMs = &ms
	}
	return resp
}

func (api *API) status(w http.ResponseWriter, _ *http.Request) error {
	respondJSON(w, http.StatusOK, api.snapshot())
	return nil
}

func (api *API) start(w http.ResponseWriter, r *http.Request) error {
	var req startRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return newHTTPError(http.StatusRequestEntityTooLarge, "body_too_large", err.Error())
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return newHTTPError(http.StatusBadRequest, "bad_request", "body must be {\"duration_s\": <seconds>}")
		}
	}
	var d time.Duration
	if req.DurationS != nil {
		if *req.DurationS < 0 {
			return newHTTPError(http.StatusBadRequest, "bad_request", "duration_s must not be negative")
		}
		if limit := api.agent.Controller().MaxDuration(); *req.DurationS > limit.Seconds() {
			return newHTTPError(http.StatusBadRequest, agenterr.Code(agenterr.ErrDurationOutOfRange),
				fmt.Sprintf("duration_s must not exceed %g", limit.Seconds()))
		}
		d = time.Duration(*req.DurationS * float64(time.Second))
	}
	return api.command(w, r, messages.ActionStart, d, http.StatusAccepted)
}

func (api *API) stop(w http.ResponseWriter, r *http.Request) error {
	return api.command(w, r, messages.ActionStop, 0, http.StatusAccepted)
}

func (api *API) resync(w http.ResponseWriter, r *http.Request) error {
	return api.command(w, r, messages.ActionResync, 0, http.StatusOK)
}

func (api *API) command(w http.ResponseWriter, r *http.Request, action messages.Action, d time.Duration, okStatus int) error {
	ctx, cancel := context.WithTimeout(r.Context(), api.wait)
	defer cancel()

	res, err := api.agent.Do(ctx, "http", action, d)
	switch {
	case errors.Is(err, ErrQueueFull):
		return newHTTPError(http.StatusServiceUnavailable, "queue_full", err.Error())
	case err != nil:
		return newHTTPError(http.StatusServiceUnavailable, "loop_unavailable", err.Error())
	}

	if res.Err != nil {
		code := agenterr.Code(res.Err)
		switch {
		case errors.Is(res.Err, agenterr.ErrAlreadyActive):
			return newHTTPError(http.StatusConflict, code, res.Err.Error())
		case errors.Is(res.Err, agenterr.ErrDurationOutOfRange):
			return newHTTPError(http.StatusBadRequest, code, res.Err.Error())
		case errors.Is(res.Err, agenterr.ErrMalformedResponse),
			errors.Is(res.Err, agenterr.ErrTimeout),
			errors.Is(res.Err, agenterr.ErrTransportUnavailable):
			return newHTTPError(http.StatusBadGateway, code, res.Err.Error())
		default:
			return res.Err
		}
	}
	respondJSON(w, okStatus, commandResponse{Accepted: true, Changed: res.Changed, Status: api.snapshot()})
	return nil
}

func (api *API) healthz(w http.ResponseWriter, _ *http.Request) error {
	type health struct {
		Status  string          `json:"status"`
		Running bool            `json:"running"`
		Checks  map[string]bool `json:"checks,omitempty"`
	}
	h := health{Status: "ok", Running: api.agent.Running(), Checks: map[string]bool{}}
	for name, c := range api.checks {
		ok := c()
		h.Checks[name] = ok
		if !ok {
			h.Status = "degraded"
		}
	}
	respondJSON(w, http.StatusOK, h)
	return nil
}

func (api *API) readyz(w http.ResponseWriter, _ *http.Request) error {
	ready := api.agent.Ready()
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]bool{"ready": ready})
	return nil
}
