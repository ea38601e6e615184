// Package handlers provides HTTP handlers for fiducial and germ selection.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/gstdesign/internal/modules/circuits"
	"github.com/aristath/gstdesign/internal/modules/model"
	"github.com/aristath/gstdesign/internal/modules/pool"
	"github.com/aristath/gstdesign/internal/modules/runs"
	"github.com/aristath/gstdesign/internal/modules/selection"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler handles selection HTTP requests
type Handler struct {
	service *selection.Service
	runs    *runs.Repository
	log     zerolog.Logger
}

// NewHandler creates a new selection handler. A nil repository disables run
// persistence.
func NewHandler(service *selection.Service, repo *runs.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		runs:    repo,
		log:     log.With().Str("handler", "selection").Logger(),
	}
}

// ModelRequest names a built-in gate set or describes a custom one.
type ModelRequest struct {
	GateSet   string           `json:"gate_set"`
	Name      string           `json:"name,omitempty"`
	NumQubits int              `json:"num_qubits,omitempty"`
	Gates     []model.GateSpec `json:"gates,omitempty"`
}

func (m ModelRequest) resolve() (*model.Model, error) {
	if len(m.Gates) == 0 {
		return model.Builtin(m.GateSet)
	}
	name := m.Name
	if name == "" {
		name = "custom"
	}
	nq := m.NumQubits
	if nq == 0 {
		nq = 1
	}
	return model.New(name, nq, m.Gates)
}

// FiducialRequest is the body of POST /api/selection/fiducials
type FiducialRequest struct {
	ModelRequest
	// Role is "prep", "meas" or empty for both.
	Role    string         `json:"role,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// GermRequest is the body of POST /api/selection/germs
type GermRequest struct {
	ModelRequest
	Options map[string]any `json:"options,omitempty"`
}

// DesignRequest is the body of POST /api/selection/design
type DesignRequest struct {
	ModelRequest
	FiducialOptions map[string]any `json:"fiducial_options,omitempty"`
	GermOptions     map[string]any `json:"germ_options,omitempty"`
	MaxLengths      []int          `json:"max_lengths"`
}

// GateSetInfo describes a built-in gate set
type GateSetInfo struct {
	Name           string           `json:"name"`
	NumQubits      int              `json:"num_qubits"`
	Dim            int              `json:"dim"`
	Labels         []circuits.Label `json:"labels"`
	Basis          []string         `json:"basis"`
	NumParams      int              `json:"num_params"`
	NonGaugeParams int              `json:"non_gauge_params"`
}

// HandleSelectFiducials handles POST /api/selection/fiducials
func (h *Handler) HandleSelectFiducials(w http.ResponseWriter, r *http.Request) {
	var req FiducialRequest
	if !h.decode(w, r, &req) {
		return
	}

	m, err := req.resolve()
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	cfg, err := selection.DecodeOptions(selection.DefaultFiducialConfig(), req.Options, m.Labels())
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	startTime := time.Now()
	var (
		result   any
		complete bool
		failure  string
	)
	if req.Role == "" {
		pair, err := h.service.SelectFiducialPair(r.Context(), m, cfg)
		if err != nil {
			h.writeFailure(w, err)
			return
		}
		result, complete = pair, !pair.Failed()
		failure = firstFailure(pair.Prep.Failure, pair.Meas.Failure)
	} else {
		role, err := pool.ParseRole(req.Role)
		if err != nil || !role.IsFiducial() {
			h.writeError(w, http.StatusBadRequest, "Role must be prep or meas")
			return
		}
		res, err := h.service.SelectFiducials(r.Context(), m, role, cfg)
		if err != nil {
			h.writeFailure(w, err)
			return
		}
		result, complete = res, res.Complete
		failure = firstFailure(res.Failure)
	}

	h.log.Info().
		Str("gate_set", m.Name()).
		Str("role", req.Role).
		Bool("complete", complete).
		Dur("elapsed", time.Since(startTime)).
		Msg("Fiducial selection completed")

	h.respond(r.Context(), w, runs.KindFiducials, m.Name(), complete, failure, result)
}

// HandleSelectGerms handles POST /api/selection/germs
func (h *Handler) HandleSelectGerms(w http.ResponseWriter, r *http.Request) {
	var req GermRequest
	if !h.decode(w, r, &req) {
		return
	}

	m, err := req.resolve()
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	cfg, err := selection.DecodeOptions(selection.DefaultGermConfig(), req.Options, m.Labels())
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	startTime := time.Now()
	res, err := h.service.SelectGerms(r.Context(), m, cfg)
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	h.log.Info().
		Str("gate_set", m.Name()).
		Int("pool_size", res.PoolSize).
		Int("germs", len(res.Germs)).
		Bool("complete", res.Complete).
		Dur("elapsed", time.Since(startTime)).
		Msg("Germ selection completed")

	h.respond(r.Context(), w, runs.KindGerms, m.Name(), res.Complete, firstFailure(res.Failure), res)
}

// HandleDesign handles POST /api/selection/design
func (h *Handler) HandleDesign(w http.ResponseWriter, r *http.Request) {
	var req DesignRequest
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.MaxLengths) == 0 {
		h.writeError(w, http.StatusBadRequest, "No max_lengths provided")
		return
	}

	m, err := req.resolve()
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	fidCfg, err := selection.DecodeOptions(selection.DefaultFiducialConfig(), req.FiducialOptions, m.Labels())
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	germCfg, err := selection.DecodeOptions(selection.DefaultGermConfig(), req.GermOptions, m.Labels())
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	startTime := time.Now()
	res, err := h.service.Design(r.Context(), m, fidCfg, germCfg, req.MaxLengths)
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	h.log.Info().
		Str("gate_set", m.Name()).
		Int("circuits", len(res.Circuits)).
		Bool("failed", res.Failed()).
		Dur("elapsed", time.Since(startTime)).
		Msg("Experiment design completed")

	h.respond(r.Context(), w, runs.KindDesign, m.Name(), !res.Failed(),
		firstFailure(res.Prep.Failure, res.Meas.Failure, res.Germs.Failure), res)
}

// HandleListRuns handles GET /api/selection/runs?kind=&gate_set=&limit=
func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		h.writeError(w, http.StatusServiceUnavailable, "Run storage is disabled")
		return
	}

	filter := runs.ListFilter{
		Kind:    runs.Kind(r.URL.Query().Get("kind")),
		GateSet: r.URL.Query().Get("gate_set"),
	}
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		if parsed, err := strconv.Atoi(limitParam); err == nil && parsed > 0 {
			filter.Limit = parsed
		}
	}

	list, err := h.runs.List(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list runs")
		h.writeError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}
	if list == nil {
		list = []*runs.Run{}
	}

	h.writeData(w, http.StatusOK, list)
}

// HandleGetRun handles GET /api/selection/runs/{id}
func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		h.writeError(w, http.StatusServiceUnavailable, "Run storage is disabled")
		return
	}

	id := chi.URLParam(r, "id")
	run, err := h.runs.Get(r.Context(), id)
	if errors.Is(err, runs.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "Run not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("id", id).Msg("Failed to get run")
		h.writeError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}

	var result any
	switch run.Kind {
	case runs.KindFiducials:
		// A run holds either a pair or a single role.
		var pair selection.FiducialPairResult
		if err = run.Decode(&pair); err == nil && pair.Prep != nil {
			result = &pair
		} else {
			var single selection.FiducialResult
			err = run.Decode(&single)
			result = &single
		}
	case runs.KindGerms:
		var germs selection.GermResult
		err = run.Decode(&germs)
		result = &germs
	case runs.KindDesign:
		var design selection.DesignResult
		err = run.Decode(&design)
		result = &design
	default:
		err = errors.New("unknown run kind " + string(run.Kind))
	}
	if err != nil {
		h.log.Error().Err(err).Str("id", id).Msg("Failed to decode run")
		h.writeError(w, http.StatusInternalServerError, "Failed to decode run")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"run":    run,
			"result": result,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleListGateSets handles GET /api/gatesets
func (h *Handler) HandleListGateSets(w http.ResponseWriter, r *http.Request) {
	infos := make([]GateSetInfo, 0, len(model.BuiltinNames()))
	for _, name := range model.BuiltinNames() {
		m, err := model.Builtin(name)
		if err != nil {
			h.writeFailure(w, err)
			return
		}
		nonGauge, err := m.NumNonGaugeParams()
		if err != nil {
			h.log.Error().Err(err).Str("gate_set", name).Msg("Failed to count non-gauge parameters")
			h.writeError(w, http.StatusInternalServerError, "Gauge analysis failed")
			return
		}
		infos = append(infos, GateSetInfo{
			Name:           name,
			NumQubits:      m.NumQubits(),
			Dim:            m.Dim(),
			Labels:         m.Labels(),
			Basis:          m.BasisNames(),
			NumParams:      m.NumParams(),
			NonGaugeParams: nonGauge,
		})
	}

	h.writeData(w, http.StatusOK, infos)
}

// HandleGetOptions handles GET /api/selection/options
func (h *Handler) HandleGetOptions(w http.ResponseWriter, r *http.Request) {
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"names":     selection.OptionNames(),
		"fiducials": selection.DefaultFiducialConfig(),
		"germs":     selection.DefaultGermConfig(),
	})
}

// Helper methods

// respond stores the run when persistence is enabled and writes the result.
func (h *Handler) respond(ctx context.Context, w http.ResponseWriter, kind runs.Kind, gateSet string, complete bool, failure string, result any) {
	metadata := map[string]interface{}{
		"timestamp": time.Now().Format(time.RFC3339),
	}

	if h.runs != nil {
		run, err := runs.New(kind, gateSet, complete, failure, result)
		if err == nil {
			err = h.runs.Save(ctx, run)
		}
		if err != nil {
			// The selection succeeded; losing the record is not fatal.
			h.log.Error().Err(err).Str("kind", string(kind)).Msg("Failed to store run")
		} else {
			metadata["run_id"] = run.ID
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":     result,
		"metadata": metadata,
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		h.writeError(w, http.StatusBadRequest, "Missing request body")
		return false
	}
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// writeFailure maps service errors onto status codes.
func (h *Handler) writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrUnknownGateSet):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, selection.ErrInvalidConfig),
		errors.Is(err, selection.ErrUnknownOption),
		errors.Is(err, model.ErrInvalidGate),
		errors.Is(err, model.ErrUnknownGate):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.writeError(w, http.StatusServiceUnavailable, "Selection cancelled: "+err.Error())
	default:
		h.log.Error().Err(err).Msg("Selection failed")
		h.writeError(w, http.StatusInternalServerError, "Selection failed: "+err.Error())
	}
}

func firstFailure(fs ...*selection.Failure) string {
	for _, f := range fs {
		if f != nil {
			return string(f.Kind)
		}
	}
	return ""
}

// writeData wraps data with response metadata
func (h *Handler) writeData(w http.ResponseWriter, status int, data interface{}) {
	h.writeJSON(w, status, map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{
		"error": message,
	})
}
