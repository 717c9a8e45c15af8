package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"pecpredict/db"
	"pecpredict/ml"
	"pecpredict/monitoring"
	"pecpredict/pipeline"
)

// History persists served predictions.
type History interface {
	SavePrediction(record db.PredictionRecord) (int64, error)
	QueryPredictions(limit int) ([]db.PredictionRecord, error)
}

// DBHistory stores history in the database opened by db.InitDB.
type DBHistory struct{}

func (DBHistory) SavePrediction(record db.PredictionRecord) (int64, error) {
	return db.SavePrediction(record)
}

func (DBHistory) QueryPredictions(limit int) ([]db.PredictionRecord, error) {
	return db.QueryPredictions(limit)
}

// API holds the dependencies of the HTTP handlers. Hub, Metrics and History
// are optional.
type API struct {
	Predictor pipeline.Predictor
	Hub       *monitoring.Hub
	Metrics   *monitoring.MetricsCollector
	History   History
	Logger    *zap.Logger
	// Explain makes /api/predict attribute every prediction unless the
	// request sets ?explain=false.
	Explain bool
}

// NewAPI wires the handlers to a predictor.
func NewAPI(predictor pipeline.Predictor, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		Predictor: predictor,
		Metrics:   monitoring.NewMetricsCollector(),
		Logger:    logger,
	}
}

func RegisterHandlers(mux *http.ServeMux, api *API) {
	mux.HandleFunc("GET /api/health", api.handleHealth)
	mux.HandleFunc("GET /api/features", api.handleFeatures)
	mux.HandleFunc("POST /api/predict", api.handlePredict)
	mux.HandleFunc("POST /api/explain", api.handleExplain)
	mux.HandleFunc("GET /api/predictions", api.handlePredictions)
	mux.HandleFunc("GET /api/metrics", api.handleMetrics)
	if api.Hub != nil {
		mux.Handle("GET /api/ws/predictions", api.Hub)
	}
}

// predictRequest accepts either a raw vector or every named mix design
// field. Mix design fields are pointers so a missing one is an error rather
// than a zero.
type predictRequest struct {
	Features []float64 `json:"features"`

	WaterCementRatio     *float64 `json:"water_cement_ratio"`
	AggregateCementRatio *float64 `json:"aggregate_cement_ratio"`
	MinAggregateSize     *float64 `json:"min_aggregate_size"`
	MaxAggregateSize     *float64 `json:"max_aggregate_size"`
	Porosity             *float64 `json:"porosity"`
	SpecimenShape        *float64 `json:"specimen_shape"`
	SpecimenDiameter     *float64 `json:"specimen_diameter"`
	SpecimenHeight       *float64 `json:"specimen_height"`
	TestMethod           *float64 `json:"test_method"`
}

// mixFields returns the mix design fields in canonical feature order.
func (r predictRequest) mixFields() []*float64 {
	return []*float64{
		r.WaterCementRatio,
		r.AggregateCementRatio,
		r.MinAggregateSize,
		r.MaxAggregateSize,
		r.Porosity,
		r.SpecimenShape,
		r.SpecimenDiameter,
		r.SpecimenHeight,
		r.TestMethod,
	}
}

func (r predictRequest) vector() ([]float64, error) {
	fields := r.mixFields()
	var present []string
	var missing []string
	names := mixFieldNames()
	for i, field := range fields {
		if field != nil {
			present = append(present, names[i])
		} else {
			missing = append(missing, names[i])
		}
	}

	if r.Features != nil {
		if len(present) > 0 {
			return nil, fmt.Errorf("request must carry either features or mix design fields, not both (got %s)", strings.Join(present, ", "))
		}
		return r.Features, nil
	}
	if len(present) == 0 {
		return nil, errors.New("request must carry features or mix design fields")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("incomplete mix design, missing %s", strings.Join(missing, ", "))
	}

	mix := ml.MixDesign{
		WaterCementRatio:     *r.WaterCementRatio,
		AggregateCementRatio: *r.AggregateCementRatio,
		MinAggregateSize:     *r.MinAggregateSize,
		MaxAggregateSize:     *r.MaxAggregateSize,
		Porosity:             *r.Porosity,
		SpecimenShape:        *r.SpecimenShape,
		SpecimenDiameter:     *r.SpecimenDiameter,
		SpecimenHeight:       *r.SpecimenHeight,
		TestMethod:           *r.TestMethod,
	}
	return mix.Vector(), nil
}

func mixFieldNames() []string {
	return []string{
		"water_cement_ratio",
		"aggregate_cement_ratio",
		"min_aggregate_size",
		"max_aggregate_size",
		"porosity",
		"specimen_shape",
		"specimen_diameter",
		"specimen_height",
		"test_method",
	}
}

type predictResponse struct {
	ID        int64  `json:"id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	*pipeline.Result
	Display       string             `json:"display"`
	Contributions map[string]float64 `json:"contributions,omitempty"`
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if blocked, ok := a.Predictor.(*pipeline.Unavailable); ok {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"reason": blocked.Cause.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleFeatures(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":    ml.FeatureCount,
		"unit":     a.Predictor.Unit(),
		"features": ml.FeatureSpecs(),
	})
}

func (a *API) handlePredict(w http.ResponseWriter, r *http.Request) {
	explain := a.Explain
	if raw := r.URL.Query().Get("explain"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "explain must be a boolean")
			return
		}
		explain = parsed
	}
	a.serve(w, r, explain)
}

func (a *API) handleExplain(w http.ResponseWriter, r *http.Request) {
	a.serve(w, r, true)
}

func (a *API) serve(w http.ResponseWriter, r *http.Request, explain bool) {
	start := time.Now()
	requestID := GetRequestID(r.Context())

	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.recordError("decode")
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	features, err := req.vector()
	if err != nil {
		a.recordError("decode")
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := a.Predictor.Run(features, explain)
	if err != nil {
		status := statusFor(err)
		a.recordError(errorKind(err))
		if status >= http.StatusInternalServerError {
			a.Logger.Error("prediction failed", zap.String("request_id", requestID), zap.Error(err))
		} else {
			a.Logger.Debug("prediction rejected", zap.String("request_id", requestID), zap.Error(err))
		}
		respondError(w, status, err.Error())
		return
	}
	if result.ExplainError != "" {
		a.Logger.Warn("attribution omitted", zap.String("request_id", requestID), zap.String("reason", result.ExplainError))
		if a.Metrics != nil {
			a.Metrics.RecordExplainFailure()
		}
	}
	if a.Metrics != nil {
		a.Metrics.RecordPrediction(time.Since(start))
	}

	response := predictResponse{
		RequestID: requestID,
		Result:    result,
		Display:   FormatPrediction(r.Header.Get("Accept-Language"), result.Prediction, result.Unit),
	}
	if result.Attribution != nil {
		response.Contributions = result.Attribution.Named()
	}
	response.ID = a.record(requestID, result)

	respondJSON(w, http.StatusOK, response)
}

// record stores and broadcasts a served prediction. Failures are logged and
// never fail the request.
func (a *API) record(requestID string, result *pipeline.Result) int64 {
	var id int64
	var attribution []float64
	var baseline *float64
	if result.Attribution != nil {
		attribution = result.Attribution.Values
		value := result.Attribution.Baseline
		baseline = &value
	}
	if a.History != nil {
		saved, err := a.History.SavePrediction(db.PredictionRecord{
			RequestID:   requestID,
			Features:    result.Features,
			Prediction:  result.Prediction,
			Unit:        result.Unit,
			Attribution: attribution,
			Baseline:    baseline,
		})
		if err != nil {
			a.Logger.Warn("failed to save prediction", zap.String("request_id", requestID), zap.Error(err))
		} else {
			id = saved
		}
	}
	if a.Hub != nil {
		event := monitoring.PredictionEvent{
			ID:          id,
			RequestID:   requestID,
			Features:    result.Features,
			Prediction:  result.Prediction,
			Unit:        result.Unit,
			Attribution: attribution,
		}
		if err := a.Hub.Publish(event); err != nil {
			a.Logger.Warn("failed to publish prediction", zap.Error(err))
		}
	}
	return id
}

func (a *API) handlePredictions(w http.ResponseWriter, r *http.Request) {
	if a.History == nil {
		respondError(w, http.StatusNotFound, "prediction history is disabled")
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	records, err := a.History.QueryPredictions(limit)
	if err != nil {
		a.Logger.Error("failed to query predictions", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to query predictions")
		return
	}
	respondJSON(w, http.StatusOK, records)
}

func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if a.Metrics == nil {
		respondError(w, http.StatusNotFound, "metrics are disabled")
		return
	}
	snapshot := a.Metrics.Snapshot()
	response := map[string]interface{}{
		"metrics": snapshot,
	}
	if a.Hub != nil {
		response["websocket_clients"] = a.Hub.ClientCount()
	}
	respondJSON(w, http.StatusOK, response)
}

func (a *API) recordError(kind string) {
	if a.Metrics != nil {
		a.Metrics.RecordError(kind)
	}
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ml.ErrShapeMismatch), errors.Is(err, ml.ErrInvalidCategory):
		return http.StatusBadRequest
	case errors.Is(err, ml.ErrInferenceFailure):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrArtifactsUnavailable),
		errors.Is(err, ml.ErrArtifactMissing),
		errors.Is(err, ml.ErrArtifactCorrupt):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ml.ErrShapeMismatch):
		return "shape_mismatch"
	case errors.Is(err, ml.ErrInvalidCategory):
		return "invalid_category"
	case errors.Is(err, ml.ErrInferenceFailure):
		return "inference_failure"
	case errors.Is(err, pipeline.ErrArtifactsUnavailable),
		errors.Is(err, ml.ErrArtifactMissing),
		errors.Is(err, ml.ErrArtifactCorrupt):
		return "artifacts_unavailable"
	default:
		return "internal"
	}
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
