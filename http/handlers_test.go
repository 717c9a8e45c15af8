package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"pecpredict/db"
	"pecpredict/ml"
	"pecpredict/monitoring"
	"pecpredict/pipeline"
)

var sample = []float64{0.30, 4.00, 4.75, 9.50, 15.0, 1, 100, 200, 1}

func TestMain(m *testing.M) {
	if err := db.InitDB(":memory:"); err != nil {
		panic(err)
	}
	code := m.Run()
	db.Close()
	os.Exit(code)
}

func realPipeline(t *testing.T, model string) *pipeline.Pipeline {
	t.Helper()
	loader, err := pipeline.NewLoader(2, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, err := pipeline.Open(loader,
		filepath.Join("..", "ml", "testdata", "scaler.json"),
		filepath.Join("..", "ml", "testdata", model), "")
	if err != nil {
		t.Fatalf("failed to open pipeline: %v", err)
	}
	return p
}

func newTestServer(api *API) http.Handler {
	return NewServer(DefaultServerConfig(), api, nil).Handler()
}

func postJSON(t *testing.T, handler http.Handler, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

type predictPayload struct {
	ID            int64              `json:"id"`
	RequestID     string             `json:"request_id"`
	Prediction    float64            `json:"prediction"`
	Unit          string             `json:"unit"`
	Display       string             `json:"display"`
	Features      []float64          `json:"features"`
	Attribution   *ml.Attribution    `json:"attribution"`
	ExplainError  string             `json:"explain_error"`
	Contributions map[string]float64 `json:"contributions"`
}

func decodePredict(t *testing.T, rr *httptest.ResponseRecorder) predictPayload {
	t.Helper()
	var payload predictPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v (%s)", err, rr.Body.String())
	}
	return payload
}

func TestHealthHandler(t *testing.T) {
	handler := newTestServer(NewAPI(pipeline.NewMock(1), nil))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	expected := `{"status":"ok"}`
	if rr.Body.String() != expected+"\n" {
		t.Errorf("handler returned unexpected body: got %v want %v", rr.Body.String(), expected)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("missing request id header")
	}
}

func TestHealthDegradedWhenArtifactsUnavailable(t *testing.T) {
	cause := errors.New("model.json: no such file")
	handler := newTestServer(NewAPI(pipeline.NewUnavailable(cause, ""), nil))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body["status"] != "degraded" || body["reason"] != cause.Error() {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestFeaturesHandler(t *testing.T) {
	handler := newTestServer(NewAPI(pipeline.NewMock(1), nil))

	req := httptest.NewRequest(http.MethodGet, "/api/features", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body struct {
		Count    int              `json:"count"`
		Unit     string           `json:"unit"`
		Features []ml.FeatureSpec `json:"features"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body.Count != ml.FeatureCount || len(body.Features) != ml.FeatureCount {
		t.Fatalf("unexpected schema: %+v", body)
	}
	if body.Features[ml.FeatureSpecimenShape].Name != "ss" || len(body.Features[ml.FeatureSpecimenShape].Codes) != 2 {
		t.Fatalf("unexpected specimen shape spec: %+v", body.Features[ml.FeatureSpecimenShape])
	}
	diameter := body.Features[ml.FeatureSpecimenDiameter]
	if diameter.Min == nil || *diameter.Min != 0 || !diameter.MinExclusive {
		t.Fatalf("specimen diameter must be strictly positive: %+v", diameter)
	}
	if body.Unit != ml.PredictionUnit {
		t.Fatalf("unexpected unit %q", body.Unit)
	}
}

func TestPredictWithRealPipeline(t *testing.T) {
	api := NewAPI(realPipeline(t, "model.json"), nil)
	api.History = DBHistory{}
	handler := newTestServer(api)

	rr := postJSON(t, handler, "/api/predict?explain=true", map[string]interface{}{"features": sample}, map[string]string{"Accept-Language": "en-US"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	payload := decodePredict(t, rr)
	if math.Abs(payload.Prediction-4.75) > 1e-9 {
		t.Fatalf("unexpected prediction %v", payload.Prediction)
	}
	if payload.Display != "4.750000 mm/s" {
		t.Fatalf("unexpected display %q", payload.Display)
	}
	if payload.Attribution == nil {
		t.Fatalf("expected attribution, got explain error %q", payload.ExplainError)
	}
	if math.Abs(payload.Attribution.Baseline+payload.Attribution.Sum()-payload.Prediction) > 1e-9 {
		t.Fatalf("attribution does not add up: %+v", payload.Attribution)
	}
	if math.Abs(payload.Contributions["tm"]-0.4) > 1e-9 {
		t.Fatalf("unexpected contributions: %v", payload.Contributions)
	}
	if payload.ID == 0 || payload.RequestID == "" {
		t.Fatalf("expected stored prediction, got id %d request %q", payload.ID, payload.RequestID)
	}

	records, err := db.QueryPredictions(100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, record := range records {
		if record.ID == payload.ID {
			found = true
			if record.Baseline == nil || len(record.Attribution) != ml.FeatureCount {
				t.Fatalf("attribution not stored: %+v", record)
			}
		}
	}
	if !found {
		t.Fatalf("prediction %d not in history", payload.ID)
	}
}

func TestPredictAcceptsMixDesign(t *testing.T) {
	handler := newTestServer(NewAPI(realPipeline(t, "model.json"), nil))

	mix := ml.MixDesign{
		WaterCementRatio:     0.30,
		AggregateCementRatio: 4.00,
		MinAggregateSize:     4.75,
		MaxAggregateSize:     9.50,
		Porosity:             15.0,
		SpecimenShape:        ml.ShapeCylinder,
		SpecimenDiameter:     100,
		SpecimenHeight:       200,
		TestMethod:           ml.MethodConstantHead,
	}
	rr := postJSON(t, handler, "/api/predict?explain=false", mix, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	payload := decodePredict(t, rr)
	if math.Abs(payload.Prediction-4.75) > 1e-9 {
		t.Fatalf("unexpected prediction %v", payload.Prediction)
	}
	if payload.Attribution != nil {
		t.Fatal("attribution must be omitted when explain=false")
	}
}

func TestPredictMixDesignAcceptsDecimalCodes(t *testing.T) {
	handler := newTestServer(NewAPI(realPipeline(t, "model.json"), nil))

	body := json.RawMessage(`{
		"water_cement_ratio": 0.30,
		"aggregate_cement_ratio": 4.0,
		"min_aggregate_size": 4.75,
		"max_aggregate_size": 9.5,
		"porosity": 15.0,
		"specimen_shape": 1.0,
		"specimen_diameter": 100,
		"specimen_height": 200,
		"test_method": 1.0
	}`)
	rr := postJSON(t, handler, "/api/predict", body, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if payload := decodePredict(t, rr); math.Abs(payload.Prediction-4.75) > 1e-9 {
		t.Fatalf("unexpected prediction %v", payload.Prediction)
	}

	body = json.RawMessage(`{
		"water_cement_ratio": 0.30,
		"aggregate_cement_ratio": 4.0,
		"min_aggregate_size": 4.75,
		"max_aggregate_size": 9.5,
		"porosity": 15.0,
		"specimen_shape": 1.5,
		"specimen_diameter": 100,
		"specimen_height": 200,
		"test_method": 1
	}`)
	if rr := postJSON(t, handler, "/api/predict", body, nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for fractional shape code, got %d", rr.Code)
	}
}

func TestPredictLocalizedDisplay(t *testing.T) {
	handler := newTestServer(NewAPI(pipeline.NewMock(4.75), nil))

	rr := postJSON(t, handler, "/api/predict", map[string]interface{}{"features": sample}, map[string]string{"Accept-Language": "de-DE,de;q=0.9"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if payload := decodePredict(t, rr); payload.Display != "4,750000 mm/s" {
		t.Fatalf("unexpected display %q", payload.Display)
	}
}

func TestPredictErrorStatus(t *testing.T) {
	badShape := append([]float64(nil), sample...)
	badShape[ml.FeatureSpecimenShape] = 3
	shortVector := map[string]interface{}{"features": sample[:8]}

	tests := []struct {
		name      string
		predictor pipeline.Predictor
		body      interface{}
		status    int
		kind      string
	}{
		{"wrong length", pipeline.NewMock(1), shortVector, http.StatusBadRequest, "shape_mismatch"},
		{"invalid category", pipeline.NewMock(1), map[string]interface{}{"features": badShape}, http.StatusBadRequest, "invalid_category"},
		{"missing features", pipeline.NewMock(1), map[string]interface{}{}, http.StatusBadRequest, "decode"},
		{"malformed body", pipeline.NewMock(1), "not an object", http.StatusBadRequest, "decode"},
		{"partial mix design", pipeline.NewMock(1), map[string]interface{}{"specimen_shape": 1, "test_method": 1}, http.StatusBadRequest, "decode"},
		{"features and mix design", pipeline.NewMock(1), map[string]interface{}{"features": sample, "specimen_shape": 1}, http.StatusBadRequest, "decode"},
		{"artifacts unavailable", pipeline.NewUnavailable(ml.ErrArtifactMissing, ""), map[string]interface{}{"features": sample}, http.StatusServiceUnavailable, "artifacts_unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := NewAPI(tt.predictor, nil)
			rr := postJSON(t, newTestServer(api), "/api/predict", tt.body, nil)
			if rr.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
			var body map[string]string
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body["error"] == "" {
				t.Fatalf("expected error body, got %s", rr.Body.String())
			}
			if got := api.Metrics.Snapshot().PredictionErrors[tt.kind]; got != 1 {
				t.Fatalf("expected one %s error, got %v", tt.kind, api.Metrics.Snapshot().PredictionErrors)
			}
		})
	}
}

func TestStatusForInferenceFailure(t *testing.T) {
	if got := statusFor(ml.ErrInferenceFailure); got != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", got)
	}
	if got := statusFor(errors.New("boom")); got != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", got)
	}
}

func TestExplainDegradesWithoutCover(t *testing.T) {
	api := NewAPI(realPipeline(t, "model_nocover.json"), nil)
	handler := newTestServer(api)

	rr := postJSON(t, handler, "/api/explain", map[string]interface{}{"features": sample}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	payload := decodePredict(t, rr)
	if payload.Attribution != nil || payload.ExplainError == "" {
		t.Fatalf("expected explain error without attribution: %+v", payload)
	}
	snapshot := api.Metrics.Snapshot()
	if snapshot.ExplainFailuresTotal != 1 || snapshot.PredictionsTotal != 1 {
		t.Fatalf("unexpected metrics: %+v", snapshot)
	}
}

func TestPredictionsHistoryHandler(t *testing.T) {
	api := NewAPI(pipeline.NewMock(2.5), nil)
	api.History = DBHistory{}
	handler := newTestServer(api)

	if rr := postJSON(t, handler, "/api/predict", map[string]interface{}{"features": sample}, nil); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/predictions?limit=1", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var records []db.PredictionRecord
	if err := json.Unmarshal(rr.Body.Bytes(), &records); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(records) != 1 || records[0].Prediction != 2.5 {
		t.Fatalf("unexpected history: %+v", records)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/predictions?limit=abc", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestMetricsHandler(t *testing.T) {
	api := NewAPI(pipeline.NewMock(1), nil)
	api.Hub = monitoring.NewHub(nil, nil)
	handler := newTestServer(api)

	postJSON(t, handler, "/api/predict", map[string]interface{}{"features": sample}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body struct {
		Metrics monitoring.Snapshot `json:"metrics"`
		Clients int                 `json:"websocket_clients"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body.Metrics.PredictionsTotal != 1 || body.Clients != 0 {
		t.Fatalf("unexpected metrics: %+v", body)
	}
}

func TestFormatPrediction(t *testing.T) {
	tests := []struct {
		lang string
		want string
	}{
		{"", "4.750000 mm/s"},
		{"en", "4.750000 mm/s"},
		{"fr-FR", "4,750000 mm/s"},
		{"xx-invalid;;", "4.750000 mm/s"},
	}
	for _, tt := range tests {
		if got := FormatPrediction(tt.lang, 4.75, "mm/s"); got != tt.want {
			t.Errorf("FormatPrediction(%q) = %q, want %q", tt.lang, got, tt.want)
		}
	}
}
