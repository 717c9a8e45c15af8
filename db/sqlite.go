package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var database *sql.DB

// InitDB opens the SQLite database and creates the tables. A database opened
// by an earlier call is closed once the new one is ready.
func InitDB(path string) error {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
	}

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return err
	}
	// a single connection keeps ":memory:" databases shared and serializes writes
	conn.SetMaxOpenConns(1)

	query := `
    CREATE TABLE IF NOT EXISTS predictions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        request_id TEXT,
        features TEXT NOT NULL,
        prediction REAL NOT NULL,
        unit TEXT NOT NULL,
        attribution TEXT,
        baseline REAL,
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_predictions_created_at ON predictions(created_at);
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        model_name VARCHAR(255),
        rmse REAL,
        mae REAL,
        r2 REAL,
        trained_at DATETIME,
        data_points INTEGER
    );
    `
	if _, err := conn.Exec(query); err != nil {
		conn.Close()
		return err
	}
	if database != nil {
		database.Close()
	}
	database = conn
	return nil
}

// Close closes the database opened by InitDB.
func Close() error {
	if database == nil {
		return nil
	}
	err := database.Close()
	database = nil
	return err
}

// PredictionRecord is one served prediction.
type PredictionRecord struct {
	ID          int64     `json:"id"`
	RequestID   string    `json:"request_id,omitempty"`
	Features    []float64 `json:"features"`
	Prediction  float64   `json:"prediction"`
	Unit        string    `json:"unit"`
	Attribution []float64 `json:"attribution,omitempty"`
	Baseline    *float64  `json:"baseline,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// SavePrediction stores a prediction and returns its id.
func SavePrediction(record PredictionRecord) (int64, error) {
	if database == nil {
		return 0, errors.New("database not initialized")
	}
	features, err := json.Marshal(record.Features)
	if err != nil {
		return 0, err
	}
	var attribution sql.NullString
	if len(record.Attribution) > 0 {
		payload, err := json.Marshal(record.Attribution)
		if err != nil {
			return 0, err
		}
		attribution = sql.NullString{String: string(payload), Valid: true}
	}
	var baseline sql.NullFloat64
	if record.Baseline != nil {
		baseline = sql.NullFloat64{Float64: *record.Baseline, Valid: true}
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	result, err := database.Exec(`
        INSERT INTO predictions (request_id, features, prediction, unit, attribution, baseline, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.RequestID, string(features), record.Prediction, record.Unit, attribution, baseline, record.CreatedAt)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// QueryPredictions returns the most recent predictions, newest first.
func QueryPredictions(limit int) ([]PredictionRecord, error) {
	if database == nil {
		return nil, errors.New("database not initialized")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := database.Query(`
        SELECT id, request_id, features, prediction, unit, attribution, baseline, created_at
        FROM predictions
        ORDER BY created_at DESC, id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]PredictionRecord, 0)
	for rows.Next() {
		var r PredictionRecord
		var requestID, features, attribution sql.NullString
		var baseline sql.NullFloat64
		if err := rows.Scan(&r.ID, &requestID, &features, &r.Prediction, &r.Unit, &attribution, &baseline, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.RequestID = requestID.String
		if err := json.Unmarshal([]byte(features.String), &r.Features); err != nil {
			return nil, err
		}
		if attribution.Valid {
			if err := json.Unmarshal([]byte(attribution.String), &r.Attribution); err != nil {
				return nil, err
			}
		}
		if baseline.Valid {
			value := baseline.Float64
			r.Baseline = &value
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

type TrainingLog struct {
	ModelName  string    `json:"model_name"`
	RMSE       float64   `json:"rmse"`
	MAE        float64   `json:"mae"`
	R2         float64   `json:"r2"`
	TrainedAt  time.Time `json:"trained_at"`
	DataPoints int       `json:"data_points"`
}

func SaveTrainingLog(entry TrainingLog) error {
	if database == nil {
		return errors.New("database not initialized")
	}
	if entry.TrainedAt.IsZero() {
		entry.TrainedAt = time.Now().UTC()
	}
	_, err := database.Exec(`
        INSERT INTO training_log (model_name, rmse, mae, r2, trained_at, data_points)
        VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ModelName, entry.RMSE, entry.MAE, entry.R2, entry.TrainedAt, entry.DataPoints)
	return err
}

func LoadTrainingLog() ([]TrainingLog, error) {
	if database == nil {
		return nil, errors.New("database not initialized")
	}
	rows, err := database.Query(`
        SELECT model_name, rmse, mae, r2, trained_at, data_points
        FROM training_log
        ORDER BY trained_at DESC
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]TrainingLog, 0)
	for rows.Next() {
		var log TrainingLog
		if err := rows.Scan(&log.ModelName, &log.RMSE, &log.MAE, &log.R2, &log.TrainedAt, &log.DataPoints); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}
