package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/vidmetric/analyzer-worker/internal/models"
)

// Manager persists analysis requests and their results in PostgreSQL. It is
// optional infrastructure: the oneshot CLI mode runs without it, and the
// pipeline treats persistence failures after generation as non-fatal
// bookkeeping.
type Manager struct {
	db *sql.DB
}

// NewManager opens the PostgreSQL connection and ensures the schema exists.
func NewManager(postgresURL string) (*Manager, error) {
	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	m := &Manager{db: db}
	if err := m.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return m, nil
}

// NewManagerWithDB wraps an existing connection without touching the
// schema. Used by tests.
func NewManagerWithDB(db *sql.DB) *Manager {
	return &Manager{db: db}
}

// initSchema creates tables and indexes if they don't exist.
func (m *Manager) initSchema() error {
	tableSchema := `
	CREATE SCHEMA IF NOT EXISTS analyzer;

	-- Analysis requests, one row per pipeline run
	CREATE TABLE IF NOT EXISTS analyzer.analysis_requests (
		request_id VARCHAR(255) PRIMARY KEY,
		video_url TEXT NOT NULL,
		platform VARCHAR(50) NOT NULL,
		target_age VARCHAR(50),
		target_gender VARCHAR(50),
		target_tags TEXT[],
		callback_url TEXT NOT NULL,
		status VARCHAR(50) NOT NULL,
		error_message TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Per-KPI predictions
	CREATE TABLE IF NOT EXISTS analyzer.analysis_results (
		id SERIAL PRIMARY KEY,
		request_id VARCHAR(255) NOT NULL REFERENCES analyzer.analysis_requests(request_id) ON DELETE CASCADE,
		kpi_name VARCHAR(100) NOT NULL,
		predicted_value VARCHAR(255) NOT NULL,
		score INT,
		explanation TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Extracted content analysis, one row per run
	CREATE TABLE IF NOT EXISTS analyzer.content_analyses (
		request_id VARCHAR(255) PRIMARY KEY REFERENCES analyzer.analysis_requests(request_id) ON DELETE CASCADE,
		tags JSONB,
		quality_score INT,
		hook_strength INT,
		audience_relevance INT,
		content_summary TEXT,
		characteristics JSONB,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`

	if _, err := m.db.Exec(tableSchema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	indexStatements := []string{
		`CREATE INDEX IF NOT EXISTS idx_requests_status ON analyzer.analysis_requests(status)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_created_at ON analyzer.analysis_requests(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_results_request_id ON analyzer.analysis_results(request_id)`,
		`CREATE INDEX IF NOT EXISTS idx_results_kpi_name ON analyzer.analysis_results(kpi_name)`,
	}
	for _, stmt := range indexStatements {
		if _, err := m.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create index: %w (statement: %s)", err, stmt)
		}
	}
	return nil
}

// StoreRequest records an incoming analysis request as processing. Re-runs
// of the same request id update status rather than fail.
func (m *Manager) StoreRequest(ctx context.Context, req *models.AnalysisRequest) error {
	query := `
		INSERT INTO analyzer.analysis_requests (request_id, video_url, platform, target_age, target_gender, target_tags, callback_url, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (request_id) DO UPDATE SET
			status = EXCLUDED.status,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err := m.db.ExecContext(ctx, query,
		req.RequestID,
		req.VideoURL,
		req.Platform,
		req.TargetAge,
		req.TargetGender,
		pq.Array(req.TargetTags),
		req.CallbackURL,
		"processing",
	)
	return err
}

// UpdateRequestStatus flips a request's status and records the failure
// message when the run did not complete.
func (m *Manager) UpdateRequestStatus(ctx context.Context, requestID, status, errorMsg string) error {
	query := `
		UPDATE analyzer.analysis_requests
		SET status = $2, error_message = $3, updated_at = CURRENT_TIMESTAMP
		WHERE request_id = $1
	`

	_, err := m.db.ExecContext(ctx, query, requestID, status, errorMsg)
	return err
}

// StoreAnalysis persists the extracted content analysis for a request.
func (m *Manager) StoreAnalysis(ctx context.Context, requestID string, analysis *models.ContentAnalysis) error {
	tagsJSON, err := json.Marshal(analysis.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	characteristicsJSON, err := json.Marshal(analysis.Characteristics)
	if err != nil {
		return fmt.Errorf("failed to marshal characteristics: %w", err)
	}

	query := `
		INSERT INTO analyzer.content_analyses (request_id, tags, quality_score, hook_strength, audience_relevance, content_summary, characteristics)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (request_id) DO UPDATE SET
			tags = EXCLUDED.tags,
			quality_score = EXCLUDED.quality_score,
			hook_strength = EXCLUDED.hook_strength,
			audience_relevance = EXCLUDED.audience_relevance,
			content_summary = EXCLUDED.content_summary,
			characteristics = EXCLUDED.characteristics
	`

	_, err = m.db.ExecContext(ctx, query,
		requestID,
		tagsJSON,
		analysis.QualityScore,
		analysis.HookStrength,
		analysis.AudienceRelevance,
		analysis.ContentSummary,
		characteristicsJSON,
	)
	return err
}

// StoreResults persists the per-KPI predictions for a request.
func (m *Manager) StoreResults(ctx context.Context, requestID string, results []models.KPIPrediction) error {
	if len(results) == 0 {
		return nil
	}

	query := `
		INSERT INTO analyzer.analysis_results (request_id, kpi_name, predicted_value, score, explanation)
		VALUES ($1, $2, $3, $4, $5)
	`

	for _, r := range results {
		if _, err := m.db.ExecContext(ctx, query,
			requestID,
			r.KPIName,
			r.PredictedValue,
			r.Score,
			r.Explanation,
		); err != nil {
			return fmt.Errorf("failed to store result for %s: %w", r.KPIName, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
