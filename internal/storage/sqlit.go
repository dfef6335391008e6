package storage

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	// Register sqlite3 driver
	_ "github.com/mattn/go-sqlite3"
)

type DB interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	Close() error
}

type Store struct{ db DB }

func OpenSQLite(dsn string) (*sql.DB, error) {
	return sql.Open("sqlite3", dsn)
}

func InitSchema(db DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs(
			id TEXT PRIMARY KEY, started_at INTEGER, finished_at INTEGER,
			tickers TEXT, target TEXT, horizon INTEGER, status TEXT, error TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS forecast_metrics(
			run_id TEXT, model TEXT, rmse REAL, mape REAL,
			first_date TEXT, last_forecast REAL
		)`,
		`CREATE TABLE IF NOT EXISTS risk_metrics(
			run_id TEXT, asset TEXT, var95 REAL, sharpe REAL,
			volatility REAL, max_drawdown REAL
		)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func NewStore(db DB) *Store { return &Store{db: db} }

// Run statuses.
const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusFailed  = "failed"
)

type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Tickers    string
	Target     string
	Horizon    int
	Status     string
	Error      string
}

type ForecastMetric struct {
	Model        string
	RMSE         float64
	MAPE         float64 // NaN when undefined, stored as NULL
	FirstDate    time.Time
	LastForecast float64
}

type RiskMetric struct {
	Asset       string
	VaR95       float64
	Sharpe      float64
	Volatility  float64
	MaxDrawdown float64
}

// StartRun records a new run and returns its ID.
func (s *Store) StartRun(tickers, target string, horizon int, at time.Time) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(`INSERT INTO runs(id,started_at,tickers,target,horizon,status) VALUES(?,?,?,?,?,?)`,
		id, at.Unix(), tickers, target, horizon, StatusRunning)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// FinishRun marks a run as done; a non-nil runErr marks it failed.
func (s *Store) FinishRun(id string, at time.Time, runErr error) error {
	status, msg := StatusOK, ""
	if runErr != nil {
		status, msg = StatusFailed, runErr.Error()
	}
	_, err := s.db.Exec(`UPDATE runs SET finished_at=?, status=?, error=? WHERE id=?`, at.Unix(), status, msg, id)
	return err
}

func (s *Store) SaveForecastMetric(runID string, m ForecastMetric) error {
	_, err := s.db.Exec(`INSERT INTO forecast_metrics(run_id,model,rmse,mape,first_date,last_forecast) VALUES(?,?,?,?,?,?)`,
		runID, m.Model, m.RMSE, nullable(m.MAPE), m.FirstDate.Format("2006-01-02"), m.LastForecast)
	return err
}

func (s *Store) SaveRiskMetric(runID string, m RiskMetric) error {
	_, err := s.db.Exec(`INSERT INTO risk_metrics(run_id,asset,var95,sharpe,volatility,max_drawdown) VALUES(?,?,?,?,?,?)`,
		runID, m.Asset, m.VaR95, m.Sharpe, m.Volatility, m.MaxDrawdown)
	return err
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(limit int) ([]Run, error) {
	rows, err := s.db.Query(`SELECT id,started_at,COALESCE(finished_at,0),tickers,target,horizon,status,COALESCE(error,'')
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var r Run
		var started, finished int64
		if err := rows.Scan(&r.ID, &started, &finished, &r.Tickers, &r.Target, &r.Horizon, &r.Status, &r.Error); err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(started, 0).UTC()
		if finished > 0 {
			r.FinishedAt = time.Unix(finished, 0).UTC()
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ForecastMetrics(runID string) ([]ForecastMetric, error) {
	rows, err := s.db.Query(`SELECT model,rmse,mape,first_date,last_forecast FROM forecast_metrics WHERE run_id=? ORDER BY rowid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ForecastMetric
	for rows.Next() {
		var m ForecastMetric
		var mape sql.NullFloat64
		var first string
		if err := rows.Scan(&m.Model, &m.RMSE, &mape, &first, &m.LastForecast); err != nil {
			return nil, err
		}
		m.MAPE = math.NaN()
		if mape.Valid {
			m.MAPE = mape.Float64
		}
		m.FirstDate, _ = time.Parse("2006-01-02", first)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) RiskMetrics(runID string) ([]RiskMetric, error) {
	rows, err := s.db.Query(`SELECT asset,var95,sharpe,volatility,max_drawdown FROM risk_metrics WHERE run_id=? ORDER BY rowid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RiskMetric
	for rows.Next() {
		var m RiskMetric
		if err := rows.Scan(&m.Asset, &m.VaR95, &m.Sharpe, &m.Volatility, &m.MaxDrawdown); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func nullable(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}
