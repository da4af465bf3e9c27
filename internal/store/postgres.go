// Package store provides the durable edges of the engine: the postgres
// trade journal and the redis-backed risk state checkpoint.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/dexarb/dexarb-go/internal/config"
	"github.com/dexarb/dexarb-go/internal/models"
)

// PgxIface is the subset of the pgx pool the journal uses; pgxmock
// satisfies it in tests.
type PgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPostgresPool connects a pgx pool from config and verifies it.
func NewPostgresPool(ctx context.Context, cfg config.DatabaseConfig, logger *logrus.Logger) (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName, cfg.SSLMode)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"host": cfg.Host,
		"db":   cfg.DBName,
	}).Info("Connected to PostgreSQL")
	return pool, nil
}

// Journal records every detected opportunity and every terminal trade
// result for later analysis.
type Journal struct {
	db     PgxIface
	logger *logrus.Logger
}

func NewJournal(db PgxIface, logger *logrus.Logger) *Journal {
	return &Journal{db: db, logger: logger}
}

// Migrate creates the journal tables if they do not exist.
func (j *Journal) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS opportunities (
			id UUID PRIMARY KEY,
			cycle JSONB NOT NULL,
			input_asset TEXT NOT NULL,
			input_amount NUMERIC NOT NULL,
			expected_output NUMERIC NOT NULL,
			gross_profit NUMERIC NOT NULL,
			net_profit NUMERIC NOT NULL,
			net_profit_pct NUMERIC NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			detected_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trade_results (
			plan_id UUID PRIMARY KEY,
			opportunity_id UUID NOT NULL,
			input_asset TEXT NOT NULL,
			outcome TEXT NOT NULL,
			signature TEXT,
			realized_profit NUMERIC NOT NULL,
			slippage NUMERIC NOT NULL,
			cost NUMERIC NOT NULL,
			attempts INT NOT NULL,
			executed_at TIMESTAMPTZ NOT NULL,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_opportunities_detected_at ON opportunities (detected_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_results_executed_at ON trade_results (executed_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("running journal migration: %w", err)
		}
	}
	return nil
}

// SaveOpportunity journals a detected opportunity.
func (j *Journal) SaveOpportunity(ctx context.Context, opp *models.Opportunity) error {
	cycle, err := json.Marshal(opp.Cycle)
	if err != nil {
		return fmt.Errorf("encoding cycle: %w", err)
	}
	_, err = j.db.Exec(ctx, `
		INSERT INTO opportunities
			(id, cycle, input_asset, input_amount, expected_output,
			 gross_profit, net_profit, net_profit_pct, confidence,
			 detected_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
		opp.ID, cycle, opp.InputAsset, opp.InputAmount, opp.ExpectedOutput,
		opp.GrossProfit, opp.NetProfit, opp.NetProfitPct, opp.Confidence,
		opp.DetectedAt, opp.ExpiresAt)
	if err != nil {
		return fmt.Errorf("inserting opportunity: %w", err)
	}
	return nil
}

// SaveResult journals a terminal trade result.
func (j *Journal) SaveResult(ctx context.Context, res models.TradeResult) error {
	_, err := j.db.Exec(ctx, `
		INSERT INTO trade_results
			(plan_id, opportunity_id, input_asset, outcome, signature,
			 realized_profit, slippage, cost, attempts, executed_at, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (plan_id) DO NOTHING`,
		res.PlanID, res.OpportunityID, res.InputAsset, string(res.Outcome),
		res.Signature, res.RealizedProfit, res.Slippage, res.Cost,
		res.Attempts, res.ExecutedAt, res.Error)
	if err != nil {
		return fmt.Errorf("inserting trade result: %w", err)
	}
	return nil
}

// RecentOpportunities returns the latest journaled opportunities, newest
// first.
func (j *Journal) RecentOpportunities(ctx context.Context, limit int) ([]models.Opportunity, error) {
	rows, err := j.db.Query(ctx, `
		SELECT id, cycle, input_asset, input_amount, expected_output,
		       gross_profit, net_profit, net_profit_pct, confidence,
		       detected_at, expires_at
		FROM opportunities
		ORDER BY detected_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying opportunities: %w", err)
	}
	defer rows.Close()

	var opps []models.Opportunity
	for rows.Next() {
		var opp models.Opportunity
		var cycle []byte
		if err := rows.Scan(&opp.ID, &cycle, &opp.InputAsset, &opp.InputAmount,
			&opp.ExpectedOutput, &opp.GrossProfit, &opp.NetProfit,
			&opp.NetProfitPct, &opp.Confidence, &opp.DetectedAt, &opp.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scanning opportunity: %w", err)
		}
		if err := json.Unmarshal(cycle, &opp.Cycle); err != nil {
			return nil, fmt.Errorf("decoding cycle: %w", err)
		}
		opps = append(opps, opp)
	}
	return opps, rows.Err()
}

// DailyRealized sums realized profit over confirmed trades since the
// given time.
func (j *Journal) DailyRealized(ctx context.Context, since time.Time) (string, error) {
	var total string
	err := j.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(realized_profit), 0)::TEXT
		FROM trade_results
		WHERE outcome = 'confirmed' AND executed_at >= $1`, since).Scan(&total)
	if err != nil {
		return "", fmt.Errorf("summing realized profit: %w", err)
	}
	return total, nil
}
