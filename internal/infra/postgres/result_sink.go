package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"breach-session-service/internal/domain"
	"github.com/jackc/pgx/v4/pgxpool"
)

// ResultSink writes final session results as JSONB rows.
type ResultSink struct {
	pool *pgxpool.Pool
}

func NewResultSink(pool *pgxpool.Pool) *ResultSink {
	return &ResultSink{pool: pool}
}

func (s *ResultSink) SaveResult(ctx context.Context, result domain.SessionResult) error {
	players, err := json.Marshal(result.Players)
	if err != nil {
		return fmt.Errorf("marshal player results: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO session_results (code, teacher_id, game_type, started_at, ended_at, results)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		result.Code, result.TeacherID, result.GameType, result.StartedAt, result.EndedAt, players)
	if err != nil {
		return fmt.Errorf("insert session result: %w", err)
	}
	return nil
}
