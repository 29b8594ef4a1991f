package archive

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/parityleague/backend/internal/models"
)

// Archive persists completed match records and standings snapshots to
// Postgres. It is optional: the JSON file layout under the data directory
// remains authoritative, and a nil *Archive is a no-op sink.
type Archive struct {
	db  *sqlx.DB
	log *zap.Logger
}

// Connect opens the archive database. Call only when a DATABASE_URL is
// configured.
func Connect(databaseURL string, log *zap.Logger) (*Archive, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect archive db: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping archive db: %w", err)
	}
	return &Archive{db: db, log: log.Named("archive")}, nil
}

// Close releases the database pool.
func (a *Archive) Close() error {
	if a == nil {
		return nil
	}
	return a.db.Close()
}

// RecordMatch inserts one completed match. Re-inserting the same
// (league_id, match_id) is ignored, matching the manager's at-most-once
// report handling.
func (a *Archive) RecordMatch(leagueID string, rec models.MatchRecord) {
	if a == nil {
		return
	}
	_, err := a.db.Exec(`
		INSERT INTO match_records
			(league_id, match_id, round_id, player_a, player_b, winner_id,
			 drawn_number, number_parity, status, reason, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (league_id, match_id) DO NOTHING
	`, leagueID, rec.MatchID, rec.RoundID, rec.Players[0], rec.Players[1],
		rec.WinnerID, rec.DrawnNumber, rec.NumberParity, rec.Status, rec.Reason,
		rec.StartedAt, rec.FinishedAt)
	if err != nil {
		a.log.Error("archive match insert failed",
			zap.String("match_id", rec.MatchID), zap.Error(err))
	}
}

// SnapshotStandings appends the current standings view.
func (a *Archive) SnapshotStandings(leagueID string, standings []models.Standing) {
	if a == nil {
		return
	}
	raw, err := json.Marshal(standings)
	if err != nil {
		a.log.Error("marshal standings snapshot failed", zap.Error(err))
		return
	}
	_, err = a.db.Exec(`
		INSERT INTO standings_snapshots (league_id, taken_at, standings)
		VALUES ($1, $2, $3)
	`, leagueID, time.Now().UTC(), raw)
	if err != nil {
		a.log.Error("archive standings insert failed", zap.Error(err))
	}
}
