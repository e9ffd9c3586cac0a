package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/cloudx-io/slotauction/core"
)

//go:embed schema.sql
var schemaSQL string

var (
	ErrNotFound = errors.New("not found")

	// ErrGroupConflict is returned when a group id is already taken by another session.
	ErrGroupConflict = errors.New("group belongs to another session")
)

// Store persists bids and round records of a session in a single SQLite database.
// It implements core.Ledger.
type Store struct {
	db     *sql.DB
	dbPath string
}

var _ core.Ledger = (*Store)(nil)

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+
		"?_pragma=journal_mode(WAL)"+
		"&_pragma=foreign_keys(ON)"+
		"&_pragma=busy_timeout(5000)"+
		"&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite serializes writers anyway
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &Store{db: db, dbPath: path}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DBPath() string {
	return s.dbPath
}

func (s *Store) Append(ctx context.Context, bid core.Bid) (core.Bid, error) {
	if bid.ID == "" {
		bid.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bids (id, group_id, player_id, slots, price, timestamp_ns)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		bid.ID, int64(bid.Group), int64(bid.Player), int64(bid.Slots), int64(bid.Price), int64(bid.Timestamp))
	if err != nil {
		return core.Bid{}, fmt.Errorf("insert bid: %w", err)
	}
	return bid, nil
}

func (s *Store) Query(ctx context.Context, group core.GroupID, slots core.SlotMask, asOf *time.Duration) ([]core.Bid, error) {
	query := `SELECT id, group_id, player_id, slots, price, timestamp_ns
		 FROM bids WHERE group_id = ? AND slots = ?`
	args := []any{int64(group), int64(slots)}
	if asOf != nil {
		query += ` AND timestamp_ns <= ?`
		args = append(args, int64(*asOf))
	}
	query += ` ORDER BY timestamp_ns, seq`

	return s.queryBids(ctx, query, args...)
}

func (s *Store) ForPlayer(ctx context.Context, group core.GroupID, player core.PlayerID) ([]core.Bid, error) {
	return s.queryBids(ctx,
		`SELECT id, group_id, player_id, slots, price, timestamp_ns
		 FROM bids WHERE group_id = ? AND player_id = ?
		 ORDER BY timestamp_ns, seq`,
		int64(group), int64(player))
}

func (s *Store) Count(ctx context.Context, group core.GroupID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bids WHERE group_id = ?`,
		int64(group)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count bids: %w", err)
	}
	return count, nil
}

func (s *Store) queryBids(ctx context.Context, query string, args ...any) ([]core.Bid, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bids: %w", err)
	}
	defer rows.Close()

	bids := make([]core.Bid, 0)
	for rows.Next() {
		var bid core.Bid
		var group, player, slots, price, timestamp int64
		if err := rows.Scan(&bid.ID, &group, &player, &slots, &price, &timestamp); err != nil {
			return nil, fmt.Errorf("scan bid: %w", err)
		}
		bid.Group = core.GroupID(group)
		bid.Player = core.PlayerID(player)
		bid.Slots = core.SlotMask(slots)
		bid.Price = core.Currency(price)
		bid.Timestamp = time.Duration(timestamp)
		bids = append(bids, bid)
	}
	return bids, rows.Err()
}

// GroupRecord describes one group's auction within a round.
type GroupRecord struct {
	ID             core.GroupID
	SessionCode    string
	Round          int
	Treatment      core.Treatment
	Slots          core.SlotConfig
	CandleDuration time.Duration

	// DurationFinal is zero until the group's auction has been finished
	DurationFinal time.Duration

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NextGroupID returns the lowest group id above every group and bid in the database.
// Sessions sharing a database number their groups from here so ledgers never mix.
func (s *Store) NextGroupID(ctx context.Context) (core.GroupID, error) {
	var highest int64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(
		     (SELECT COALESCE(MAX(group_id), 0) FROM auction_groups),
		     (SELECT COALESCE(MAX(group_id), 0) FROM bids))`).Scan(&highest)
	if err != nil {
		return 0, fmt.Errorf("next group id: %w", err)
	}
	return core.GroupID(highest + 1), nil
}

// SaveGroup inserts a group or updates its timing if it already exists.
// It returns ErrGroupConflict if the id is taken by a group of another session.
func (s *Store) SaveGroup(ctx context.Context, g GroupRecord) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO auction_groups (group_id, session_code, round, treatment, num_global_slots,
		     num_local_slots, candle_duration_ns, duration_final_ns, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(group_id) DO UPDATE SET
		     candle_duration_ns = excluded.candle_duration_ns,
		     duration_final_ns = excluded.duration_final_ns,
		     updated_at = excluded.updated_at
		 WHERE auction_groups.session_code = excluded.session_code`,
		int64(g.ID), g.SessionCode, g.Round, g.Treatment.String(), g.Slots.GlobalSlots,
		g.Slots.LocalSlots, int64(g.CandleDuration), int64(g.DurationFinal), now, now)
	if err != nil {
		return fmt.Errorf("save group %d: %w", g.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("save group %d of session %s: %w", g.ID, g.SessionCode, ErrGroupConflict)
	}
	return nil
}

// FinishGroup records the effective duration of a closed auction.
func (s *Store) FinishGroup(ctx context.Context, group core.GroupID, durationFinal time.Duration) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE auction_groups SET duration_final_ns = ?, updated_at = ? WHERE group_id = ?`,
		int64(durationFinal), time.Now().UTC().Format(time.RFC3339), int64(group))
	if err != nil {
		return fmt.Errorf("finish group %d: %w", group, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

const groupColumns = `group_id, session_code, round, treatment, num_global_slots, num_local_slots,
	candle_duration_ns, duration_final_ns, created_at, updated_at`

func (s *Store) GetGroup(ctx context.Context, group core.GroupID) (*GroupRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+groupColumns+` FROM auction_groups WHERE group_id = ?`,
		int64(group))

	record, err := scanGroup(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListGroups returns all groups of a session ordered by round and group.
func (s *Store) ListGroups(ctx context.Context, sessionCode string) ([]*GroupRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+groupColumns+` FROM auction_groups WHERE session_code = ?
		 ORDER BY round, group_id`,
		sessionCode)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	var records []*GroupRecord
	for rows.Next() {
		record, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGroup(row rowScanner) (*GroupRecord, error) {
	var record GroupRecord
	var id, candle, final int64
	var treatment, createdAt, updatedAt string

	err := row.Scan(&id, &record.SessionCode, &record.Round, &treatment, &record.Slots.GlobalSlots,
		&record.Slots.LocalSlots, &candle, &final, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	record.ID = core.GroupID(id)
	record.CandleDuration = time.Duration(candle)
	record.DurationFinal = time.Duration(final)
	if record.Treatment, err = core.ParseTreatment(treatment); err != nil {
		return nil, fmt.Errorf("group %d: %w", id, err)
	}

	var parseErr error
	record.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		logrus.WithError(parseErr).WithField("group", id).Warn("failed to parse created_at timestamp")
	}
	record.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		logrus.WithError(parseErr).WithField("group", id).Warn("failed to parse updated_at timestamp")
	}

	return &record, nil
}

// PlayerRecord is a group member with the valuations drawn for the round.
type PlayerRecord struct {
	Group           core.GroupID
	Player          core.PlayerID
	ParticipantCode string
	Role            core.Role
	Valuations      core.Valuations
}

// Bidder returns the player as seen by the validator.
func (p *PlayerRecord) Bidder() core.Bidder {
	return core.Bidder{ID: p.Player, Role: p.Role, Valuations: p.Valuations}
}

// SavePlayer inserts or replaces a player of an existing group.
func (s *Store) SavePlayer(ctx context.Context, p PlayerRecord) error {
	valuations, err := json.Marshal(p.Valuations)
	if err != nil {
		return fmt.Errorf("marshal valuations: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO players (group_id, player_id, participant_code, role, valuations)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(group_id, player_id) DO UPDATE SET
		     participant_code = excluded.participant_code,
		     role = excluded.role,
		     valuations = excluded.valuations`,
		int64(p.Group), int64(p.Player), p.ParticipantCode, string(p.Role), string(valuations))
	if err != nil {
		return fmt.Errorf("save player %d of group %d: %w", p.Player, p.Group, err)
	}
	return nil
}

// ListPlayers returns the members of a group ordered by player id.
func (s *Store) ListPlayers(ctx context.Context, group core.GroupID) ([]*PlayerRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT player_id, participant_code, role, valuations
		 FROM players WHERE group_id = ? ORDER BY player_id`,
		int64(group))
	if err != nil {
		return nil, fmt.Errorf("query players: %w", err)
	}
	defer rows.Close()

	var records []*PlayerRecord
	for rows.Next() {
		record := &PlayerRecord{Group: group}
		var player int64
		var role, valuations string
		if err := rows.Scan(&player, &record.ParticipantCode, &role, &valuations); err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		record.Player = core.PlayerID(player)
		record.Role = core.Role(role)
		if err := json.Unmarshal([]byte(valuations), &record.Valuations); err != nil {
			return nil, fmt.Errorf("player %d valuations: %w", player, err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
