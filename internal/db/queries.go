package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hpungsan/compost/internal/errors"
)

// DefaultListLimit and MaxListLimit bound List.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

const moveColumns = `id, op, tier, scope_key, source_path, compost_path, bytes, moved_at, recovered_at, evicted_at`

// ListFilter narrows List. Empty fields match everything.
type ListFilter struct {
	ScopeKey string
	Op       string
	// Status is one of StatusInCompost, StatusRecovered, StatusEvicted.
	Status string
	Limit  int
	Offset int
}

// Insert records a move. An empty ID gets a fresh ULID.
func Insert(db *sql.DB, m *Move) error {
	if m.ID == "" {
		m.ID = NewID(time.Now())
	}
	if m.MovedAt == 0 {
		m.MovedAt = time.Now().Unix()
	}

	query := `INSERT INTO moves (` + moveColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL)`
	_, err := db.Exec(query,
		m.ID, m.Op, m.Tier, m.ScopeKey, m.SourcePath, m.CompostPath, m.Bytes, m.MovedAt,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetByID retrieves a move by its ULID.
func GetByID(db *sql.DB, id string) (*Move, error) {
	row := db.QueryRow(`SELECT `+moveColumns+` FROM moves WHERE id = ?`, id)
	m, err := scanMove(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("move", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return m, nil
}

// List returns moves newest first, with the total matching count.
func List(db *sql.DB, f ListFilter) ([]Move, int, error) {
	var (
		where []string
		args  []any
	)
	if f.ScopeKey != "" {
		where = append(where, "scope_key = ?")
		args = append(args, f.ScopeKey)
	}
	if f.Op != "" {
		where = append(where, "op = ?")
		args = append(args, f.Op)
	}
	switch f.Status {
	case "":
	case StatusInCompost:
		where = append(where, "recovered_at IS NULL AND evicted_at IS NULL")
	case StatusRecovered:
		where = append(where, "recovered_at IS NOT NULL")
	case StatusEvicted:
		where = append(where, "evicted_at IS NOT NULL AND recovered_at IS NULL")
	default:
		return nil, 0, errors.NewInvalidRequest(fmt.Sprintf("unknown status: %s", f.Status))
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := db.QueryRow(`SELECT COUNT(*) FROM moves`+clause, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + moveColumns + ` FROM moves` + clause + ` ORDER BY moved_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := db.Query(query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	var moves []Move
	for rows.Next() {
		m, err := scanMove(rows)
		if err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		moves = append(moves, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	return moves, total, nil
}

// ListInCompost returns every move not yet recovered or evicted, oldest first.
func ListInCompost(db *sql.DB) ([]Move, error) {
	rows, err := db.Query(`SELECT ` + moveColumns + ` FROM moves WHERE recovered_at IS NULL AND evicted_at IS NULL ORDER BY moved_at, id`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var moves []Move
	for rows.Next() {
		m, err := scanMove(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		moves = append(moves, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return moves, nil
}

// MarkRecovered stamps recovered_at on a move still in compost.
func MarkRecovered(db *sql.DB, id string, at int64) error {
	return stamp(db, "recovered_at", id, at)
}

// MarkEvicted stamps evicted_at on a move whose compost copy is gone.
func MarkEvicted(db *sql.DB, id string, at int64) error {
	return stamp(db, "evicted_at", id, at)
}

func stamp(db *sql.DB, column, id string, at int64) error {
	query := `UPDATE moves SET ` + column + ` = ? WHERE id = ? AND recovered_at IS NULL AND evicted_at IS NULL`
	result, err := db.Exec(query, at, id)
	if err != nil {
		return errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if n == 0 {
		return errors.NewNotFound("move", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMove(row rowScanner) (*Move, error) {
	var (
		m           Move
		recoveredAt sql.NullInt64
		evictedAt   sql.NullInt64
	)
	err := row.Scan(
		&m.ID, &m.Op, &m.Tier, &m.ScopeKey, &m.SourcePath, &m.CompostPath,
		&m.Bytes, &m.MovedAt, &recoveredAt, &evictedAt,
	)
	if err != nil {
		return nil, err
	}
	if recoveredAt.Valid {
		m.RecoveredAt = &recoveredAt.Int64
	}
	if evictedAt.Valid {
		m.EvictedAt = &evictedAt.Int64
	}
	return &m, nil
}
