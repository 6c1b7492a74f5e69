package fir

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	svcerrors "github.com/afirgen/fir-pipeline/infrastructure/errors"
)

// maxAllocationAttempts bounds retries of fir_number allocation on a
// unique-constraint violation, per the orchestrator's allocation policy.
const maxAllocationAttempts = 3

// Store persists FIRRecords in PostgreSQL. All mutations commit through an
// explicit transaction; nothing is autocommitted.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// InsertDraft allocates a fresh fir_number and inserts a draft FIRRecord for
// sessionID, retrying allocation up to maxAllocationAttempts times if the
// generated number collides with an existing row.
func (s *Store) InsertDraft(ctx context.Context, sessionID, content string) (*Record, error) {
	var lastErr error
	for attempt := 0; attempt < maxAllocationAttempts; attempt++ {
		number, err := NewNumber(time.Now())
		if err != nil {
			return nil, svcerrors.Internal("generate fir number", err)
		}

		rec := &Record{
			FIRNumber: number,
			SessionID: sessionID,
			Status:    StatusDraft,
			Content:   content,
			CreatedAt: time.Now().UTC(),
		}

		if err := s.insert(ctx, rec); err != nil {
			if isUniqueViolation(err) {
				lastErr = err
				continue
			}
			return nil, svcerrors.DatabaseError("insert fir record", err)
		}
		return rec, nil
	}
	return nil, svcerrors.Internal("fir number allocation exhausted retries", lastErr)
}

func (s *Store) insert(ctx context.Context, rec *Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO fir_records (fir_number, session_id, status, fir_content, auth_key_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.FIRNumber, rec.SessionID, rec.Status, rec.Content, rec.AuthKeyHash, rec.CreatedAt)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Finalize transitions a draft record to finalized, stamping finalized_at and
// the hash of the auth key that unlocked it. Returns NotFound if the record
// does not exist, Conflict if it is not currently a draft.
func (s *Store) Finalize(ctx context.Context, firNumber, authKeyHash string) (*Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, svcerrors.DatabaseError("begin finalize", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status Status
	var sessionID string
	row := tx.QueryRowContext(ctx, `SELECT status, session_id FROM fir_records WHERE fir_number = $1 FOR UPDATE`, firNumber)
	if err := row.Scan(&status, &sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, svcerrors.NotFound("fir_record", firNumber)
		}
		return nil, svcerrors.DatabaseError("lookup fir record", err)
	}
	if status != StatusDraft {
		return nil, svcerrors.Conflict(fmt.Sprintf("fir_record %s is not in final_review", firNumber))
	}

	finalizedAt := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE fir_records SET status = $1, auth_key_hash = $2, finalized_at = $3 WHERE fir_number = $4
	`, StatusFinalized, authKeyHash, finalizedAt, firNumber)
	if err != nil {
		return nil, svcerrors.DatabaseError("finalize fir record", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, svcerrors.DatabaseError("commit finalize", err)
	}

	return &Record{
		FIRNumber:   firNumber,
		SessionID:   sessionID,
		Status:      StatusFinalized,
		AuthKeyHash: authKeyHash,
		FinalizedAt: &finalizedAt,
	}, nil
}

// Get returns the full FIRRecord for firNumber, including its content.
func (s *Store) Get(ctx context.Context, firNumber string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT fir_number, session_id, status, fir_content, auth_key_hash, created_at, finalized_at
		FROM fir_records WHERE fir_number = $1
	`, firNumber)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, svcerrors.NotFound("fir_record", firNumber)
		}
		return nil, svcerrors.DatabaseError("get fir record", err)
	}
	return rec, nil
}

// List returns a page of FIRRecords ordered by created_at descending.
func (s *Store) List(ctx context.Context, limit, offset int) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fir_number, session_id, status, fir_content, auth_key_hash, created_at, finalized_at
		FROM fir_records ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, svcerrors.DatabaseError("list fir records", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, svcerrors.DatabaseError("scan fir record", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, svcerrors.DatabaseError("list fir records", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var rec Record
	var authKeyHash sql.NullString
	var finalizedAt sql.NullTime
	if err := row.Scan(&rec.FIRNumber, &rec.SessionID, &rec.Status, &rec.Content, &authKeyHash, &rec.CreatedAt, &finalizedAt); err != nil {
		return nil, err
	}
	rec.AuthKeyHash = authKeyHash.String
	if finalizedAt.Valid {
		rec.FinalizedAt = &finalizedAt.Time
	}
	return &rec, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
