package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/plazadir/gatekeeper/pkg/domain"
)

// SessionsRepository persists sessions in Postgres.
type SessionsRepository struct {
	db *sql.DB
}

func NewSessionsRepository(db *sql.DB) *SessionsRepository {
	return &SessionsRepository{db: db}
}

const sessionColumns = `id, user_id, token_hash, csrf_token, refresh_token_hash, remember_me,
	user_agent, ip, identity, created_at, expires_at, refresh_expires_at, last_activity_at`

func (r *SessionsRepository) Create(ctx context.Context, session *domain.Session) error {
	identity, err := json.Marshal(session.Identity)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}

	query := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = r.db.ExecContext(ctx, query,
		session.ID, session.UserID, session.TokenHash, session.CSRFToken,
		nullString(session.RefreshTokenHash), session.RememberMe,
		session.UserAgent, session.IP, identity,
		session.CreatedAt, session.ExpiresAt, session.RefreshExpiresAt, session.LastActivityAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *SessionsRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE token_hash = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, tokenHash))
}

func (r *SessionsRepository) GetByRefreshTokenHash(ctx context.Context, refreshTokenHash string) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE refresh_token_hash = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, refreshTokenHash))
}

func (r *SessionsRepository) GetByUserID(ctx context.Context, userID uuid.UUID) ([]*domain.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND expires_at > NOW()
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		session, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (r *SessionsRepository) Touch(ctx context.Context, id uuid.UUID, lastActivityAt, expiresAt time.Time) error {
	query := `
		UPDATE sessions
		SET last_activity_at = $2, expires_at = $3
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, lastActivityAt, expiresAt)
	return err
}

func (r *SessionsRepository) UpdateCSRFToken(ctx context.Context, id uuid.UUID, csrfToken string) error {
	query := `UPDATE sessions SET csrf_token = $2 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, csrfToken)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *SessionsRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

func (r *SessionsRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = $1`, tokenHash)
	return err
}

func (r *SessionsRepository) DeleteAllByUserID(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	return err
}

func (r *SessionsRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `
		DELETE FROM sessions
		WHERE expires_at <= $1 AND (refresh_expires_at IS NULL OR refresh_expires_at <= $1)
	`
	result, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SessionsRepository) scanOne(row rowScanner) (*domain.Session, error) {
	session, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (r *SessionsRepository) scan(row rowScanner) (*domain.Session, error) {
	session := &domain.Session{}
	var refreshTokenHash sql.NullString
	var identity []byte

	err := row.Scan(
		&session.ID, &session.UserID, &session.TokenHash, &session.CSRFToken,
		&refreshTokenHash, &session.RememberMe,
		&session.UserAgent, &session.IP, &identity,
		&session.CreatedAt, &session.ExpiresAt, &session.RefreshExpiresAt, &session.LastActivityAt,
	)
	if err != nil {
		return nil, err
	}

	session.RefreshTokenHash = refreshTokenHash.String
	if len(identity) > 0 {
		if err := json.Unmarshal(identity, &session.Identity); err != nil {
			return nil, fmt.Errorf("unmarshal identity: %w", err)
		}
	}
	return session, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
