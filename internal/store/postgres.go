// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/engagetrack/intake/internal/models"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the production Store.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to the database and ensures the schema exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &Postgres{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	slog.Info("postgres store initialised")
	return s, nil
}

func (s *Postgres) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Postgres) Close() { s.pool.Close() }

func (s *Postgres) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS engagements (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			partner_name  TEXT DEFAULT '',
			status        TEXT NOT NULL DEFAULT 'active',
			current_state TEXT DEFAULT '',
			open_items    JSONB NOT NULL DEFAULT '[]',
			created_at    TIMESTAMPTZ DEFAULT NOW(),
			updated_at    TIMESTAMPTZ DEFAULT NOW(),
			closed_at     TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_engagements_status ON engagements(status, updated_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			delivery_id     TEXT NOT NULL,
			position        INT NOT NULL,
			raw_body        TEXT NOT NULL,
			body            TEXT NOT NULL,
			sender_name     TEXT DEFAULT '',
			sender_email    TEXT DEFAULT '',
			forwarder_email TEXT DEFAULT '',
			sent_at         TIMESTAMPTZ,
			sent_at_raw     TEXT DEFAULT '',
			subject         TEXT DEFAULT '',
			to_addrs        TEXT DEFAULT '',
			cc_addrs        TEXT DEFAULT '',
			engagement_id   TEXT REFERENCES engagements(id),
			classification  JSONB,
			pending_review  BOOLEAN NOT NULL DEFAULT FALSE,
			classified_at   TIMESTAMPTZ,
			created_at      TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_messages_dup ON messages(lower(sender_email), subject);
		CREATE INDEX IF NOT EXISTS idx_messages_unclassified ON messages(created_at)
			WHERE classification IS NULL;

		CREATE TABLE IF NOT EXISTS events (
			id             TEXT PRIMARY KEY,
			name           TEXT NOT NULL,
			type           TEXT DEFAULT '',
			start_date     TIMESTAMPTZ,
			end_date       TIMESTAMPTZ,
			date_precision TEXT DEFAULT 'unknown',
			created_at     TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS programs (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			description TEXT DEFAULT '',
			created_at  TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_programs_name ON programs(lower(name));

		CREATE TABLE IF NOT EXISTS pending_event_approvals (
			id             TEXT PRIMARY KEY,
			message_id     TEXT NOT NULL,
			engagement_id  TEXT NOT NULL,
			name           TEXT NOT NULL,
			type           TEXT DEFAULT '',
			date           TEXT DEFAULT '',
			date_precision TEXT DEFAULT 'unknown',
			confidence     DOUBLE PRECISION DEFAULT 0,
			resolved       BOOLEAN NOT NULL DEFAULT FALSE,
			created_at     TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_approvals_engagement ON pending_event_approvals(engagement_id, lower(name));

		CREATE TABLE IF NOT EXISTS pending_reviews (
			id             TEXT PRIMARY KEY,
			short_code     TEXT NOT NULL,
			message_id     TEXT NOT NULL REFERENCES messages(id),
			classification JSONB NOT NULL,
			options_sent   JSONB NOT NULL DEFAULT '[]',
			resolved       BOOLEAN NOT NULL DEFAULT FALSE,
			resolution     TEXT DEFAULT '',
			sms_sent       BOOLEAN NOT NULL DEFAULT FALSE,
			sms_sent_at    TIMESTAMPTZ,
			created_at     TIMESTAMPTZ DEFAULT NOW(),
			resolved_at    TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_reviews_open ON pending_reviews(created_at DESC) WHERE resolved = FALSE;
		CREATE INDEX IF NOT EXISTS idx_reviews_code ON pending_reviews(lower(short_code));

		CREATE TABLE IF NOT EXISTS entity_links (
			id           TEXT PRIMARY KEY,
			source_kind  TEXT NOT NULL,
			source_id    TEXT NOT NULL,
			target_kind  TEXT NOT NULL,
			target_id    TEXT NOT NULL,
			relationship TEXT NOT NULL,
			context      TEXT DEFAULT '',
			created_at   TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(source_kind, source_id, target_kind, target_id, relationship)
		);
		CREATE INDEX IF NOT EXISTS idx_links_target ON entity_links(target_kind, target_id);

		CREATE TABLE IF NOT EXISTS participants (
			id           TEXT PRIMARY KEY,
			name         TEXT DEFAULT '',
			email        TEXT NOT NULL,
			organization TEXT DEFAULT '',
			title        TEXT DEFAULT '',
			created_at   TIMESTAMPTZ DEFAULT NOW(),
			updated_at   TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_participants_email ON participants(lower(email));

		CREATE TABLE IF NOT EXISTS participant_links (
			participant_id TEXT NOT NULL REFERENCES participants(id),
			entity_kind    TEXT NOT NULL,
			entity_id      TEXT NOT NULL,
			role           TEXT DEFAULT '',
			created_at     TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (participant_id, entity_kind, entity_id)
		);

		CREATE TABLE IF NOT EXISTS materialization_runs (
			id            TEXT PRIMARY KEY,
			message_id    TEXT NOT NULL,
			engagement_id TEXT NOT NULL,
			steps         JSONB NOT NULL DEFAULT '[]',
			started_at    TIMESTAMPTZ NOT NULL,
			finished_at   TIMESTAMPTZ
		);
	`)
	return err
}

// --- messages ---

const messageColumns = `
	id, delivery_id, position, raw_body, body, sender_name, sender_email,
	forwarder_email, sent_at, sent_at_raw, subject, to_addrs, cc_addrs,
	engagement_id, classification, pending_review, classified_at, created_at`

func (s *Postgres) InsertMessage(ctx context.Context, m *models.Message) error {
	var classification []byte
	if m.Classification != nil {
		b, err := json.Marshal(m.Classification)
		if err != nil {
			return fmt.Errorf("marshal classification: %w", err)
		}
		classification = b
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages
			(id, delivery_id, position, raw_body, body, sender_name, sender_email,
			 forwarder_email, sent_at, sent_at_raw, subject, to_addrs, cc_addrs,
			 engagement_id, classification, pending_review, classified_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15::jsonb, $16, $17, $18)
	`, m.ID, m.DeliveryID, m.Position, m.RawBody, m.Body, m.SenderName, m.SenderEmail,
		m.ForwarderEmail, m.SentAt, m.SentAtRaw, m.Subject, m.To, m.Cc,
		m.EngagementID, nullableJSON(classification), m.PendingReview, m.ClassifiedAt, m.CreatedAt)
	return err
}

func (s *Postgres) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	return scanMessage(row)
}

func (s *Postgres) FindDuplicateMessage(ctx context.Context, senderEmail, subject, bodyPrefix string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		SELECT id FROM messages
		WHERE lower(sender_email) = lower($1) AND subject = $2 AND left(body, $4) = $3
		LIMIT 1
	`, senderEmail, subject, bodyPrefix, utf8.RuneCountInString(bodyPrefix)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return id, err
}

func (s *Postgres) SaveClassification(ctx context.Context, messageID string, result *models.ClassificationResult, at time.Time) error {
	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal classification: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET classification = $1::jsonb, classified_at = $2 WHERE id = $3
	`, string(b), at, messageID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) AssignMessage(ctx context.Context, messageID, engagementID string) error {
	return assignMessage(ctx, s.pool, messageID, engagementID)
}

func assignMessage(ctx context.Context, q querier, messageID, engagementID string) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if engagementID == "" {
		tag, err = q.Exec(ctx, `UPDATE messages SET pending_review = FALSE WHERE id = $1`, messageID)
	} else {
		tag, err = q.Exec(ctx, `
			UPDATE messages SET engagement_id = $2, pending_review = FALSE WHERE id = $1
		`, messageID, engagementID)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) ListUnrouted(ctx context.Context, limit int) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE engagement_id IS NULL AND pending_review = FALSE
		  AND NOT EXISTS (SELECT 1 FROM pending_reviews r WHERE r.message_id = messages.id)
		ORDER BY created_at, position
		LIMIT NULLIF($1::int, 0)
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var (
		m              models.Message
		classification []byte
	)
	err := row.Scan(
		&m.ID, &m.DeliveryID, &m.Position, &m.RawBody, &m.Body, &m.SenderName, &m.SenderEmail,
		&m.ForwarderEmail, &m.SentAt, &m.SentAtRaw, &m.Subject, &m.To, &m.Cc,
		&m.EngagementID, &classification, &m.PendingReview, &m.ClassifiedAt, &m.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(classification) > 0 {
		var c models.ClassificationResult
		if err := json.Unmarshal(classification, &c); err != nil {
			return nil, fmt.Errorf("decode classification for %s: %w", m.ID, err)
		}
		m.Classification = &c
	}
	return &m, nil
}

// --- engagements ---

const engagementColumns = `id, name, partner_name, status, current_state, open_items, created_at, updated_at, closed_at`

func (s *Postgres) ListActiveEngagements(ctx context.Context, limit int) ([]models.Engagement, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+engagementColumns+` FROM engagements
		WHERE status = 'active'
		ORDER BY updated_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Engagement
	for rows.Next() {
		e, err := scanEngagement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *Postgres) GetEngagement(ctx context.Context, id string) (*models.Engagement, error) {
	return getEngagement(ctx, s.pool, id, false)
}

func getEngagement(ctx context.Context, q querier, id string, forUpdate bool) (*models.Engagement, error) {
	sql := `SELECT ` + engagementColumns + ` FROM engagements WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	return scanEngagement(q.QueryRow(ctx, sql, id))
}

func (s *Postgres) CreateEngagement(ctx context.Context, e *models.Engagement) error {
	return createEngagement(ctx, s.pool, e)
}

func createEngagement(ctx context.Context, q querier, e *models.Engagement) error {
	items, err := json.Marshal(nonNilItems(e.OpenItems))
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		INSERT INTO engagements
			(id, name, partner_name, status, current_state, open_items, created_at, updated_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9)
	`, e.ID, e.Name, e.PartnerName, string(e.Status), e.CurrentState, string(items), e.CreatedAt, e.UpdatedAt, e.ClosedAt)
	return err
}

func (s *Postgres) MergeEngagementState(ctx context.Context, id, state string, items []models.OpenItem, at time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := mergeEngagement(ctx, tx, id, state, items, at); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func mergeEngagement(ctx context.Context, q querier, id, state string, items []models.OpenItem, at time.Time) error {
	e, err := getEngagement(ctx, q, id, true)
	if err != nil {
		return err
	}
	if e == nil {
		return ErrNotFound
	}
	if strings.TrimSpace(state) != "" {
		e.CurrentState = state
	}
	merged, err := json.Marshal(nonNilItems(models.MergeOpenItems(e.OpenItems, items)))
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		UPDATE engagements SET current_state = $2, open_items = $3::jsonb, updated_at = $4 WHERE id = $1
	`, id, e.CurrentState, string(merged), at)
	return err
}

func scanEngagement(row pgx.Row) (*models.Engagement, error) {
	var (
		e      models.Engagement
		status string
		items  []byte
	)
	err := row.Scan(&e.ID, &e.Name, &e.PartnerName, &status, &e.CurrentState, &items, &e.CreatedAt, &e.UpdatedAt, &e.ClosedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Status = models.EngagementStatus(status)
	if len(items) > 0 {
		if err := json.Unmarshal(items, &e.OpenItems); err != nil {
			return nil, fmt.Errorf("decode open items for %s: %w", e.ID, err)
		}
	}
	return &e, nil
}

// --- catalog ---

func (s *Postgres) ListEvents(ctx context.Context, limit int) ([]models.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, type, start_date, end_date, date_precision, created_at
		FROM events
		ORDER BY start_date DESC NULLS LAST, name
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *Postgres) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	return scanEvent(s.pool.QueryRow(ctx, `
		SELECT id, name, type, start_date, end_date, date_precision, created_at
		FROM events WHERE id = $1
	`, id))
}

func scanEvent(row pgx.Row) (*models.Event, error) {
	var e models.Event
	err := row.Scan(&e.ID, &e.Name, &e.Type, &e.StartDate, &e.EndDate, &e.DatePrecision, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Postgres) ListPrograms(ctx context.Context, limit int) ([]models.Program, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, description, created_at FROM programs ORDER BY name LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Program
	for rows.Next() {
		p, err := scanProgram(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Postgres) GetProgram(ctx context.Context, id string) (*models.Program, error) {
	return scanProgram(s.pool.QueryRow(ctx, `
		SELECT id, name, description, created_at FROM programs WHERE id = $1
	`, id))
}

func (s *Postgres) FindProgramByName(ctx context.Context, name string) (*models.Program, error) {
	return scanProgram(s.pool.QueryRow(ctx, `
		SELECT id, name, description, created_at FROM programs WHERE lower(name) = lower($1)
	`, strings.TrimSpace(name)))
}

func (s *Postgres) CreateProgram(ctx context.Context, p *models.Program) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO programs (id, name, description, created_at) VALUES ($1, $2, $3, $4)
	`, p.ID, p.Name, p.Description, p.CreatedAt)
	return err
}

func scanProgram(row pgx.Row) (*models.Program, error) {
	var p models.Program
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Postgres) FindPendingEventApproval(ctx context.Context, engagementID, name string) (*models.PendingEventApproval, error) {
	var a models.PendingEventApproval
	err := s.pool.QueryRow(ctx, `
		SELECT id, message_id, engagement_id, name, type, date, date_precision, confidence, resolved, created_at
		FROM pending_event_approvals
		WHERE engagement_id = $1 AND lower(name) = lower($2) AND resolved = FALSE
		LIMIT 1
	`, engagementID, strings.TrimSpace(name)).Scan(
		&a.ID, &a.MessageID, &a.EngagementID, &a.Name, &a.Type, &a.Date,
		&a.DatePrecision, &a.Confidence, &a.Resolved, &a.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Postgres) CreatePendingEventApproval(ctx context.Context, a *models.PendingEventApproval) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pending_event_approvals
			(id, message_id, engagement_id, name, type, date, date_precision, confidence, resolved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, a.ID, a.MessageID, a.EngagementID, a.Name, a.Type, a.Date, a.DatePrecision, a.Confidence, a.Resolved, a.CreatedAt)
	return err
}

// --- links ---

func (s *Postgres) FindEntityLink(ctx context.Context, source, target models.EntityRef, relationship string) (*models.EntityLink, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, source_kind, source_id, target_kind, target_id, relationship, context, created_at
		FROM entity_links
		WHERE source_kind = $1 AND source_id = $2 AND target_kind = $3 AND target_id = $4
		  AND lower(relationship) = lower($5)
	`, string(source.Kind), source.ID, string(target.Kind), target.ID, relationship)
	return scanLink(row)
}

func (s *Postgres) CreateEntityLink(ctx context.Context, l *models.EntityLink) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO entity_links
			(id, source_kind, source_id, target_kind, target_id, relationship, context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (source_kind, source_id, target_kind, target_id, relationship) DO NOTHING
	`, l.ID, string(l.Source.Kind), l.Source.ID, string(l.Target.Kind), l.Target.ID, l.Relationship, l.Context, l.CreatedAt)
	return err
}

func (s *Postgres) ListEntityLinks(ctx context.Context, ref models.EntityRef) ([]models.EntityLink, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, source_kind, source_id, target_kind, target_id, relationship, context, created_at
		FROM entity_links
		WHERE (source_kind = $1 AND source_id = $2) OR (target_kind = $1 AND target_id = $2)
		ORDER BY created_at
	`, string(ref.Kind), ref.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.EntityLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

var entityTables = map[models.EntityKind]string{
	models.KindEngagement:  "engagements",
	models.KindEvent:       "events",
	models.KindProgram:     "programs",
	models.KindParticipant: "participants",
}

func (s *Postgres) EntityExists(ctx context.Context, ref models.EntityRef) (bool, error) {
	table, ok := entityTables[ref.Kind]
	if !ok {
		return false, nil
	}
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM `+table+` WHERE id = $1)`, ref.ID).Scan(&exists)
	return exists, err
}

func scanLink(row pgx.Row) (*models.EntityLink, error) {
	var (
		l                      models.EntityLink
		sourceKind, targetKind string
	)
	err := row.Scan(&l.ID, &sourceKind, &l.Source.ID, &targetKind, &l.Target.ID, &l.Relationship, &l.Context, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l.Source.Kind = models.EntityKind(sourceKind)
	l.Target.Kind = models.EntityKind(targetKind)
	return &l, nil
}

// --- participants ---

func (s *Postgres) FindParticipantByEmail(ctx context.Context, email string) (*models.Participant, error) {
	var p models.Participant
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, email, organization, title, created_at, updated_at
		FROM participants WHERE lower(email) = lower($1)
	`, strings.TrimSpace(email)).Scan(&p.ID, &p.Name, &p.Email, &p.Organization, &p.Title, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Postgres) CreateParticipant(ctx context.Context, p *models.Participant) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO participants (id, name, email, organization, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.Name, p.Email, p.Organization, p.Title, p.CreatedAt, p.UpdatedAt)
	return err
}

func (s *Postgres) UpdateParticipant(ctx context.Context, p *models.Participant) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE participants SET name = $2, organization = $3, title = $4, updated_at = $5 WHERE id = $1
	`, p.ID, p.Name, p.Organization, p.Title, p.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) FindParticipantLink(ctx context.Context, participantID string, entity models.EntityRef) (*models.ParticipantLink, error) {
	var (
		l    models.ParticipantLink
		kind string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT participant_id, entity_kind, entity_id, role, created_at
		FROM participant_links
		WHERE participant_id = $1 AND entity_kind = $2 AND entity_id = $3
	`, participantID, string(entity.Kind), entity.ID).Scan(&l.ParticipantID, &kind, &l.Entity.ID, &l.Role, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l.Entity.Kind = models.EntityKind(kind)
	return &l, nil
}

func (s *Postgres) CreateParticipantLink(ctx context.Context, l *models.ParticipantLink) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO participant_links (participant_id, entity_kind, entity_id, role, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (participant_id, entity_kind, entity_id) DO NOTHING
	`, l.ParticipantID, string(l.Entity.Kind), l.Entity.ID, l.Role, l.CreatedAt)
	return err
}

// --- reviews ---

const reviewColumns = `
	id, short_code, message_id, classification, options_sent, resolved,
	resolution, sms_sent, sms_sent_at, created_at, resolved_at`

func (s *Postgres) CreatePendingReview(ctx context.Context, r *models.PendingReview) error {
	classification, err := json.Marshal(r.Classification)
	if err != nil {
		return fmt.Errorf("marshal classification: %w", err)
	}
	options, err := json.Marshal(r.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `
		INSERT INTO pending_reviews
			(id, short_code, message_id, classification, options_sent, resolved,
			 resolution, sms_sent, sms_sent_at, created_at, resolved_at)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6, $7, $8, $9, $10, $11)
	`, r.ID, r.ShortCode, r.MessageID, string(classification), string(options), r.Resolved,
		r.Resolution, r.SMSSent, r.SMSSentAt, r.CreatedAt, r.ResolvedAt); err != nil {
		return fmt.Errorf("insert review: %w", err)
	}
	tag, err := tx.Exec(ctx, `UPDATE messages SET pending_review = TRUE WHERE id = $1`, r.MessageID)
	if err != nil {
		return fmt.Errorf("flag message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

func (s *Postgres) GetPendingReview(ctx context.Context, id string) (*models.PendingReview, error) {
	return scanReview(s.pool.QueryRow(ctx, `SELECT `+reviewColumns+` FROM pending_reviews WHERE id = $1`, id))
}

func (s *Postgres) LatestUnresolvedReview(ctx context.Context) (*models.PendingReview, error) {
	return scanReview(s.pool.QueryRow(ctx, `
		SELECT `+reviewColumns+` FROM pending_reviews
		WHERE resolved = FALSE
		ORDER BY created_at DESC
		LIMIT 1
	`))
}

func (s *Postgres) FindUnresolvedReviewByCode(ctx context.Context, code string) (*models.PendingReview, error) {
	return scanReview(s.pool.QueryRow(ctx, `
		SELECT `+reviewColumns+` FROM pending_reviews
		WHERE resolved = FALSE AND lower(short_code) = lower($1)
		ORDER BY created_at DESC
		LIMIT 1
	`, code))
}

func (s *Postgres) MarkReviewNotified(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE pending_reviews SET sms_sent = TRUE, sms_sent_at = $2 WHERE id = $1
	`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CommitResolution applies c in one transaction. The conditional update on
// resolved = FALSE is what serializes concurrent resolutions.
func (s *Postgres) CommitResolution(ctx context.Context, c ResolutionCommit) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `
		UPDATE pending_reviews SET resolved = TRUE, resolution = $2, resolved_at = $3
		WHERE id = $1 AND resolved = FALSE
	`, c.ReviewID, c.Resolution, c.ResolvedAt)
	if err != nil {
		return fmt.Errorf("mark review resolved: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM pending_reviews WHERE id = $1)`, c.ReviewID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrAlreadyResolved
	}

	if c.CreateEngagement != nil {
		if err := createEngagement(ctx, tx, c.CreateEngagement); err != nil {
			return fmt.Errorf("create engagement: %w", err)
		}
	}
	if err := assignMessage(ctx, tx, c.MessageID, c.AssignEngagementID); err != nil {
		return fmt.Errorf("assign message: %w", err)
	}
	if c.AssignEngagementID != "" && (c.MergeState != "" || len(c.MergeOpenItems) > 0) {
		if err := mergeEngagement(ctx, tx, c.AssignEngagementID, c.MergeState, c.MergeOpenItems, c.ResolvedAt); err != nil {
			return fmt.Errorf("merge engagement state: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func scanReview(row pgx.Row) (*models.PendingReview, error) {
	var (
		r                       models.PendingReview
		classification, options []byte
	)
	err := row.Scan(
		&r.ID, &r.ShortCode, &r.MessageID, &classification, &options, &r.Resolved,
		&r.Resolution, &r.SMSSent, &r.SMSSentAt, &r.CreatedAt, &r.ResolvedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(classification, &r.Classification); err != nil {
		return nil, fmt.Errorf("decode review classification %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(options, &r.Options); err != nil {
		return nil, fmt.Errorf("decode review options %s: %w", r.ID, err)
	}
	return &r, nil
}

// --- runs ---

func (s *Postgres) SaveMaterializationRun(ctx context.Context, r *models.MaterializationRun) error {
	steps, err := json.Marshal(r.Steps)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO materialization_runs (id, message_id, engagement_id, steps, started_at, finished_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			steps       = EXCLUDED.steps,
			finished_at = EXCLUDED.finished_at
	`, r.ID, r.MessageID, r.EngagementID, string(steps), r.StartedAt, r.FinishedAt)
	return err
}

func (s *Postgres) GetMaterializationRun(ctx context.Context, id string) (*models.MaterializationRun, error) {
	var (
		r     models.MaterializationRun
		steps []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, message_id, engagement_id, steps, started_at, finished_at
		FROM materialization_runs WHERE id = $1
	`, id).Scan(&r.ID, &r.MessageID, &r.EngagementID, &steps, &r.StartedAt, &r.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(steps, &r.Steps); err != nil {
		return nil, fmt.Errorf("decode run steps %s: %w", r.ID, err)
	}
	return &r, nil
}

func nullableJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

func nonNilItems(items []models.OpenItem) []models.OpenItem {
	if items == nil {
		return []models.OpenItem{}
	}
	return items
}
