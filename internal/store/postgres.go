/**
 * @description
 * PostgresStore implements DocumentStore on a single JSONB table. Each
 * transaction locks its row with SELECT ... FOR UPDATE, and change
 * notifications travel over LISTEN/NOTIFY.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: pgxpool, pgconn for unique-violation detection.
 */
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const changeChannel = "documents_changed"

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		data JSONB NOT NULL,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (collection, id)
	)`,
	`CREATE INDEX IF NOT EXISTS documents_data_gin_idx ON documents USING GIN (data jsonb_path_ops)`,
	`CREATE INDEX IF NOT EXISTS documents_collection_created_idx ON documents (collection, created_at)`,
	`CREATE OR REPLACE FUNCTION notify_document_change() RETURNS trigger AS $$
	BEGIN
		IF TG_OP = 'DELETE' THEN
			PERFORM pg_notify('documents_changed', OLD.collection || '/' || OLD.id);
			RETURN OLD;
		END IF;
		PERFORM pg_notify('documents_changed', NEW.collection || '/' || NEW.id);
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS documents_change_trigger ON documents`,
	`CREATE TRIGGER documents_change_trigger
		AFTER INSERT OR UPDATE OR DELETE ON documents
		FOR EACH ROW EXECUTE FUNCTION notify_document_change()`,
}

// PostgresStore is a DocumentStore backed by PostgreSQL.
type PostgresStore struct {
	db  *pgxpool.Pool
	hub *hub
}

// NewPostgresStore creates a store on an existing connection pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db, hub: newHub()}
}

// Migrate creates the documents table, its indexes and the change trigger.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, collection string, data any) (string, error) {
	raw, err := encodeData(data)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err = s.db.Exec(ctx,
		`INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb)`,
		collection, id, raw)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return "", ErrAlreadyExists
		}
		return "", err
	}
	return id, nil
}

func (s *PostgresStore) Set(ctx context.Context, collection, id string, data any) error {
	raw, err := encodeData(data)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (collection, id) DO UPDATE
		SET data = EXCLUDED.data, version = documents.version + 1, updated_at = NOW()`,
		collection, id, raw)
	return err
}

// Insert writes data under id only if no document holds that id yet.
func (s *PostgresStore) Insert(ctx context.Context, collection, id string, data any) error {
	raw, err := encodeData(data)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (collection, id) DO NOTHING`,
		collection, id, raw)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string) (Document, error) {
	return getDocument(ctx, s.db, collection, id, false)
}

func (s *PostgresStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return s.RunTransaction(ctx, collection, id, func(Document) (map[string]any, error) {
		return fields, nil
	})
}

func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	return err
}

func (s *PostgresStore) Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, data, version FROM documents WHERE collection = $1`)
	args := []any{collection}
	for _, f := range filters {
		value := f.Value
		var cmp string
		switch f.Op {
		case OpEqual:
			cmp = "="
		case OpArrayContains:
			cmp = "@>"
			value = []any{f.Value}
		default:
			return nil, fmt.Errorf("unsupported filter op %q", f.Op)
		}
		raw, err := encodeValue(value)
		if err != nil {
			return nil, err
		}
		args = append(args, f.Field, raw)
		fmt.Fprintf(&sb, ` AND data -> $%d::text %s $%d::jsonb`, len(args)-1, cmp, len(args))
	}
	sb.WriteString(` ORDER BY created_at, id`)

	rows, err := s.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			id      string
			raw     []byte
			version int64
		)
		if err := rows.Scan(&id, &raw, &version); err != nil {
			return nil, err
		}
		data, err := decodeFields(raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, Document{ID: id, Version: version, Data: data})
	}
	return docs, rows.Err()
}

// RunTransaction locks the row for the duration of fn, so concurrent
// transactions on the same document serialize rather than conflict.
func (s *PostgresStore) RunTransaction(ctx context.Context, collection, id string, fn TxFunc) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	current, err := getDocument(ctx, tx, collection, id, true)
	if err != nil {
		return err
	}

	fields, err := fn(current)
	if err != nil {
		return err
	}

	next, err := applyFields(current.Data, fields)
	if err != nil {
		return err
	}
	raw, err := encodeData(next)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE documents SET data = $3::jsonb, version = version + 1, updated_at = NOW()
		WHERE collection = $1 AND id = $2 AND version = $4`,
		collection, id, raw, current.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionConflict
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) Subscribe(collection, id string, fn ChangeFunc) func() {
	return s.hub.addDoc(collection, id, fn)
}

func (s *PostgresStore) SubscribeQuery(collection string, filters []Filter, fn QueryChangeFunc) func() {
	return s.hub.addQuery(collection, filters, fn)
}

// Listen holds a dedicated connection on the change channel and dispatches
// notifications to subscribers until ctx is cancelled. Subscriptions only
// fire while Listen is running.
func (s *PostgresStore) Listen(ctx context.Context) error {
	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+changeChannel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", changeChannel, err)
	}
	log.Info().Str("channel", changeChannel).Msg("listening for document changes")

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed waiting for notification: %w", err)
		}
		collection, id, ok := strings.Cut(notification.Payload, "/")
		if !ok {
			log.Warn().Str("payload", notification.Payload).Msg("ignoring malformed change notification")
			continue
		}
		s.hub.notify(ctx, s, collection, id)
	}
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getDocument(ctx context.Context, q queryRower, collection, id string, forUpdate bool) (Document, error) {
	query := `SELECT data, version FROM documents WHERE collection = $1 AND id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var (
		raw     []byte
		version int64
	)
	if err := q.QueryRow(ctx, query, collection, id).Scan(&raw, &version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	data, err := decodeFields(raw)
	if err != nil {
		return Document{}, err
	}
	return Document{ID: id, Version: version, Data: data}, nil
}

// encodeData returns the JSON text of a document. Text rather than bytes is
// bound so the value survives the simple query protocol.
func encodeData(data any) (string, error) {
	fields, err := toFields(data)
	if err != nil {
		return "", err
	}
	return encodeValue(fields)
}

func encodeValue(v any) (string, error) {
	normalized, err := normalize(v)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(normalized)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
