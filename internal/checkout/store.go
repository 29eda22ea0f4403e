package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"paymentgw/internal/common/database"
)

// PostgresRecordStore stores correlation records in Postgres.
type PostgresRecordStore struct {
	db *database.DB
}

// NewPostgresRecordStore creates a record store backed by the given database.
func NewPostgresRecordStore(db *database.DB) *PostgresRecordStore {
	return &PostgresRecordStore{db: db}
}

var _ RecordStore = (*PostgresRecordStore)(nil)

// Save inserts the record. The external order id is the primary key; a
// second save for the same id replaces the row.
func (s *PostgresRecordStore) Save(ctx context.Context, record *Record) error {
	b2b, err := marshalNullable(record.B2BCustomer)
	if err != nil {
		return fmt.Errorf("marshal b2b customer: %w", err)
	}
	tx, err := marshalNullable(record.Transaction)
	if err != nil {
		return fmt.Errorf("marshal transaction: %w", err)
	}

	query := `
		INSERT INTO checkout_records (
			external_order_id, session_id, basket_id, method,
			birth_date, b2b_customer, transaction, created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (external_order_id) DO UPDATE SET
			session_id = EXCLUDED.session_id,
			basket_id = EXCLUDED.basket_id,
			method = EXCLUDED.method,
			birth_date = EXCLUDED.birth_date,
			b2b_customer = EXCLUDED.b2b_customer,
			transaction = EXCLUDED.transaction,
			expires_at = EXCLUDED.expires_at`

	_, err = s.db.Exec(ctx, query,
		record.ExternalOrderID, record.SessionID, record.BasketID, record.Method,
		record.BirthDate, b2b, tx, record.CreatedAt, record.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert checkout record: %w", err)
	}
	return nil
}

// GetByExternalOrderID returns the record for the external order id, or
// database.ErrNotFound when none exists.
func (s *PostgresRecordStore) GetByExternalOrderID(ctx context.Context, externalOrderID string) (*Record, error) {
	query := `
		SELECT external_order_id, session_id, basket_id, method,
		       birth_date, b2b_customer, transaction, created_at, expires_at
		FROM checkout_records
		WHERE external_order_id = $1`

	return s.scanRecord(s.db.QueryRow(ctx, query, externalOrderID))
}

// LatestBySession returns the most recent record for the session, or
// database.ErrNotFound when the session never started a charge.
func (s *PostgresRecordStore) LatestBySession(ctx context.Context, sessionID string) (*Record, error) {
	query := `
		SELECT external_order_id, session_id, basket_id, method,
		       birth_date, b2b_customer, transaction, created_at, expires_at
		FROM checkout_records
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT 1`

	return s.scanRecord(s.db.QueryRow(ctx, query, sessionID))
}

// SetTransaction attaches the provider's charge response to the record.
func (s *PostgresRecordStore) SetTransaction(ctx context.Context, externalOrderID string, transaction map[string]any) error {
	payload, err := marshalNullable(transaction)
	if err != nil {
		return fmt.Errorf("marshal transaction: %w", err)
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE checkout_records SET transaction = $2 WHERE external_order_id = $1`,
		externalOrderID, payload,
	)
	if err != nil {
		return fmt.Errorf("update checkout record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return database.ErrNotFound
	}
	return nil
}

// DeleteExpired removes records past their expiry and reports how many.
func (s *PostgresRecordStore) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM checkout_records WHERE expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("delete expired checkout records: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresRecordStore) scanRecord(row pgx.Row) (*Record, error) {
	var (
		record Record
		b2b    []byte
		tx     []byte
	)
	err := row.Scan(
		&record.ExternalOrderID, &record.SessionID, &record.BasketID, &record.Method,
		&record.BirthDate, &b2b, &tx, &record.CreatedAt, &record.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan checkout record: %w", err)
	}

	if len(b2b) > 0 {
		if err := json.Unmarshal(b2b, &record.B2BCustomer); err != nil {
			return nil, fmt.Errorf("unmarshal b2b customer: %w", err)
		}
	}
	if len(tx) > 0 {
		if err := json.Unmarshal(tx, &record.Transaction); err != nil {
			return nil, fmt.Errorf("unmarshal transaction: %w", err)
		}
	}
	return &record, nil
}

func marshalNullable(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}
