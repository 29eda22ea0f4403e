package paymentinfo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"paymentgw/internal/common/database"
)

// PostgresStore stores payment information in Postgres.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a store backed by the given database.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) Upsert(ctx context.Context, info *PaymentInformation) error {
	var payload []byte
	if info.Transaction != nil {
		var err error
		payload, err = json.Marshal(info.Transaction)
		if err != nil {
			return fmt.Errorf("marshal transaction: %w", err)
		}
	}

	query := `
		INSERT INTO payment_information (order_id, external_order_id, payment_method, transaction)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (order_id) DO UPDATE SET
			external_order_id = EXCLUDED.external_order_id,
			payment_method = EXCLUDED.payment_method,
			transaction = EXCLUDED.transaction,
			updated_at = now()`

	_, err := s.db.Exec(ctx, query,
		info.OrderID, info.ExternalOrderID, info.PaymentMethod, payload,
	)
	if err != nil {
		return fmt.Errorf("upsert payment information: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByOrder(ctx context.Context, orderID int64) (*PaymentInformation, error) {
	query := `
		SELECT order_id, external_order_id, payment_method, transaction, created_at, updated_at
		FROM payment_information
		WHERE order_id = $1`

	return s.scan(s.db.QueryRow(ctx, query, orderID))
}

func (s *PostgresStore) GetByExternalOrderID(ctx context.Context, externalOrderID string) (*PaymentInformation, error) {
	query := `
		SELECT order_id, external_order_id, payment_method, transaction, created_at, updated_at
		FROM payment_information
		WHERE external_order_id = $1`

	return s.scan(s.db.QueryRow(ctx, query, externalOrderID))
}

func (s *PostgresStore) scan(row pgx.Row) (*PaymentInformation, error) {
	var (
		info    PaymentInformation
		payload []byte
	)
	err := row.Scan(
		&info.OrderID, &info.ExternalOrderID, &info.PaymentMethod,
		&payload, &info.CreatedAt, &info.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan payment information: %w", err)
	}

	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &info.Transaction); err != nil {
			return nil, fmt.Errorf("unmarshal transaction: %w", err)
		}
	}
	return &info, nil
}
