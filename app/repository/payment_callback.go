package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/vibast-solutions/ms-go-carwash-payments/app/entity"
)

type PaymentCallbackRepository struct {
	db DBTX
}

func NewPaymentCallbackRepository(db DBTX) *PaymentCallbackRepository {
	return &PaymentCallbackRepository{db: db}
}

func (r *PaymentCallbackRepository) Create(ctx context.Context, callback *entity.PaymentCallback) error {
	query := `
		INSERT INTO payment_callbacks (
			intent_id, provider, provider_invoice_id, provider_status, payload_json, status, error, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		nullableStringValue(callback.IntentID),
		callback.Provider,
		nullableStringValue(callback.ProviderInvoiceID),
		callback.ProviderStatus,
		callback.PayloadJSON,
		callback.Status,
		nullableStringValue(callback.Error),
		callback.CreatedAt.UTC(),
		callback.UpdatedAt.UTC(),
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	callback.ID = uint64(id)

	return nil
}

// ListUnmatched returns dead-lettered deliveries, least recently replayed first.
func (r *PaymentCallbackRepository) ListUnmatched(ctx context.Context, limit int32) ([]*entity.PaymentCallback, error) {
	query := `
		SELECT id, intent_id, provider, provider_invoice_id, provider_status, payload_json, status, error, created_at, updated_at
		FROM payment_callbacks
		WHERE status = ?
		ORDER BY updated_at ASC, id ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, entity.CallbackStatusUnmatched, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	callbacks := make([]*entity.PaymentCallback, 0)
	for rows.Next() {
		item := &entity.PaymentCallback{}
		if err := scanCallback(rows, item); err != nil {
			return nil, err
		}
		callbacks = append(callbacks, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return callbacks, nil
}

func (r *PaymentCallbackRepository) FindByID(ctx context.Context, id uint64) (*entity.PaymentCallback, error) {
	query := `
		SELECT id, intent_id, provider, provider_invoice_id, provider_status, payload_json, status, error, created_at, updated_at
		FROM payment_callbacks
		WHERE id = ?
	`

	callback := &entity.PaymentCallback{}
	if err := scanCallback(r.db.QueryRowContext(ctx, query, id), callback); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return callback, nil
}

func (r *PaymentCallbackRepository) MarkStatus(ctx context.Context, id uint64, intentID *string, status int32, errMsg *string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE payment_callbacks SET intent_id = COALESCE(?, intent_id), status = ?, error = ?, updated_at = ? WHERE id = ?`,
		nullableStringValue(intentID),
		status,
		nullableStringValue(errMsg),
		at.UTC(),
		id,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrCallbackNotFound
	}
	return nil
}

func scanCallback(scan rowScanner, callback *entity.PaymentCallback) error {
	var intentID, providerInvoiceID, errMsg sql.NullString
	if err := scan.Scan(
		&callback.ID,
		&intentID,
		&callback.Provider,
		&providerInvoiceID,
		&callback.ProviderStatus,
		&callback.PayloadJSON,
		&callback.Status,
		&errMsg,
		&callback.CreatedAt,
		&callback.UpdatedAt,
	); err != nil {
		return err
	}
	callback.IntentID = stringPtrFromNull(intentID)
	callback.ProviderInvoiceID = stringPtrFromNull(providerInvoiceID)
	callback.Error = stringPtrFromNull(errMsg)
	return nil
}
