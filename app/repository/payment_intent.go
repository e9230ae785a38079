package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/vibast-solutions/ms-go-carwash-payments/app/entity"
)

const intentColumns = `
	id, external_id, entity_type, entity_id, amount_cents, currency, payer_email, description,
	provider, provider_invoice_id, hosted_url, expires_at,
	status, cause, attempts, created_at, last_transition_at, updated_at
`

type PaymentIntentRepository struct {
	db DBTX
}

func NewPaymentIntentRepository(db DBTX) *PaymentIntentRepository {
	return &PaymentIntentRepository{db: db}
}

func (r *PaymentIntentRepository) Create(ctx context.Context, intent *entity.PaymentIntent) error {
	query := `
		INSERT INTO payment_intents (
			id, external_id, entity_type, entity_id, active_key, amount_cents, currency, payer_email, description,
			provider, provider_invoice_id, hosted_url, expires_at,
			status, cause, attempts, created_at, last_transition_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var activeKey interface{}
	if !intent.Status.Terminal() {
		activeKey = entity.ActiveKey(intent.EntityType, intent.EntityID)
	}

	_, err := r.db.ExecContext(ctx, query,
		intent.ID,
		intent.ExternalID,
		string(intent.EntityType),
		intent.EntityID,
		activeKey,
		intent.AmountCents,
		intent.Currency,
		intent.PayerEmail,
		intent.Description,
		intent.Provider,
		nullableStringValue(intent.ProviderInvoiceID),
		nullableStringValue(intent.HostedURL),
		nullableTimeValue(intent.ExpiresAt),
		string(intent.Status),
		nullableStringValue(intent.Cause),
		intent.Attempts,
		intent.CreatedAt.UTC(),
		intent.LastTransitionAt.UTC(),
		intent.UpdatedAt.UTC(),
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrActiveIntentExists
		}
		return err
	}
	return nil
}

func (r *PaymentIntentRepository) FindByID(ctx context.Context, id string) (*entity.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intents WHERE id = ?`
	return r.findOne(ctx, query, id)
}

func (r *PaymentIntentRepository) FindByProviderInvoiceID(ctx context.Context, providerInvoiceID string) (*entity.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intents WHERE provider_invoice_id = ? LIMIT 1`
	return r.findOne(ctx, query, providerInvoiceID)
}

func (r *PaymentIntentRepository) FindByExternalID(ctx context.Context, externalID string) (*entity.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intents WHERE external_id = ? LIMIT 1`
	return r.findOne(ctx, query, externalID)
}

// FindActiveByEntity returns the single non-terminal intent of the entity, if any.
func (r *PaymentIntentRepository) FindActiveByEntity(ctx context.Context, entityType entity.EntityType, entityID string) (*entity.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intents WHERE active_key = ? LIMIT 1`
	return r.findOne(ctx, query, entity.ActiveKey(entityType, entityID))
}

func (r *PaymentIntentRepository) FindLatestByEntity(ctx context.Context, entityType entity.EntityType, entityID string) (*entity.PaymentIntent, error) {
	query := `
		SELECT ` + intentColumns + `
		FROM payment_intents
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY created_at DESC, last_transition_at DESC
		LIMIT 1
	`
	return r.findOne(ctx, query, string(entityType), entityID)
}

func (r *PaymentIntentRepository) IncrementAttempts(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE payment_intents SET attempts = attempts + 1, updated_at = ? WHERE id = ?`,
		at.UTC(), id,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrIntentNotFound
	}
	return nil
}

// MarkChecked bumps updated_at so batch jobs rotate past an intent they
// looked at but could not settle.
func (r *PaymentIntentRepository) MarkChecked(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE payment_intents SET updated_at = ? WHERE id = ?`,
		at.UTC(), id,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrIntentNotFound
	}
	return nil
}

// compareAndSetStatus moves the intent from one status to another only if it is
// still in the expected status. Terminal targets release the active key.
func (r *PaymentIntentRepository) compareAndSetStatus(ctx context.Context, id string, from, to entity.IntentStatus, cause *string, at time.Time) (int64, error) {
	activeKeyClause := "active_key"
	if to.Terminal() {
		activeKeyClause = "NULL"
	}
	query := `
		UPDATE payment_intents SET
			status = ?,
			cause = ?,
			active_key = ` + activeKeyClause + `,
			last_transition_at = CASE WHEN last_transition_at > ? THEN last_transition_at ELSE ? END,
			updated_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		string(to),
		nullableStringValue(cause),
		at.UTC(), at.UTC(),
		at.UTC(),
		id,
		string(from),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// attachInvoice records the gateway invoice once, moving created to pending.
func (r *PaymentIntentRepository) attachInvoice(ctx context.Context, input AttachInvoiceInput) (int64, error) {
	query := `
		UPDATE payment_intents SET
			status = ?,
			provider_invoice_id = ?,
			hosted_url = ?,
			expires_at = ?,
			last_transition_at = CASE WHEN last_transition_at > ? THEN last_transition_at ELSE ? END,
			updated_at = ?
		WHERE id = ? AND status = ? AND provider_invoice_id IS NULL
	`

	result, err := r.db.ExecContext(ctx, query,
		string(entity.IntentStatusPending),
		input.ProviderInvoiceID,
		input.HostedURL,
		nullableTimeValue(input.ExpiresAt),
		input.At.UTC(), input.At.UTC(),
		input.At.UTC(),
		input.IntentID,
		string(entity.IntentStatusCreated),
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return 0, nil
		}
		return 0, err
	}
	return result.RowsAffected()
}

func (r *PaymentIntentRepository) ListStalePending(ctx context.Context, before time.Time, limit int32) ([]*entity.PaymentIntent, error) {
	query := `
		SELECT ` + intentColumns + `
		FROM payment_intents
		WHERE status = ?
		  AND provider_invoice_id IS NOT NULL
		  AND updated_at <= ?
		ORDER BY updated_at ASC
		LIMIT ?
	`
	return r.findMany(ctx, query, string(entity.IntentStatusPending), before.UTC(), limit)
}

func (r *PaymentIntentRepository) ListOrphanedCreated(ctx context.Context, before time.Time, limit int32) ([]*entity.PaymentIntent, error) {
	query := `
		SELECT ` + intentColumns + `
		FROM payment_intents
		WHERE status = ?
		  AND provider_invoice_id IS NULL
		  AND created_at <= ?
		ORDER BY updated_at ASC, created_at ASC
		LIMIT ?
	`
	return r.findMany(ctx, query, string(entity.IntentStatusCreated), before.UTC(), limit)
}

func (r *PaymentIntentRepository) ListExpiredPending(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.PaymentIntent, error) {
	query := `
		SELECT ` + intentColumns + `
		FROM payment_intents
		WHERE status = ?
		  AND expires_at IS NOT NULL
		  AND expires_at <= ?
		ORDER BY updated_at ASC, expires_at ASC
		LIMIT ?
	`
	return r.findMany(ctx, query, string(entity.IntentStatusPending), cutoff.UTC(), limit)
}

func (r *PaymentIntentRepository) findOne(ctx context.Context, query string, args ...interface{}) (*entity.PaymentIntent, error) {
	intent := &entity.PaymentIntent{}
	if err := scanIntent(r.db.QueryRowContext(ctx, query, args...), intent); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return intent, nil
}

func (r *PaymentIntentRepository) findMany(ctx context.Context, query string, args ...interface{}) ([]*entity.PaymentIntent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	intents := make([]*entity.PaymentIntent, 0)
	for rows.Next() {
		item := &entity.PaymentIntent{}
		if err := scanIntent(rows, item); err != nil {
			return nil, err
		}
		intents = append(intents, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return intents, nil
}

func scanIntent(scan rowScanner, intent *entity.PaymentIntent) error {
	var entityType string
	var status string
	var providerInvoiceID sql.NullString
	var hostedURL sql.NullString
	var expiresAt sql.NullTime
	var cause sql.NullString

	err := scan.Scan(
		&intent.ID,
		&intent.ExternalID,
		&entityType,
		&intent.EntityID,
		&intent.AmountCents,
		&intent.Currency,
		&intent.PayerEmail,
		&intent.Description,
		&intent.Provider,
		&providerInvoiceID,
		&hostedURL,
		&expiresAt,
		&status,
		&cause,
		&intent.Attempts,
		&intent.CreatedAt,
		&intent.LastTransitionAt,
		&intent.UpdatedAt,
	)
	if err != nil {
		return err
	}

	intent.EntityType = entity.EntityType(entityType)
	intent.Status = entity.IntentStatus(status)
	intent.ProviderInvoiceID = stringPtrFromNull(providerInvoiceID)
	intent.HostedURL = stringPtrFromNull(hostedURL)
	intent.ExpiresAt = timePtrFromNull(expiresAt)
	intent.Cause = stringPtrFromNull(cause)
	intent.CreatedAt = intent.CreatedAt.UTC()
	intent.LastTransitionAt = intent.LastTransitionAt.UTC()
	intent.UpdatedAt = intent.UpdatedAt.UTC()
	return nil
}
