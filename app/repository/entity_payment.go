package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vibast-solutions/ms-go-carwash-payments/app/entity"
)

// EntityPaymentRepository writes the payment projection onto the bookings and
// subscriptions tables owned by the surrounding application.
type EntityPaymentRepository struct {
	db DBTX
}

func NewEntityPaymentRepository(db DBTX) *EntityPaymentRepository {
	return &EntityPaymentRepository{db: db}
}

func entityTable(entityType entity.EntityType) (string, error) {
	switch entityType {
	case entity.EntityTypeBooking:
		return "bookings", nil
	case entity.EntityTypeSubscription:
		return "subscriptions", nil
	default:
		return "", fmt.Errorf("unsupported entity type %q", entityType)
	}
}

func (r *EntityPaymentRepository) Exists(ctx context.Context, entityType entity.EntityType, entityID string) (bool, error) {
	table, err := entityTable(entityType)
	if err != nil {
		return false, err
	}

	var found int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = ? LIMIT 1`, entityID).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpdatePaymentStatus projects a terminal intent onto its owning entity.
func (r *EntityPaymentRepository) UpdatePaymentStatus(ctx context.Context, intent *entity.PaymentIntent, at time.Time) error {
	table, err := entityTable(intent.EntityType)
	if err != nil {
		return err
	}

	var paidAt interface{}
	if intent.Status == entity.IntentStatusPaid {
		paidAt = at.UTC()
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE `+table+` SET payment_status = ?, payment_invoice_id = ?, paid_at = ?, updated_at = ? WHERE id = ?`,
		string(intent.Status),
		nullableStringValue(intent.ProviderInvoiceID),
		paidAt,
		at.UTC(),
		intent.EntityID,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	// MySQL reports 0 affected rows when nothing changed, so confirm the row is really missing.
	exists, err := r.Exists(ctx, intent.EntityType, intent.EntityID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrEntityNotFound
	}
	return nil
}
