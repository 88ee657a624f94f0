package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"

	"marketcore/internal/common/database"
	"marketcore/internal/common/errs"
	"marketcore/internal/pricing"
)

// DiscountRedemption records one use of a discount. When OnePerCustomer is
// set, the unique (code, customer) index turns a racing second redemption
// into a hard failure inside the same transaction as the state move.
type DiscountRedemption struct {
	Code           string
	CustomerID     string
	OrderID        string
	OnePerCustomer bool
}

// Store persists payment records and reads discount configuration.
type Store interface {
	CreatePayment(ctx context.Context, rec *PaymentRecord) error
	GetPayment(ctx context.Context, paymentCode string) (*PaymentRecord, error)
	GetPaymentByOrder(ctx context.Context, orderID string) (*PaymentRecord, error)
	ListPayments(ctx context.Context, shopID string, limit, offset int) ([]*PaymentRecord, error)

	// TransitionPayment writes rec if and only if the stored record is
	// still in from, and applies the discount redemption in the same
	// transaction when redeem is non-nil. A lost race surfaces as a state
	// conflict with nothing written.
	TransitionPayment(ctx context.Context, rec *PaymentRecord, from PaymentState, redeem *DiscountRedemption) error

	GetDiscount(ctx context.Context, code string) (*pricing.DiscountDescriptor, error)
	HasRedeemed(ctx context.Context, code, customerID string) (bool, error)
}

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const paymentColumns = `payment_code, order_id, shop_id, type, state,
	amount_minor, currency, authenticated, tx_hash, payload_cid,
	discount_code, customer_id, listing_id, offer_id,
	created_at, updated_at, paid_at, refunded_at`

// CreatePayment inserts a new payment record.
func (s *PostgresStore) CreatePayment(ctx context.Context, rec *PaymentRecord) error {
	query := `
		INSERT INTO payment_records (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`

	_, err := s.db.Exec(ctx, query,
		rec.PaymentCode, rec.OrderID, rec.ShopID, rec.Type, rec.State,
		rec.Amount.AmountMinor, rec.Amount.Currency, rec.Authenticated, rec.TxHash, rec.PayloadCID,
		rec.DiscountCode, rec.CustomerID, rec.ListingID, rec.OfferID,
		rec.CreatedAt, rec.UpdatedAt, rec.PaidAt, rec.RefundedAt,
	)
	if database.IsUniqueViolation(err) {
		return database.ErrAlreadyExists
	}
	return err
}

// GetPayment retrieves a payment record by payment code.
func (s *PostgresStore) GetPayment(ctx context.Context, paymentCode string) (*PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_records WHERE payment_code = $1`
	return s.scanPayment(s.db.QueryRow(ctx, query, paymentCode))
}

// GetPaymentByOrder retrieves the most recent payment record for an order.
func (s *PostgresStore) GetPaymentByOrder(ctx context.Context, orderID string) (*PaymentRecord, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payment_records
		WHERE order_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	return s.scanPayment(s.db.QueryRow(ctx, query, orderID))
}

// ListPayments returns payment records newest first, scoped to a shop when
// shopID is non-empty.
func (s *PostgresStore) ListPayments(ctx context.Context, shopID string, limit, offset int) ([]*PaymentRecord, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payment_records
		WHERE ($1 = '' OR shop_id = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := s.db.Query(ctx, query, shopID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*PaymentRecord
	for rows.Next() {
		rec, err := s.scanPayment(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// TransitionPayment applies a compare-and-set state move, with the optional
// discount redemption riding in the same transaction so an exhausted or
// already-used discount rolls the state move back.
func (s *PostgresStore) TransitionPayment(ctx context.Context, rec *PaymentRecord, from PaymentState, redeem *DiscountRedemption) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE payment_records SET
				state = $2, tx_hash = $3, listing_id = $4, offer_id = $5,
				updated_at = $6, paid_at = $7, refunded_at = $8
			WHERE payment_code = $1 AND state = $9
		`,
			rec.PaymentCode, rec.State, rec.TxHash, rec.ListingID, rec.OfferID,
			rec.UpdatedAt, rec.PaidAt, rec.RefundedAt, from,
		)
		if err != nil {
			return fmt.Errorf("updating payment %s: %w", rec.PaymentCode, err)
		}
		if tag.RowsAffected() == 0 {
			return errs.StateConflict("payment %s is no longer %s", rec.PaymentCode, from)
		}

		if redeem == nil {
			return nil
		}

		tag, err = tx.Exec(ctx, `
			UPDATE discounts SET uses = uses + 1
			WHERE code = $1 AND (max_uses = 0 OR uses < max_uses)
		`, redeem.Code)
		if err != nil {
			return fmt.Errorf("redeeming discount %s: %w", redeem.Code, err)
		}
		if tag.RowsAffected() == 0 {
			return errs.Validation("discount %q has no uses left", redeem.Code)
		}

		if redeem.CustomerID == "" {
			return nil
		}

		insert := `
			INSERT INTO discount_redemptions (id, code, customer_id, order_id, redeemed_at)
			VALUES ($1, $2, $3, $4, $5)
		`
		if !redeem.OnePerCustomer {
			insert += ` ON CONFLICT (code, customer_id) DO NOTHING`
		}
		_, err = tx.Exec(ctx, insert,
			ulid.Make().String(), redeem.Code, redeem.CustomerID, redeem.OrderID, time.Now().UTC())
		if database.IsUniqueViolation(err) {
			return errs.Validation("discount %q was already redeemed by this customer", redeem.Code)
		}
		return err
	})
}

// GetDiscount retrieves a discount descriptor by code.
func (s *PostgresStore) GetDiscount(ctx context.Context, code string) (*pricing.DiscountDescriptor, error) {
	query := `
		SELECT code, discount_type, value, min_cart_value, max_discount_value,
			   exclude_shipping, exclude_taxes, one_per_customer,
			   uses, max_uses, start_time, end_time, payment_methods
		FROM discounts
		WHERE code = $1
	`

	var d pricing.DiscountDescriptor
	var methods []byte
	err := s.db.QueryRow(ctx, query, code).Scan(
		&d.Code, &d.Type, &d.Value, &d.MinCartValue, &d.MaxDiscountValue,
		&d.ExcludeShipping, &d.ExcludeTaxes, &d.OnePerCustomer,
		&d.Uses, &d.MaxUses, &d.StartTime, &d.EndTime, &methods,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, database.ErrNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(methods, &d.PaymentMethods); err != nil {
		return nil, fmt.Errorf("decoding payment methods for discount %s: %w", code, err)
	}
	return &d, nil
}

// HasRedeemed reports whether a customer already redeemed a discount.
func (s *PostgresStore) HasRedeemed(ctx context.Context, code, customerID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM discount_redemptions WHERE code = $1 AND customer_id = $2
		)
	`, code, customerID).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) scanPayment(row pgx.Row) (*PaymentRecord, error) {
	var rec PaymentRecord
	err := row.Scan(
		&rec.PaymentCode, &rec.OrderID, &rec.ShopID, &rec.Type, &rec.State,
		&rec.Amount.AmountMinor, &rec.Amount.Currency, &rec.Authenticated, &rec.TxHash, &rec.PayloadCID,
		&rec.DiscountCode, &rec.CustomerID, &rec.ListingID, &rec.OfferID,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.PaidAt, &rec.RefundedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, database.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}
