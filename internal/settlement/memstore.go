package settlement

import (
	"context"
	"sort"
	"sync"

	"marketcore/internal/common/database"
	"marketcore/internal/common/errs"
	"marketcore/internal/pricing"
)

// MemStore is an in-memory Store with the same compare-and-set semantics as
// the PostgreSQL implementation. Used by tests and local development.
type MemStore struct {
	mu          sync.Mutex
	payments    map[string]*PaymentRecord
	discounts   map[string]*pricing.DiscountDescriptor
	redemptions map[string]map[string]bool // code -> customer set
}

func NewMemStore() *MemStore {
	return &MemStore{
		payments:    make(map[string]*PaymentRecord),
		discounts:   make(map[string]*pricing.DiscountDescriptor),
		redemptions: make(map[string]map[string]bool),
	}
}

// PutDiscount seeds a discount descriptor.
func (s *MemStore) PutDiscount(d *pricing.DiscountDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.discounts[d.Code] = &cp
}

func (s *MemStore) CreatePayment(_ context.Context, rec *PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.payments[rec.PaymentCode]; ok {
		return database.ErrAlreadyExists
	}
	cp := *rec
	s.payments[rec.PaymentCode] = &cp
	return nil
}

func (s *MemStore) GetPayment(_ context.Context, paymentCode string) (*PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.payments[paymentCode]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemStore) GetPaymentByOrder(_ context.Context, orderID string) (*PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *PaymentRecord
	for _, rec := range s.payments {
		if rec.OrderID != orderID {
			continue
		}
		if latest == nil || rec.CreatedAt.After(latest.CreatedAt) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, database.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *MemStore) ListPayments(_ context.Context, shopID string, limit, offset int) ([]*PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := make([]*PaymentRecord, 0, len(s.payments))
	for _, rec := range s.payments {
		if shopID != "" && rec.ShopID != shopID {
			continue
		}
		cp := *rec
		recs = append(recs, &cp)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.After(recs[j].CreatedAt) })

	if offset >= len(recs) {
		return nil, nil
	}
	recs = recs[offset:]
	if limit > 0 && limit < len(recs) {
		recs = recs[:limit]
	}
	return recs, nil
}

func (s *MemStore) TransitionPayment(_ context.Context, rec *PaymentRecord, from PaymentState, redeem *DiscountRedemption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.payments[rec.PaymentCode]
	if !ok {
		return database.ErrNotFound
	}
	if stored.State != from {
		return errs.StateConflict("payment %s is no longer %s", rec.PaymentCode, from)
	}

	if redeem != nil {
		d, ok := s.discounts[redeem.Code]
		if !ok {
			return database.ErrNotFound
		}
		if d.MaxUses != 0 && d.Uses >= d.MaxUses {
			return errs.Validation("discount %q has no uses left", redeem.Code)
		}
		if redeem.CustomerID != "" {
			customers := s.redemptions[redeem.Code]
			if customers == nil {
				customers = make(map[string]bool)
				s.redemptions[redeem.Code] = customers
			}
			if customers[redeem.CustomerID] && redeem.OnePerCustomer {
				return errs.Validation("discount %q was already redeemed by this customer", redeem.Code)
			}
			customers[redeem.CustomerID] = true
		}
		d.Uses++
	}

	cp := *rec
	s.payments[rec.PaymentCode] = &cp
	return nil
}

func (s *MemStore) GetDiscount(_ context.Context, code string) (*pricing.DiscountDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.discounts[code]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *MemStore) HasRedeemed(_ context.Context, code, customerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.redemptions[code][customerID], nil
}
