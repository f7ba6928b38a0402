// Package memory is an in-memory Repository used by tests and by the server
// when no DATABASE_URL is configured. A single mutex stands in for the
// database transaction: every multi-record mutation holds it for the whole
// read-validate-write sequence.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"kasaba/backend/internal/domain"
	"kasaba/backend/internal/ledger"
	"kasaba/backend/internal/store"
	"kasaba/backend/internal/xid"
)

type Store struct {
	mu sync.RWMutex

	parties       map[string]domain.Party
	entries       map[string]domain.LedgerEntry
	entryOrder    []string
	products      map[string]domain.Product
	orders        map[string]domain.Order
	treasury      map[string]domain.TreasuryEntry
	treasuryOrder []string
	balances      domain.TreasuryBalances
	shifts        map[string]domain.Shift
	counters      map[string]int
	audits        []domain.AuditLog
	users         map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		parties:  make(map[string]domain.Party),
		entries:  make(map[string]domain.LedgerEntry),
		products: make(map[string]domain.Product),
		orders:   make(map[string]domain.Order),
		treasury: make(map[string]domain.TreasuryEntry),
		shifts:   make(map[string]domain.Shift),
		counters: make(map[string]int),
		users:    make(map[string]domain.UserAccount),
	}
}

// NewSeeded is the dev-mode store: a handful of products, two parties and a
// default admin account so the server is usable without a database. The
// plain-text password is upgraded to a bcrypt hash on first login.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	for _, p := range []domain.Product{
		{ID: "prd-beras-01", Name: "Beras 5kg", Price: decimal.NewFromInt(72000), Stock: 60, Active: true},
		{ID: "prd-minyak-01", Name: "Minyak Goreng 2L", Price: decimal.NewFromInt(38000), Stock: 80, Active: true},
		{ID: "prd-gula-01", Name: "Gula 1kg", Price: decimal.NewFromInt(17500), Stock: 90, Active: true},
		{ID: "prd-telur-01", Name: "Telur 1 Tray", Price: decimal.NewFromInt(52000), Stock: 40, Active: true},
		{ID: "prd-sembako-01", Name: "Paket Sembako", Price: decimal.NewFromInt(168000), Stock: 0, IsBundle: true, Active: true,
			Components: []domain.BundleComponent{
				{ProductID: "prd-beras-01", Qty: 1},
				{ProductID: "prd-minyak-01", Qty: 1},
				{ProductID: "prd-gula-01", Qty: 2},
			}},
	} {
		s.products[p.ID] = p
	}

	for _, p := range []domain.Party{
		{ID: "pty-resto-01", Name: "Resto Bahagia", Phone: "0812000001", Role: domain.RoleRestaurant,
			CreditLimit: decimal.NewFromInt(2000000), IsCreditAllowed: true, CreatedAt: now},
		{ID: "pty-warung-01", Name: "Warung Pak Dedi", Phone: "0812000002", Role: domain.RoleIndividual, CreatedAt: now},
	} {
		s.parties[p.ID] = p
	}

	s.users["admin"] = domain.UserAccount{
		Username:  "admin",
		Password:  "admin123",
		Role:      "admin",
		Active:    true,
		CreatedAt: now,
	}

	return s
}

var _ store.Repository = (*Store)(nil)

func (s *Store) CreateParty(ctx context.Context, party domain.Party) (*domain.Party, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if party.ID == "" {
		party.ID = xid.New("pty")
	}
	if party.CreatedAt.IsZero() {
		party.CreatedAt = time.Now()
	}
	s.parties[party.ID] = party
	out := party
	return &out, nil
}

func (s *Store) GetPartyByID(ctx context.Context, id string) (*domain.Party, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	party, ok := s.parties[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := party
	return &out, nil
}

func (s *Store) GetPartyByPhone(ctx context.Context, phone string) (*domain.Party, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, party := range s.parties {
		if party.Phone != "" && party.Phone == phone {
			out := party
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListParties(ctx context.Context) ([]domain.Party, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Party, 0, len(s.parties))
	for _, party := range s.parties {
		out = append(out, party)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SetPartyBalance(ctx context.Context, partyID string, balance decimal.Decimal, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	party, ok := s.parties[partyID]
	if !ok {
		return store.ErrNotFound
	}
	party.CurrentDebt = balance
	party.RecalculatedAt = &at
	s.parties[partyID] = party
	return nil
}

func (s *Store) IncrementPartyBalance(ctx context.Context, partyID string, delta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incrementPartyBalanceLocked(partyID, delta)
}

func (s *Store) incrementPartyBalanceLocked(partyID string, delta decimal.Decimal) error {
	party, ok := s.parties[partyID]
	if !ok {
		return store.ErrNotFound
	}
	party.CurrentDebt = party.CurrentDebt.Add(delta)
	s.parties[partyID] = party
	return nil
}

func (s *Store) CreateLedgerEntry(ctx context.Context, entry domain.LedgerEntry) (*domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLedgerEntryLocked(entry)
}

func (s *Store) createLedgerEntryLocked(entry domain.LedgerEntry) (*domain.LedgerEntry, error) {
	if _, ok := s.parties[entry.PartyID]; !ok {
		return nil, store.ErrNotFound
	}
	if entry.ID == "" {
		entry.ID = xid.New("led")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	s.entries[entry.ID] = entry
	s.entryOrder = append(s.entryOrder, entry.ID)
	out := entry
	return &out, nil
}

func (s *Store) GetLedgerEntry(ctx context.Context, id string) (*domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := entry
	return &out, nil
}

func (s *Store) ListLedgerEntries(ctx context.Context, partyID string) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.LedgerEntry
	for _, id := range s.entryOrder {
		entry := s.entries[id]
		if entry.PartyID == partyID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *Store) EditLedgerEntry(ctx context.Context, entryID string, amount, paymentAmount *decimal.Decimal, note *string, additive bool, at time.Time) (*domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[entryID]
	if !ok {
		return nil, store.ErrNotFound
	}

	oldEffect := ledger.Effect(entry)
	if additive {
		if amount != nil {
			entry.Amount = entry.Amount.Add(*amount)
		}
		if paymentAmount != nil {
			entry.PaymentAmount = entry.PaymentAmount.Add(*paymentAmount)
		}
	} else {
		if amount != nil {
			entry.Amount = *amount
		}
		if paymentAmount != nil {
			entry.PaymentAmount = *paymentAmount
		}
	}
	if note != nil {
		entry.Note = *note
	}
	if !entry.Amount.IsPositive() || entry.PaymentAmount.IsNegative() || entry.PaymentAmount.GreaterThan(entry.Amount) {
		return nil, store.ErrInvalidEntry
	}
	newEffect := ledger.Effect(entry)

	if err := s.incrementPartyBalanceLocked(entry.PartyID, newEffect.Sub(oldEffect)); err != nil {
		return nil, err
	}
	s.entries[entryID] = entry
	out := entry
	return &out, nil
}

func (s *Store) ApplyQueuedInvoice(ctx context.Context, entry domain.LedgerEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.DedupeKey == "" {
		return false, store.ErrInvalidEntry
	}
	for _, existing := range s.entries {
		if existing.DedupeKey == entry.DedupeKey {
			return false, nil
		}
	}
	created, err := s.createLedgerEntryLocked(entry)
	if err != nil {
		return false, err
	}
	if err := s.incrementPartyBalanceLocked(entry.PartyID, ledger.Effect(*created)); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	s.products[product.ID] = product
	out := product
	return &out, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := product
	return &out, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Product, 0, len(s.products))
	for _, product := range s.products {
		out = append(out, product)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) PlaceOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Read phase: every referenced product must exist, with bundles expanded
	// into their components.
	for _, item := range order.Items {
		product, ok := s.products[item.ProductID]
		if !ok {
			return nil, store.ErrNotFound
		}
		if product.IsBundle {
			for _, comp := range product.Components {
				if _, ok := s.products[comp.ProductID]; !ok {
					return nil, store.ErrNotFound
				}
			}
		}
	}

	var party *domain.Party
	if order.PartyID != "" {
		p, ok := s.parties[order.PartyID]
		if !ok {
			return nil, store.ErrNotFound
		}
		party = &p
	}

	// Validation phase.
	if party != nil && party.IsCreditAllowed {
		if party.CurrentDebt.Add(order.Total).GreaterThan(party.CreditLimit) {
			return nil, store.ErrCreditLimitExceeded
		}
	}

	// Write phase: counter, order, debt. All under the same lock so two
	// concurrent orders cannot share a number.
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}
	month := order.CreatedAt.Format("2006-01")
	s.counters[month]++
	order.Number = fmt.Sprintf("%s-%04d", month, s.counters[month])
	if order.Status == "" {
		order.Status = domain.OrderStatusPlaced
	}
	s.orders[order.ID] = order

	if party != nil {
		outstanding := order.Total.Sub(order.TotalPaid)
		if !outstanding.IsZero() {
			if err := s.incrementPartyBalanceLocked(party.ID, outstanding); err != nil {
				return nil, err
			}
		}
	}

	out := order
	return &out, nil
}

func (s *Store) GetOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := order
	return &out, nil
}

func (s *Store) ListOrdersForParty(ctx context.Context, partyID string, phone string) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Order
	for _, order := range s.orders {
		if (partyID != "" && order.PartyID == partyID) ||
			(phone != "" && order.CustomerPhone == phone) {
			out = append(out, order)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CreateTreasuryEntry(ctx context.Context, entry domain.TreasuryEntry) (*domain.TreasuryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createTreasuryEntryLocked(entry)
}

func (s *Store) createTreasuryEntryLocked(entry domain.TreasuryEntry) (*domain.TreasuryEntry, error) {
	if entry.ID == "" {
		entry.ID = xid.New("trs")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	s.treasury[entry.ID] = entry
	s.treasuryOrder = append(s.treasuryOrder, entry.ID)
	s.applyTreasuryToBalancesLocked(entry)
	out := entry
	return &out, nil
}

func (s *Store) applyTreasuryToBalancesLocked(entry domain.TreasuryEntry) {
	delta := entry.Amount
	if entry.Operation == domain.TreasuryOpDebit {
		delta = delta.Neg()
	}
	switch entry.Type {
	case domain.TreasuryTypeCash:
		s.balances.Cash = s.balances.Cash.Add(delta)
	case domain.TreasuryTypeBank:
		s.balances.Bank = s.balances.Bank.Add(delta)
	}
	s.balances.UpdatedAt = entry.CreatedAt
}

func (s *Store) ListTreasuryEntriesByShift(ctx context.Context, shiftID string) ([]domain.TreasuryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.TreasuryEntry
	for _, id := range s.treasuryOrder {
		entry := s.treasury[id]
		if entry.ShiftID == shiftID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *Store) GetTreasuryBalances(ctx context.Context) (domain.TreasuryBalances, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances, nil
}

func (s *Store) OpenShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.shifts {
		if existing.Status == domain.ShiftStatusOpen {
			return nil, store.ErrShiftAlreadyOpen
		}
	}
	if shift.ID == "" {
		shift.ID = xid.New("shf")
	}
	if shift.OpenedAt.IsZero() {
		shift.OpenedAt = time.Now()
	}
	shift.Status = domain.ShiftStatusOpen
	s.shifts[shift.ID] = shift
	out := shift
	return &out, nil
}

func (s *Store) CloseShift(ctx context.Context, shiftID string, closingAmount decimal.Decimal, closedAt time.Time) (*domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shift, ok := s.shifts[shiftID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if shift.Status != domain.ShiftStatusOpen {
		return nil, store.ErrShiftClosed
	}

	expenses := decimal.Zero
	b2b := decimal.Zero
	for _, id := range s.treasuryOrder {
		entry := s.treasury[id]
		if entry.ShiftID != shiftID {
			continue
		}
		switch entry.Source {
		case domain.TreasurySourceExpense:
			expenses = expenses.Add(entry.Amount)
		case domain.TreasurySourceB2BPayment:
			b2b = b2b.Add(entry.Amount)
		}
	}

	shift.Status = domain.ShiftStatusClosed
	shift.ClosingAmount = closingAmount
	shift.TotalExpenses = expenses
	shift.TotalB2BCollected = b2b
	shift.NetSales = ledger.NetSales(shift.OpeningAmount, closingAmount, expenses, b2b)
	shift.ClosedAt = &closedAt
	s.shifts[shiftID] = shift

	if shift.NetSales.IsPositive() {
		if _, err := s.createTreasuryEntryLocked(domain.TreasuryEntry{
			Type:        domain.TreasuryTypeCash,
			Operation:   domain.TreasuryOpCredit,
			Amount:      shift.NetSales,
			Source:      domain.TreasurySourceDailySales,
			Destination: domain.TreasuryDestSafe,
			ShiftID:     shiftID,
			CreatedAt:   closedAt,
		}); err != nil {
			return nil, err
		}
	}

	out := shift
	return &out, nil
}

func (s *Store) GetOpenShift(ctx context.Context) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, shift := range s.shifts {
		if shift.Status == domain.ShiftStatusOpen {
			out := shift
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetShiftByID(ctx context.Context, id string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shift, ok := s.shifts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := shift
	return &out, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("aud")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	s.audits = append(s.audits, entry)
	return nil
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.AuditLog
	for _, entry := range s.audits {
		if !from.IsZero() && entry.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && entry.CreatedAt.After(to) {
			continue
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	s.users[user.Username] = user
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}
