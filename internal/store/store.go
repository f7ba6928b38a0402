package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"kasaba/backend/internal/domain"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidEntry        = errors.New("invalid entry")
	ErrCreditLimitExceeded = errors.New("credit limit exceeded")
	ErrShiftAlreadyOpen    = errors.New("a shift is already open")
	ErrShiftClosed         = errors.New("shift is already closed")
)

// Repository is the persistence boundary. Implementations must make every
// multi-record mutation (PlaceOrder, EditLedgerEntry, ApplyQueuedInvoice,
// OpenShift, CloseShift, CreateTreasuryEntry) atomic: either all of its
// writes land or none do. Single-record operations need no such guarantee.
type Repository interface {
	CreateParty(ctx context.Context, party domain.Party) (*domain.Party, error)
	GetPartyByID(ctx context.Context, id string) (*domain.Party, error)
	GetPartyByPhone(ctx context.Context, phone string) (*domain.Party, error)
	ListParties(ctx context.Context) ([]domain.Party, error)
	// SetPartyBalance overwrites the denormalized balance with a
	// recalculated value and stamps the recalculation time.
	SetPartyBalance(ctx context.Context, partyID string, balance decimal.Decimal, at time.Time) error
	// IncrementPartyBalance atomically adds delta to the denormalized
	// balance without reading it first.
	IncrementPartyBalance(ctx context.Context, partyID string, delta decimal.Decimal) error

	CreateLedgerEntry(ctx context.Context, entry domain.LedgerEntry) (*domain.LedgerEntry, error)
	GetLedgerEntry(ctx context.Context, id string) (*domain.LedgerEntry, error)
	ListLedgerEntries(ctx context.Context, partyID string) ([]domain.LedgerEntry, error)
	// EditLedgerEntry rewrites an entry's amounts and applies the balance
	// delta (new effect minus old effect) to the owning party in the same
	// atomic operation. Nil amount or paymentAmount keeps the stored value.
	// With additive=true the given amounts are added to the stored values
	// instead of replacing them. An edit whose resulting payment amount
	// would exceed the resulting amount fails with ErrInvalidEntry.
	EditLedgerEntry(ctx context.Context, entryID string, amount, paymentAmount *decimal.Decimal, note *string, additive bool, at time.Time) (*domain.LedgerEntry, error)
	// ApplyQueuedInvoice inserts the entry and increments the party balance
	// atomically, unless an entry with the same dedupe key already exists,
	// in which case nothing is written and applied=false is returned.
	ApplyQueuedInvoice(ctx context.Context, entry domain.LedgerEntry) (applied bool, err error)

	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)

	// PlaceOrder runs the whole order write path atomically: product and
	// party reads, credit validation, monthly order-number assignment,
	// order insert, and the party debt increment for credit orders.
	PlaceOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	GetOrderByID(ctx context.Context, id string) (*domain.Order, error)
	// ListOrdersForParty matches orders either by party id or by the
	// party's phone number (legacy orders only carry the phone).
	ListOrdersForParty(ctx context.Context, partyID string, phone string) ([]domain.Order, error)

	// CreateTreasuryEntry inserts the entry and updates the denormalized
	// running cash/bank balances in the same atomic operation.
	CreateTreasuryEntry(ctx context.Context, entry domain.TreasuryEntry) (*domain.TreasuryEntry, error)
	ListTreasuryEntriesByShift(ctx context.Context, shiftID string) ([]domain.TreasuryEntry, error)
	GetTreasuryBalances(ctx context.Context) (domain.TreasuryBalances, error)

	// OpenShift fails with ErrShiftAlreadyOpen when any shift is open; the
	// check and the create are one atomic operation.
	OpenShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error)
	// CloseShift sums the shift's treasury movements, stores the computed
	// reconciliation fields, marks the shift closed, and books the positive
	// net-sales credit into the safe, all atomically.
	CloseShift(ctx context.Context, shiftID string, closingAmount decimal.Decimal, closedAt time.Time) (*domain.Shift, error)
	GetOpenShift(ctx context.Context) (*domain.Shift, error)
	GetShiftByID(ctx context.Context, id string) (*domain.Shift, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
