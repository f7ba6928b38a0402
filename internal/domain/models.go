package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Party is a customer, restaurant or supplier carrying a running debt
// balance. CurrentDebt is denormalized: positive means the party owes us.
type Party struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Phone           string          `json:"phone,omitempty"`
	Role            string          `json:"role"`
	CurrentDebt     decimal.Decimal `json:"current_debt"`
	CreditLimit     decimal.Decimal `json:"credit_limit"`
	IsCreditAllowed bool            `json:"is_credit_allowed"`
	RecalculatedAt  *time.Time      `json:"recalculated_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

type PartyCreateRequest struct {
	Name            string          `json:"name"`
	Phone           string          `json:"phone"`
	Role            string          `json:"role"`
	CreditLimit     decimal.Decimal `json:"credit_limit"`
	IsCreditAllowed bool            `json:"is_credit_allowed"`
	OpeningBalance  decimal.Decimal `json:"opening_balance"`
}

// LedgerEntry is one recorded financial event against a Party. Entries are
// append-only in the normal flow; edits go through the transaction editor
// which re-derives the balance delta.
type LedgerEntry struct {
	ID            string          `json:"id"`
	PartyID       string          `json:"party_id"`
	Type          string          `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentAmount decimal.Decimal `json:"payment_amount"`
	Note          string          `json:"note,omitempty"`
	OrderRef      string          `json:"order_ref,omitempty"`
	ImageURL      string          `json:"image_url,omitempty"`
	DedupeKey     string          `json:"dedupe_key,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type LedgerEntryCreateRequest struct {
	Type          string          `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentAmount decimal.Decimal `json:"payment_amount"`
	Note          string          `json:"note"`
}

// LedgerEntryEditRequest carries only the fields the client wants to change;
// nil means "keep the stored value".
type LedgerEntryEditRequest struct {
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	PaymentAmount *decimal.Decimal `json:"payment_amount,omitempty"`
	Note          *string          `json:"note,omitempty"`
	// Additive switches the editor to add-to-amount mode: Amount and
	// PaymentAmount are added to the stored values instead of replacing them.
	Additive bool `json:"additive"`
}

type Product struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Price      decimal.Decimal   `json:"price"`
	Stock      int               `json:"stock"`
	IsBundle   bool              `json:"is_bundle"`
	Components []BundleComponent `json:"components,omitempty"`
	Active     bool              `json:"active"`
}

// BundleComponent is one physical product inside a composite item.
type BundleComponent struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type ProductCreateRequest struct {
	Name       string            `json:"name"`
	Price      decimal.Decimal   `json:"price"`
	Stock      int               `json:"stock"`
	IsBundle   bool              `json:"is_bundle"`
	Components []BundleComponent `json:"components,omitempty"`
}

type OrderItem struct {
	ProductID string          `json:"product_id"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type Order struct {
	ID            string          `json:"id"`
	Number        string          `json:"number"`
	PartyID       string          `json:"party_id,omitempty"`
	CustomerPhone string          `json:"customer_phone,omitempty"`
	Items         []OrderItem     `json:"items"`
	Total         decimal.Decimal `json:"total"`
	TotalPaid     decimal.Decimal `json:"total_paid"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}

type OrderCreateRequest struct {
	PartyID       string          `json:"party_id"`
	CustomerPhone string          `json:"customer_phone"`
	Items         []OrderItem     `json:"items"`
	TotalPaid     decimal.Decimal `json:"total_paid"`
}

type OrderResponse struct {
	Order Order `json:"order"`
}

// TreasuryEntry is a cash or bank movement independent of any party.
type TreasuryEntry struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Operation   string          `json:"operation"`
	Amount      decimal.Decimal `json:"amount"`
	Source      string          `json:"source"`
	Destination string          `json:"destination"`
	ShiftID     string          `json:"shift_id,omitempty"`
	Note        string          `json:"note,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type TreasuryEntryCreateRequest struct {
	Type        string          `json:"type"`
	Operation   string          `json:"operation"`
	Amount      decimal.Decimal `json:"amount"`
	Source      string          `json:"source"`
	Destination string          `json:"destination"`
	ShiftID     string          `json:"shift_id"`
	Note        string          `json:"note"`
}

// TreasuryBalances is the denormalized running total of all treasury
// movements, maintained atomically alongside every entry insert.
type TreasuryBalances struct {
	Cash      decimal.Decimal `json:"cash"`
	Bank      decimal.Decimal `json:"bank"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Shift is a bounded cash-drawer accounting period.
type Shift struct {
	ID                string          `json:"id"`
	Status            string          `json:"status"`
	OpeningAmount     decimal.Decimal `json:"opening_amount"`
	ClosingAmount     decimal.Decimal `json:"closing_amount"`
	TotalExpenses     decimal.Decimal `json:"total_expenses"`
	TotalB2BCollected decimal.Decimal `json:"total_b2b_collected"`
	NetSales          decimal.Decimal `json:"net_sales"`
	OpenedBy          string          `json:"opened_by"`
	OpenedAt          time.Time       `json:"opened_at"`
	ClosedAt          *time.Time      `json:"closed_at,omitempty"`
}

type ShiftOpenRequest struct {
	OpeningAmount decimal.Decimal `json:"opening_amount"`
}

type ShiftCloseRequest struct {
	ShiftID       string          `json:"shift_id"`
	ClosingAmount decimal.Decimal `json:"closing_amount"`
}

type ShiftResponse struct {
	Shift Shift `json:"shift"`
}

// QueuedInvoice is an invoice drafted while disconnected, staged locally
// until the next drain. ClientID is assigned at enqueue time and reused as
// the ledger entry's dedupe key so repeated drains are safe.
type QueuedInvoice struct {
	ClientID      string          `json:"client_id"`
	PartyID       string          `json:"party_id"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentAmount decimal.Decimal `json:"payment_amount"`
	Note          string          `json:"note,omitempty"`
	// Date is the intended entry date, "2006-01-02" or empty for "today".
	Date       string    `json:"date,omitempty"`
	Image      []byte    `json:"image,omitempty"`
	ImageName  string    `json:"image_name,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type OfflineInvoiceRequest struct {
	ClientID      string          `json:"client_id"`
	PartyID       string          `json:"party_id"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentAmount decimal.Decimal `json:"payment_amount"`
	Note          string          `json:"note"`
	Date          string          `json:"date"`
	ImageBase64   string          `json:"image_base64"`
	ImageName     string          `json:"image_name"`
}

type DrainResult struct {
	Applied   int      `json:"applied"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
	FailedIDs []string `json:"failed_ids,omitempty"`
}

type RecalculateResponse struct {
	PartyID    string          `json:"party_id"`
	NewBalance decimal.Decimal `json:"new_balance"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	RoleRestaurant = "restaurant"
	RoleIndividual = "individual"
	RoleSupplier   = "supplier"
)

// Ledger entry types. The upper-case variants come from orders placed
// through the mobile flow and carry the same effect as their lower-case
// counterparts.
const (
	EntryInvoice         = "invoice"
	EntryPayment         = "payment"
	EntryOldDebt         = "old_debt"
	EntryOpeningBalance  = "opening_balance"
	EntryOrderPlaced     = "ORDER_PLACED"
	EntryPaymentReceived = "PAYMENT_RECEIVED"
)

const (
	OrderStatusPlaced    = "placed"
	OrderStatusDelivered = "delivered"
	OrderStatusCancelled = "cancelled"
)

const (
	TreasuryTypeCash = "cash"
	TreasuryTypeBank = "bank"

	TreasuryOpCredit = "credit"
	TreasuryOpDebit  = "debit"
)

// Treasury sources and destinations recognized by shift reconciliation.
const (
	TreasurySourceExpense    = "expense"
	TreasurySourceB2BPayment = "b2b_payment"
	TreasurySourceDailySales = "daily_sales"

	TreasuryDestDrawer = "drawer"
	TreasuryDestSafe   = "safe"
)

const (
	ShiftStatusOpen   = "open"
	ShiftStatusClosed = "closed"
)
