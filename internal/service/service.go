package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"kasaba/backend/internal/domain"
	"kasaba/backend/internal/ledger"
	"kasaba/backend/internal/notify"
	"kasaba/backend/internal/objstore"
	"kasaba/backend/internal/queue"
	"kasaba/backend/internal/store"
	"kasaba/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo     store.Repository
	queue    queue.Queue
	uploader objstore.Uploader
	notifier notify.Notifier
}

func New(repo store.Repository, q queue.Queue, uploader objstore.Uploader, notifier notify.Notifier) *Service {
	if q == nil {
		q = queue.NewMemory()
	}
	if uploader == nil {
		uploader = objstore.Noop{}
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}

	return &Service{
		repo:     repo,
		queue:    q,
		uploader: uploader,
		notifier: notifier,
	}
}

func validPartyRole(role string) bool {
	switch role {
	case domain.RoleRestaurant, domain.RoleIndividual, domain.RoleSupplier:
		return true
	default:
		return false
	}
}

func (s *Service) CreateParty(ctx context.Context, req domain.PartyCreateRequest) (domain.Party, error) {
	if req.Name == "" || !validPartyRole(req.Role) {
		return domain.Party{}, store.ErrInvalidEntry
	}
	if req.CreditLimit.IsNegative() {
		return domain.Party{}, store.ErrInvalidEntry
	}

	saved, err := s.repo.CreateParty(ctx, domain.Party{
		ID:              xid.New("pty"),
		Name:            req.Name,
		Phone:           req.Phone,
		Role:            req.Role,
		CreditLimit:     req.CreditLimit,
		IsCreditAllowed: req.IsCreditAllowed,
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil {
		return domain.Party{}, err
	}

	// An opening balance is just the first ledger entry, written through the
	// same two-step path as any quick transaction.
	if !req.OpeningBalance.IsZero() {
		if _, err := s.RecordLedgerEntry(ctx, saved.ID, domain.LedgerEntryCreateRequest{
			Type:   domain.EntryOpeningBalance,
			Amount: req.OpeningBalance,
			Note:   "opening balance",
		}); err != nil {
			return domain.Party{}, err
		}
		saved, err = s.repo.GetPartyByID(ctx, saved.ID)
		if err != nil {
			return domain.Party{}, err
		}
	}

	s.logAudit(ctx, "party_create", "party", saved.ID, req.Name)

	return *saved, nil
}

func (s *Service) GetParty(ctx context.Context, partyID string) (domain.Party, error) {
	party, err := s.repo.GetPartyByID(ctx, partyID)
	if err != nil {
		return domain.Party{}, err
	}
	return *party, nil
}

func (s *Service) ListParties(ctx context.Context) ([]domain.Party, error) {
	return s.repo.ListParties(ctx)
}

func (s *Service) ListLedgerEntries(ctx context.Context, partyID string) ([]domain.LedgerEntry, error) {
	if _, err := s.repo.GetPartyByID(ctx, partyID); err != nil {
		return nil, err
	}
	return s.repo.ListLedgerEntries(ctx, partyID)
}

// RecalculateBalance replays the party's full history and overwrites the
// denormalized balance with the authoritative sum. Safe to run any number of
// times; this is the repair path for every known drift source.
func (s *Service) RecalculateBalance(ctx context.Context, partyID string) (domain.RecalculateResponse, error) {
	party, err := s.repo.GetPartyByID(ctx, partyID)
	if err != nil {
		return domain.RecalculateResponse{}, err
	}

	entries, err := s.repo.ListLedgerEntries(ctx, partyID)
	if err != nil {
		return domain.RecalculateResponse{}, err
	}
	orders, err := s.repo.ListOrdersForParty(ctx, partyID, party.Phone)
	if err != nil {
		return domain.RecalculateResponse{}, err
	}

	balance := ledger.FoldBalance(entries, orders)
	if err := s.repo.SetPartyBalance(ctx, partyID, balance, time.Now().UTC()); err != nil {
		return domain.RecalculateResponse{}, err
	}

	s.logAudit(ctx, "balance_recalculate", "party", partyID, fmt.Sprintf("balance=%s", balance))

	return domain.RecalculateResponse{PartyID: partyID, NewBalance: balance}, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if req.Name == "" || req.Price.IsNegative() {
		return domain.Product{}, store.ErrInvalidEntry
	}
	if req.IsBundle && len(req.Components) == 0 {
		return domain.Product{}, store.ErrInvalidEntry
	}
	for _, comp := range req.Components {
		if comp.ProductID == "" || comp.Qty < 1 {
			return domain.Product{}, store.ErrInvalidEntry
		}
		if _, err := s.repo.GetProductByID(ctx, comp.ProductID); err != nil {
			return domain.Product{}, err
		}
	}

	saved, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:         xid.New("prd"),
		Name:       req.Name,
		Price:      req.Price,
		Stock:      req.Stock,
		IsBundle:   req.IsBundle,
		Components: req.Components,
		Active:     true,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", saved.ID, req.Name)

	return *saved, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

// PlaceOrder resolves item prices, then hands the whole
// read-validate-number-write sequence to the repository as one transaction.
// The webhook fires only after the transaction committed.
func (s *Service) PlaceOrder(ctx context.Context, req domain.OrderCreateRequest) (domain.OrderResponse, error) {
	if len(req.Items) == 0 {
		return domain.OrderResponse{}, store.ErrInvalidEntry
	}
	if req.TotalPaid.IsNegative() {
		return domain.OrderResponse{}, store.ErrInvalidEntry
	}

	items := make([]domain.OrderItem, 0, len(req.Items))
	total := decimal.Zero
	for _, item := range req.Items {
		if item.ProductID == "" || item.Qty < 1 {
			return domain.OrderResponse{}, store.ErrInvalidEntry
		}
		unitPrice := item.UnitPrice
		if unitPrice.IsZero() {
			product, err := s.repo.GetProductByID(ctx, item.ProductID)
			if err != nil {
				return domain.OrderResponse{}, err
			}
			unitPrice = product.Price
		}
		if unitPrice.IsNegative() {
			return domain.OrderResponse{}, store.ErrInvalidEntry
		}
		items = append(items, domain.OrderItem{
			ProductID: item.ProductID,
			Qty:       item.Qty,
			UnitPrice: unitPrice,
		})
		total = total.Add(unitPrice.Mul(decimal.NewFromInt(int64(item.Qty))))
	}

	saved, err := s.repo.PlaceOrder(ctx, domain.Order{
		ID:            xid.New("ord"),
		PartyID:       req.PartyID,
		CustomerPhone: req.CustomerPhone,
		Items:         items,
		Total:         total,
		TotalPaid:     req.TotalPaid,
		Status:        domain.OrderStatusPlaced,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		return domain.OrderResponse{}, err
	}

	s.notifier.OrderPlaced(*saved)
	s.logAudit(ctx, "order_place", "order", saved.ID, saved.Number)

	return domain.OrderResponse{Order: *saved}, nil
}

// RecordLedgerEntry is the quick-transaction path: the entry insert and the
// balance increment are two independent writes, not one transaction. A crash
// between them leaves the balance stale until the next recalculation. The
// gap is accepted for write latency; do not "fix" it by merging the writes.
func (s *Service) RecordLedgerEntry(ctx context.Context, partyID string, req domain.LedgerEntryCreateRequest) (domain.LedgerEntry, error) {
	if !ledger.IsQuickEntryType(req.Type) {
		return domain.LedgerEntry{}, store.ErrInvalidEntry
	}
	if !req.Amount.IsPositive() {
		return domain.LedgerEntry{}, store.ErrInvalidEntry
	}
	if req.PaymentAmount.IsNegative() || req.PaymentAmount.GreaterThan(req.Amount) {
		return domain.LedgerEntry{}, store.ErrInvalidEntry
	}

	saved, err := s.repo.CreateLedgerEntry(ctx, domain.LedgerEntry{
		ID:            xid.New("led"),
		PartyID:       partyID,
		Type:          req.Type,
		Amount:        req.Amount,
		PaymentAmount: req.PaymentAmount,
		Note:          req.Note,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		return domain.LedgerEntry{}, err
	}

	if err := s.repo.IncrementPartyBalance(ctx, partyID, ledger.Effect(*saved)); err != nil {
		// The entry is already persisted; the balance is now stale until a
		// recalculation runs.
		log.Printf("[service] WARN: balance increment failed after entry %s: %v", saved.ID, err)
		return domain.LedgerEntry{}, err
	}

	s.logAudit(ctx, "ledger_record", "ledger_entry", saved.ID, req.Type)

	return *saved, nil
}

// EditLedgerEntry rewrites an entry's amounts; the repository applies the
// effect delta to the party balance in the same transaction, so no
// recalculation is needed afterwards. Omitted fields keep their stored
// values, so a note-only edit leaves the amounts untouched.
func (s *Service) EditLedgerEntry(ctx context.Context, entryID string, req domain.LedgerEntryEditRequest) (domain.LedgerEntry, error) {
	if req.Amount == nil && req.PaymentAmount == nil && req.Note == nil {
		return domain.LedgerEntry{}, store.ErrInvalidEntry
	}
	if req.Amount != nil && req.Amount.IsNegative() {
		return domain.LedgerEntry{}, store.ErrInvalidEntry
	}
	if req.PaymentAmount != nil && req.PaymentAmount.IsNegative() {
		return domain.LedgerEntry{}, store.ErrInvalidEntry
	}

	saved, err := s.repo.EditLedgerEntry(ctx, entryID, req.Amount, req.PaymentAmount, req.Note, req.Additive, time.Now().UTC())
	if err != nil {
		return domain.LedgerEntry{}, err
	}

	action := "ledger_edit"
	if req.Additive {
		action = "ledger_add_to"
	}
	s.logAudit(ctx, action, "ledger_entry", saved.ID, fmt.Sprintf("amount=%s payment=%s", saved.Amount, saved.PaymentAmount))

	return *saved, nil
}

// EnqueueOfflineInvoice stages a draft for the next drain. The client id is
// the idempotency anchor: it survives into the ledger entry as its dedupe
// key, so a drain interrupted after apply but before queue removal cannot
// double-book on retry.
func (s *Service) EnqueueOfflineInvoice(ctx context.Context, req domain.OfflineInvoiceRequest) (domain.QueuedInvoice, error) {
	if req.PartyID == "" || !req.Amount.IsPositive() {
		return domain.QueuedInvoice{}, store.ErrInvalidEntry
	}
	if req.PaymentAmount.IsNegative() || req.PaymentAmount.GreaterThan(req.Amount) {
		return domain.QueuedInvoice{}, store.ErrInvalidEntry
	}
	if req.Date != "" && req.Date != "today" {
		if _, err := time.Parse("2006-01-02", req.Date); err != nil {
			return domain.QueuedInvoice{}, store.ErrInvalidEntry
		}
	}

	var image []byte
	if req.ImageBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.ImageBase64)
		if err != nil {
			return domain.QueuedInvoice{}, store.ErrInvalidEntry
		}
		image = decoded
	}

	clientID := req.ClientID
	if clientID == "" {
		clientID = xid.New("oinv")
	}

	invoice := domain.QueuedInvoice{
		ClientID:      clientID,
		PartyID:       req.PartyID,
		Amount:        req.Amount,
		PaymentAmount: req.PaymentAmount,
		Note:          req.Note,
		Date:          req.Date,
		Image:         image,
		ImageName:     req.ImageName,
		EnqueuedAt:    time.Now().UTC(),
	}
	if err := s.queue.Enqueue(ctx, invoice); err != nil {
		return domain.QueuedInvoice{}, err
	}

	s.logAudit(ctx, "offline_enqueue", "queued_invoice", clientID, req.PartyID)

	// The staged image bytes stay out of the response.
	invoice.Image = nil
	return invoice, nil
}

func (s *Service) ListOfflineInvoices(ctx context.Context) ([]domain.QueuedInvoice, error) {
	invoices, err := s.queue.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range invoices {
		invoices[i].Image = nil
	}
	return invoices, nil
}

// DrainOfflineQueue applies every staged invoice. Records drain
// independently: a failure leaves that record queued and moves on. Applying
// is idempotent on the client id, so a drain interrupted between apply and
// removal is safe to rerun.
func (s *Service) DrainOfflineQueue(ctx context.Context) (domain.DrainResult, error) {
	invoices, err := s.queue.List(ctx)
	if err != nil {
		return domain.DrainResult{}, err
	}

	var result domain.DrainResult
	for _, invoice := range invoices {
		applied, err := s.drainOne(ctx, invoice)
		if err != nil {
			log.Printf("[service] WARN: drain of queued invoice %s failed: %v", invoice.ClientID, err)
			result.Failed++
			result.FailedIDs = append(result.FailedIDs, invoice.ClientID)
			continue
		}
		if applied {
			result.Applied++
		} else {
			result.Skipped++
		}
	}

	s.logAudit(ctx, "offline_drain", "queue", "", fmt.Sprintf("applied=%d skipped=%d failed=%d", result.Applied, result.Skipped, result.Failed))

	return result, nil
}

func (s *Service) drainOne(ctx context.Context, invoice domain.QueuedInvoice) (bool, error) {
	imageURL := ""
	if len(invoice.Image) > 0 {
		name := invoice.ImageName
		if name == "" {
			name = invoice.ClientID + ".jpg"
		}
		url, err := s.uploader.Upload(ctx, name, "image/jpeg", invoice.Image)
		if err != nil {
			return false, fmt.Errorf("upload image: %w", err)
		}
		imageURL = url
	}

	applied, err := s.repo.ApplyQueuedInvoice(ctx, domain.LedgerEntry{
		ID:            xid.New("led"),
		PartyID:       invoice.PartyID,
		Type:          domain.EntryInvoice,
		Amount:        invoice.Amount,
		PaymentAmount: invoice.PaymentAmount,
		Note:          invoice.Note,
		ImageURL:      imageURL,
		DedupeKey:     invoice.ClientID,
		CreatedAt:     entryTimestamp(invoice.Date),
	})
	if err != nil {
		return false, fmt.Errorf("apply entry: %w", err)
	}

	// Convergence pass. Even a skipped duplicate gets the party balance
	// re-derived, which absorbs any half-applied earlier attempt.
	if _, err := s.RecalculateBalance(ctx, invoice.PartyID); err != nil {
		return false, fmt.Errorf("recalculate after apply: %w", err)
	}

	if err := s.queue.Remove(ctx, invoice.ClientID); err != nil && !errors.Is(err, queue.ErrNotQueued) {
		return false, fmt.Errorf("remove from queue: %w", err)
	}
	return applied, nil
}

// entryTimestamp maps the drafted date to a concrete timestamp: "today" (or
// empty) means the moment of draining, anything else a fixed noon UTC on the
// drafted day.
func entryTimestamp(date string) time.Time {
	if date == "" || date == "today" {
		return time.Now().UTC()
	}
	parsed, err := time.Parse("2006-01-02", date)
	if err != nil {
		return time.Now().UTC()
	}
	return parsed.Add(12 * time.Hour)
}

func (s *Service) RecordTreasuryEntry(ctx context.Context, req domain.TreasuryEntryCreateRequest) (domain.TreasuryEntry, error) {
	if req.Type != domain.TreasuryTypeCash && req.Type != domain.TreasuryTypeBank {
		return domain.TreasuryEntry{}, store.ErrInvalidEntry
	}
	if req.Operation != domain.TreasuryOpCredit && req.Operation != domain.TreasuryOpDebit {
		return domain.TreasuryEntry{}, store.ErrInvalidEntry
	}
	if !req.Amount.IsPositive() {
		return domain.TreasuryEntry{}, store.ErrInvalidEntry
	}
	if req.ShiftID != "" {
		if _, err := s.repo.GetShiftByID(ctx, req.ShiftID); err != nil {
			return domain.TreasuryEntry{}, err
		}
	}

	saved, err := s.repo.CreateTreasuryEntry(ctx, domain.TreasuryEntry{
		ID:          xid.New("trs"),
		Type:        req.Type,
		Operation:   req.Operation,
		Amount:      req.Amount,
		Source:      req.Source,
		Destination: req.Destination,
		ShiftID:     req.ShiftID,
		Note:        req.Note,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return domain.TreasuryEntry{}, err
	}

	s.logAudit(ctx, "treasury_record", "treasury_entry", saved.ID, fmt.Sprintf("%s %s %s", req.Operation, req.Type, req.Amount))

	return *saved, nil
}

func (s *Service) TreasuryBalances(ctx context.Context) (domain.TreasuryBalances, error) {
	return s.repo.GetTreasuryBalances(ctx)
}

func (s *Service) ListShiftTreasuryEntries(ctx context.Context, shiftID string) ([]domain.TreasuryEntry, error) {
	if _, err := s.repo.GetShiftByID(ctx, shiftID); err != nil {
		return nil, err
	}
	return s.repo.ListTreasuryEntriesByShift(ctx, shiftID)
}

func (s *Service) OpenShift(ctx context.Context, req domain.ShiftOpenRequest) (domain.ShiftResponse, error) {
	if req.OpeningAmount.IsNegative() {
		return domain.ShiftResponse{}, store.ErrInvalidEntry
	}

	openedBy := "system"
	if actor, ok := ActorFromContext(ctx); ok {
		openedBy = actor.Username
	}

	saved, err := s.repo.OpenShift(ctx, domain.Shift{
		ID:            xid.New("shf"),
		Status:        domain.ShiftStatusOpen,
		OpeningAmount: req.OpeningAmount,
		OpenedBy:      openedBy,
		OpenedAt:      time.Now().UTC(),
	})
	if err != nil {
		return domain.ShiftResponse{}, err
	}

	s.logAudit(ctx, "shift_open", "shift", saved.ID, fmt.Sprintf("opening=%s", req.OpeningAmount))

	return domain.ShiftResponse{Shift: *saved}, nil
}

func (s *Service) CloseShift(ctx context.Context, req domain.ShiftCloseRequest) (domain.ShiftResponse, error) {
	if req.ShiftID == "" || req.ClosingAmount.IsNegative() {
		return domain.ShiftResponse{}, store.ErrInvalidEntry
	}

	saved, err := s.repo.CloseShift(ctx, req.ShiftID, req.ClosingAmount, time.Now().UTC())
	if err != nil {
		return domain.ShiftResponse{}, err
	}

	s.logAudit(ctx, "shift_close", "shift", saved.ID, fmt.Sprintf("closing=%s net_sales=%s", req.ClosingAmount, saved.NetSales))

	return domain.ShiftResponse{Shift: *saved}, nil
}

func (s *Service) GetOpenShift(ctx context.Context) (domain.ShiftResponse, error) {
	shift, err := s.repo.GetOpenShift(ctx)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	return domain.ShiftResponse{Shift: *shift}, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}
