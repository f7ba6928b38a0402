package service

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"kasaba/backend/internal/domain"
	"kasaba/backend/internal/queue"
	"kasaba/backend/internal/store"
	"kasaba/backend/internal/store/memory"
)

func dec(v string) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	if err != nil {
		panic(err)
	}
	return d
}

func decp(v string) *decimal.Decimal {
	d := dec(v)
	return &d
}

type fakeUploader struct {
	mu      sync.Mutex
	failFor string
	uploads int
}

func (f *fakeUploader) Upload(ctx context.Context, name string, contentType string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor != "" && strings.Contains(name, f.failFor) {
		return "", errors.New("upload refused")
	}
	f.uploads++
	return "https://img.example/" + name, nil
}

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.New()
	return New(repo, queue.NewMemory(), nil, nil), repo
}

func mustCreateParty(t *testing.T, svc *Service, name string, creditLimit string, creditAllowed bool) domain.Party {
	t.Helper()
	party, err := svc.CreateParty(context.Background(), domain.PartyCreateRequest{
		Name:            name,
		Phone:           "0812-" + name,
		Role:            domain.RoleRestaurant,
		CreditLimit:     dec(creditLimit),
		IsCreditAllowed: creditAllowed,
	})
	if err != nil {
		t.Fatalf("create party: %v", err)
	}
	return party
}

func mustCreateProduct(t *testing.T, svc *Service, name string, price string) domain.Product {
	t.Helper()
	product, err := svc.CreateProduct(context.Background(), domain.ProductCreateRequest{
		Name:  name,
		Price: dec(price),
		Stock: 100,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	return product
}

func TestQuickWriterAppliesSignedEffect(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	party := mustCreateParty(t, svc, "warung-a", "0", false)

	if _, err := svc.RecordLedgerEntry(ctx, party.ID, domain.LedgerEntryCreateRequest{
		Type: domain.EntryInvoice, Amount: dec("1000"), PaymentAmount: dec("300"),
	}); err != nil {
		t.Fatalf("record invoice: %v", err)
	}
	if _, err := svc.RecordLedgerEntry(ctx, party.ID, domain.LedgerEntryCreateRequest{
		Type: domain.EntryPayment, Amount: dec("200"),
	}); err != nil {
		t.Fatalf("record payment: %v", err)
	}

	got, err := svc.GetParty(ctx, party.ID)
	if err != nil {
		t.Fatalf("get party: %v", err)
	}
	if !got.CurrentDebt.Equal(dec("500")) {
		t.Fatalf("expected debt 500, got %s", got.CurrentDebt)
	}
}

func TestQuickWriterRejectsOrderLinkedTypes(t *testing.T) {
	svc, _ := newTestService(t)
	party := mustCreateParty(t, svc, "warung-b", "0", false)

	_, err := svc.RecordLedgerEntry(context.Background(), party.ID, domain.LedgerEntryCreateRequest{
		Type: domain.EntryOrderPlaced, Amount: dec("100"),
	})
	if !errors.Is(err, store.ErrInvalidEntry) {
		t.Fatalf("expected ErrInvalidEntry, got %v", err)
	}
}

func TestRecalculateIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	party := mustCreateParty(t, svc, "resto-c", "0", false)

	for _, req := range []domain.LedgerEntryCreateRequest{
		{Type: domain.EntryOldDebt, Amount: dec("900")},
		{Type: domain.EntryInvoice, Amount: dec("400"), PaymentAmount: dec("100")},
		{Type: domain.EntryPayment, Amount: dec("250")},
	} {
		if _, err := svc.RecordLedgerEntry(ctx, party.ID, req); err != nil {
			t.Fatalf("record entry: %v", err)
		}
	}

	first, err := svc.RecalculateBalance(ctx, party.ID)
	if err != nil {
		t.Fatalf("first recalculation: %v", err)
	}
	second, err := svc.RecalculateBalance(ctx, party.ID)
	if err != nil {
		t.Fatalf("second recalculation: %v", err)
	}
	if !first.NewBalance.Equal(second.NewBalance) {
		t.Fatalf("recalculation not idempotent: %s then %s", first.NewBalance, second.NewBalance)
	}
	if !first.NewBalance.Equal(dec("950")) {
		t.Fatalf("expected balance 950, got %s", first.NewBalance)
	}
}

func TestRecalculateDoesNotDoubleCountInvoicedOrders(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	party := mustCreateParty(t, svc, "resto-d", "100000", true)
	product := mustCreateProduct(t, svc, "rice-sack", "400")

	placed, err := svc.PlaceOrder(ctx, domain.OrderCreateRequest{
		PartyID: party.ID,
		Items:   []domain.OrderItem{{ProductID: product.ID, Qty: 1}},
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	// The cashier later records the same order as an explicit invoice entry.
	repo := svcRepo(svc)
	if _, err := repo.CreateLedgerEntry(ctx, domain.LedgerEntry{
		PartyID:  party.ID,
		Type:     domain.EntryInvoice,
		Amount:   dec("400"),
		OrderRef: placed.Order.ID,
	}); err != nil {
		t.Fatalf("create invoice entry: %v", err)
	}

	result, err := svc.RecalculateBalance(ctx, party.ID)
	if err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	if !result.NewBalance.Equal(dec("400")) {
		t.Fatalf("expected 400 (order folded once), got %s", result.NewBalance)
	}
}

// svcRepo exposes the repository for tests that need to set up raw records.
func svcRepo(s *Service) store.Repository {
	return s.repo
}

func TestPlaceOrderEnforcesCreditLimit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	party := mustCreateParty(t, svc, "resto-e", "1000", true)
	product := mustCreateProduct(t, svc, "oil-can", "300")

	if _, err := svc.RecordLedgerEntry(ctx, party.ID, domain.LedgerEntryCreateRequest{
		Type: domain.EntryOldDebt, Amount: dec("800"),
	}); err != nil {
		t.Fatalf("seed debt: %v", err)
	}

	_, err := svc.PlaceOrder(ctx, domain.OrderCreateRequest{
		PartyID: party.ID,
		Items:   []domain.OrderItem{{ProductID: product.ID, Qty: 1}},
	})
	if !errors.Is(err, store.ErrCreditLimitExceeded) {
		t.Fatalf("expected ErrCreditLimitExceeded, got %v", err)
	}

	// No partial state: debt unchanged, no order persisted.
	got, err := svc.GetParty(ctx, party.ID)
	if err != nil {
		t.Fatalf("get party: %v", err)
	}
	if !got.CurrentDebt.Equal(dec("800")) {
		t.Fatalf("expected debt still 800, got %s", got.CurrentDebt)
	}
	orders, err := svcRepo(svc).ListOrdersForParty(ctx, party.ID, got.Phone)
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(orders) != 0 {
		t.Fatalf("expected no orders after rejected placement, got %d", len(orders))
	}
}

func TestPlaceOrderIncrementsDebtByOutstanding(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	party := mustCreateParty(t, svc, "resto-f", "100000", true)
	product := mustCreateProduct(t, svc, "flour-bag", "500")

	placed, err := svc.PlaceOrder(ctx, domain.OrderCreateRequest{
		PartyID:   party.ID,
		Items:     []domain.OrderItem{{ProductID: product.ID, Qty: 3}},
		TotalPaid: dec("500"),
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if !placed.Order.Total.Equal(dec("1500")) {
		t.Fatalf("expected total 1500, got %s", placed.Order.Total)
	}

	got, err := svc.GetParty(ctx, party.ID)
	if err != nil {
		t.Fatalf("get party: %v", err)
	}
	if !got.CurrentDebt.Equal(dec("1000")) {
		t.Fatalf("expected debt 1000, got %s", got.CurrentDebt)
	}
}

func TestPlaceOrderAssignsUniqueNumbersConcurrently(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	party := mustCreateParty(t, svc, "resto-g", "1000000", true)
	product := mustCreateProduct(t, svc, "sugar-pack", "10")

	const workers = 20
	numbers := make(chan string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			placed, err := svc.PlaceOrder(ctx, domain.OrderCreateRequest{
				PartyID:   party.ID,
				Items:     []domain.OrderItem{{ProductID: product.ID, Qty: 1}},
				TotalPaid: dec("10"),
			})
			if err != nil {
				t.Errorf("place order: %v", err)
				return
			}
			numbers <- placed.Order.Number
		}()
	}
	wg.Wait()
	close(numbers)

	seen := make(map[string]bool)
	for number := range numbers {
		if seen[number] {
			t.Fatalf("duplicate order number %s", number)
		}
		seen[number] = true
	}
	if len(seen) != workers {
		t.Fatalf("expected %d unique numbers, got %d", workers, len(seen))
	}
}

func TestEditLedgerEntryAppliesDelta(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	party := mustCreateParty(t, svc, "resto-h", "0", false)

	entry, err := svc.RecordLedgerEntry(ctx, party.ID, domain.LedgerEntryCreateRequest{
		Type: domain.EntryInvoice, Amount: dec("1000"),
	})
	if err != nil {
		t.Fatalf("record entry: %v", err)
	}

	// 1000 -> 600 moves the balance by -400.
	if _, err := svc.EditLedgerEntry(ctx, entry.ID, domain.LedgerEntryEditRequest{
		Amount: decp("600"),
	}); err != nil {
		t.Fatalf("edit entry: %v", err)
	}

	got, err := svc.GetParty(ctx, party.ID)
	if err != nil {
		t.Fatalf("get party: %v", err)
	}
	if !got.CurrentDebt.Equal(dec("600")) {
		t.Fatalf("expected debt 600 after edit, got %s", got.CurrentDebt)
	}
}

func TestAddToLedgerEntryIncrementsAmounts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	party := mustCreateParty(t, svc, "resto-i", "0", false)

	entry, err := svc.RecordLedgerEntry(ctx, party.ID, domain.LedgerEntryCreateRequest{
		Type: domain.EntryInvoice, Amount: dec("1000"), PaymentAmount: dec("200"),
	})
	if err != nil {
		t.Fatalf("record entry: %v", err)
	}

	edited, err := svc.EditLedgerEntry(ctx, entry.ID, domain.LedgerEntryEditRequest{
		Amount:        decp("500"),
		PaymentAmount: decp("100"),
		Additive:      true,
	})
	if err != nil {
		t.Fatalf("add to entry: %v", err)
	}
	if !edited.Amount.Equal(dec("1500")) || !edited.PaymentAmount.Equal(dec("300")) {
		t.Fatalf("expected 1500/300, got %s/%s", edited.Amount, edited.PaymentAmount)
	}

	got, err := svc.GetParty(ctx, party.ID)
	if err != nil {
		t.Fatalf("get party: %v", err)
	}
	// Effect moved from 800 to 1200.
	if !got.CurrentDebt.Equal(dec("1200")) {
		t.Fatalf("expected debt 1200, got %s", got.CurrentDebt)
	}
}

func TestRecordLedgerEntryRejectsPaymentExceedingAmount(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	party := mustCreateParty(t, svc, "resto-pe", "0", false)

	_, err := svc.RecordLedgerEntry(ctx, party.ID, domain.LedgerEntryCreateRequest{
		Type: domain.EntryInvoice, Amount: dec("100"), PaymentAmount: dec("500"),
	})
	if !errors.Is(err, store.ErrInvalidEntry) {
		t.Fatalf("expected ErrInvalidEntry, got %v", err)
	}

	got, err := svc.GetParty(ctx, party.ID)
	if err != nil {
		t.Fatalf("get party: %v", err)
	}
	if !got.CurrentDebt.IsZero() {
		t.Fatalf("expected untouched balance, got %s", got.CurrentDebt)
	}
	entries, err := svc.ListLedgerEntries(ctx, party.ID)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries persisted, got %d", len(entries))
	}
}

func TestEditLedgerEntryRejectsPaymentExceedingAmount(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	party := mustCreateParty(t, svc, "resto-pf", "0", false)

	entry, err := svc.RecordLedgerEntry(ctx, party.ID, domain.LedgerEntryCreateRequest{
		Type: domain.EntryInvoice, Amount: dec("1000"), PaymentAmount: dec("200"),
	})
	if err != nil {
		t.Fatalf("record entry: %v", err)
	}

	// A replace edit whose payment would exceed the amount must not land.
	if _, err := svc.EditLedgerEntry(ctx, entry.ID, domain.LedgerEntryEditRequest{
		PaymentAmount: decp("2000"),
	}); !errors.Is(err, store.ErrInvalidEntry) {
		t.Fatalf("expected ErrInvalidEntry, got %v", err)
	}
	// Same for the additive variant.
	if _, err := svc.EditLedgerEntry(ctx, entry.ID, domain.LedgerEntryEditRequest{
		PaymentAmount: decp("900"),
		Additive:      true,
	}); !errors.Is(err, store.ErrInvalidEntry) {
		t.Fatalf("expected ErrInvalidEntry for additive overshoot, got %v", err)
	}

	kept, err := repo.GetLedgerEntry(ctx, entry.ID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if !kept.Amount.Equal(dec("1000")) || !kept.PaymentAmount.Equal(dec("200")) {
		t.Fatalf("expected 1000/200 untouched, got %s/%s", kept.Amount, kept.PaymentAmount)
	}
	got, err := svc.GetParty(ctx, party.ID)
	if err != nil {
		t.Fatalf("get party: %v", err)
	}
	if !got.CurrentDebt.Equal(dec("800")) {
		t.Fatalf("expected debt 800 untouched, got %s", got.CurrentDebt)
	}
}

func TestNoteOnlyEditPreservesAmounts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	party := mustCreateParty(t, svc, "resto-ne", "0", false)

	entry, err := svc.RecordLedgerEntry(ctx, party.ID, domain.LedgerEntryCreateRequest{
		Type: domain.EntryInvoice, Amount: dec("1000"), Note: "galon",
	})
	if err != nil {
		t.Fatalf("record entry: %v", err)
	}

	note := "galon isi ulang"
	edited, err := svc.EditLedgerEntry(ctx, entry.ID, domain.LedgerEntryEditRequest{
		Note: &note,
	})
	if err != nil {
		t.Fatalf("note-only edit: %v", err)
	}
	if edited.Note != note {
		t.Fatalf("expected note %q, got %q", note, edited.Note)
	}
	if !edited.Amount.Equal(dec("1000")) || !edited.PaymentAmount.IsZero() {
		t.Fatalf("expected amounts preserved, got %s/%s", edited.Amount, edited.PaymentAmount)
	}

	got, err := svc.GetParty(ctx, party.ID)
	if err != nil {
		t.Fatalf("get party: %v", err)
	}
	if !got.CurrentDebt.Equal(dec("1000")) {
		t.Fatalf("expected debt 1000 after note-only edit, got %s", got.CurrentDebt)
	}
}

func TestEditLedgerEntryRejectsEmptyRequest(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	party := mustCreateParty(t, svc, "resto-er", "0", false)

	entry, err := svc.RecordLedgerEntry(ctx, party.ID, domain.LedgerEntryCreateRequest{
		Type: domain.EntryInvoice, Amount: dec("100"),
	})
	if err != nil {
		t.Fatalf("record entry: %v", err)
	}

	if _, err := svc.EditLedgerEntry(ctx, entry.ID, domain.LedgerEntryEditRequest{}); !errors.Is(err, store.ErrInvalidEntry) {
		t.Fatalf("expected ErrInvalidEntry for empty edit, got %v", err)
	}
}

func TestEnqueueOfflineInvoiceRejectsPaymentExceedingAmount(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	party := mustCreateParty(t, svc, "resto-pq", "0", false)

	_, err := svc.EnqueueOfflineInvoice(ctx, domain.OfflineInvoiceRequest{
		PartyID:       party.ID,
		Amount:        dec("100"),
		PaymentAmount: dec("500"),
	})
	if !errors.Is(err, store.ErrInvalidEntry) {
		t.Fatalf("expected ErrInvalidEntry, got %v", err)
	}
}

func TestDrainAppliesQueuedInvoices(t *testing.T) {
	repo := memory.New()
	uploader := &fakeUploader{}
	svc := New(repo, queue.NewMemory(), uploader, nil)
	ctx := context.Background()
	party := mustCreateParty(t, svc, "resto-j", "0", false)

	image := base64.StdEncoding.EncodeToString([]byte("jpeg-bytes"))
	if _, err := svc.EnqueueOfflineInvoice(ctx, domain.OfflineInvoiceRequest{
		PartyID:     party.ID,
		Amount:      dec("700"),
		Note:        "offline sale",
		Date:        "2026-08-12",
		ImageBase64: image,
		ImageName:   "receipt.jpg",
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	result, err := svc.DrainOfflineQueue(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if result.Applied != 1 || result.Failed != 0 {
		t.Fatalf("expected 1 applied, got %+v", result)
	}
	if uploader.uploads != 1 {
		t.Fatalf("expected 1 upload, got %d", uploader.uploads)
	}

	got, err := svc.GetParty(ctx, party.ID)
	if err != nil {
		t.Fatalf("get party: %v", err)
	}
	if !got.CurrentDebt.Equal(dec("700")) {
		t.Fatalf("expected debt 700 after drain, got %s", got.CurrentDebt)
	}

	entries, err := svc.ListLedgerEntries(ctx, party.ID)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 1 || entries[0].ImageURL == "" {
		t.Fatalf("expected one entry with image url, got %+v", entries)
	}

	pending, err := svc.ListOfflineInvoices(ctx)
	if err != nil {
		t.Fatalf("list queue: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty queue after drain, got %d", len(pending))
	}
}

func TestDrainIsolatesFailingRecords(t *testing.T) {
	repo := memory.New()
	uploader := &fakeUploader{failFor: "broken"}
	svc := New(repo, queue.NewMemory(), uploader, nil)
	ctx := context.Background()
	party := mustCreateParty(t, svc, "resto-k", "0", false)

	image := base64.StdEncoding.EncodeToString([]byte("jpeg-bytes"))
	for _, name := range []string{"good-1.jpg", "broken.jpg", "good-2.jpg"} {
		if _, err := svc.EnqueueOfflineInvoice(ctx, domain.OfflineInvoiceRequest{
			PartyID:     party.ID,
			Amount:      dec("100"),
			ImageBase64: image,
			ImageName:   name,
		}); err != nil {
			t.Fatalf("enqueue %s: %v", name, err)
		}
	}

	result, err := svc.DrainOfflineQueue(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if result.Applied != 2 || result.Failed != 1 {
		t.Fatalf("expected 2 applied 1 failed, got %+v", result)
	}

	pending, err := svc.ListOfflineInvoices(ctx)
	if err != nil {
		t.Fatalf("list queue: %v", err)
	}
	if len(pending) != 1 || pending[0].ImageName != "broken.jpg" {
		t.Fatalf("expected only the failing record queued, got %+v", pending)
	}

	got, err := svc.GetParty(ctx, party.ID)
	if err != nil {
		t.Fatalf("get party: %v", err)
	}
	if !got.CurrentDebt.Equal(dec("200")) {
		t.Fatalf("expected debt 200, got %s", got.CurrentDebt)
	}
}

func TestDrainIsIdempotentPerClientID(t *testing.T) {
	repo := memory.New()
	q := queue.NewMemory()
	svc := New(repo, q, nil, nil)
	ctx := context.Background()
	party := mustCreateParty(t, svc, "resto-l", "0", false)

	staged, err := svc.EnqueueOfflineInvoice(ctx, domain.OfflineInvoiceRequest{
		PartyID: party.ID,
		Amount:  dec("300"),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := svc.DrainOfflineQueue(ctx); err != nil {
		t.Fatalf("first drain: %v", err)
	}

	// Simulate an interrupted drain: the record is applied but was never
	// removed from the queue, then drain runs again.
	if err := q.Enqueue(ctx, domain.QueuedInvoice{
		ClientID: staged.ClientID,
		PartyID:  party.ID,
		Amount:   dec("300"),
	}); err != nil {
		t.Fatalf("re-stage: %v", err)
	}
	result, err := svc.DrainOfflineQueue(ctx)
	if err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if result.Applied != 0 || result.Skipped != 1 {
		t.Fatalf("expected the duplicate to be skipped, got %+v", result)
	}

	got, err := svc.GetParty(ctx, party.ID)
	if err != nil {
		t.Fatalf("get party: %v", err)
	}
	if !got.CurrentDebt.Equal(dec("300")) {
		t.Fatalf("expected debt 300 after double drain, got %s", got.CurrentDebt)
	}
	entries, err := svc.ListLedgerEntries(ctx, party.ID)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected a single ledger entry, got %d", len(entries))
	}
}

func TestOpenShiftRejectsConcurrentSecondOpen(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	const attempts = 10
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{OpeningAmount: dec("5000")})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	opened := 0
	for err := range errs {
		if err == nil {
			opened++
		} else if !errors.Is(err, store.ErrShiftAlreadyOpen) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if opened != 1 {
		t.Fatalf("expected exactly one successful open, got %d", opened)
	}
}

func TestCloseShiftReconciliation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	opened, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{OpeningAmount: dec("5000")})
	if err != nil {
		t.Fatalf("open shift: %v", err)
	}

	if _, err := svc.RecordTreasuryEntry(ctx, domain.TreasuryEntryCreateRequest{
		Type: domain.TreasuryTypeCash, Operation: domain.TreasuryOpDebit,
		Amount: dec("800"), Source: domain.TreasurySourceExpense,
		Destination: domain.TreasuryDestDrawer, ShiftID: opened.Shift.ID,
	}); err != nil {
		t.Fatalf("record expense: %v", err)
	}
	if _, err := svc.RecordTreasuryEntry(ctx, domain.TreasuryEntryCreateRequest{
		Type: domain.TreasuryTypeCash, Operation: domain.TreasuryOpCredit,
		Amount: dec("1200"), Source: domain.TreasurySourceB2BPayment,
		Destination: domain.TreasuryDestDrawer, ShiftID: opened.Shift.ID,
	}); err != nil {
		t.Fatalf("record b2b payment: %v", err)
	}

	closed, err := svc.CloseShift(ctx, domain.ShiftCloseRequest{
		ShiftID:       opened.Shift.ID,
		ClosingAmount: dec("9000"),
	})
	if err != nil {
		t.Fatalf("close shift: %v", err)
	}

	// (9000 + 800) - (5000 + 1200) = 3600
	if !closed.Shift.NetSales.Equal(dec("3600")) {
		t.Fatalf("expected net sales 3600, got %s", closed.Shift.NetSales)
	}
	if closed.Shift.Status != domain.ShiftStatusClosed {
		t.Fatalf("expected closed shift, got %s", closed.Shift.Status)
	}

	entries, err := svc.ListShiftTreasuryEntries(ctx, opened.Shift.ID)
	if err != nil {
		t.Fatalf("list treasury entries: %v", err)
	}
	dailySales := 0
	for _, entry := range entries {
		if entry.Source == domain.TreasurySourceDailySales {
			dailySales++
			if !entry.Amount.Equal(dec("3600")) || entry.Destination != domain.TreasuryDestSafe {
				t.Fatalf("unexpected daily sales entry: %+v", entry)
			}
		}
	}
	if dailySales != 1 {
		t.Fatalf("expected exactly one daily sales credit, got %d", dailySales)
	}

	if _, err := svc.CloseShift(ctx, domain.ShiftCloseRequest{
		ShiftID:       opened.Shift.ID,
		ClosingAmount: dec("9000"),
	}); !errors.Is(err, store.ErrShiftClosed) {
		t.Fatalf("expected ErrShiftClosed on double close, got %v", err)
	}
}

func TestCloseShiftSkipsDailySalesWhenNotPositive(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	opened, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{OpeningAmount: dec("5000")})
	if err != nil {
		t.Fatalf("open shift: %v", err)
	}
	closed, err := svc.CloseShift(ctx, domain.ShiftCloseRequest{
		ShiftID:       opened.Shift.ID,
		ClosingAmount: dec("4000"),
	})
	if err != nil {
		t.Fatalf("close shift: %v", err)
	}
	if !closed.Shift.NetSales.Equal(dec("-1000")) {
		t.Fatalf("expected net sales -1000, got %s", closed.Shift.NetSales)
	}

	entries, err := svc.ListShiftTreasuryEntries(ctx, opened.Shift.ID)
	if err != nil {
		t.Fatalf("list treasury entries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no treasury entries for an undercount, got %d", len(entries))
	}
}

func TestTreasuryBalancesTrackEntries(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.RecordTreasuryEntry(ctx, domain.TreasuryEntryCreateRequest{
		Type: domain.TreasuryTypeCash, Operation: domain.TreasuryOpCredit, Amount: dec("2000"),
	}); err != nil {
		t.Fatalf("record cash credit: %v", err)
	}
	if _, err := svc.RecordTreasuryEntry(ctx, domain.TreasuryEntryCreateRequest{
		Type: domain.TreasuryTypeCash, Operation: domain.TreasuryOpDebit, Amount: dec("500"),
	}); err != nil {
		t.Fatalf("record cash debit: %v", err)
	}
	if _, err := svc.RecordTreasuryEntry(ctx, domain.TreasuryEntryCreateRequest{
		Type: domain.TreasuryTypeBank, Operation: domain.TreasuryOpCredit, Amount: dec("10000"),
	}); err != nil {
		t.Fatalf("record bank credit: %v", err)
	}

	balances, err := svc.TreasuryBalances(ctx)
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if !balances.Cash.Equal(dec("1500")) || !balances.Bank.Equal(dec("10000")) {
		t.Fatalf("expected cash 1500 bank 10000, got %s/%s", balances.Cash, balances.Bank)
	}
}

func TestRecordTreasuryEntryValidatesTypeAndOperation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []domain.TreasuryEntryCreateRequest{
		{Type: "gold", Operation: domain.TreasuryOpCredit, Amount: dec("10")},
		{Type: domain.TreasuryTypeCash, Operation: "transfer", Amount: dec("10")},
		{Type: domain.TreasuryTypeCash, Operation: domain.TreasuryOpCredit, Amount: dec("0")},
	}
	for i, req := range cases {
		if _, err := svc.RecordTreasuryEntry(ctx, req); !errors.Is(err, store.ErrInvalidEntry) {
			t.Fatalf("case %d: expected ErrInvalidEntry, got %v", i, err)
		}
	}
}

func TestCreatePartyWithOpeningBalance(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	party, err := svc.CreateParty(ctx, domain.PartyCreateRequest{
		Name:           "toko-m",
		Role:           domain.RoleIndividual,
		OpeningBalance: dec("1500"),
	})
	if err != nil {
		t.Fatalf("create party: %v", err)
	}
	if !party.CurrentDebt.Equal(dec("1500")) {
		t.Fatalf("expected opening debt 1500, got %s", party.CurrentDebt)
	}

	entries, err := svc.ListLedgerEntries(ctx, party.ID)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Type != domain.EntryOpeningBalance {
		t.Fatalf("expected a single opening balance entry, got %+v", entries)
	}
}

func TestRecalculateMissingPartyWritesNothing(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.RecalculateBalance(context.Background(), "pty-missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAuditTrailRecordsMutations(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := WithActor(context.Background(), domain.Actor{Username: "owner", Role: "admin"})

	party, err := svc.CreateParty(ctx, domain.PartyCreateRequest{
		Name: "toko-n", Role: domain.RoleSupplier,
	})
	if err != nil {
		t.Fatalf("create party: %v", err)
	}
	if _, err := svc.RecordLedgerEntry(ctx, party.ID, domain.LedgerEntryCreateRequest{
		Type: domain.EntryInvoice, Amount: dec("100"),
	}); err != nil {
		t.Fatalf("record entry: %v", err)
	}

	logs, err := svc.ListAuditLogs(ctx, time.Time{}, time.Time{}, 10)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(logs) < 2 {
		t.Fatalf("expected at least two audit rows, got %d", len(logs))
	}
	for _, entry := range logs {
		if entry.ActorUsername != "owner" {
			t.Fatalf("expected actor owner, got %q", entry.ActorUsername)
		}
	}
}
