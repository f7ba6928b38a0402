package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"kasaba/backend/internal/domain"
	"kasaba/backend/internal/ledger"
	"kasaba/backend/internal/store"
	"kasaba/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

var _ store.Repository = (*Store)(nil)

func (s *Store) CreateParty(ctx context.Context, party domain.Party) (*domain.Party, error) {
	if party.ID == "" {
		party.ID = xid.New("pty")
	}
	if party.CreatedAt.IsZero() {
		party.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO parties (id, name, phone, role, current_debt, credit_limit, is_credit_allowed, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, party.ID, party.Name, party.Phone, party.Role, party.CurrentDebt, party.CreditLimit, party.IsCreditAllowed, party.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidEntry
		}
		return nil, err
	}
	saved := party
	return &saved, nil
}

const partyColumns = `id, name, phone, role, current_debt, credit_limit, is_credit_allowed, recalculated_at, created_at`

func scanParty(row interface{ Scan(...any) error }) (*domain.Party, error) {
	var party domain.Party
	var recalculatedAt sql.NullTime
	if err := row.Scan(&party.ID, &party.Name, &party.Phone, &party.Role,
		&party.CurrentDebt, &party.CreditLimit, &party.IsCreditAllowed,
		&recalculatedAt, &party.CreatedAt); err != nil {
		return nil, err
	}
	if recalculatedAt.Valid {
		at := recalculatedAt.Time.UTC()
		party.RecalculatedAt = &at
	}
	return &party, nil
}

func (s *Store) GetPartyByID(ctx context.Context, id string) (*domain.Party, error) {
	party, err := scanParty(s.db.QueryRowContext(ctx, `
		SELECT `+partyColumns+` FROM parties WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return party, nil
}

func (s *Store) GetPartyByPhone(ctx context.Context, phone string) (*domain.Party, error) {
	party, err := scanParty(s.db.QueryRowContext(ctx, `
		SELECT `+partyColumns+` FROM parties WHERE phone = $1 AND phone <> ''
	`, phone))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return party, nil
}

func (s *Store) ListParties(ctx context.Context) ([]domain.Party, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+partyColumns+` FROM parties ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	parties := make([]domain.Party, 0, 64)
	for rows.Next() {
		party, err := scanParty(rows)
		if err != nil {
			return nil, err
		}
		parties = append(parties, *party)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return parties, nil
}

func (s *Store) SetPartyBalance(ctx context.Context, partyID string, balance decimal.Decimal, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE parties SET current_debt = $2, recalculated_at = $3 WHERE id = $1
	`, partyID, balance, at)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) IncrementPartyBalance(ctx context.Context, partyID string, delta decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE parties SET current_debt = current_debt + $2 WHERE id = $1
	`, partyID, delta)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

const ledgerColumns = `id, party_id, type, amount, payment_amount, note, order_ref, image_url, dedupe_key, created_at`

func scanLedgerEntry(row interface{ Scan(...any) error }) (*domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	if err := row.Scan(&entry.ID, &entry.PartyID, &entry.Type, &entry.Amount,
		&entry.PaymentAmount, &entry.Note, &entry.OrderRef, &entry.ImageURL,
		&entry.DedupeKey, &entry.CreatedAt); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Store) CreateLedgerEntry(ctx context.Context, entry domain.LedgerEntry) (*domain.LedgerEntry, error) {
	if entry.ID == "" {
		entry.ID = xid.New("led")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, party_id, type, amount, payment_amount, note, order_ref, image_url, dedupe_key, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9,''),$10)
	`, entry.ID, entry.PartyID, entry.Type, entry.Amount, entry.PaymentAmount,
		entry.Note, entry.OrderRef, entry.ImageURL, entry.DedupeKey, entry.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	saved := entry
	return &saved, nil
}

func (s *Store) GetLedgerEntry(ctx context.Context, id string) (*domain.LedgerEntry, error) {
	entry, err := scanLedgerEntry(s.db.QueryRowContext(ctx, `
		SELECT id, party_id, type, amount, payment_amount, note, order_ref, image_url, COALESCE(dedupe_key, ''), created_at
		FROM ledger_entries WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return entry, nil
}

func (s *Store) ListLedgerEntries(ctx context.Context, partyID string) ([]domain.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, party_id, type, amount, payment_amount, note, order_ref, image_url, COALESCE(dedupe_key, ''), created_at
		FROM ledger_entries WHERE party_id = $1 ORDER BY created_at
	`, partyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0, 64)
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) EditLedgerEntry(ctx context.Context, entryID string, amount, paymentAmount *decimal.Decimal, note *string, additive bool, at time.Time) (*domain.LedgerEntry, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	entry, err := scanLedgerEntry(tx.QueryRowContext(ctx, `
		SELECT id, party_id, type, amount, payment_amount, note, order_ref, image_url, COALESCE(dedupe_key, ''), created_at
		FROM ledger_entries WHERE id = $1 FOR UPDATE
	`, entryID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	oldEffect := ledger.Effect(*entry)
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
	newEffect := ledger.Effect(*entry)

	if _, err := tx.ExecContext(ctx, `
		UPDATE ledger_entries SET amount = $2, payment_amount = $3, note = $4, updated_at = $5
		WHERE id = $1
	`, entryID, entry.Amount, entry.PaymentAmount, entry.Note, at); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE parties SET current_debt = current_debt + $2 WHERE id = $1
	`, entry.PartyID, newEffect.Sub(oldEffect)); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Store) ApplyQueuedInvoice(ctx context.Context, entry domain.LedgerEntry) (bool, error) {
	if entry.DedupeKey == "" {
		return false, store.ErrInvalidEntry
	}
	if entry.ID == "" {
		entry.ID = xid.New("led")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var existing string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM ledger_entries WHERE dedupe_key = $1
	`, entry.DedupeKey).Scan(&existing)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, party_id, type, amount, payment_amount, note, order_ref, image_url, dedupe_key, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, entry.ID, entry.PartyID, entry.Type, entry.Amount, entry.PaymentAmount,
		entry.Note, entry.OrderRef, entry.ImageURL, entry.DedupeKey, entry.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		if isForeignKeyViolation(err) {
			return false, store.ErrNotFound
		}
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE parties SET current_debt = current_debt + $2 WHERE id = $1
	`, entry.PartyID, ledger.Effect(entry)); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	components, err := json.Marshal(product.Components)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, price, stock, is_bundle, components, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
	`, product.ID, product.Name, product.Price, product.Stock, product.IsBundle, components, product.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidEntry
		}
		return nil, err
	}
	saved := product
	return &saved, nil
}

func scanProduct(row interface{ Scan(...any) error }) (*domain.Product, error) {
	var product domain.Product
	var components []byte
	if err := row.Scan(&product.ID, &product.Name, &product.Price, &product.Stock,
		&product.IsBundle, &components, &product.Active); err != nil {
		return nil, err
	}
	if len(components) > 0 {
		if err := json.Unmarshal(components, &product.Components); err != nil {
			return nil, err
		}
	}
	return &product, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	product, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT id, name, price, stock, is_bundle, components, active
		FROM products WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return product, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price, stock, is_bundle, components, active
		FROM products WHERE active = true ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *product)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) PlaceOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if len(order.Items) == 0 {
		return nil, store.ErrInvalidEntry
	}
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusPlaced
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// Read phase: every referenced product, with bundle components resolved.
	for _, item := range order.Items {
		product, err := scanProduct(tx.QueryRowContext(ctx, `
			SELECT id, name, price, stock, is_bundle, components, active
			FROM products WHERE id = $1
		`, item.ProductID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, store.ErrNotFound
			}
			return nil, err
		}
		for _, comp := range product.Components {
			var exists string
			if err := tx.QueryRowContext(ctx, `
				SELECT id FROM products WHERE id = $1
			`, comp.ProductID).Scan(&exists); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return nil, store.ErrNotFound
				}
				return nil, err
			}
		}
	}

	var party *domain.Party
	if order.PartyID != "" {
		party, err = scanParty(tx.QueryRowContext(ctx, `
			SELECT `+partyColumns+` FROM parties WHERE id = $1 FOR UPDATE
		`, order.PartyID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, store.ErrNotFound
			}
			return nil, err
		}
	}

	// Validation phase.
	if party != nil && party.IsCreditAllowed {
		if party.CurrentDebt.Add(order.Total).GreaterThan(party.CreditLimit) {
			return nil, store.ErrCreditLimitExceeded
		}
	}

	// Write phase: the counter upsert and the order insert commit together,
	// so concurrent placements in one month cannot share a number.
	month := order.CreatedAt.Format("2006-01")
	var seq int
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO order_counters (month, value) VALUES ($1, 1)
		ON CONFLICT (month) DO UPDATE SET value = order_counters.value + 1
		RETURNING value
	`, month).Scan(&seq); err != nil {
		return nil, err
	}
	order.Number = formatOrderNumber(month, seq)

	items, err := json.Marshal(order.Items)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO orders (id, number, party_id, customer_phone, items, total, total_paid, status, created_at)
		VALUES ($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,$9)
	`, order.ID, order.Number, order.PartyID, order.CustomerPhone, items,
		order.Total, order.TotalPaid, order.Status, order.CreatedAt); err != nil {
		return nil, err
	}

	if party != nil {
		outstanding := order.Total.Sub(order.TotalPaid)
		if !outstanding.IsZero() {
			if _, err := tx.ExecContext(ctx, `
				UPDATE parties SET current_debt = current_debt + $2 WHERE id = $1
			`, party.ID, outstanding); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	saved := order
	return &saved, nil
}

func scanOrder(row interface{ Scan(...any) error }) (*domain.Order, error) {
	var order domain.Order
	var partyID sql.NullString
	var items []byte
	if err := row.Scan(&order.ID, &order.Number, &partyID, &order.CustomerPhone,
		&items, &order.Total, &order.TotalPaid, &order.Status, &order.CreatedAt); err != nil {
		return nil, err
	}
	if partyID.Valid {
		order.PartyID = partyID.String
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &order.Items); err != nil {
			return nil, err
		}
	}
	return &order, nil
}

const orderColumns = `id, number, party_id, customer_phone, items, total, total_paid, status, created_at`

func (s *Store) GetOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	order, err := scanOrder(s.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return order, nil
}

func (s *Store) ListOrdersForParty(ctx context.Context, partyID string, phone string) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE ($1 <> '' AND party_id = $1) OR ($2 <> '' AND customer_phone = $2)
		ORDER BY created_at
	`, partyID, phone)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, 32)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) CreateTreasuryEntry(ctx context.Context, entry domain.TreasuryEntry) (*domain.TreasuryEntry, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	saved, err := insertTreasuryEntryTx(ctx, tx, entry)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return saved, nil
}

// insertTreasuryEntryTx writes the entry row and folds it into the
// denormalized balances singleton inside the caller's transaction.
func insertTreasuryEntryTx(ctx context.Context, tx *sql.Tx, entry domain.TreasuryEntry) (*domain.TreasuryEntry, error) {
	if entry.ID == "" {
		entry.ID = xid.New("trs")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO treasury_entries (id, type, operation, amount, source, destination, shift_id, note, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,''),$8,$9)
	`, entry.ID, entry.Type, entry.Operation, entry.Amount, entry.Source,
		entry.Destination, entry.ShiftID, entry.Note, entry.CreatedAt); err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	delta := entry.Amount
	if entry.Operation == domain.TreasuryOpDebit {
		delta = delta.Neg()
	}
	cashDelta, bankDelta := decimal.Zero, decimal.Zero
	switch entry.Type {
	case domain.TreasuryTypeCash:
		cashDelta = delta
	case domain.TreasuryTypeBank:
		bankDelta = delta
	default:
		return nil, store.ErrInvalidEntry
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO treasury_balances (id, cash, bank, updated_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			cash = treasury_balances.cash + EXCLUDED.cash,
			bank = treasury_balances.bank + EXCLUDED.bank,
			updated_at = EXCLUDED.updated_at
	`, cashDelta, bankDelta, entry.CreatedAt); err != nil {
		return nil, err
	}

	saved := entry
	return &saved, nil
}

func (s *Store) ListTreasuryEntriesByShift(ctx context.Context, shiftID string) ([]domain.TreasuryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, operation, amount, source, destination, COALESCE(shift_id, ''), note, created_at
		FROM treasury_entries WHERE shift_id = $1 ORDER BY created_at
	`, shiftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.TreasuryEntry, 0, 32)
	for rows.Next() {
		var entry domain.TreasuryEntry
		if err := rows.Scan(&entry.ID, &entry.Type, &entry.Operation, &entry.Amount,
			&entry.Source, &entry.Destination, &entry.ShiftID, &entry.Note, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) GetTreasuryBalances(ctx context.Context) (domain.TreasuryBalances, error) {
	var balances domain.TreasuryBalances
	err := s.db.QueryRowContext(ctx, `
		SELECT cash, bank, updated_at FROM treasury_balances WHERE id = 1
	`).Scan(&balances.Cash, &balances.Bank, &balances.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.TreasuryBalances{Cash: decimal.Zero, Bank: decimal.Zero}, nil
		}
		return domain.TreasuryBalances{}, err
	}
	return balances, nil
}

const shiftColumns = `id, status, opening_amount, closing_amount, total_expenses, total_b2b_collected, net_sales, opened_by, opened_at, closed_at`

func scanShift(row interface{ Scan(...any) error }) (*domain.Shift, error) {
	var shift domain.Shift
	var closedAt sql.NullTime
	if err := row.Scan(&shift.ID, &shift.Status, &shift.OpeningAmount, &shift.ClosingAmount,
		&shift.TotalExpenses, &shift.TotalB2BCollected, &shift.NetSales,
		&shift.OpenedBy, &shift.OpenedAt, &closedAt); err != nil {
		return nil, err
	}
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		shift.ClosedAt = &at
	}
	return &shift, nil
}

func (s *Store) OpenShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error) {
	if shift.ID == "" {
		shift.ID = xid.New("shf")
	}
	if shift.OpenedAt.IsZero() {
		shift.OpenedAt = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusOpen
	shift.ClosedAt = nil

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var openID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM shifts WHERE status = 'open' LIMIT 1
	`).Scan(&openID)
	if err == nil {
		return nil, store.ErrShiftAlreadyOpen
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO shifts (id, status, opening_amount, closing_amount, total_expenses, total_b2b_collected, net_sales, opened_by, opened_at)
		VALUES ($1,$2,$3,0,0,0,0,$4,$5)
	`, shift.ID, shift.Status, shift.OpeningAmount, shift.OpenedBy, shift.OpenedAt); err != nil {
		// The partial unique index on open shifts backs up the read check.
		if isUniqueViolation(err) {
			return nil, store.ErrShiftAlreadyOpen
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	saved := shift
	return &saved, nil
}

func (s *Store) CloseShift(ctx context.Context, shiftID string, closingAmount decimal.Decimal, closedAt time.Time) (*domain.Shift, error) {
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	shift, err := scanShift(tx.QueryRowContext(ctx, `
		SELECT `+shiftColumns+` FROM shifts WHERE id = $1 FOR UPDATE
	`, shiftID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if shift.Status != domain.ShiftStatusOpen {
		return nil, store.ErrShiftClosed
	}

	var expenses, b2b decimal.Decimal
	if err := tx.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE source = $2), 0),
			COALESCE(SUM(amount) FILTER (WHERE source = $3), 0)
		FROM treasury_entries WHERE shift_id = $1
	`, shiftID, domain.TreasurySourceExpense, domain.TreasurySourceB2BPayment).Scan(&expenses, &b2b); err != nil {
		return nil, err
	}

	shift.Status = domain.ShiftStatusClosed
	shift.ClosingAmount = closingAmount
	shift.TotalExpenses = expenses
	shift.TotalB2BCollected = b2b
	shift.NetSales = ledger.NetSales(shift.OpeningAmount, closingAmount, expenses, b2b)
	shift.ClosedAt = &closedAt

	if _, err := tx.ExecContext(ctx, `
		UPDATE shifts SET status = $2, closing_amount = $3, total_expenses = $4,
			total_b2b_collected = $5, net_sales = $6, closed_at = $7
		WHERE id = $1
	`, shiftID, shift.Status, shift.ClosingAmount, shift.TotalExpenses,
		shift.TotalB2BCollected, shift.NetSales, closedAt); err != nil {
		return nil, err
	}

	if shift.NetSales.IsPositive() {
		if _, err := insertTreasuryEntryTx(ctx, tx, domain.TreasuryEntry{
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

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return shift, nil
}

func (s *Store) GetOpenShift(ctx context.Context) (*domain.Shift, error) {
	shift, err := scanShift(s.db.QueryRowContext(ctx, `
		SELECT `+shiftColumns+` FROM shifts WHERE status = 'open' LIMIT 1
	`))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return shift, nil
}

func (s *Store) GetShiftByID(ctx context.Context, id string) (*domain.Shift, error) {
	shift, err := scanShift(s.db.QueryRowContext(ctx, `
		SELECT `+shiftColumns+` FROM shifts WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return shift, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action,
		entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	if to.IsZero() {
		to = time.Now().UTC().Add(time.Hour)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at <= $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (username) DO UPDATE SET role = EXCLUDED.role, active = EXCLUDED.active
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at FROM users ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func formatOrderNumber(month string, seq int) string {
	return fmt.Sprintf("%s-%04d", month, seq)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}
