package ledger

import (
	"github.com/shopspring/decimal"

	"kasaba/backend/internal/domain"
)

// Effect returns the signed contribution of a ledger entry to its party's
// debt balance. Debt is positive: invoices raise it, payments lower it.
// Unknown types contribute zero rather than guessing a sign.
func Effect(entry domain.LedgerEntry) decimal.Decimal {
	switch entry.Type {
	case domain.EntryInvoice, domain.EntryOrderPlaced:
		return entry.Amount.Sub(entry.PaymentAmount)
	case domain.EntryPayment, domain.EntryPaymentReceived:
		return entry.Amount.Neg()
	case domain.EntryOldDebt, domain.EntryOpeningBalance:
		return entry.Amount
	default:
		return decimal.Zero
	}
}

// OrderEffect is the synthetic debt effect of an order that was never
// converted into an explicit invoice entry.
func OrderEffect(order domain.Order) decimal.Decimal {
	return order.Total.Sub(order.TotalPaid)
}

// ReferencedOrderKeys collects every order id or order number already claimed
// by a ledger entry. Orders present in this set must not be folded again.
func ReferencedOrderKeys(entries []domain.LedgerEntry) map[string]struct{} {
	keys := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if entry.OrderRef != "" {
			keys[entry.OrderRef] = struct{}{}
		}
	}
	return keys
}

// FoldBalance replays a party's full history: every ledger entry, plus every
// order that no entry references (by id or number). This is the authoritative
// balance; the denormalized field on the party record is only a cache of it.
func FoldBalance(entries []domain.LedgerEntry, orders []domain.Order) decimal.Decimal {
	balance := decimal.Zero
	for _, entry := range entries {
		balance = balance.Add(Effect(entry))
	}

	referenced := ReferencedOrderKeys(entries)
	for _, order := range orders {
		if order.Status == domain.OrderStatusCancelled {
			continue
		}
		if _, ok := referenced[order.ID]; ok {
			continue
		}
		if _, ok := referenced[order.Number]; ok {
			continue
		}
		balance = balance.Add(OrderEffect(order))
	}
	return balance
}

// NetSales isolates true sales revenue from a drawer count: the cash counted
// at close should equal the opening float, plus sales, minus drawer-funded
// expenses, plus non-sales cash (b2b debt payments) collected into the drawer.
//
//	netSales = (closing + expenses) - (opening + b2b)
func NetSales(opening, closing, expenses, b2bCollected decimal.Decimal) decimal.Decimal {
	return closing.Add(expenses).Sub(opening.Add(b2bCollected))
}

// IsQuickEntryType reports whether the type may be written through the
// quick-transaction path. Order-linked types are reserved for order flows.
func IsQuickEntryType(entryType string) bool {
	switch entryType {
	case domain.EntryInvoice, domain.EntryPayment, domain.EntryOldDebt, domain.EntryOpeningBalance:
		return true
	default:
		return false
	}
}

// IsKnownEntryType reports whether the effect rule covers the type.
func IsKnownEntryType(entryType string) bool {
	switch entryType {
	case domain.EntryInvoice, domain.EntryPayment, domain.EntryOldDebt,
		domain.EntryOpeningBalance, domain.EntryOrderPlaced, domain.EntryPaymentReceived:
		return true
	default:
		return false
	}
}
