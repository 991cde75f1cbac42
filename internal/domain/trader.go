package domain

import "time"

// TraderAccount is a registered participant on the exchange. Admin accounts
// bypass cash-sufficiency checks on buys but still require owned shares on
// sells; their cash balance may go negative as a result.
type TraderAccount struct {
	TraderID            string
	Active              bool
	Admin               bool
	CashBalanceInCents  int64
	ReservedCashInCents int64
	CreatedAt           time.Time
}

// AvailableCashInCents returns the trader's unreserved cash balance.
func (t *TraderAccount) AvailableCashInCents() int64 {
	return t.CashBalanceInCents - t.ReservedCashInCents
}
