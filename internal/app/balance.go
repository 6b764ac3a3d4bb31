package app

import "context"

// BalanceChecker reports how much a user can spend, in centimes. Only consulted
// when the catalog policy enables balance checks.
type BalanceChecker interface {
	AvailableBalance(ctx context.Context, ownerID int64) (int64, error)
}

// StaticBalance gives every user the same balance. Payments live outside this service.
type StaticBalance int64

func (b StaticBalance) AvailableBalance(ctx context.Context, ownerID int64) (int64, error) {
	return int64(b), nil
}
