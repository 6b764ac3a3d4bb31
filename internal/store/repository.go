/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the ticket-service. By defining an interface,
 * we decouple the lifecycle engine from the specific database implementation
 * (PostgreSQL in production, an in-memory store for local runs and tests).
 *
 * Mutations go through `WithinTx`: every ticket or refund read through `Tx.LockTicket`
 * or `Tx.LockRefund` stays locked until the transaction ends, so two requests can never
 * both act on the same pre-mutation state. Locks are per row; different tickets never
 * wait on each other.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/urbantransit/ticket-service/internal/domain"
)

var (
	ErrTicketNotFound   = errors.New("ticket not found")
	ErrOwnerNotFound    = errors.New("owner not found")
	ErrRefundNotFound   = errors.New("refund request not found")
	ErrDuplicateToken   = errors.New("ticket token already exists")
	ErrOpenRefundExists = errors.New("an open refund request already exists for this ticket")
)

// Repository defines the set of methods for interacting with the ticket store.
type Repository interface {
	// Ticket methods
	NextTicketID(ctx context.Context) (int64, error)
	CreateTicket(ctx context.Context, ticket *domain.Ticket) error
	FindTicketByID(ctx context.Context, ticketID int64) (*domain.Ticket, error)
	FindTicketByToken(ctx context.Context, token string) (*domain.Ticket, error)
	FindTicketsByOwner(ctx context.Context, ownerID int64) ([]domain.Ticket, error)
	FindTicketsByOwnerAndType(ctx context.Context, ownerID int64, fareType domain.FareType) ([]domain.Ticket, error)
	ListRecentlyUsedTickets(ctx context.Context, limit int) ([]domain.Ticket, error)

	// Reporting methods
	CountOwnerTickets(ctx context.Context, ownerID int64) (domain.OwnerTicketStats, error)
	CountValidations(ctx context.Context, window ValidationWindow) (domain.ValidationStats, error)

	// Transfer history methods
	FindTransfersByOwner(ctx context.Context, ownerID int64) ([]domain.TransferRecord, error)
	FindTransfersSent(ctx context.Context, ownerID int64) ([]domain.TransferRecord, error)
	FindTransfersReceived(ctx context.Context, ownerID int64) ([]domain.TransferRecord, error)
	FindTransfersByTicket(ctx context.Context, ticketID int64) ([]domain.TransferRecord, error)

	// Refund methods
	FindRefundByID(ctx context.Context, refundID int64) (*domain.RefundRequest, error)
	FindRefundsByRequester(ctx context.Context, requesterID int64) ([]domain.RefundRequest, error)
	FindRefundsByStatus(ctx context.Context, status domain.RefundStatus) ([]domain.RefundRequest, error)

	// Owner projection methods
	UpsertOwner(ctx context.Context, owner domain.Owner) error
	FindOwnerByID(ctx context.Context, ownerID int64) (*domain.Owner, error)
	FindOwnerByEmail(ctx context.Context, email string) (*domain.Owner, error)

	// WithinTx runs fn inside one atomic unit of work. Returning an error rolls back
	// every write made through tx.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the unit of work handed to WithinTx callbacks. Writes are visible to later
// reads through the same Tx.
type Tx interface {
	LockTicket(ctx context.Context, ticketID int64) (*domain.Ticket, error)
	SaveTicket(ctx context.Context, ticket *domain.Ticket) error
	AppendTransfer(ctx context.Context, record *domain.TransferRecord) error
	HasOpenRefund(ctx context.Context, ticketID int64) (bool, error)
	CreateRefund(ctx context.Context, refund *domain.RefundRequest) error
	LockRefund(ctx context.Context, refundID int64) (*domain.RefundRequest, error)
	SaveRefund(ctx context.Context, refund *domain.RefundRequest) error
}

// ValidationWindow bounds the periods reported by CountValidations.
type ValidationWindow struct {
	DayStart   time.Time
	WeekStart  time.Time
	MonthStart time.Time
}
