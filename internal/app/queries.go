package app

import (
	"context"
	"time"

	"github.com/urbantransit/ticket-service/internal/domain"
	"github.com/urbantransit/ticket-service/internal/store"
)

// ValidationHistoryLimit caps the recently-validated list.
const ValidationHistoryLimit = 100

// OwnerTickets lists a user's tickets, newest first.
func (s *Service) OwnerTickets(ctx context.Context, ownerID int64) ([]domain.Ticket, error) {
	if ownerID <= 0 {
		return nil, ErrInvalidOwnerID
	}
	return s.repo.FindTicketsByOwner(ctx, ownerID)
}

// OwnerStats summarizes a user's tickets.
func (s *Service) OwnerStats(ctx context.Context, ownerID int64) (domain.OwnerTicketStats, error) {
	if ownerID <= 0 {
		return domain.OwnerTicketStats{}, ErrInvalidOwnerID
	}
	return s.repo.CountOwnerTickets(ctx, ownerID)
}

// ValidationStats reports consumption counts for today in the catalog zone, the last
// 7 days and the last 30 days.
func (s *Service) ValidationStats(ctx context.Context) (domain.ValidationStats, error) {
	return s.repo.CountValidations(ctx, s.validationWindow(s.now()))
}

func (s *Service) validationWindow(now time.Time) store.ValidationWindow {
	local := now.In(s.catalog.Location())
	y, m, d := local.Date()
	return store.ValidationWindow{
		DayStart:   time.Date(y, m, d, 0, 0, 0, 0, s.catalog.Location()),
		WeekStart:  now.Add(-7 * 24 * time.Hour),
		MonthStart: now.Add(-30 * 24 * time.Hour),
	}
}

// ValidationHistory lists the most recently consumed tickets.
func (s *Service) ValidationHistory(ctx context.Context) ([]domain.Ticket, error) {
	return s.repo.ListRecentlyUsedTickets(ctx, ValidationHistoryLimit)
}

// TransferHistory lists every transfer a user took part in, marked SENT or RECEIVED.
func (s *Service) TransferHistory(ctx context.Context, ownerID int64) ([]domain.TransferHistoryEntry, error) {
	if ownerID <= 0 {
		return nil, ErrInvalidOwnerID
	}
	records, err := s.repo.FindTransfersByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	entries := make([]domain.TransferHistoryEntry, 0, len(records))
	for _, rec := range records {
		direction := domain.TransferReceived
		if rec.FromOwnerID == ownerID {
			direction = domain.TransferSent
		}
		entries = append(entries, domain.TransferHistoryEntry{TransferRecord: rec, Direction: direction})
	}
	return entries, nil
}

// TransfersSent lists transfers a user initiated.
func (s *Service) TransfersSent(ctx context.Context, ownerID int64) ([]domain.TransferRecord, error) {
	if ownerID <= 0 {
		return nil, ErrInvalidOwnerID
	}
	return s.repo.FindTransfersSent(ctx, ownerID)
}

// TransfersReceived lists transfers a user received.
func (s *Service) TransfersReceived(ctx context.Context, ownerID int64) ([]domain.TransferRecord, error) {
	if ownerID <= 0 {
		return nil, ErrInvalidOwnerID
	}
	return s.repo.FindTransfersReceived(ctx, ownerID)
}

// TicketTransfers lists the ownership chain of a ticket.
func (s *Service) TicketTransfers(ctx context.Context, ticketID int64) ([]domain.TransferRecord, error) {
	if ticketID <= 0 {
		return nil, ErrInvalidTicketID
	}
	return s.repo.FindTransfersByTicket(ctx, ticketID)
}

// OwnerRefunds lists a user's refund requests.
func (s *Service) OwnerRefunds(ctx context.Context, ownerID int64) ([]domain.RefundRequest, error) {
	if ownerID <= 0 {
		return nil, ErrInvalidOwnerID
	}
	return s.repo.FindRefundsByRequester(ctx, ownerID)
}

// PendingRefunds lists refund requests awaiting a decision.
func (s *Service) PendingRefunds(ctx context.Context) ([]domain.RefundRequest, error) {
	return s.repo.FindRefundsByStatus(ctx, domain.RefundPending)
}

// GetRefund returns one refund request.
func (s *Service) GetRefund(ctx context.Context, refundID int64) (*domain.RefundRequest, error) {
	if refundID <= 0 {
		return nil, ErrInvalidRefundID
	}
	r, err := s.repo.FindRefundByID(ctx, refundID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return r, nil
}
