/**
 * @description
 * This file contains the ticket lifecycle engine. The `Service` struct owns the state
 * machine (purchase, validate, cancel, transfer, refund request and decision) and
 * coordinates the repository, fare catalog, token codec, identity resolver and notifier.
 *
 * Key features:
 * - Every mutation is one read-modify-write inside `Repository.WithinTx` on a row-locked
 *   copy, so racing requests on the same ticket serialize and never act on stale state.
 * - Notifications are sent only after commit and never fail the operation.
 * - Tokens are unique by construction: the ticket id is reserved before minting.
 *
 * @dependencies
 * - github.com/google/uuid: Token nonces.
 * - go.opentelemetry.io/otel: Spans around lifecycle operations.
 * - internal/domain, internal/store, internal/fare, internal/token.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/urbantransit/ticket-service/internal/domain"
	"github.com/urbantransit/ticket-service/internal/fare"
	"github.com/urbantransit/ticket-service/internal/store"
	"github.com/urbantransit/ticket-service/internal/token"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TokenRenderer turns a token into an opaque image blob stored with the ticket.
type TokenRenderer interface {
	RenderImage(token string) ([]byte, error)
}

// Service provides the ticket lifecycle operations.
type Service struct {
	repo     store.Repository
	catalog  *fare.Catalog
	identity IdentityResolver
	notifier Notifier
	renderer TokenRenderer
	balance  BalanceChecker
	now      func() time.Time
	newNonce func() string
	tracer   trace.Tracer
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithNonceSource replaces the token nonce generator.
func WithNonceSource(next func() string) Option {
	return func(s *Service) { s.newNonce = next }
}

// WithRenderer sets the QR image renderer.
func WithRenderer(r TokenRenderer) Option {
	return func(s *Service) { s.renderer = r }
}

// WithBalanceChecker sets the balance source used when the catalog policy requires it.
func WithBalanceChecker(b BalanceChecker) Option {
	return func(s *Service) { s.balance = b }
}

// NewService creates a new lifecycle engine. A nil identity resolver reads the local
// owner projection only; a nil notifier drops notifications.
func NewService(repo store.Repository, catalog *fare.Catalog, identity IdentityResolver, notifier Notifier, opts ...Option) *Service {
	if identity == nil {
		identity = NewOwnerDirectory(repo, nil)
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	s := &Service{
		repo:     repo,
		catalog:  catalog,
		identity: identity,
		notifier: notifier,
		now:      time.Now,
		newNonce: uuid.NewString,
		tracer:   otel.Tracer("ticket-service/app"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog exposes the fare catalog for read-only callers such as the HTTP layer.
func (s *Service) Catalog() *fare.Catalog {
	return s.catalog
}

// mapStoreErr translates store sentinels into lifecycle errors.
func mapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrTicketNotFound):
		return ErrTicketNotFound
	case errors.Is(err, store.ErrRefundNotFound):
		return ErrRefundNotFound
	case errors.Is(err, store.ErrOwnerNotFound):
		return ErrOwnerNotFound
	case errors.Is(err, store.ErrOpenRefundExists):
		return ErrRefundAlreadyRequested
	default:
		return err
	}
}

// PurchaseInput describes a purchase.
type PurchaseInput struct {
	OwnerID         int64
	FareType        string
	DiscountPercent int
}

// Purchase sells a new ticket. The returned ticket is ACTIVE, carries its token and
// rendered image, and has its price computed once.
func (s *Service) Purchase(ctx context.Context, in PurchaseInput) (*domain.Ticket, error) {
	ctx, span := s.tracer.Start(ctx, "app.purchase", trace.WithAttributes(
		attribute.Int64("owner.id", in.OwnerID),
		attribute.String("ticket.fare_type", in.FareType),
	))
	defer span.End()

	if in.OwnerID <= 0 {
		return nil, ErrInvalidOwnerID
	}
	fareType, ok := domain.ParseFareType(in.FareType)
	if !ok {
		return nil, ErrInvalidFareType
	}
	if _, known := s.catalog.Lookup(fareType); !known {
		return nil, ErrInvalidFareType
	}
	if in.DiscountPercent < 0 || in.DiscountPercent > fare.MaxDiscountPercent {
		return nil, ErrInvalidDiscount
	}
	quote, err := s.catalog.Price(fareType, in.DiscountPercent)
	if err != nil {
		return nil, fmt.Errorf("price %s: %w", fareType, err)
	}

	owner, err := s.identity.FindOwnerByID(ctx, in.OwnerID)
	if err != nil {
		return nil, mapStoreErr(err)
	}

	policy := s.catalog.Policy
	if policy.RequireBalance && s.balance != nil {
		available, err := s.balance.AvailableBalance(ctx, in.OwnerID)
		if err != nil {
			return nil, fmt.Errorf("check balance: %w", err)
		}
		if available < quote.FinalAmount {
			return nil, ErrInsufficientBalance
		}
	}
	if policy.RejectDuplicateActive {
		if err := s.rejectDuplicateActive(ctx, in.OwnerID, fareType); err != nil {
			return nil, err
		}
	}

	id, err := s.repo.NextTicketID(ctx)
	if err != nil {
		return nil, fmt.Errorf("reserve ticket id: %w", err)
	}
	purchasedAt := s.now()
	tok := token.Mint(id, in.OwnerID, string(fareType), purchasedAt, s.newNonce())

	ticket := &domain.Ticket{
		ID:              id,
		OwnerID:         in.OwnerID,
		FareType:        fareType,
		Status:          domain.TicketActive,
		PurchasedAt:     purchasedAt,
		Token:           tok,
		TokenImage:      s.renderImage(id, tok),
		OriginalAmount:  quote.OriginalAmount,
		DiscountPercent: quote.DiscountPercent,
		FinalAmount:     quote.FinalAmount,
	}
	if err := s.repo.CreateTicket(ctx, ticket); err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}

	log.Printf("level=info component=app msg=\"ticket purchased\" ticket_id=%d owner_id=%d fare_type=%s final_amount=%d", ticket.ID, ticket.OwnerID, ticket.FareType, ticket.FinalAmount)
	ticketsPurchased.WithLabelValues(string(ticket.FareType)).Inc()
	s.notifier.NotifyPurchased(ctx, ticket, owner)
	return ticket, nil
}

func (s *Service) renderImage(ticketID int64, tok string) []byte {
	if s.renderer == nil {
		return nil
	}
	img, err := s.renderer.RenderImage(tok)
	if err != nil {
		log.Printf("level=warn component=render msg=\"qr render failed; storing ticket without image\" ticket_id=%d err=%v", ticketID, err)
		return nil
	}
	return img
}

// rejectDuplicateActive expires the owner's stale unused tickets of the same type and
// fails if one is still usable.
func (s *Service) rejectDuplicateActive(ctx context.Context, ownerID int64, fareType domain.FareType) error {
	existing, err := s.repo.FindTicketsByOwnerAndType(ctx, ownerID, fareType)
	if err != nil {
		return fmt.Errorf("list active tickets: %w", err)
	}
	now := s.now()
	for _, t := range existing {
		if t.Status != domain.TicketActive || t.Used() {
			continue
		}
		if !s.catalog.Expired(t.FareType, t.PurchasedAt, now) {
			return ErrDuplicateActiveTicket
		}
		err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			locked, err := tx.LockTicket(ctx, t.ID)
			if err != nil {
				return err
			}
			if locked.Status != domain.TicketActive || locked.Used() {
				return nil
			}
			locked.Status = domain.TicketExpired
			return tx.SaveTicket(ctx, locked)
		})
		if err != nil {
			return fmt.Errorf("expire stale ticket %d: %w", t.ID, mapStoreErr(err))
		}
		log.Printf("level=info component=app msg=\"stale ticket expired\" ticket_id=%d owner_id=%d", t.ID, ownerID)
	}
	return nil
}

// GetTicket returns one ticket.
func (s *Service) GetTicket(ctx context.Context, ticketID int64) (*domain.Ticket, error) {
	if ticketID <= 0 {
		return nil, ErrInvalidTicketID
	}
	t, err := s.repo.FindTicketByID(ctx, ticketID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return t, nil
}

// Validate is the administrative punch. Single rides are consumed; passes are checked
// and left untouched.
func (s *Service) Validate(ctx context.Context, ticketID int64) (*domain.Ticket, error) {
	if ticketID <= 0 {
		return nil, ErrInvalidTicketID
	}

	var result *domain.Ticket
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		t, err := tx.LockTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		if t.Status != domain.TicketActive {
			return ErrTicketNotUsable
		}
		if t.Used() {
			return ErrAlreadyUsed
		}
		if s.catalog.SingleUse(t.FareType) {
			now := s.now()
			t.UsedAt = &now
			if err := tx.SaveTicket(ctx, t); err != nil {
				return err
			}
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}

	s.notifier.NotifyValidated(ctx, result)
	return result, nil
}

// Cancel cancels an unused ACTIVE ticket. A requesterID of 0 skips the ownership check,
// for administrative cancellation.
func (s *Service) Cancel(ctx context.Context, ticketID, requesterID int64) (*domain.Ticket, error) {
	if ticketID <= 0 {
		return nil, ErrInvalidTicketID
	}
	if requesterID < 0 {
		return nil, ErrInvalidOwnerID
	}

	var result *domain.Ticket
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		t, err := tx.LockTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		if requesterID != 0 && t.OwnerID != requesterID {
			return ErrNotOwner
		}
		if t.Status != domain.TicketActive || t.Used() {
			return ErrTicketNotCancellable
		}
		t.Status = domain.TicketCancelled
		if err := tx.SaveTicket(ctx, t); err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}

	log.Printf("level=info component=app msg=\"ticket cancelled\" ticket_id=%d requester_id=%d", ticketID, requesterID)
	return result, nil
}

// TransferResult is the outcome of a transfer.
type TransferResult struct {
	Ticket   *domain.Ticket         `json:"ticket"`
	Transfer *domain.TransferRecord `json:"transfer"`
}

// Transfer hands an unused ACTIVE ticket to the user registered under recipientEmail.
func (s *Service) Transfer(ctx context.Context, ticketID, senderID int64, recipientEmail string) (*TransferResult, error) {
	ctx, span := s.tracer.Start(ctx, "app.transfer", trace.WithAttributes(
		attribute.Int64("ticket.id", ticketID),
		attribute.Int64("sender.id", senderID),
	))
	defer span.End()

	if ticketID <= 0 {
		return nil, ErrInvalidTicketID
	}
	if senderID <= 0 {
		return nil, ErrInvalidOwnerID
	}
	recipientEmail = strings.TrimSpace(recipientEmail)
	if recipientEmail == "" {
		return nil, ErrInvalidRecipient
	}

	recipient, err := s.identity.FindOwnerByEmail(ctx, recipientEmail)
	if err != nil {
		if errors.Is(mapStoreErr(err), ErrOwnerNotFound) {
			return nil, ErrRecipientNotFound
		}
		return nil, err
	}
	sender, err := s.identity.FindOwnerByID(ctx, senderID)
	if err != nil {
		if !errors.Is(mapStoreErr(err), ErrOwnerNotFound) {
			return nil, err
		}
		sender = &domain.Owner{ID: senderID}
	}

	result := &TransferResult{}
	err = s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		t, err := tx.LockTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		if t.OwnerID != senderID {
			return ErrNotOwner
		}
		if recipient.ID == senderID {
			return ErrInvalidTransfer
		}
		if t.Status != domain.TicketActive || t.Used() {
			return ErrTicketNotTransferable
		}

		t.OwnerID = recipient.ID
		if err := tx.SaveTicket(ctx, t); err != nil {
			return err
		}
		rec := &domain.TransferRecord{
			TicketID:       t.ID,
			FromOwnerID:    senderID,
			FromOwnerEmail: sender.Email,
			ToOwnerID:      recipient.ID,
			ToOwnerEmail:   recipient.Email,
			FareType:       t.FareType,
			TransferredAt:  s.now(),
			Status:         domain.TransferStatusCompleted,
		}
		if err := tx.AppendTransfer(ctx, rec); err != nil {
			return err
		}
		result.Ticket = t
		result.Transfer = rec
		return nil
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}

	log.Printf("level=info component=app msg=\"ticket transferred\" ticket_id=%d from_owner_id=%d to_owner_id=%d", ticketID, senderID, recipient.ID)
	ticketsTransferred.Inc()
	s.notifier.NotifyTransferred(ctx, result.Ticket, sender, recipient)
	return result, nil
}

// RequestRefund opens a PENDING refund for an unused ACTIVE ticket and cancels the ticket.
func (s *Service) RequestRefund(ctx context.Context, ticketID, requesterID int64, reason string) (*domain.RefundRequest, error) {
	if ticketID <= 0 {
		return nil, ErrInvalidTicketID
	}
	if requesterID <= 0 {
		return nil, ErrInvalidOwnerID
	}

	var refund *domain.RefundRequest
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		t, err := tx.LockTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		if t.OwnerID != requesterID {
			return ErrNotOwner
		}
		open, err := tx.HasOpenRefund(ctx, ticketID)
		if err != nil {
			return err
		}
		if open {
			return ErrRefundAlreadyRequested
		}
		if t.Used() || t.Status != domain.TicketActive {
			return ErrNotRefundable
		}

		t.Status = domain.TicketCancelled
		if err := tx.SaveTicket(ctx, t); err != nil {
			return err
		}
		refund = &domain.RefundRequest{
			TicketID:       t.ID,
			RequesterID:    requesterID,
			FareType:       t.FareType,
			OriginalAmount: t.OriginalAmount,
			RefundAmount:   t.OriginalAmount,
			Reason:         strings.TrimSpace(reason),
			Status:         domain.RefundPending,
			RequestedAt:    s.now(),
		}
		return tx.CreateRefund(ctx, refund)
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}

	log.Printf("level=info component=app msg=\"refund requested\" refund_id=%d ticket_id=%d requester_id=%d amount=%d", refund.ID, ticketID, requesterID, refund.RefundAmount)
	return refund, nil
}

// DecideRefund settles a PENDING refund. Rejection restores the ticket to ACTIVE.
func (s *Service) DecideRefund(ctx context.Context, refundID int64, approve bool, adminNotes string) (*domain.RefundRequest, error) {
	if refundID <= 0 {
		return nil, ErrInvalidRefundID
	}

	var refund *domain.RefundRequest
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		r, err := tx.LockRefund(ctx, refundID)
		if err != nil {
			return err
		}
		if r.Status != domain.RefundPending {
			return ErrAlreadyDecided
		}

		now := s.now()
		r.DecidedAt = &now
		if notes := strings.TrimSpace(adminNotes); notes != "" {
			r.AdminNotes = &notes
		}
		if approve {
			r.Status = domain.RefundCompleted
		} else {
			r.Status = domain.RefundRejected
			t, err := tx.LockTicket(ctx, r.TicketID)
			if err != nil {
				return err
			}
			t.Status = domain.TicketActive
			if err := tx.SaveTicket(ctx, t); err != nil {
				return err
			}
		}
		if err := tx.SaveRefund(ctx, r); err != nil {
			return err
		}
		refund = r
		return nil
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}

	log.Printf("level=info component=app msg=\"refund decided\" refund_id=%d status=%s", refund.ID, refund.Status)
	refundDecisions.WithLabelValues(string(refund.Status)).Inc()
	s.notifier.NotifyRefundDecision(ctx, refund)
	return refund, nil
}
