package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/urbantransit/ticket-service/internal/domain"
	"github.com/urbantransit/ticket-service/internal/store"
	"github.com/urbantransit/ticket-service/internal/token"
	"go.opentelemetry.io/otel/attribute"
)

// ValidateQR decides whether a scanned token is a usable fare right now. Unknown or
// malformed tokens yield an INVALID verdict, never an error; the error return is
// reserved for storage failures.
func (s *Service) ValidateQR(ctx context.Context, raw string) (domain.ScanVerdict, error) {
	ctx, span := s.tracer.Start(ctx, "app.validate_qr")
	defer span.End()

	resolved, err := s.resolveToken(ctx, raw)
	if err != nil {
		return domain.ScanVerdict{}, err
	}
	if resolved == nil {
		span.SetAttributes(attribute.String("verdict.reason", string(domain.ReasonNotRecognized)))
		return observeScan(invalidVerdict(domain.ReasonNotRecognized)), nil
	}
	span.SetAttributes(attribute.Int64("ticket.id", resolved.ID))

	var (
		verdict domain.ScanVerdict
		ticket  *domain.Ticket
		wrote   bool
	)
	err = s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		t, err := tx.LockTicket(ctx, resolved.ID)
		if err != nil {
			return err
		}
		verdict, wrote = s.evaluate(t, s.now())
		if wrote {
			if err := tx.SaveTicket(ctx, t); err != nil {
				return err
			}
		}
		ticket = t
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrTicketNotFound) {
			return observeScan(invalidVerdict(domain.ReasonNotRecognized)), nil
		}
		return domain.ScanVerdict{}, fmt.Errorf("validate ticket %d: %w", resolved.ID, err)
	}

	s.enrich(ctx, &verdict, ticket)
	span.SetAttributes(attribute.Bool("verdict.valid", verdict.Valid), attribute.String("verdict.reason", string(verdict.Reason)))
	log.Printf("level=info component=app msg=\"qr scanned\" ticket_id=%d valid=%t reason=%q", ticket.ID, verdict.Valid, verdict.Reason)

	if verdict.Valid && wrote {
		s.notifier.NotifyValidated(ctx, ticket)
	}
	return observeScan(verdict), nil
}

// resolveToken finds the ticket by exact token, then by the id embedded in the token.
// A nil ticket with a nil error means the token is not recognized.
func (s *Service) resolveToken(ctx context.Context, raw string) (*domain.Ticket, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	t, err := s.repo.FindTicketByToken(ctx, raw)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, store.ErrTicketNotFound) {
		return nil, fmt.Errorf("find ticket by token: %w", err)
	}

	claims := token.Decode(raw)
	if !claims.HasTicketID() {
		return nil, nil
	}
	t, err = s.repo.FindTicketByID(ctx, claims.TicketID)
	if err != nil {
		if errors.Is(err, store.ErrTicketNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find ticket by decoded id: %w", err)
	}
	return t, nil
}

// evaluate applies the validity rules to a locked ticket, mutating it when the scan
// changes state. It reports whether t must be saved.
func (s *Service) evaluate(t *domain.Ticket, now time.Time) (domain.ScanVerdict, bool) {
	if t.Status == domain.TicketCancelled {
		return invalidVerdict(domain.ReasonCancelled), false
	}
	singleUse := s.catalog.SingleUse(t.FareType)
	if singleUse && t.Used() {
		return invalidVerdict(domain.ReasonAlreadyUsed), false
	}

	expiresAt := s.catalog.ExpiresAt(t.FareType, t.PurchasedAt)
	if t.Status == domain.TicketExpired {
		v := invalidVerdict(domain.ReasonExpired)
		v.ExpiresAt = &expiresAt
		return v, false
	}
	if now.After(expiresAt) {
		t.Status = domain.TicketExpired
		v := invalidVerdict(domain.ReasonExpired)
		v.ExpiresAt = &expiresAt
		return v, true
	}

	wrote := false
	if singleUse {
		usedAt := now
		t.UsedAt = &usedAt
		wrote = true
	}
	return domain.ScanVerdict{
		Valid:     true,
		Message:   "Ticket is valid",
		ExpiresAt: &expiresAt,
	}, wrote
}

func invalidVerdict(reason domain.VerdictReason) domain.ScanVerdict {
	return domain.ScanVerdict{
		Valid:   false,
		Reason:  reason,
		Message: "Ticket is invalid: " + string(reason),
	}
}

// enrich copies ticket and owner details into a verdict. Owner lookup failures leave
// the owner shown as unknown.
func (s *Service) enrich(ctx context.Context, v *domain.ScanVerdict, t *domain.Ticket) {
	purchasedAt := t.PurchasedAt
	v.TicketID = t.ID
	v.OwnerID = t.OwnerID
	v.FareType = t.FareType
	v.Status = t.Status
	v.PurchasedAt = &purchasedAt
	if t.UsedAt != nil {
		usedAt := *t.UsedAt
		v.UsedAt = &usedAt
	}
	v.TokenImage = t.TokenImage

	owner, err := s.identity.FindOwnerByID(ctx, t.OwnerID)
	if err != nil {
		if !errors.Is(mapStoreErr(err), ErrOwnerNotFound) {
			log.Printf("level=warn component=app msg=\"owner lookup failed for scan\" ticket_id=%d owner_id=%d err=%v", t.ID, t.OwnerID, err)
		}
		owner = nil
	}
	v.OwnerName = owner.DisplayName()
	if owner != nil {
		v.OwnerEmail = owner.Email
	}
}
