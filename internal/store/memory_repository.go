package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/urbantransit/ticket-service/internal/domain"
)

// MemoryRepository keeps every record in process memory. It backs local runs with
// STORE_DRIVER=memory and the service tests.
//
// Row locks are one-slot channels keyed by ticket or refund id, so waiting on a lock
// respects context cancellation. Writes made through a Tx are staged and applied in
// one step on commit.
type MemoryRepository struct {
	mu sync.RWMutex

	tickets       map[int64]*domain.Ticket
	ticketByToken map[string]int64
	transfers     []domain.TransferRecord
	refunds       map[int64]*domain.RefundRequest
	owners        map[int64]domain.Owner
	ownerByEmail  map[string]int64

	ticketSeq   atomic.Int64
	transferSeq atomic.Int64
	refundSeq   atomic.Int64

	ticketLocks sync.Map // int64 -> chan struct{}
	refundLocks sync.Map // int64 -> chan struct{}
}

// NewMemoryRepository creates an empty in-memory store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		tickets:       make(map[int64]*domain.Ticket),
		ticketByToken: make(map[string]int64),
		refunds:       make(map[int64]*domain.RefundRequest),
		owners:        make(map[int64]domain.Owner),
		ownerByEmail:  make(map[string]int64),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func cloneTicket(t *domain.Ticket) *domain.Ticket {
	cp := *t
	if t.UsedAt != nil {
		usedAt := *t.UsedAt
		cp.UsedAt = &usedAt
	}
	if t.TokenImage != nil {
		cp.TokenImage = append([]byte(nil), t.TokenImage...)
	}
	return &cp
}

func cloneRefund(r *domain.RefundRequest) *domain.RefundRequest {
	cp := *r
	if r.DecidedAt != nil {
		decidedAt := *r.DecidedAt
		cp.DecidedAt = &decidedAt
	}
	if r.AdminNotes != nil {
		notes := *r.AdminNotes
		cp.AdminNotes = &notes
	}
	return &cp
}

func (r *MemoryRepository) NextTicketID(ctx context.Context) (int64, error) {
	return r.ticketSeq.Add(1), nil
}

func (r *MemoryRepository) CreateTicket(ctx context.Context, t *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ticketByToken[t.Token]; exists {
		return ErrDuplicateToken
	}
	if _, exists := r.tickets[t.ID]; exists {
		return ErrDuplicateToken
	}
	t.UpdatedAt = time.Now().UTC()
	r.tickets[t.ID] = cloneTicket(t)
	r.ticketByToken[t.Token] = t.ID
	return nil
}

func (r *MemoryRepository) FindTicketByID(ctx context.Context, ticketID int64) (*domain.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tickets[ticketID]
	if !ok {
		return nil, ErrTicketNotFound
	}
	return cloneTicket(t), nil
}

func (r *MemoryRepository) FindTicketByToken(ctx context.Context, token string) (*domain.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.ticketByToken[token]
	if !ok {
		return nil, ErrTicketNotFound
	}
	return cloneTicket(r.tickets[id]), nil
}

func (r *MemoryRepository) filterTickets(keep func(*domain.Ticket) bool) []domain.Ticket {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Ticket, 0)
	for _, t := range r.tickets {
		if keep(t) {
			out = append(out, *cloneTicket(t))
		}
	}
	return out
}

func sortTicketsByPurchase(tickets []domain.Ticket) {
	sort.Slice(tickets, func(i, j int) bool {
		if !tickets[i].PurchasedAt.Equal(tickets[j].PurchasedAt) {
			return tickets[i].PurchasedAt.After(tickets[j].PurchasedAt)
		}
		return tickets[i].ID > tickets[j].ID
	})
}

func (r *MemoryRepository) FindTicketsByOwner(ctx context.Context, ownerID int64) ([]domain.Ticket, error) {
	tickets := r.filterTickets(func(t *domain.Ticket) bool { return t.OwnerID == ownerID })
	sortTicketsByPurchase(tickets)
	return tickets, nil
}

func (r *MemoryRepository) FindTicketsByOwnerAndType(ctx context.Context, ownerID int64, fareType domain.FareType) ([]domain.Ticket, error) {
	tickets := r.filterTickets(func(t *domain.Ticket) bool {
		return t.OwnerID == ownerID && t.FareType == fareType
	})
	sortTicketsByPurchase(tickets)
	return tickets, nil
}

func (r *MemoryRepository) ListRecentlyUsedTickets(ctx context.Context, limit int) ([]domain.Ticket, error) {
	tickets := r.filterTickets(func(t *domain.Ticket) bool { return t.UsedAt != nil })
	sort.Slice(tickets, func(i, j int) bool {
		if !tickets[i].UsedAt.Equal(*tickets[j].UsedAt) {
			return tickets[i].UsedAt.After(*tickets[j].UsedAt)
		}
		return tickets[i].ID > tickets[j].ID
	})
	if limit > 0 && len(tickets) > limit {
		tickets = tickets[:limit]
	}
	return tickets, nil
}

func (r *MemoryRepository) CountOwnerTickets(ctx context.Context, ownerID int64) (domain.OwnerTicketStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OwnerTicketStats
	for _, t := range r.tickets {
		if t.OwnerID != ownerID {
			continue
		}
		stats.TotalPurchased++
		if t.UsedAt != nil {
			stats.UsedTickets++
		} else if t.Status == domain.TicketActive {
			stats.ActiveTickets++
		}
	}
	return stats, nil
}

func (r *MemoryRepository) CountValidations(ctx context.Context, window ValidationWindow) (domain.ValidationStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.ValidationStats
	for _, t := range r.tickets {
		switch t.Status {
		case domain.TicketActive:
			stats.ValidTickets++
		case domain.TicketCancelled, domain.TicketExpired:
			stats.InvalidTickets++
		}
		if t.UsedAt == nil {
			continue
		}
		stats.TotalValidations++
		if t.UsedAt.After(window.DayStart) {
			stats.ValidationsToday++
		}
		if t.UsedAt.After(window.WeekStart) {
			stats.ValidationsThisWeek++
		}
		if t.UsedAt.After(window.MonthStart) {
			stats.ValidationsThisMonth++
		}
	}
	return stats, nil
}

func (r *MemoryRepository) filterTransfers(keep func(domain.TransferRecord) bool) []domain.TransferRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.TransferRecord, 0)
	for _, rec := range r.transfers {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].TransferredAt.Equal(out[j].TransferredAt) {
			return out[i].TransferredAt.After(out[j].TransferredAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (r *MemoryRepository) FindTransfersByOwner(ctx context.Context, ownerID int64) ([]domain.TransferRecord, error) {
	return r.filterTransfers(func(rec domain.TransferRecord) bool {
		return rec.FromOwnerID == ownerID || rec.ToOwnerID == ownerID
	}), nil
}

func (r *MemoryRepository) FindTransfersSent(ctx context.Context, ownerID int64) ([]domain.TransferRecord, error) {
	return r.filterTransfers(func(rec domain.TransferRecord) bool { return rec.FromOwnerID == ownerID }), nil
}

func (r *MemoryRepository) FindTransfersReceived(ctx context.Context, ownerID int64) ([]domain.TransferRecord, error) {
	return r.filterTransfers(func(rec domain.TransferRecord) bool { return rec.ToOwnerID == ownerID }), nil
}

func (r *MemoryRepository) FindTransfersByTicket(ctx context.Context, ticketID int64) ([]domain.TransferRecord, error) {
	return r.filterTransfers(func(rec domain.TransferRecord) bool { return rec.TicketID == ticketID }), nil
}

func (r *MemoryRepository) FindRefundByID(ctx context.Context, refundID int64) (*domain.RefundRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	refund, ok := r.refunds[refundID]
	if !ok {
		return nil, ErrRefundNotFound
	}
	return cloneRefund(refund), nil
}

func (r *MemoryRepository) filterRefunds(keep func(*domain.RefundRequest) bool) []domain.RefundRequest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.RefundRequest, 0)
	for _, refund := range r.refunds {
		if keep(refund) {
			out = append(out, *cloneRefund(refund))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].RequestedAt.After(out[j].RequestedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (r *MemoryRepository) FindRefundsByRequester(ctx context.Context, requesterID int64) ([]domain.RefundRequest, error) {
	return r.filterRefunds(func(refund *domain.RefundRequest) bool { return refund.RequesterID == requesterID }), nil
}

func (r *MemoryRepository) FindRefundsByStatus(ctx context.Context, status domain.RefundStatus) ([]domain.RefundRequest, error) {
	return r.filterRefunds(func(refund *domain.RefundRequest) bool { return refund.Status == status }), nil
}

func (r *MemoryRepository) UpsertOwner(ctx context.Context, owner domain.Owner) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	owner.Email = strings.TrimSpace(owner.Email)
	if previous, ok := r.owners[owner.ID]; ok {
		delete(r.ownerByEmail, normalizeEmail(previous.Email))
	}
	r.owners[owner.ID] = owner
	if key := normalizeEmail(owner.Email); key != "" {
		r.ownerByEmail[key] = owner.ID
	}
	return nil
}

func (r *MemoryRepository) FindOwnerByID(ctx context.Context, ownerID int64) (*domain.Owner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owner, ok := r.owners[ownerID]
	if !ok {
		return nil, ErrOwnerNotFound
	}
	return &owner, nil
}

func (r *MemoryRepository) FindOwnerByEmail(ctx context.Context, email string) (*domain.Owner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.ownerByEmail[normalizeEmail(email)]
	if !ok {
		return nil, ErrOwnerNotFound
	}
	owner := r.owners[id]
	return &owner, nil
}

// WithinTx runs fn with a fresh unit of work. Locks are released when fn returns,
// after staged writes have been applied.
func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memTx{
		repo:           r,
		lockedTickets:  make(map[int64]*domain.Ticket),
		lockedRefunds:  make(map[int64]*domain.RefundRequest),
		createdRefunds: make(map[int64]*domain.RefundRequest),
	}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

func acquire(ctx context.Context, locks *sync.Map, id int64) (chan struct{}, error) {
	v, _ := locks.LoadOrStore(id, make(chan struct{}, 1))
	slot := v.(chan struct{})
	select {
	case slot <- struct{}{}:
		return slot, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type memTx struct {
	repo *MemoryRepository

	held []chan struct{}

	lockedTickets  map[int64]*domain.Ticket
	dirtyTickets   []int64
	lockedRefunds  map[int64]*domain.RefundRequest
	dirtyRefunds   []int64
	createdRefunds map[int64]*domain.RefundRequest
	transfers      []domain.TransferRecord
}

func (t *memTx) release() {
	for _, slot := range t.held {
		<-slot
	}
	t.held = nil
}

func (t *memTx) LockTicket(ctx context.Context, ticketID int64) (*domain.Ticket, error) {
	if staged, ok := t.lockedTickets[ticketID]; ok {
		return cloneTicket(staged), nil
	}

	slot, err := acquire(ctx, &t.repo.ticketLocks, ticketID)
	if err != nil {
		return nil, err
	}
	t.held = append(t.held, slot)

	current, err := t.repo.FindTicketByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	t.lockedTickets[ticketID] = current
	return cloneTicket(current), nil
}

func (t *memTx) SaveTicket(ctx context.Context, ticket *domain.Ticket) error {
	if _, ok := t.lockedTickets[ticket.ID]; !ok {
		if _, err := t.LockTicket(ctx, ticket.ID); err != nil {
			return err
		}
	}
	ticket.UpdatedAt = time.Now().UTC()
	t.lockedTickets[ticket.ID] = cloneTicket(ticket)
	t.dirtyTickets = append(t.dirtyTickets, ticket.ID)
	return nil
}

func (t *memTx) AppendTransfer(ctx context.Context, rec *domain.TransferRecord) error {
	rec.ID = t.repo.transferSeq.Add(1)
	t.transfers = append(t.transfers, *rec)
	return nil
}

func (t *memTx) HasOpenRefund(ctx context.Context, ticketID int64) (bool, error) {
	for _, refund := range t.createdRefunds {
		if refund.TicketID == ticketID && refund.Status.Open() {
			return true, nil
		}
	}

	// Staged decisions take precedence over the committed status.
	t.repo.mu.RLock()
	defer t.repo.mu.RUnlock()
	for id, refund := range t.repo.refunds {
		if refund.TicketID != ticketID {
			continue
		}
		if staged, ok := t.lockedRefunds[id]; ok {
			if staged.Status.Open() {
				return true, nil
			}
			continue
		}
		if refund.Status.Open() {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) CreateRefund(ctx context.Context, refund *domain.RefundRequest) error {
	open, err := t.HasOpenRefund(ctx, refund.TicketID)
	if err != nil {
		return err
	}
	if open && refund.Status.Open() {
		return ErrOpenRefundExists
	}
	refund.ID = t.repo.refundSeq.Add(1)
	t.createdRefunds[refund.ID] = cloneRefund(refund)
	return nil
}

func (t *memTx) LockRefund(ctx context.Context, refundID int64) (*domain.RefundRequest, error) {
	if staged, ok := t.lockedRefunds[refundID]; ok {
		return cloneRefund(staged), nil
	}
	if created, ok := t.createdRefunds[refundID]; ok {
		return cloneRefund(created), nil
	}

	slot, err := acquire(ctx, &t.repo.refundLocks, refundID)
	if err != nil {
		return nil, err
	}
	t.held = append(t.held, slot)

	current, err := t.repo.FindRefundByID(ctx, refundID)
	if err != nil {
		return nil, err
	}
	t.lockedRefunds[refundID] = current
	return cloneRefund(current), nil
}

func (t *memTx) SaveRefund(ctx context.Context, refund *domain.RefundRequest) error {
	if _, ok := t.createdRefunds[refund.ID]; ok {
		t.createdRefunds[refund.ID] = cloneRefund(refund)
		return nil
	}
	if _, ok := t.lockedRefunds[refund.ID]; !ok {
		if _, err := t.LockRefund(ctx, refund.ID); err != nil {
			return err
		}
	}
	t.lockedRefunds[refund.ID] = cloneRefund(refund)
	t.dirtyRefunds = append(t.dirtyRefunds, refund.ID)
	return nil
}

func (t *memTx) commit() error {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, refund := range t.createdRefunds {
		if !refund.Status.Open() {
			continue
		}
		for _, existing := range r.refunds {
			if existing.TicketID != refund.TicketID || !existing.Status.Open() {
				continue
			}
			if staged, ok := t.lockedRefunds[existing.ID]; ok && !staged.Status.Open() {
				continue
			}
			return ErrOpenRefundExists
		}
	}

	for _, id := range t.dirtyTickets {
		if _, ok := r.tickets[id]; !ok {
			return ErrTicketNotFound
		}
	}

	for _, id := range t.dirtyTickets {
		r.tickets[id] = cloneTicket(t.lockedTickets[id])
	}
	for _, id := range t.dirtyRefunds {
		r.refunds[id] = cloneRefund(t.lockedRefunds[id])
	}
	for id, refund := range t.createdRefunds {
		r.refunds[id] = cloneRefund(refund)
	}
	r.transfers = append(r.transfers, t.transfers...)
	return nil
}
