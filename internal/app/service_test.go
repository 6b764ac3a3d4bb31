package app

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urbantransit/ticket-service/internal/domain"
	"github.com/urbantransit/ticket-service/internal/fare"
	"github.com/urbantransit/ticket-service/internal/store"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type recordingNotifier struct {
	mu          sync.Mutex
	purchased   []int64
	validated   []int64
	transferred [][2]int64
	decisions   []domain.RefundStatus
}

func (n *recordingNotifier) NotifyPurchased(ctx context.Context, t *domain.Ticket, owner *domain.Owner) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.purchased = append(n.purchased, t.ID)
}

func (n *recordingNotifier) NotifyValidated(ctx context.Context, t *domain.Ticket) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.validated = append(n.validated, t.ID)
}

func (n *recordingNotifier) NotifyTransferred(ctx context.Context, t *domain.Ticket, from, to *domain.Owner) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.transferred = append(n.transferred, [2]int64{from.ID, to.ID})
}

func (n *recordingNotifier) NotifyRefundDecision(ctx context.Context, r *domain.RefundRequest) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.decisions = append(n.decisions, r.Status)
}

var t0 = time.Date(2026, 4, 14, 9, 30, 0, 0, time.UTC)

type harness struct {
	svc      *Service
	repo     *store.MemoryRepository
	clock    *testClock
	notifier *recordingNotifier
}

func newHarness(t *testing.T, policy fare.Policy, opts ...Option) *harness {
	t.Helper()

	catalog, err := fare.NewCatalog(fare.DefaultProducts(), time.UTC, policy)
	require.NoError(t, err)

	repo := store.NewMemoryRepository()
	for _, o := range []domain.Owner{
		{ID: 1, Email: "amina@example.com", FirstName: "Amina", LastName: "Benali"},
		{ID: 2, Email: "youssef@example.com", FirstName: "Youssef", LastName: "Alaoui"},
		{ID: 3, Email: "sara@example.com"},
	} {
		require.NoError(t, repo.UpsertOwner(context.Background(), o))
	}

	clock := &testClock{now: t0}
	notifier := &recordingNotifier{}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	svc := NewService(repo, catalog, nil, notifier, opts...)
	return &harness{svc: svc, repo: repo, clock: clock, notifier: notifier}
}

func (h *harness) buy(t *testing.T, ownerID int64, ft domain.FareType) *domain.Ticket {
	t.Helper()
	ticket, err := h.svc.Purchase(context.Background(), PurchaseInput{OwnerID: ownerID, FareType: string(ft)})
	require.NoError(t, err)
	return ticket
}

func TestPurchase_BuildsActiveTicket(t *testing.T) {
	h := newHarness(t, fare.Policy{})

	ticket, err := h.svc.Purchase(context.Background(), PurchaseInput{OwnerID: 1, FareType: " month_pass ", DiscountPercent: 15})
	require.NoError(t, err)

	assert.Equal(t, domain.FareMonthPass, ticket.FareType)
	assert.Equal(t, domain.TicketActive, ticket.Status)
	assert.Nil(t, ticket.UsedAt)
	assert.NotEmpty(t, ticket.Token)
	assert.Equal(t, fare.DefaultMonthPassPrice, ticket.OriginalAmount)
	assert.Equal(t, int64(29750), ticket.FinalAmount)
	assert.Equal(t, []int64{ticket.ID}, h.notifier.purchased)

	stored, err := h.svc.GetTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.Token, stored.Token)
}

func TestPurchase_RejectsBadInput(t *testing.T) {
	h := newHarness(t, fare.Policy{})

	tests := []struct {
		name string
		in   PurchaseInput
		want error
		kind ErrorKind
	}{
		{name: "unknown fare", in: PurchaseInput{OwnerID: 1, FareType: "YEAR_PASS"}, want: ErrInvalidFareType, kind: KindValidation},
		{name: "zero owner", in: PurchaseInput{OwnerID: 0, FareType: "DAY_PASS"}, want: ErrInvalidOwnerID, kind: KindValidation},
		{name: "discount too high", in: PurchaseInput{OwnerID: 1, FareType: "DAY_PASS", DiscountPercent: 16}, want: ErrInvalidDiscount, kind: KindValidation},
		{name: "negative discount", in: PurchaseInput{OwnerID: 1, FareType: "DAY_PASS", DiscountPercent: -1}, want: ErrInvalidDiscount, kind: KindValidation},
		{name: "unknown owner", in: PurchaseInput{OwnerID: 99, FareType: "DAY_PASS"}, want: ErrOwnerNotFound, kind: KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Purchase(context.Background(), tt.in)
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.kind, KindOf(err))
		})
	}
	assert.Empty(t, h.notifier.purchased)
}

func TestPurchase_TokensAreUnique(t *testing.T) {
	h := newHarness(t, fare.Policy{})
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		ticket := h.buy(t, 1, domain.FareSingleRide)
		require.False(t, seen[ticket.Token], "duplicate token %s", ticket.Token)
		seen[ticket.Token] = true
	}
}

func TestPurchase_DuplicateActivePolicy(t *testing.T) {
	h := newHarness(t, fare.Policy{RejectDuplicateActive: true})

	first := h.buy(t, 1, domain.FareWeekPass)
	_, err := h.svc.Purchase(context.Background(), PurchaseInput{OwnerID: 1, FareType: "WEEK_PASS"})
	require.ErrorIs(t, err, ErrDuplicateActiveTicket)
	assert.Equal(t, KindConflict, KindOf(err))

	// Other types and other owners are unaffected.
	h.buy(t, 1, domain.FareDayPass)
	h.buy(t, 2, domain.FareWeekPass)

	// Once the first pass has lapsed, the sweep expires it and the purchase goes through.
	h.clock.Set(t0.Add(8 * 24 * time.Hour))
	h.buy(t, 1, domain.FareWeekPass)

	stale, err := h.svc.GetTicket(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketExpired, stale.Status)
}

func TestPurchase_BalancePolicy(t *testing.T) {
	h := newHarness(t, fare.Policy{RequireBalance: true}, WithBalanceChecker(StaticBalance(1000)))

	h.buy(t, 1, domain.FareSingleRide)
	_, err := h.svc.Purchase(context.Background(), PurchaseInput{OwnerID: 1, FareType: "DAY_PASS"})
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, KindPrecondition, KindOf(err))
}

type failingRenderer struct{}

func (failingRenderer) RenderImage(string) ([]byte, error) {
	return nil, errors.New("encoder unavailable")
}

func TestPurchase_RendererFailureIsIgnored(t *testing.T) {
	h := newHarness(t, fare.Policy{}, WithRenderer(failingRenderer{}))
	ticket := h.buy(t, 1, domain.FareDayPass)
	assert.Empty(t, ticket.TokenImage)
}

// Scenario 1: a single ride is consumed once.
func TestValidateQR_SingleRideConsumedOnce(t *testing.T) {
	h := newHarness(t, fare.Policy{})
	ticket := h.buy(t, 1, domain.FareSingleRide)

	h.clock.Set(t0.Add(time.Hour))
	v, err := h.svc.ValidateQR(context.Background(), ticket.Token)
	require.NoError(t, err)
	require.True(t, v.Valid)
	require.NotNil(t, v.UsedAt)
	assert.True(t, v.UsedAt.Equal(t0.Add(time.Hour)))
	assert.Equal(t, "Amina Benali", v.OwnerName)
	assert.Equal(t, "amina@example.com", v.OwnerEmail)

	h.clock.Set(t0.Add(65 * time.Minute))
	v, err = h.svc.ValidateQR(context.Background(), ticket.Token)
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, domain.ReasonAlreadyUsed, v.Reason)
	assert.Equal(t, []int64{ticket.ID}, h.notifier.validated)
}

// Scenario 2: a late single ride expires and stays expired.
func TestValidateQR_SingleRideExpires(t *testing.T) {
	h := newHarness(t, fare.Policy{})
	ticket := h.buy(t, 1, domain.FareSingleRide)

	h.clock.Set(t0.Add(3 * time.Hour))
	v, err := h.svc.ValidateQR(context.Background(), ticket.Token)
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, domain.ReasonExpired, v.Reason)
	require.NotNil(t, v.ExpiresAt)
	assert.True(t, v.ExpiresAt.Equal(t0.Add(2*time.Hour)))

	stored, _ := h.svc.GetTicket(context.Background(), ticket.ID)
	assert.Equal(t, domain.TicketExpired, stored.Status)
	assert.Nil(t, stored.UsedAt)

	before := stored.UpdatedAt
	v, err = h.svc.ValidateQR(context.Background(), ticket.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonExpired, v.Reason)
	again, _ := h.svc.GetTicket(context.Background(), ticket.ID)
	assert.True(t, again.UpdatedAt.Equal(before), "re-scan of an expired ticket must not write")
}

func TestValidateQR_ExpiryBoundaryIsInclusive(t *testing.T) {
	h := newHarness(t, fare.Policy{})
	ticket := h.buy(t, 1, domain.FareSingleRide)

	h.clock.Set(t0.Add(2 * time.Hour))
	v, err := h.svc.ValidateQR(context.Background(), ticket.Token)
	require.NoError(t, err)
	assert.True(t, v.Valid)
}

// Scenario 3: passes re-validate without being consumed.
func TestValidateQR_PassIsReusable(t *testing.T) {
	h := newHarness(t, fare.Policy{})
	ticket := h.buy(t, 1, domain.FareWeekPass)

	for _, offset := range []time.Duration{3 * 24 * time.Hour, 6 * 24 * time.Hour, 6*24*time.Hour + time.Minute} {
		h.clock.Set(t0.Add(offset))
		v, err := h.svc.ValidateQR(context.Background(), ticket.Token)
		require.NoError(t, err)
		assert.True(t, v.Valid)
		assert.Nil(t, v.UsedAt)
	}

	stored, _ := h.svc.GetTicket(context.Background(), ticket.ID)
	assert.Nil(t, stored.UsedAt)
	assert.Equal(t, domain.TicketActive, stored.Status)
	assert.Empty(t, h.notifier.validated)
}

func TestValidateQR_CancelledTicket(t *testing.T) {
	h := newHarness(t, fare.Policy{})
	ticket := h.buy(t, 1, domain.FareDayPass)
	_, err := h.svc.Cancel(context.Background(), ticket.ID, 1)
	require.NoError(t, err)

	v, err := h.svc.ValidateQR(context.Background(), ticket.Token)
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, domain.ReasonCancelled, v.Reason)
}

func TestValidateQR_UnrecognizedTokens(t *testing.T) {
	h := newHarness(t, fare.Policy{})
	h.buy(t, 1, domain.FareDayPass)

	for _, raw := range []string{"", "   ", "garbage", "TKT1.!!!", `{"ticketId":"999"}`, "TICKET-999-abc"} {
		v, err := h.svc.ValidateQR(context.Background(), raw)
		require.NoError(t, err, raw)
		assert.False(t, v.Valid, raw)
		assert.Equal(t, domain.ReasonNotRecognized, v.Reason, raw)
	}
}

func TestValidateQR_FallsBackToEmbeddedID(t *testing.T) {
	h := newHarness(t, fare.Policy{})
	ticket := h.buy(t, 1, domain.FareDayPass)

	v, err := h.svc.ValidateQR(context.Background(), "TICKET-"+itoa(ticket.ID)+"-reprinted")
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, ticket.ID, v.TicketID)
}

// Exactly one of many concurrent scans consumes a single ride.
func TestValidateQR_ConcurrentScansConsumeOnce(t *testing.T) {
	h := newHarness(t, fare.Policy{})
	ticket := h.buy(t, 1, domain.FareSingleRide)

	const scanners = 24
	verdicts := make([]domain.ScanVerdict, scanners)
	var wg sync.WaitGroup
	for i := 0; i < scanners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := h.svc.ValidateQR(context.Background(), ticket.Token)
			if err != nil {
				t.Errorf("scan %d: %v", i, err)
			}
			verdicts[i] = v
		}(i)
	}
	wg.Wait()

	valid := 0
	for _, v := range verdicts {
		if v.Valid {
			valid++
			continue
		}
		assert.Equal(t, domain.ReasonAlreadyUsed, v.Reason)
	}
	assert.Equal(t, 1, valid)
}

func TestValidate_Punch(t *testing.T) {
	h := newHarness(t, fare.Policy{})
	ride := h.buy(t, 1, domain.FareSingleRide)
	pass := h.buy(t, 1, domain.FareMonthPass)

	punched, err := h.svc.Validate(context.Background(), ride.ID)
	require.NoError(t, err)
	assert.NotNil(t, punched.UsedAt)

	_, err = h.svc.Validate(context.Background(), ride.ID)
	require.ErrorIs(t, err, ErrAlreadyUsed)
	assert.Equal(t, KindConflict, KindOf(err))

	checked, err := h.svc.Validate(context.Background(), pass.ID)
	require.NoError(t, err)
	assert.Nil(t, checked.UsedAt)

	_, err = h.svc.Cancel(context.Background(), pass.ID, 0)
	require.NoError(t, err)
	_, err = h.svc.Validate(context.Background(), pass.ID)
	require.ErrorIs(t, err, ErrTicketNotUsable)

	_, err = h.svc.Validate(context.Background(), 424242)
	require.ErrorIs(t, err, ErrTicketNotFound)
}

func TestCancel_Rules(t *testing.T) {
	h := newHarness(t, fare.Policy{})
	ticket := h.buy(t, 1, domain.FareDayPass)

	_, err := h.svc.Cancel(context.Background(), ticket.ID, 2)
	require.ErrorIs(t, err, ErrNotOwner)

	cancelled, err := h.svc.Cancel(context.Background(), ticket.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketCancelled, cancelled.Status)

	_, err = h.svc.Cancel(context.Background(), ticket.ID, 1)
	require.ErrorIs(t, err, ErrTicketNotCancellable)

	ride := h.buy(t, 1, domain.FareSingleRide)
	_, err = h.svc.Validate(context.Background(), ride.ID)
	require.NoError(t, err)
	_, err = h.svc.Cancel(context.Background(), ride.ID, 0)
	require.ErrorIs(t, err, ErrTicketNotCancellable)
}

// Scenario 4: transfer moves ownership and notifies both sides.
func TestTransfer_MovesOwnership(t *testing.T) {
	h := newHarness(t, fare.Policy{})
	ticket := h.buy(t, 1, domain.FareDayPass)

	result, err := h.svc.Transfer(context.Background(), ticket.ID, 1, " YOUSSEF@example.com ")
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Ticket.OwnerID)
	assert.Equal(t, int64(1), result.Transfer.FromOwnerID)
	assert.Equal(t, int64(2), result.Transfer.ToOwnerID)
	assert.Equal(t, "amina@example.com", result.Transfer.FromOwnerEmail)
	assert.Equal(t, domain.TransferStatusCompleted, result.Transfer.Status)
	assert.Equal(t, [][2]int64{{1, 2}}, h.notifier.transferred)

	chain, err := h.svc.TicketTransfers(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Len(t, chain, 1)

	history, err := h.svc.TransferHistory(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.TransferReceived, history[0].Direction)

	sent, err := h.svc.TransfersSent(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, sent, 1)
	received, err := h.svc.TransfersReceived(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, received)

	owned, err := h.svc.OwnerTickets(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, ticket.ID, owned[0].ID)
}

func TestTransfer_Rejections(t *testing.T) {
	h := newHarness(t, fare.Policy{})
	ticket := h.buy(t, 1, domain.FareDayPass)

	tests := []struct {
		name   string
		sender int64
		email  string
		want   error
	}{
		{name: "unknown recipient", sender: 1, email: "nobody@example.com", want: ErrRecipientNotFound},
		{name: "empty recipient", sender: 1, email: "  ", want: ErrInvalidRecipient},
		{name: "not owner", sender: 2, email: "sara@example.com", want: ErrNotOwner},
		{name: "self transfer", sender: 1, email: "amina@example.com", want: ErrInvalidTransfer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Transfer(context.Background(), ticket.ID, tt.sender, tt.email)
			require.ErrorIs(t, err, tt.want)
		})
	}

	stored, _ := h.svc.GetTicket(context.Background(), ticket.ID)
	assert.Equal(t, int64(1), stored.OwnerID)
	assert.Empty(t, h.notifier.transferred)
}

// Cancel and transfer exclude each other in both orders.
func TestCancelTransfer_MutualExclusion(t *testing.T) {
	h := newHarness(t, fare.Policy{})

	a := h.buy(t, 1, domain.FareDayPass)
	_, err := h.svc.Cancel(context.Background(), a.ID, 1)
	require.NoError(t, err)
	_, err = h.svc.Transfer(context.Background(), a.ID, 1, "youssef@example.com")
	require.ErrorIs(t, err, ErrTicketNotTransferable)
	assert.Equal(t, KindPrecondition, KindOf(err))

	b := h.buy(t, 1, domain.FareDayPass)
	_, err = h.svc.Transfer(context.Background(), b.ID, 1, "youssef@example.com")
	require.NoError(t, err)
	_, err = h.svc.Cancel(context.Background(), b.ID, 1)
	require.ErrorIs(t, err, ErrNotOwner)
	assert.Equal(t, KindPrecondition, KindOf(err))
}

// Scenario 5: approve, then a replayed decision conflicts.
func TestRefund_ApproveThenReplay(t *testing.T) {
	h := newHarness(t, fare.Policy{})
	ticket := h.buy(t, 1, domain.FareWeekPass)

	refund, err := h.svc.RequestRefund(context.Background(), ticket.ID, 1, " lost my job ")
	require.NoError(t, err)
	assert.Equal(t, domain.RefundPending, refund.Status)
	assert.Equal(t, ticket.OriginalAmount, refund.RefundAmount)
	assert.Equal(t, "lost my job", refund.Reason)

	stored, _ := h.svc.GetTicket(context.Background(), ticket.ID)
	assert.Equal(t, domain.TicketCancelled, stored.Status)

	pending, err := h.svc.PendingRefunds(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	approved, err := h.svc.DecideRefund(context.Background(), refund.ID, true, "")
	require.NoError(t, err)
	assert.Equal(t, domain.RefundCompleted, approved.Status)
	assert.NotNil(t, approved.DecidedAt)

	_, err = h.svc.DecideRefund(context.Background(), refund.ID, false, "changed my mind")
	require.ErrorIs(t, err, ErrAlreadyDecided)
	assert.Equal(t, KindConflict, KindOf(err))

	after, err := h.svc.GetRefund(context.Background(), refund.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RefundCompleted, after.Status)
	assert.Nil(t, after.AdminNotes)
	assert.Equal(t, []domain.RefundStatus{domain.RefundCompleted}, h.notifier.decisions)
}

// Scenario 6: a second request before any decision conflicts.
func TestRefund_DuplicateOpenRequest(t *testing.T) {
	h := newHarness(t, fare.Policy{})
	ticket := h.buy(t, 1, domain.FareDayPass)

	_, err := h.svc.RequestRefund(context.Background(), ticket.ID, 1, "")
	require.NoError(t, err)

	_, err = h.svc.RequestRefund(context.Background(), ticket.ID, 1, "")
	require.ErrorIs(t, err, ErrRefundAlreadyRequested)
	assert.Equal(t, KindConflict, KindOf(err))

	mine, err := h.svc.OwnerRefunds(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestRefund_RejectRestoresTicket(t *testing.T) {
	h := newHarness(t, fare.Policy{})
	ticket := h.buy(t, 1, domain.FareDayPass)

	refund, err := h.svc.RequestRefund(context.Background(), ticket.ID, 1, "")
	require.NoError(t, err)

	rejected, err := h.svc.DecideRefund(context.Background(), refund.ID, false, "outside policy")
	require.NoError(t, err)
	assert.Equal(t, domain.RefundRejected, rejected.Status)
	require.NotNil(t, rejected.AdminNotes)
	assert.Equal(t, "outside policy", *rejected.AdminNotes)

	stored, _ := h.svc.GetTicket(context.Background(), ticket.ID)
	assert.Equal(t, domain.TicketActive, stored.Status)
	assert.Nil(t, stored.UsedAt)

	// The ticket can be refunded again once the previous request was rejected.
	_, err = h.svc.RequestRefund(context.Background(), ticket.ID, 1, "")
	require.NoError(t, err)
}

func TestRefund_Rejections(t *testing.T) {
	h := newHarness(t, fare.Policy{})
	ride := h.buy(t, 1, domain.FareSingleRide)

	_, err := h.svc.RequestRefund(context.Background(), ride.ID, 2, "")
	require.ErrorIs(t, err, ErrNotOwner)

	_, err = h.svc.Validate(context.Background(), ride.ID)
	require.NoError(t, err)
	_, err = h.svc.RequestRefund(context.Background(), ride.ID, 1, "")
	require.ErrorIs(t, err, ErrNotRefundable)

	_, err = h.svc.DecideRefund(context.Background(), 999, true, "")
	require.ErrorIs(t, err, ErrRefundNotFound)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestStats(t *testing.T) {
	h := newHarness(t, fare.Policy{})
	ride := h.buy(t, 1, domain.FareSingleRide)
	h.buy(t, 1, domain.FareDayPass)
	cancelled := h.buy(t, 2, domain.FareDayPass)

	h.clock.Set(t0.Add(30 * time.Minute))
	v, err := h.svc.ValidateQR(context.Background(), ride.Token)
	require.NoError(t, err)
	require.True(t, v.Valid)
	_, err = h.svc.Cancel(context.Background(), cancelled.ID, 2)
	require.NoError(t, err)

	own, err := h.svc.OwnerStats(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, domain.OwnerTicketStats{TotalPurchased: 2, ActiveTickets: 1, UsedTickets: 1}, own)

	stats, err := h.svc.ValidationStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ValidationsToday)
	assert.Equal(t, int64(1), stats.TotalValidations)
	assert.Equal(t, int64(2), stats.ValidTickets)
	assert.Equal(t, int64(1), stats.InvalidTickets)

	history, err := h.svc.ValidationHistory(context.Background())
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, ride.ID, history[0].ID)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(ErrTicketNotFound))
	assert.Equal(t, KindConflict, KindOf(errors.Join(errors.New("ctx"), ErrAlreadyUsed)))
	assert.Equal(t, KindInternal, KindOf(errors.New("db down")))
	assert.Equal(t, KindInternal, KindOf(nil))
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
