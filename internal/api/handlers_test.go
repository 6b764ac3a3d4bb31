package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urbantransit/ticket-service/internal/app"
	"github.com/urbantransit/ticket-service/internal/domain"
	"github.com/urbantransit/ticket-service/internal/fare"
	"github.com/urbantransit/ticket-service/internal/store"
)

type testServer struct {
	handler http.Handler
	repo    *store.MemoryRepository
}

func newTestServer(t *testing.T, cfg RouterConfig) *testServer {
	t.Helper()

	catalog, err := fare.NewCatalog(fare.DefaultProducts(), time.UTC, fare.Policy{})
	require.NoError(t, err)

	repo := store.NewMemoryRepository()
	for _, o := range []domain.Owner{
		{ID: 1, Email: "amina@example.com", FirstName: "Amina"},
		{ID: 2, Email: "youssef@example.com", FirstName: "Youssef"},
		{ID: 9, Email: "control@example.com"},
	} {
		require.NoError(t, repo.UpsertOwner(context.Background(), o))
	}

	svc := app.NewService(repo, catalog, nil, nil)
	return &testServer{handler: TicketRoutes(NewTicketHandlers(svc), cfg), repo: repo}
}

func (s *testServer) do(t *testing.T, method, path string, userID int64, role string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		req.Header.Set(userIDHeader, strconv.FormatInt(userID, 10))
	}
	if role != "" {
		req.Header.Set(userRoleHeader, role)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) purchase(t *testing.T, userID int64, ft domain.FareType) domain.Ticket {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/", userID, "", map[string]interface{}{"fare_type": ft})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var ticket domain.Ticket
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ticket))
	return ticket
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestHealthAndFaresArePublic(t *testing.T) {
	s := newTestServer(t, RouterConfig{})

	rec := s.do(t, http.MethodGet, "/health", 0, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", rec.Body.String())

	rec = s.do(t, http.MethodGet, "/fares", 0, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var fares []fareResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fares))
	require.Len(t, fares, 4)
	assert.Equal(t, domain.FareSingleRide, fares[0].FareType)
	assert.True(t, fares[0].SingleUse)
}

func TestAuthRequiresUserHeader(t *testing.T) {
	s := newTestServer(t, RouterConfig{})

	rec := s.do(t, http.MethodGet, "/me", 0, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPurchaseAndOwnershipVisibility(t *testing.T) {
	s := newTestServer(t, RouterConfig{})

	ticket := s.purchase(t, 1, domain.FareDayPass)
	assert.Equal(t, domain.TicketActive, ticket.Status)
	assert.Equal(t, int64(1), ticket.OwnerID)
	assert.NotEmpty(t, ticket.Token)

	path := "/" + strconv.FormatInt(ticket.ID, 10)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, path, 1, "", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, path, 2, "", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, path, 9, RoleController, nil).Code)

	rec := s.do(t, http.MethodGet, "/me", 1, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var mine []domain.Ticket
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mine))
	assert.Len(t, mine, 1)

	rec = s.do(t, http.MethodGet, "/me", 2, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestPurchaseRejectsBadInput(t *testing.T) {
	s := newTestServer(t, RouterConfig{})

	rec := s.do(t, http.MethodPost, "/", 1, "", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec), "fare_type")

	rec = s.do(t, http.MethodPost, "/", 1, "", map[string]interface{}{"fare_type": "YEAR_PASS"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, app.ErrInvalidFareType.Error(), decodeError(t, rec))

	rec = s.do(t, http.MethodPost, "/", 1, "", map[string]interface{}{"fare_type": "DAY_PASS", "loyalty_discount": 40})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/", 1, "", map[string]interface{}{"fare_type": "DAY_PASS", "owner_id": 2})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/", 9, RoleAdmin, map[string]interface{}{"fare_type": "DAY_PASS", "owner_id": 2})
	require.Equal(t, http.StatusCreated, rec.Code)
	var ticket domain.Ticket
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ticket))
	assert.Equal(t, int64(2), ticket.OwnerID)
}

func TestQRValidationIsGatedAndConsumesSingleRide(t *testing.T) {
	s := newTestServer(t, RouterConfig{})
	ticket := s.purchase(t, 1, domain.FareSingleRide)

	rec := s.do(t, http.MethodPost, "/qr/validate", 1, "", domain.ValidateQRRequest{Token: ticket.Token})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/qr/validate", 9, RoleController, domain.ValidateQRRequest{Token: ticket.Token})
	require.Equal(t, http.StatusOK, rec.Code)
	var verdict domain.ScanVerdict
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verdict))
	assert.True(t, verdict.Valid)
	assert.Equal(t, ticket.ID, verdict.TicketID)

	rec = s.do(t, http.MethodGet, "/qr/validate/"+ticket.Token, 9, RoleController, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	verdict = domain.ScanVerdict{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verdict))
	assert.False(t, verdict.Valid)
	assert.Equal(t, domain.ReasonAlreadyUsed, verdict.Reason)

	rec = s.do(t, http.MethodPost, "/qr/validate", 9, RoleAdmin, domain.ValidateQRRequest{Token: "garbage"})
	require.Equal(t, http.StatusOK, rec.Code)
	verdict = domain.ScanVerdict{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verdict))
	assert.False(t, verdict.Valid)
	assert.Equal(t, domain.ReasonNotRecognized, verdict.Reason)
}

func TestPunchValidationTwiceConflicts(t *testing.T) {
	s := newTestServer(t, RouterConfig{})
	ticket := s.purchase(t, 1, domain.FareSingleRide)
	path := "/" + strconv.FormatInt(ticket.ID, 10) + "/validate"

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPost, path, 9, RoleController, nil).Code)
	rec := s.do(t, http.MethodPost, path, 9, RoleController, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, app.ErrAlreadyUsed.Error(), decodeError(t, rec))

	rec = s.do(t, http.MethodGet, "/validations/stats", 9, RoleController, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats domain.ValidationStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.TotalValidations)
}

func TestCancelRespectsOwnership(t *testing.T) {
	s := newTestServer(t, RouterConfig{})
	ticket := s.purchase(t, 1, domain.FareWeekPass)
	path := "/" + strconv.FormatInt(ticket.ID, 10) + "/cancel"

	rec := s.do(t, http.MethodPost, path, 2, "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, app.ErrNotOwner.Error(), decodeError(t, rec))

	rec = s.do(t, http.MethodPost, path, 1, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cancelled domain.Ticket
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cancelled))
	assert.Equal(t, domain.TicketCancelled, cancelled.Status)
}

func TestTransferByEmail(t *testing.T) {
	s := newTestServer(t, RouterConfig{})
	ticket := s.purchase(t, 1, domain.FareMonthPass)
	path := "/" + strconv.FormatInt(ticket.ID, 10) + "/transfer"

	rec := s.do(t, http.MethodPost, path, 1, "", domain.TransferTicketRequest{RecipientEmail: "nobody@example.com"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, path, 1, "", domain.TransferTicketRequest{RecipientEmail: "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, path, 1, "", domain.TransferTicketRequest{RecipientEmail: "Youssef@Example.com"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result app.TransferResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, int64(2), result.Ticket.OwnerID)
	assert.Equal(t, int64(1), result.Transfer.FromOwnerID)

	rec = s.do(t, http.MethodGet, "/me/transfers?direction=received", 2, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var received []domain.TransferRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &received))
	assert.Len(t, received, 1)

	// The previous owner keeps sight of the chain.
	rec = s.do(t, http.MethodGet, "/"+strconv.FormatInt(ticket.ID, 10)+"/transfers", 1, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/me/transfers?direction=sideways", 1, "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefundLifecycle(t *testing.T) {
	s := newTestServer(t, RouterConfig{})
	ticket := s.purchase(t, 1, domain.FareDayPass)
	path := "/" + strconv.FormatInt(ticket.ID, 10) + "/refund"

	rec := s.do(t, http.MethodPost, path, 1, "", domain.RefundTicketRequest{Reason: "trip cancelled"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var refund domain.RefundRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &refund))
	assert.Equal(t, domain.RefundPending, refund.Status)

	rec = s.do(t, http.MethodPost, path, 1, "", domain.RefundTicketRequest{})
	assert.Equal(t, http.StatusConflict, rec.Code)

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/refunds/pending", 1, "", nil).Code)

	rec = s.do(t, http.MethodGet, "/refunds/pending", 9, RoleAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pending []domain.RefundRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	require.Len(t, pending, 1)

	decision := "/refunds/" + strconv.FormatInt(refund.ID, 10) + "/decision"
	rec = s.do(t, http.MethodPost, decision, 9, RoleAdmin, map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	approve := true
	rec = s.do(t, http.MethodPost, decision, 9, RoleAdmin, domain.RefundDecisionRequest{Approve: &approve, AdminNotes: "ok"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &refund))
	assert.Equal(t, domain.RefundCompleted, refund.Status)

	rec = s.do(t, http.MethodPost, decision, 9, RoleAdmin, domain.RefundDecisionRequest{Approve: &approve})
	assert.Equal(t, http.StatusConflict, rec.Code)

	refundPath := "/refunds/" + strconv.FormatInt(refund.ID, 10)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, refundPath, 1, "", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, refundPath, 2, "", nil).Code)
}

type stubLimiter struct {
	count int
	err   error
	calls []string
}

func (l *stubLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	l.calls = append(l.calls, scope+"|"+subject)
	return l.count, 17, l.err
}

func TestScanRateLimit(t *testing.T) {
	limiter := &stubLimiter{count: 31}
	s := newTestServer(t, RouterConfig{ScanLimiter: limiter, ScansPerMinute: 30})

	req := httptest.NewRequest(http.MethodPost, "/qr/validate", bytes.NewBufferString(`{"token":"x"}`))
	req.Header.Set(userIDHeader, "9")
	req.Header.Set(userRoleHeader, RoleController)
	req.Header.Set(deviceIDHeader, "gate-4")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "17", rec.Header().Get("Retry-After"))
	assert.Equal(t, []string{"qr_scan|device:gate-4"}, limiter.calls)

	limiter.count = 0
	limiter.err = errors.New("redis down")
	rec = s.do(t, http.MethodPost, "/qr/validate", 9, RoleController, domain.ValidateQRRequest{Token: "x"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "qr_scan|user:9", limiter.calls[1])
}

func TestMapServiceError(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{app.ErrTicketNotFound, http.StatusNotFound},
		{app.ErrAlreadyUsed, http.StatusConflict},
		{app.ErrTicketNotCancellable, http.StatusBadRequest},
		{app.ErrInvalidTicketID, http.StatusBadRequest},
		{errors.New("db exploded"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, msg := mapServiceError(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		if status == http.StatusInternalServerError {
			assert.Equal(t, "Internal server error", msg)
		}
	}
}
