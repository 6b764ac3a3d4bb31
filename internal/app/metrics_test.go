package app

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urbantransit/ticket-service/internal/domain"
	"github.com/urbantransit/ticket-service/internal/fare"
)

func TestMetrics_CountPurchasesAndScans(t *testing.T) {
	h := newHarness(t, fare.Policy{})

	sold := ticketsPurchased.WithLabelValues(string(domain.FareWeekPass))
	unknown := qrScans.WithLabelValues("false", string(domain.ReasonNotRecognized))
	accepted := qrScans.WithLabelValues("true", "none")
	soldBefore := testutil.ToFloat64(sold)
	unknownBefore := testutil.ToFloat64(unknown)
	acceptedBefore := testutil.ToFloat64(accepted)

	ticket := h.buy(t, 1, domain.FareWeekPass)
	assert.Equal(t, soldBefore+1, testutil.ToFloat64(sold))

	_, err := h.svc.ValidateQR(context.Background(), "not-a-token")
	require.NoError(t, err)
	assert.Equal(t, unknownBefore+1, testutil.ToFloat64(unknown))

	verdict, err := h.svc.ValidateQR(context.Background(), ticket.Token)
	require.NoError(t, err)
	require.True(t, verdict.Valid)
	assert.Equal(t, acceptedBefore+1, testutil.ToFloat64(accepted))
}
