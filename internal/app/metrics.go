package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/urbantransit/ticket-service/internal/domain"
)

var (
	ticketsPurchased = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticket_service_tickets_purchased_total",
		Help: "The total number of tickets sold, by fare type",
	}, []string{"fare_type"})
	qrScans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticket_service_qr_scans_total",
		Help: "The total number of QR scans, by verdict",
	}, []string{"valid", "reason"})
	ticketsTransferred = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ticket_service_tickets_transferred_total",
		Help: "The total number of completed ticket transfers",
	})
	refundDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticket_service_refund_decisions_total",
		Help: "The total number of refund decisions, by resulting status",
	}, []string{"status"})
	userEventsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticket_service_user_events_consumed_total",
		Help: "The total number of user events consumed, by outcome",
	}, []string{"outcome"})
)

func observeScan(v domain.ScanVerdict) domain.ScanVerdict {
	valid := "false"
	if v.Valid {
		valid = "true"
	}
	reason := string(v.Reason)
	if reason == "" {
		reason = "none"
	}
	qrScans.WithLabelValues(valid, reason).Inc()
	return v
}
