package app

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/urbantransit/ticket-service/internal/domain"
	"github.com/urbantransit/ticket-service/pkg/rabbitmq"
)

const (
	DefaultEventsExchange       = "transport_events"
	TicketPurchasedRoutingKey   = "ticket.purchased"
	notificationRoutingKeyStart = "notification."
	notifyPublishTimeout        = 5 * time.Second
)

// Notifier is told about committed lifecycle transitions. Implementations must not
// fail the caller; delivery problems are theirs to log.
type Notifier interface {
	NotifyPurchased(ctx context.Context, ticket *domain.Ticket, owner *domain.Owner)
	NotifyValidated(ctx context.Context, ticket *domain.Ticket)
	NotifyTransferred(ctx context.Context, ticket *domain.Ticket, from, to *domain.Owner)
	NotifyRefundDecision(ctx context.Context, refund *domain.RefundRequest)
}

// EventNotifier publishes notification messages and the loyalty purchase event to
// a RabbitMQ topic exchange.
type EventNotifier struct {
	publisher rabbitmq.Publisher
	exchange  string
	now       func() time.Time
}

// NewEventNotifier creates a notifier. An empty exchange uses DefaultEventsExchange.
func NewEventNotifier(publisher rabbitmq.Publisher, exchange string) *EventNotifier {
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		exchange = DefaultEventsExchange
	}
	return &EventNotifier{publisher: publisher, exchange: exchange, now: time.Now}
}

// NotificationRoutingKey returns the routing key a notification type is published on.
func NotificationRoutingKey(t domain.NotificationType) string {
	return notificationRoutingKeyStart + strings.ToLower(string(t))
}

func (n *EventNotifier) publish(ctx context.Context, routingKey string, body interface{}) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyPublishTimeout)
	defer cancel()

	if err := n.publisher.Publish(ctx, n.exchange, routingKey, body); err != nil {
		log.Printf("level=warn component=notifier msg=\"publish failed\" exchange=%s routing_key=%s err=%v", n.exchange, routingKey, err)
	}
}

func (n *EventNotifier) send(ctx context.Context, t domain.NotificationType, userID, ticketID int64, title, message string, data map[string]interface{}) {
	msg := domain.NotificationMessage{
		ID:        uuid.NewString(),
		Type:      t,
		Title:     title,
		Message:   message,
		UserID:    userID,
		TicketID:  ticketID,
		Timestamp: n.now().UTC(),
		Data:      data,
	}
	n.publish(ctx, NotificationRoutingKey(t), msg)
}

func (n *EventNotifier) NotifyPurchased(ctx context.Context, ticket *domain.Ticket, owner *domain.Owner) {
	email := ""
	if owner != nil {
		email = owner.Email
	}
	n.publish(ctx, TicketPurchasedRoutingKey, domain.TicketPurchasedEvent{
		UserID:       strconv.FormatInt(ticket.OwnerID, 10),
		UserEmail:    email,
		TicketID:     strconv.FormatInt(ticket.ID, 10),
		TicketType:   string(ticket.FareType),
		PurchaseDate: ticket.PurchasedAt.UTC().Format(time.RFC3339Nano),
		QRCodeData:   ticket.Token,
	})

	n.send(ctx, domain.NotificationTicketPurchased, ticket.OwnerID, ticket.ID,
		"Ticket purchased",
		fmt.Sprintf("Your %s ticket has been purchased for %s.", fareLabel(ticket.FareType), formatAmount(ticket.FinalAmount)),
		map[string]interface{}{
			"ticketType":  string(ticket.FareType),
			"finalAmount": ticket.FinalAmount,
		})
}

func (n *EventNotifier) NotifyValidated(ctx context.Context, ticket *domain.Ticket) {
	n.send(ctx, domain.NotificationTicketValidated, ticket.OwnerID, ticket.ID,
		"Ticket validated",
		fmt.Sprintf("Your %s ticket was validated.", fareLabel(ticket.FareType)),
		map[string]interface{}{"ticketType": string(ticket.FareType)})
}

func (n *EventNotifier) NotifyTransferred(ctx context.Context, ticket *domain.Ticket, from, to *domain.Owner) {
	data := map[string]interface{}{
		"ticketType":  string(ticket.FareType),
		"fromUserId":  from.ID,
		"toUserId":    to.ID,
		"senderEmail": from.Email,
	}
	n.send(ctx, domain.NotificationTicketTransferred, from.ID, ticket.ID,
		"Ticket transferred",
		fmt.Sprintf("You transferred your %s ticket to %s.", fareLabel(ticket.FareType), to.Email),
		data)
	n.send(ctx, domain.NotificationTicketTransferred, to.ID, ticket.ID,
		"Ticket received",
		fmt.Sprintf("%s transferred a %s ticket to you.", from.DisplayName(), fareLabel(ticket.FareType)),
		data)
}

func (n *EventNotifier) NotifyRefundDecision(ctx context.Context, refund *domain.RefundRequest) {
	var message string
	switch refund.Status {
	case domain.RefundCompleted:
		message = fmt.Sprintf("Your refund of %s has been approved.", formatAmount(refund.RefundAmount))
	default:
		message = "Your refund request was rejected."
		if refund.AdminNotes != nil && strings.TrimSpace(*refund.AdminNotes) != "" {
			message += " Notes: " + strings.TrimSpace(*refund.AdminNotes)
		}
	}
	n.send(ctx, domain.NotificationRefundStatus, refund.RequesterID, refund.TicketID,
		"Refund "+strings.ToLower(string(refund.Status)),
		message,
		map[string]interface{}{
			"refundId":     refund.ID,
			"status":       string(refund.Status),
			"refundAmount": refund.RefundAmount,
		})
}

func fareLabel(ft domain.FareType) string {
	return strings.ToLower(strings.ReplaceAll(string(ft), "_", " "))
}

// formatAmount renders centimes as dirhams.
func formatAmount(centimes int64) string {
	sign := ""
	if centimes < 0 {
		sign = "-"
		centimes = -centimes
	}
	return fmt.Sprintf("%s%d.%02d MAD", sign, centimes/100, centimes%100)
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) NotifyPurchased(context.Context, *domain.Ticket, *domain.Owner)              {}
func (NopNotifier) NotifyValidated(context.Context, *domain.Ticket)                             {}
func (NopNotifier) NotifyTransferred(context.Context, *domain.Ticket, *domain.Owner, *domain.Owner) {}
func (NopNotifier) NotifyRefundDecision(context.Context, *domain.RefundRequest)                 {}
