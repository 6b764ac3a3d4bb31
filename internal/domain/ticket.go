/**
 * @description
 * This file defines the core domain models for the ticket-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (centimes), which
 *   avoids floating-point inaccuracies when pricing and refunding fares.
 * - "Used" is tracked by the nullable `UsedAt` timestamp and is deliberately not a
 *   status value. Only single-ride tickets are ever marked used.
 */

package domain

import (
	"strings"
	"time"
)

// FareType identifies a purchasable fare product.
type FareType string

const (
	FareSingleRide FareType = "SINGLE_RIDE"
	FareDayPass    FareType = "DAY_PASS"
	FareWeekPass   FareType = "WEEK_PASS"
	FareMonthPass  FareType = "MONTH_PASS"
)

// FareTypes lists every fare product the service sells, in display order.
var FareTypes = []FareType{FareSingleRide, FareDayPass, FareWeekPass, FareMonthPass}

// ParseFareType normalizes user input into a known FareType.
func ParseFareType(raw string) (FareType, bool) {
	candidate := FareType(strings.ToUpper(strings.TrimSpace(raw)))
	for _, ft := range FareTypes {
		if ft == candidate {
			return ft, true
		}
	}
	return "", false
}

// TicketStatus is the lifecycle state of a ticket.
type TicketStatus string

const (
	TicketActive    TicketStatus = "ACTIVE"
	TicketCancelled TicketStatus = "CANCELLED"
	TicketExpired   TicketStatus = "EXPIRED"
)

// Ticket is the central record of a purchased fare.
// This struct maps directly to the `tickets` table in the database.
type Ticket struct {
	ID              int64        `json:"id"`
	OwnerID         int64        `json:"owner_id"`
	FareType        FareType     `json:"fare_type"`
	Status          TicketStatus `json:"status"`
	PurchasedAt     time.Time    `json:"purchased_at"`
	UsedAt          *time.Time   `json:"used_at,omitempty"`
	Token           string       `json:"token"`
	TokenImage      []byte       `json:"token_image,omitempty"` // rendered QR image, base64 in JSON
	OriginalAmount  int64        `json:"original_amount"`
	DiscountPercent int          `json:"discount_percent"`
	FinalAmount     int64        `json:"final_amount"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Used reports whether the ticket has been consumed by a validation.
func (t *Ticket) Used() bool {
	return t.UsedAt != nil
}

// TransferStatusCompleted is the only status a transfer record is written with.
const TransferStatusCompleted = "COMPLETED"

// TransferRecord is an append-only log entry of an ownership change.
type TransferRecord struct {
	ID             int64     `json:"id"`
	TicketID       int64     `json:"ticket_id"`
	FromOwnerID    int64     `json:"from_owner_id"`
	FromOwnerEmail string    `json:"from_owner_email,omitempty"`
	ToOwnerID      int64     `json:"to_owner_id"`
	ToOwnerEmail   string    `json:"to_owner_email,omitempty"`
	FareType       FareType  `json:"fare_type"`
	TransferredAt  time.Time `json:"transferred_at"`
	Status         string    `json:"status"`
}

// TransferDirection tells a user whether a transfer was sent or received.
type TransferDirection string

const (
	TransferSent     TransferDirection = "SENT"
	TransferReceived TransferDirection = "RECEIVED"
)

// TransferHistoryEntry is a transfer record seen from one user's side.
type TransferHistoryEntry struct {
	TransferRecord
	Direction TransferDirection `json:"direction"`
}

// RefundStatus is the decision state of a refund request.
type RefundStatus string

const (
	RefundPending   RefundStatus = "PENDING"
	RefundCompleted RefundStatus = "COMPLETED"
	RefundRejected  RefundStatus = "REJECTED"
)

// Open reports whether the status blocks a new refund request for the same ticket.
func (s RefundStatus) Open() bool {
	return s == RefundPending || s == RefundCompleted
}

// RefundRequest records a user's request to be refunded for an unused ticket.
type RefundRequest struct {
	ID             int64        `json:"id"`
	TicketID       int64        `json:"ticket_id"`
	RequesterID    int64        `json:"requester_id"`
	FareType       FareType     `json:"fare_type"`
	OriginalAmount int64        `json:"original_amount"`
	RefundAmount   int64        `json:"refund_amount"`
	Reason         string       `json:"reason,omitempty"`
	Status         RefundStatus `json:"status"`
	RequestedAt    time.Time    `json:"requested_at"`
	DecidedAt      *time.Time   `json:"decided_at,omitempty"`
	AdminNotes     *string      `json:"admin_notes,omitempty"`
}

// Owner is the local projection of a registered user.
type Owner struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// DisplayName returns the owner's full name for scanner displays.
func (o *Owner) DisplayName() string {
	if o == nil {
		return UnknownOwnerName
	}
	name := strings.TrimSpace(strings.TrimSpace(o.FirstName) + " " + strings.TrimSpace(o.LastName))
	if name == "" {
		return UnknownOwnerName
	}
	return name
}

// UnknownOwnerName is shown when a ticket's owner cannot be resolved.
const UnknownOwnerName = "unknown user"

// OwnerTicketStats summarizes one user's tickets.
type OwnerTicketStats struct {
	TotalPurchased int64 `json:"total_purchased"`
	ActiveTickets  int64 `json:"active_tickets"`
	UsedTickets    int64 `json:"used_tickets"`
}

// ValidationStats summarizes consumption across all tickets for the controller dashboard.
type ValidationStats struct {
	ValidationsToday     int64 `json:"validations_today"`
	ValidationsThisWeek  int64 `json:"validations_this_week"`
	ValidationsThisMonth int64 `json:"validations_this_month"`
	TotalValidations     int64 `json:"total_validations"`
	ValidTickets         int64 `json:"valid_tickets"`
	InvalidTickets       int64 `json:"invalid_tickets"`
}

// PurchaseTicketRequest is the DTO for incoming purchase requests.
type PurchaseTicketRequest struct {
	OwnerID         int64  `json:"owner_id" validate:"omitempty,gt=0"`
	FareType        string `json:"fare_type" validate:"required"`
	LoyaltyDiscount int    `json:"loyalty_discount" validate:"gte=0,lte=15"`
}

// TransferTicketRequest is the DTO for ownership transfers.
type TransferTicketRequest struct {
	RecipientEmail string `json:"recipient_email" validate:"required,email"`
}

// RefundTicketRequest is the DTO for refund requests.
type RefundTicketRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// RefundDecisionRequest is the DTO an administrator sends to settle a refund.
type RefundDecisionRequest struct {
	Approve    *bool  `json:"approve" validate:"required"`
	AdminNotes string `json:"admin_notes" validate:"max=1000"`
}

// ValidateQRRequest carries a scanned token in a request body, for tokens that
// should not travel in a URL path.
type ValidateQRRequest struct {
	Token string `json:"token" validate:"required"`
}
