package domain

import "time"

// VerdictReason explains why a scanned token was refused.
type VerdictReason string

const (
	ReasonNone          VerdictReason = ""
	ReasonNotRecognized VerdictReason = "token not recognized"
	ReasonCancelled     VerdictReason = "cancelled"
	ReasonAlreadyUsed   VerdictReason = "already used"
	ReasonExpired       VerdictReason = "expired"
)

// ScanVerdict is the structured answer returned to a scanning device.
// It is always produced, even for garbage input.
type ScanVerdict struct {
	Valid       bool          `json:"valid"`
	Reason      VerdictReason `json:"reason,omitempty"`
	Message     string        `json:"message"`
	TicketID    int64         `json:"ticket_id,omitempty"`
	OwnerID     int64         `json:"owner_id,omitempty"`
	FareType    FareType      `json:"fare_type,omitempty"`
	Status      TicketStatus  `json:"status,omitempty"`
	PurchasedAt *time.Time    `json:"purchased_at,omitempty"`
	UsedAt      *time.Time    `json:"used_at,omitempty"`
	ExpiresAt   *time.Time    `json:"expires_at,omitempty"`
	OwnerName   string        `json:"owner_name,omitempty"`
	OwnerEmail  string        `json:"owner_email,omitempty"`
	TokenImage  []byte        `json:"token_image,omitempty"`
}

// TicketPurchasedEvent is published on every purchase. The user service awards
// loyalty points from it.
type TicketPurchasedEvent struct {
	UserID       string `json:"userId"`
	UserEmail    string `json:"userEmail"`
	TicketID     string `json:"ticketId"`
	TicketType   string `json:"ticketType"`
	PurchaseDate string `json:"purchaseDate"`
	QRCodeData   string `json:"qrCodeData"`
}

// UserRegisteredEvent is emitted by the user service when an account is created.
// Ids arrive as strings or numbers depending on the producer, so the consumer
// extracts fields leniently instead of unmarshalling into this struct directly.
type UserRegisteredEvent struct {
	UserID    int64  `json:"userId"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// NotificationType classifies user-facing notifications.
type NotificationType string

const (
	NotificationTicketPurchased   NotificationType = "TICKET_PURCHASED"
	NotificationTicketValidated   NotificationType = "TICKET_VALIDATED"
	NotificationTicketTransferred NotificationType = "TICKET_TRANSFERRED"
	NotificationRefundStatus      NotificationType = "REFUND_STATUS"
)

// NotificationMessage is the payload handed to the notification service.
type NotificationMessage struct {
	ID        string                 `json:"id"`
	Type      NotificationType       `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	UserID    int64                  `json:"userId"`
	TicketID  int64                  `json:"ticketId"`
	Timestamp time.Time              `json:"timestamp"`
	Read      bool                   `json:"read"`
	Data      map[string]interface{} `json:"data,omitempty"`
}
