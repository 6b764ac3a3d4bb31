package app

import "errors"

// ErrorKind groups lifecycle errors by how a caller should react to them.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindNotFound
	KindConflict
	KindPrecondition
	KindValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindPrecondition:
		return "precondition"
	case KindValidation:
		return "validation"
	default:
		return "internal"
	}
}

// Error is a lifecycle rejection with a stable message and a kind.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

var (
	ErrTicketNotFound    = newError(KindNotFound, "ticket not found")
	ErrOwnerNotFound     = newError(KindNotFound, "owner not found")
	ErrRefundNotFound    = newError(KindNotFound, "refund request not found")
	ErrRecipientNotFound = newError(KindNotFound, "recipient not found")

	ErrAlreadyUsed            = newError(KindConflict, "ticket has already been used")
	ErrAlreadyDecided         = newError(KindConflict, "refund request has already been decided")
	ErrRefundAlreadyRequested = newError(KindConflict, "a refund has already been requested for this ticket")
	ErrDuplicateActiveTicket  = newError(KindConflict, "an active ticket of this type already exists")

	ErrTicketNotUsable       = newError(KindPrecondition, "ticket is not active")
	ErrTicketNotCancellable  = newError(KindPrecondition, "ticket cannot be cancelled")
	ErrTicketNotTransferable = newError(KindPrecondition, "ticket cannot be transferred")
	ErrNotOwner              = newError(KindPrecondition, "ticket does not belong to the requester")
	ErrInvalidTransfer       = newError(KindPrecondition, "cannot transfer a ticket to its current owner")
	ErrNotRefundable         = newError(KindPrecondition, "ticket is not eligible for a refund")
	ErrInsufficientBalance   = newError(KindPrecondition, "insufficient balance")

	ErrInvalidFareType  = newError(KindValidation, "invalid fare type")
	ErrInvalidOwnerID   = newError(KindValidation, "invalid owner id")
	ErrInvalidTicketID  = newError(KindValidation, "invalid ticket id")
	ErrInvalidRefundID  = newError(KindValidation, "invalid refund id")
	ErrInvalidDiscount  = newError(KindValidation, "loyalty discount must be between 0 and 15 percent")
	ErrInvalidRecipient = newError(KindValidation, "recipient email is required")
)

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) ErrorKind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}
