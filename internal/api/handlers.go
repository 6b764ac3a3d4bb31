/**
 * @description
 * This file contains the HTTP handlers for the ticket-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: URL parameters.
 * - github.com/go-playground/validator/v10: Request DTO validation.
 * - internal/app, internal/domain: For service logic, models, and error kinds.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/urbantransit/ticket-service/internal/app"
	"github.com/urbantransit/ticket-service/internal/domain"
)

const maxBodyBytes = 1 << 20

// TicketHandlers holds the application service that handlers will use.
type TicketHandlers struct {
	service  *app.Service
	validate *validator.Validate
}

// NewTicketHandlers creates a new TicketHandlers.
func NewTicketHandlers(service *app.Service) *TicketHandlers {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &TicketHandlers{service: service, validate: validate}
}

type fareResponse struct {
	FareType  domain.FareType `json:"fare_type"`
	Price     int64           `json:"price"`
	SingleUse bool            `json:"single_use"`
}

// ListFaresHandler returns the fare products on sale and their prices.
func (h *TicketHandlers) ListFaresHandler(w http.ResponseWriter, r *http.Request) {
	catalog := h.service.Catalog()
	fares := make([]fareResponse, 0, len(domain.FareTypes))
	for _, ft := range domain.FareTypes {
		p, ok := catalog.Lookup(ft)
		if !ok {
			continue
		}
		fares = append(fares, fareResponse{FareType: p.Type, Price: p.Price, SingleUse: p.SingleUse})
	}
	writeJSON(w, http.StatusOK, fares)
}

// PurchaseTicketHandler sells a ticket to the caller. Administrators may buy on
// behalf of another owner by setting owner_id.
func (h *TicketHandlers) PurchaseTicketHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := GetCaller(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	var req domain.PurchaseTicketRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	ownerID := caller.UserID
	if req.OwnerID != 0 && req.OwnerID != caller.UserID {
		if caller.Role != RoleAdmin {
			writeError(w, http.StatusForbidden, "Only administrators can purchase for another user")
			return
		}
		ownerID = req.OwnerID
	}

	ticket, err := h.service.Purchase(r.Context(), app.PurchaseInput{
		OwnerID:         ownerID,
		FareType:        req.FareType,
		DiscountPercent: req.LoyaltyDiscount,
	})
	if err != nil {
		h.writeServiceError(w, "purchase_ticket", err, "owner_id=%d fare_type=%s", ownerID, req.FareType)
		return
	}
	log.Printf("level=info component=api endpoint=purchase_ticket outcome=created ticket_id=%d owner_id=%d fare_type=%s", ticket.ID, ownerID, ticket.FareType)
	writeJSON(w, http.StatusCreated, ticket)
}

// GetTicketHandler returns one ticket. Passengers only see their own tickets.
func (h *TicketHandlers) GetTicketHandler(w http.ResponseWriter, r *http.Request) {
	caller, ticketID, ok := h.callerAndID(w, r, "id")
	if !ok {
		return
	}
	ticket, err := h.service.GetTicket(r.Context(), ticketID)
	if err != nil {
		h.writeServiceError(w, "get_ticket", err, "ticket_id=%d", ticketID)
		return
	}
	if !canSeeTicket(caller, ticket) {
		writeError(w, http.StatusNotFound, app.ErrTicketNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// ListMyTicketsHandler lists the caller's tickets, newest first.
func (h *TicketHandlers) ListMyTicketsHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := GetCaller(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}
	tickets, err := h.service.OwnerTickets(r.Context(), caller.UserID)
	if err != nil {
		h.writeServiceError(w, "list_my_tickets", err, "owner_id=%d", caller.UserID)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(tickets))
}

// ListOwnerTicketsHandler lists another owner's tickets for staff.
func (h *TicketHandlers) ListOwnerTicketsHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := pathID(w, r, "ownerID", "Invalid owner ID")
	if !ok {
		return
	}
	tickets, err := h.service.OwnerTickets(r.Context(), ownerID)
	if err != nil {
		h.writeServiceError(w, "list_owner_tickets", err, "owner_id=%d", ownerID)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(tickets))
}

// GetMyStatsHandler returns the caller's ticket counters.
func (h *TicketHandlers) GetMyStatsHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := GetCaller(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}
	stats, err := h.service.OwnerStats(r.Context(), caller.UserID)
	if err != nil {
		h.writeServiceError(w, "get_my_stats", err, "owner_id=%d", caller.UserID)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ValidateTicketHandler punches a ticket by id.
func (h *TicketHandlers) ValidateTicketHandler(w http.ResponseWriter, r *http.Request) {
	ticketID, ok := pathID(w, r, "id", "Invalid ticket ID")
	if !ok {
		return
	}
	ticket, err := h.service.Validate(r.Context(), ticketID)
	if err != nil {
		h.writeServiceError(w, "validate_ticket", err, "ticket_id=%d", ticketID)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// ValidateQRHandler answers a scan with a verdict. The token comes from the
// request body, or from the path for scanners that only issue GETs.
func (h *TicketHandlers) ValidateQRHandler(w http.ResponseWriter, r *http.Request) {
	var raw string
	if param := chi.URLParam(r, "token"); param != "" {
		unescaped, err := url.PathUnescape(param)
		if err != nil {
			unescaped = param
		}
		raw = unescaped
	} else {
		var req domain.ValidateQRRequest
		if !h.decodeAndValidate(w, r, &req) {
			return
		}
		raw = req.Token
	}

	verdict, err := h.service.ValidateQR(r.Context(), raw)
	if err != nil {
		h.writeServiceError(w, "validate_qr", err, "")
		return
	}
	log.Printf("level=info component=api endpoint=validate_qr valid=%t reason=%q ticket_id=%d", verdict.Valid, verdict.Reason, verdict.TicketID)
	writeJSON(w, http.StatusOK, verdict)
}

// CancelTicketHandler cancels an unused ticket. Administrators can cancel any ticket.
func (h *TicketHandlers) CancelTicketHandler(w http.ResponseWriter, r *http.Request) {
	caller, ticketID, ok := h.callerAndID(w, r, "id")
	if !ok {
		return
	}
	requesterID := caller.UserID
	if caller.Role == RoleAdmin {
		requesterID = 0
	}
	ticket, err := h.service.Cancel(r.Context(), ticketID, requesterID)
	if err != nil {
		h.writeServiceError(w, "cancel_ticket", err, "ticket_id=%d requester_id=%d", ticketID, caller.UserID)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// TransferTicketHandler gives the caller's ticket to another registered user.
func (h *TicketHandlers) TransferTicketHandler(w http.ResponseWriter, r *http.Request) {
	caller, ticketID, ok := h.callerAndID(w, r, "id")
	if !ok {
		return
	}
	var req domain.TransferTicketRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	result, err := h.service.Transfer(r.Context(), ticketID, caller.UserID, req.RecipientEmail)
	if err != nil {
		h.writeServiceError(w, "transfer_ticket", err, "ticket_id=%d sender_id=%d", ticketID, caller.UserID)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetTicketTransfersHandler returns the ownership chain of one ticket.
func (h *TicketHandlers) GetTicketTransfersHandler(w http.ResponseWriter, r *http.Request) {
	caller, ticketID, ok := h.callerAndID(w, r, "id")
	if !ok {
		return
	}
	records, err := h.service.TicketTransfers(r.Context(), ticketID)
	if err != nil {
		h.writeServiceError(w, "get_ticket_transfers", err, "ticket_id=%d", ticketID)
		return
	}
	if !caller.HasRole(RoleController) && !involved(caller.UserID, records) {
		ticket, err := h.service.GetTicket(r.Context(), ticketID)
		if err != nil || ticket.OwnerID != caller.UserID {
			writeError(w, http.StatusNotFound, app.ErrTicketNotFound.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, emptyIfNil(records))
}

// ListMyTransfersHandler lists every transfer the caller took part in.
func (h *TicketHandlers) ListMyTransfersHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := GetCaller(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	var (
		payload interface{}
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get("direction"))) {
	case "sent":
		var records []domain.TransferRecord
		records, err = h.service.TransfersSent(r.Context(), caller.UserID)
		payload = emptyIfNil(records)
	case "received":
		var records []domain.TransferRecord
		records, err = h.service.TransfersReceived(r.Context(), caller.UserID)
		payload = emptyIfNil(records)
	case "", "all":
		var entries []domain.TransferHistoryEntry
		entries, err = h.service.TransferHistory(r.Context(), caller.UserID)
		payload = emptyIfNil(entries)
	default:
		writeError(w, http.StatusBadRequest, "direction must be one of: sent, received, all")
		return
	}
	if err != nil {
		h.writeServiceError(w, "list_my_transfers", err, "owner_id=%d", caller.UserID)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// RequestRefundHandler opens a refund request for the caller's ticket.
func (h *TicketHandlers) RequestRefundHandler(w http.ResponseWriter, r *http.Request) {
	caller, ticketID, ok := h.callerAndID(w, r, "id")
	if !ok {
		return
	}
	var req domain.RefundTicketRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	refund, err := h.service.RequestRefund(r.Context(), ticketID, caller.UserID, req.Reason)
	if err != nil {
		h.writeServiceError(w, "request_refund", err, "ticket_id=%d requester_id=%d", ticketID, caller.UserID)
		return
	}
	writeJSON(w, http.StatusCreated, refund)
}

// ListMyRefundsHandler lists the caller's refund requests.
func (h *TicketHandlers) ListMyRefundsHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := GetCaller(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}
	refunds, err := h.service.OwnerRefunds(r.Context(), caller.UserID)
	if err != nil {
		h.writeServiceError(w, "list_my_refunds", err, "owner_id=%d", caller.UserID)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(refunds))
}

// ListPendingRefundsHandler lists refunds awaiting a decision.
func (h *TicketHandlers) ListPendingRefundsHandler(w http.ResponseWriter, r *http.Request) {
	refunds, err := h.service.PendingRefunds(r.Context())
	if err != nil {
		h.writeServiceError(w, "list_pending_refunds", err, "")
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(refunds))
}

// GetRefundHandler returns one refund request.
func (h *TicketHandlers) GetRefundHandler(w http.ResponseWriter, r *http.Request) {
	caller, refundID, ok := h.callerAndID(w, r, "refundID")
	if !ok {
		return
	}
	refund, err := h.service.GetRefund(r.Context(), refundID)
	if err != nil {
		h.writeServiceError(w, "get_refund", err, "refund_id=%d", refundID)
		return
	}
	if caller.Role != RoleAdmin && refund.RequesterID != caller.UserID {
		writeError(w, http.StatusNotFound, app.ErrRefundNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, refund)
}

// DecideRefundHandler approves or rejects a pending refund.
func (h *TicketHandlers) DecideRefundHandler(w http.ResponseWriter, r *http.Request) {
	refundID, ok := pathID(w, r, "refundID", "Invalid refund ID")
	if !ok {
		return
	}
	var req domain.RefundDecisionRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	refund, err := h.service.DecideRefund(r.Context(), refundID, *req.Approve, req.AdminNotes)
	if err != nil {
		h.writeServiceError(w, "decide_refund", err, "refund_id=%d approve=%t", refundID, *req.Approve)
		return
	}
	writeJSON(w, http.StatusOK, refund)
}

// ValidationStatsHandler returns validation counters for today, the week and the month.
func (h *TicketHandlers) ValidationStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.ValidationStats(r.Context())
	if err != nil {
		h.writeServiceError(w, "validation_stats", err, "")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ValidationHistoryHandler returns the most recently used tickets.
func (h *TicketHandlers) ValidationHistoryHandler(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.service.ValidationHistory(r.Context())
	if err != nil {
		h.writeServiceError(w, "validation_history", err, "")
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(tickets))
}

func (h *TicketHandlers) callerAndID(w http.ResponseWriter, r *http.Request, param string) (Caller, int64, bool) {
	caller, ok := GetCaller(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return Caller{}, 0, false
	}
	id, ok := pathID(w, r, param, "Invalid ID")
	if !ok {
		return Caller{}, 0, false
	}
	return caller, id, true
}

func pathID(w http.ResponseWriter, r *http.Request, param, msg string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, msg)
		return 0, false
	}
	return id, true
}

func (h *TicketHandlers) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "Request body is required")
		} else {
			writeError(w, http.StatusBadRequest, "Invalid request body")
		}
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return "Invalid request body"
	}
	fe := fieldErrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "gte", "lte", "gt", "max":
		return fmt.Sprintf("%s is out of range", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// writeServiceError maps an application error to a status code and logs it.
// Internal errors are reported with a generic message.
func (h *TicketHandlers) writeServiceError(w http.ResponseWriter, endpoint string, err error, format string, args ...interface{}) {
	status, msg := mapServiceError(err)
	ctx := ""
	if format != "" {
		ctx = " " + fmt.Sprintf(format, args...)
	}
	if status >= http.StatusInternalServerError {
		log.Printf("level=error component=api endpoint=%s outcome=failed%s err=%v", endpoint, ctx, err)
	} else {
		log.Printf("level=warn component=api endpoint=%s outcome=reject%s err=%v", endpoint, ctx, err)
	}
	writeError(w, status, msg)
}

func mapServiceError(err error) (int, string) {
	switch app.KindOf(err) {
	case app.KindNotFound:
		return http.StatusNotFound, err.Error()
	case app.KindConflict:
		return http.StatusConflict, err.Error()
	case app.KindPrecondition, app.KindValidation:
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func canSeeTicket(caller Caller, ticket *domain.Ticket) bool {
	return ticket.OwnerID == caller.UserID || caller.HasRole(RoleController)
}

func involved(userID int64, records []domain.TransferRecord) bool {
	for _, rec := range records {
		if rec.FromOwnerID == userID || rec.ToOwnerID == userID {
			return true
		}
	}
	return false
}

func emptyIfNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("level=error component=api msg=\"failed to encode response\" err=%v", err)
		}
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
