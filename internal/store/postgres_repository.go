/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the SQL needed for tickets, transfer history, refund requests and
 * the owner projection.
 *
 * Row locks are taken with `SELECT ... FOR UPDATE` inside a pgx transaction so concurrent writers
 * of one ticket are serialized. Each query runs inside an OpenTelemetry span.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - go.opentelemetry.io/otel: Tracing of store operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urbantransit/ticket-service/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

//go:embed schema.sql
var schemaSQL string

const (
	ticketColumns = `id, owner_id, fare_type, status, purchased_at, used_at, token, token_image,
		original_amount, discount_percent, final_amount, updated_at`
	transferColumns = `id, ticket_id, from_owner_id, from_owner_email, to_owner_id, to_owner_email,
		fare_type, transferred_at, status`
	refundColumns = `id, ticket_id, requester_id, fare_type, original_amount, refund_amount, reason,
		status, requested_at, decided_at, admin_notes`
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{
		db:     db,
		tracer: otel.Tracer("ticket-service/store"),
	}
}

// EnsureSchema creates the tables and indexes the service needs if they are missing.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "store.ensure_schema")
	defer span.End()

	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (r *PostgresRepository) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// NextTicketID reserves an id so the token can be minted before the row is inserted.
func (r *PostgresRepository) NextTicketID(ctx context.Context) (int64, error) {
	ctx, span := r.startSpan(ctx, "store.next_ticket_id")
	defer span.End()

	var id int64
	if err := r.db.QueryRow(ctx, "SELECT nextval('tickets_id_seq')").Scan(&id); err != nil {
		recordSpanError(span, err)
		return 0, err
	}
	return id, nil
}

// CreateTicket inserts a fully built ticket, including its reserved id and token.
func (r *PostgresRepository) CreateTicket(ctx context.Context, t *domain.Ticket) error {
	ctx, span := r.startSpan(ctx, "store.create_ticket",
		attribute.Int64("ticket.id", t.ID),
		attribute.String("ticket.fare_type", string(t.FareType)),
	)
	defer span.End()

	query := `
		INSERT INTO tickets (
			id, owner_id, fare_type, status, purchased_at, used_at, token, token_image,
			original_amount, discount_percent, final_amount, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		RETURNING updated_at
	`
	err := r.db.QueryRow(ctx, query,
		t.ID,
		t.OwnerID,
		string(t.FareType),
		string(t.Status),
		t.PurchasedAt,
		t.UsedAt,
		t.Token,
		t.TokenImage,
		t.OriginalAmount,
		t.DiscountPercent,
		t.FinalAmount,
	).Scan(&t.UpdatedAt)
	if err != nil {
		recordSpanError(span, err)
		if isUniqueViolation(err, "tickets_token_key") {
			return ErrDuplicateToken
		}
		return fmt.Errorf("insert ticket: %w", err)
	}
	return nil
}

// FindTicketByID retrieves a ticket by its id.
func (r *PostgresRepository) FindTicketByID(ctx context.Context, ticketID int64) (*domain.Ticket, error) {
	ctx, span := r.startSpan(ctx, "store.find_ticket_by_id", attribute.Int64("ticket.id", ticketID))
	defer span.End()

	t, err := scanTicket(r.db.QueryRow(ctx, "SELECT "+ticketColumns+" FROM tickets WHERE id = $1", ticketID))
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return t, nil
}

// FindTicketByToken retrieves a ticket by the exact token string printed in its QR code.
func (r *PostgresRepository) FindTicketByToken(ctx context.Context, token string) (*domain.Ticket, error) {
	ctx, span := r.startSpan(ctx, "store.find_ticket_by_token")
	defer span.End()

	t, err := scanTicket(r.db.QueryRow(ctx, "SELECT "+ticketColumns+" FROM tickets WHERE token = $1", token))
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return t, nil
}

// FindTicketsByOwner returns a user's tickets, newest first.
func (r *PostgresRepository) FindTicketsByOwner(ctx context.Context, ownerID int64) ([]domain.Ticket, error) {
	ctx, span := r.startSpan(ctx, "store.find_tickets_by_owner", attribute.Int64("owner.id", ownerID))
	defer span.End()

	tickets, err := r.queryTickets(ctx, "SELECT "+ticketColumns+" FROM tickets WHERE owner_id = $1 ORDER BY purchased_at DESC, id DESC", ownerID)
	recordSpanError(span, err)
	return tickets, err
}

// FindTicketsByOwnerAndType returns a user's tickets of one fare type.
func (r *PostgresRepository) FindTicketsByOwnerAndType(ctx context.Context, ownerID int64, fareType domain.FareType) ([]domain.Ticket, error) {
	ctx, span := r.startSpan(ctx, "store.find_tickets_by_owner_and_type",
		attribute.Int64("owner.id", ownerID),
		attribute.String("ticket.fare_type", string(fareType)),
	)
	defer span.End()

	tickets, err := r.queryTickets(ctx,
		"SELECT "+ticketColumns+" FROM tickets WHERE owner_id = $1 AND fare_type = $2 ORDER BY purchased_at DESC, id DESC",
		ownerID, string(fareType))
	recordSpanError(span, err)
	return tickets, err
}

// ListRecentlyUsedTickets returns the most recently consumed tickets.
func (r *PostgresRepository) ListRecentlyUsedTickets(ctx context.Context, limit int) ([]domain.Ticket, error) {
	ctx, span := r.startSpan(ctx, "store.list_recently_used_tickets", attribute.Int("limit", limit))
	defer span.End()

	tickets, err := r.queryTickets(ctx,
		"SELECT "+ticketColumns+" FROM tickets WHERE used_at IS NOT NULL ORDER BY used_at DESC, id DESC LIMIT $1",
		limit)
	recordSpanError(span, err)
	return tickets, err
}

func (r *PostgresRepository) queryTickets(ctx context.Context, query string, args ...any) ([]domain.Ticket, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tickets := make([]domain.Ticket, 0)
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, *t)
	}
	return tickets, rows.Err()
}

// CountOwnerTickets computes the per-user ticket summary.
func (r *PostgresRepository) CountOwnerTickets(ctx context.Context, ownerID int64) (domain.OwnerTicketStats, error) {
	ctx, span := r.startSpan(ctx, "store.count_owner_tickets", attribute.Int64("owner.id", ownerID))
	defer span.End()

	var stats domain.OwnerTicketStats
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'ACTIVE' AND used_at IS NULL),
			COUNT(*) FILTER (WHERE used_at IS NOT NULL)
		FROM tickets
		WHERE owner_id = $1
	`
	if err := r.db.QueryRow(ctx, query, ownerID).Scan(&stats.TotalPurchased, &stats.ActiveTickets, &stats.UsedTickets); err != nil {
		recordSpanError(span, err)
		return domain.OwnerTicketStats{}, err
	}
	return stats, nil
}

// CountValidations computes the controller dashboard counters.
func (r *PostgresRepository) CountValidations(ctx context.Context, window ValidationWindow) (domain.ValidationStats, error) {
	ctx, span := r.startSpan(ctx, "store.count_validations")
	defer span.End()

	var stats domain.ValidationStats
	query := `
		SELECT
			COUNT(*) FILTER (WHERE used_at > $1),
			COUNT(*) FILTER (WHERE used_at > $2),
			COUNT(*) FILTER (WHERE used_at > $3),
			COUNT(*) FILTER (WHERE used_at IS NOT NULL),
			COUNT(*) FILTER (WHERE status = 'ACTIVE'),
			COUNT(*) FILTER (WHERE status IN ('CANCELLED', 'EXPIRED'))
		FROM tickets
	`
	err := r.db.QueryRow(ctx, query, window.DayStart, window.WeekStart, window.MonthStart).Scan(
		&stats.ValidationsToday,
		&stats.ValidationsThisWeek,
		&stats.ValidationsThisMonth,
		&stats.TotalValidations,
		&stats.ValidTickets,
		&stats.InvalidTickets,
	)
	if err != nil {
		recordSpanError(span, err)
		return domain.ValidationStats{}, err
	}
	return stats, nil
}

// FindTransfersByOwner returns every transfer the user sent or received.
func (r *PostgresRepository) FindTransfersByOwner(ctx context.Context, ownerID int64) ([]domain.TransferRecord, error) {
	return r.queryTransfers(ctx, "store.find_transfers_by_owner",
		"SELECT "+transferColumns+" FROM ticket_transfers WHERE from_owner_id = $1 OR to_owner_id = $1 ORDER BY transferred_at DESC, id DESC",
		ownerID)
}

// FindTransfersSent returns the transfers a user initiated.
func (r *PostgresRepository) FindTransfersSent(ctx context.Context, ownerID int64) ([]domain.TransferRecord, error) {
	return r.queryTransfers(ctx, "store.find_transfers_sent",
		"SELECT "+transferColumns+" FROM ticket_transfers WHERE from_owner_id = $1 ORDER BY transferred_at DESC, id DESC",
		ownerID)
}

// FindTransfersReceived returns the transfers a user received.
func (r *PostgresRepository) FindTransfersReceived(ctx context.Context, ownerID int64) ([]domain.TransferRecord, error) {
	return r.queryTransfers(ctx, "store.find_transfers_received",
		"SELECT "+transferColumns+" FROM ticket_transfers WHERE to_owner_id = $1 ORDER BY transferred_at DESC, id DESC",
		ownerID)
}

// FindTransfersByTicket returns the ownership chain of one ticket.
func (r *PostgresRepository) FindTransfersByTicket(ctx context.Context, ticketID int64) ([]domain.TransferRecord, error) {
	return r.queryTransfers(ctx, "store.find_transfers_by_ticket",
		"SELECT "+transferColumns+" FROM ticket_transfers WHERE ticket_id = $1 ORDER BY transferred_at DESC, id DESC",
		ticketID)
}

func (r *PostgresRepository) queryTransfers(ctx context.Context, spanName string, query string, id int64) ([]domain.TransferRecord, error) {
	ctx, span := r.startSpan(ctx, spanName, attribute.Int64("lookup.id", id))
	defer span.End()

	rows, err := r.db.Query(ctx, query, id)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.TransferRecord, 0)
	for rows.Next() {
		var rec domain.TransferRecord
		var fareType string
		if err := rows.Scan(
			&rec.ID, &rec.TicketID, &rec.FromOwnerID, &rec.FromOwnerEmail, &rec.ToOwnerID,
			&rec.ToOwnerEmail, &fareType, &rec.TransferredAt, &rec.Status,
		); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		rec.FareType = domain.FareType(fareType)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return records, nil
}

// FindRefundByID retrieves a refund request without locking it.
func (r *PostgresRepository) FindRefundByID(ctx context.Context, refundID int64) (*domain.RefundRequest, error) {
	ctx, span := r.startSpan(ctx, "store.find_refund_by_id", attribute.Int64("refund.id", refundID))
	defer span.End()

	refund, err := scanRefund(r.db.QueryRow(ctx, "SELECT "+refundColumns+" FROM refund_requests WHERE id = $1", refundID))
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return refund, nil
}

// FindRefundsByRequester returns a user's refund requests, newest first.
func (r *PostgresRepository) FindRefundsByRequester(ctx context.Context, requesterID int64) ([]domain.RefundRequest, error) {
	return r.queryRefunds(ctx, "store.find_refunds_by_requester",
		"SELECT "+refundColumns+" FROM refund_requests WHERE requester_id = $1 ORDER BY requested_at DESC, id DESC",
		requesterID)
}

// FindRefundsByStatus returns every refund request in the given status, newest first.
func (r *PostgresRepository) FindRefundsByStatus(ctx context.Context, status domain.RefundStatus) ([]domain.RefundRequest, error) {
	return r.queryRefunds(ctx, "store.find_refunds_by_status",
		"SELECT "+refundColumns+" FROM refund_requests WHERE status = $1 ORDER BY requested_at DESC, id DESC",
		string(status))
}

func (r *PostgresRepository) queryRefunds(ctx context.Context, spanName string, query string, arg any) ([]domain.RefundRequest, error) {
	ctx, span := r.startSpan(ctx, spanName)
	defer span.End()

	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer rows.Close()

	refunds := make([]domain.RefundRequest, 0)
	for rows.Next() {
		refund, err := scanRefund(rows)
		if err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		refunds = append(refunds, *refund)
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return refunds, nil
}

// UpsertOwner stores or refreshes the local copy of a registered user.
func (r *PostgresRepository) UpsertOwner(ctx context.Context, owner domain.Owner) error {
	ctx, span := r.startSpan(ctx, "store.upsert_owner", attribute.Int64("owner.id", owner.ID))
	defer span.End()

	query := `
		INSERT INTO owners (id, email, first_name, last_name, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (id) DO UPDATE
		SET email = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			updated_at = now()
	`
	_, err := r.db.Exec(ctx, query, owner.ID, strings.TrimSpace(owner.Email), owner.FirstName, owner.LastName)
	if err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("upsert owner: %w", err)
	}
	return nil
}

// FindOwnerByID resolves an owner's display data.
func (r *PostgresRepository) FindOwnerByID(ctx context.Context, ownerID int64) (*domain.Owner, error) {
	ctx, span := r.startSpan(ctx, "store.find_owner_by_id", attribute.Int64("owner.id", ownerID))
	defer span.End()

	var owner domain.Owner
	err := r.db.QueryRow(ctx, "SELECT id, email, first_name, last_name FROM owners WHERE id = $1", ownerID).
		Scan(&owner.ID, &owner.Email, &owner.FirstName, &owner.LastName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOwnerNotFound
		}
		recordSpanError(span, err)
		return nil, err
	}
	return &owner, nil
}

// FindOwnerByEmail resolves an owner from an email address, case-insensitively.
func (r *PostgresRepository) FindOwnerByEmail(ctx context.Context, email string) (*domain.Owner, error) {
	ctx, span := r.startSpan(ctx, "store.find_owner_by_email")
	defer span.End()

	var owner domain.Owner
	query := `SELECT id, email, first_name, last_name FROM owners WHERE lower(btrim(email)) = lower(btrim($1))`
	err := r.db.QueryRow(ctx, query, email).Scan(&owner.ID, &owner.Email, &owner.FirstName, &owner.LastName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOwnerNotFound
		}
		recordSpanError(span, err)
		return nil, err
	}
	return &owner, nil
}

// WithinTx runs fn in a database transaction. Row locks taken through the Tx are held
// until commit or rollback.
func (r *PostgresRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	ctx, span := r.startSpan(ctx, "store.tx")
	defer span.End()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx, tracer: r.tracer}); err != nil {
		span.SetAttributes(attribute.Bool("tx.rolled_back", true))
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// pgTx implements Tx on top of a pgx transaction.
type pgTx struct {
	tx     pgx.Tx
	tracer trace.Tracer
}

func (t *pgTx) LockTicket(ctx context.Context, ticketID int64) (*domain.Ticket, error) {
	ctx, span := t.tracer.Start(ctx, "store.lock_ticket", trace.WithAttributes(attribute.Int64("ticket.id", ticketID)))
	defer span.End()

	// Use FOR UPDATE to lock the row until the transaction ends.
	ticket, err := scanTicket(t.tx.QueryRow(ctx, "SELECT "+ticketColumns+" FROM tickets WHERE id = $1 FOR UPDATE", ticketID))
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return ticket, nil
}

func (t *pgTx) SaveTicket(ctx context.Context, ticket *domain.Ticket) error {
	query := `
		UPDATE tickets
		SET owner_id = $2, status = $3, used_at = $4, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`
	err := t.tx.QueryRow(ctx, query, ticket.ID, ticket.OwnerID, string(ticket.Status), ticket.UsedAt).Scan(&ticket.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTicketNotFound
		}
		return fmt.Errorf("update ticket %d: %w", ticket.ID, err)
	}
	return nil
}

func (t *pgTx) AppendTransfer(ctx context.Context, rec *domain.TransferRecord) error {
	query := `
		INSERT INTO ticket_transfers (
			ticket_id, from_owner_id, from_owner_email, to_owner_id, to_owner_email,
			fare_type, transferred_at, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err := t.tx.QueryRow(ctx, query,
		rec.TicketID, rec.FromOwnerID, rec.FromOwnerEmail, rec.ToOwnerID, rec.ToOwnerEmail,
		string(rec.FareType), rec.TransferredAt, rec.Status,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("insert transfer record: %w", err)
	}
	return nil
}

func (t *pgTx) HasOpenRefund(ctx context.Context, ticketID int64) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM refund_requests WHERE ticket_id = $1 AND status IN ('PENDING', 'COMPLETED'))`
	if err := t.tx.QueryRow(ctx, query, ticketID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (t *pgTx) CreateRefund(ctx context.Context, refund *domain.RefundRequest) error {
	query := `
		INSERT INTO refund_requests (
			ticket_id, requester_id, fare_type, original_amount, refund_amount, reason,
			status, requested_at, decided_at, admin_notes
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	err := t.tx.QueryRow(ctx, query,
		refund.TicketID, refund.RequesterID, string(refund.FareType), refund.OriginalAmount,
		refund.RefundAmount, refund.Reason, string(refund.Status), refund.RequestedAt,
		refund.DecidedAt, refund.AdminNotes,
	).Scan(&refund.ID)
	if err != nil {
		if isUniqueViolation(err, "refund_requests_one_open_idx") {
			return ErrOpenRefundExists
		}
		return fmt.Errorf("insert refund request: %w", err)
	}
	return nil
}

func (t *pgTx) LockRefund(ctx context.Context, refundID int64) (*domain.RefundRequest, error) {
	ctx, span := t.tracer.Start(ctx, "store.lock_refund", trace.WithAttributes(attribute.Int64("refund.id", refundID)))
	defer span.End()

	refund, err := scanRefund(t.tx.QueryRow(ctx, "SELECT "+refundColumns+" FROM refund_requests WHERE id = $1 FOR UPDATE", refundID))
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return refund, nil
}

func (t *pgTx) SaveRefund(ctx context.Context, refund *domain.RefundRequest) error {
	query := `
		UPDATE refund_requests
		SET status = $2, decided_at = $3, admin_notes = $4
		WHERE id = $1
	`
	tag, err := t.tx.Exec(ctx, query, refund.ID, string(refund.Status), refund.DecidedAt, refund.AdminNotes)
	if err != nil {
		return fmt.Errorf("update refund request %d: %w", refund.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRefundNotFound
	}
	return nil
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var t domain.Ticket
	var fareType, status string
	err := row.Scan(
		&t.ID,
		&t.OwnerID,
		&fareType,
		&status,
		&t.PurchasedAt,
		&t.UsedAt,
		&t.Token,
		&t.TokenImage,
		&t.OriginalAmount,
		&t.DiscountPercent,
		&t.FinalAmount,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTicketNotFound
		}
		return nil, err
	}
	t.FareType = domain.FareType(fareType)
	t.Status = domain.TicketStatus(status)
	return &t, nil
}

func scanRefund(row pgx.Row) (*domain.RefundRequest, error) {
	var refund domain.RefundRequest
	var fareType, status string
	err := row.Scan(
		&refund.ID,
		&refund.TicketID,
		&refund.RequesterID,
		&fareType,
		&refund.OriginalAmount,
		&refund.RefundAmount,
		&refund.Reason,
		&status,
		&refund.RequestedAt,
		&refund.DecidedAt,
		&refund.AdminNotes,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRefundNotFound
		}
		return nil, err
	}
	refund.FareType = domain.FareType(fareType)
	refund.Status = domain.RefundStatus(status)
	return &refund, nil
}

// isUniqueViolation reports whether err is a Postgres unique violation, optionally on a
// specific constraint or index.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

var _ querier = (*pgxpool.Pool)(nil)
