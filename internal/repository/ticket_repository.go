package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helpline-labs/support-desk/internal/domain"
)

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	FindOne(ctx context.Context, query TicketQuery) (*domain.Ticket, error)
	Find(ctx context.Context, query TicketQuery) ([]domain.Ticket, error)
	Count(ctx context.Context, query TicketQuery) (int64, error)
	Update(ctx context.Context, mutation TicketMutation) error
	Delete(ctx context.Context, query TicketQuery) error
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var ticketColumns = []string{
	"ticket_id", "owner_id", "owner_name", "handler_id", "subject", "description", "category",
	"status", "priority", "rating_score", "rating_feedback", "created_at", "updated_at",
	"resolved_at", "first_response_at", "version",
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	if ticket.Version == 0 {
		ticket.Version = 1
	}
	score, feedback := ratingColumns(ticket.Rating)

	return WithTx(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		const query = `
            INSERT INTO tickets (ticket_id, owner_id, owner_name, handler_id, subject, description, category,
                status, priority, rating_score, rating_feedback, created_at, updated_at, resolved_at,
                first_response_at, version)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`
		_, err := tx.Exec(ctx, query,
			ticket.TicketID,
			ticket.OwnerID,
			ticket.OwnerName,
			ticket.HandlerID,
			ticket.Subject,
			ticket.Description,
			ticket.Category,
			ticket.Status,
			ticket.Priority,
			score,
			feedback,
			ticket.CreatedAt,
			ticket.UpdatedAt,
			ticket.ResolvedAt,
			ticket.FirstResponseAt,
			ticket.Version,
		)
		if err != nil {
			if pgErrorCode(err) == pgUniqueViolation {
				return ErrDuplicateTicketID
			}
			return fmt.Errorf("insert ticket: %w", mapPgError(err))
		}
		if err := insertAttachments(ctx, tx, ticket.TicketID, ticket.Attachments); err != nil {
			return err
		}
		for i := range ticket.AuditLog {
			if err := insertAuditEntry(ctx, tx, ticket.TicketID, ticket.AuditLog[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *ticketRepository) FindOne(ctx context.Context, query TicketQuery) (*domain.Ticket, error) {
	query.Limit = 1
	query.Offset = 0
	tickets, err := r.Find(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, ErrNotFound
	}
	return &tickets[0], nil
}

func (r *ticketRepository) Find(ctx context.Context, query TicketQuery) ([]domain.Ticket, error) {
	builder := psql.Select(ticketColumns...).From("tickets")
	for _, pred := range ticketPredicates(query) {
		builder = builder.Where(pred)
	}

	sortBy := query.SortBy
	if !sortBy.Valid() {
		sortBy = SortByCreatedAt
	}
	dir := "DESC"
	if query.Ascending {
		dir = "ASC"
	}
	builder = builder.OrderBy(fmt.Sprintf("%s %s", sortBy, dir), "ticket_id "+dir)

	if query.Limit > 0 {
		builder = builder.Limit(uint64(query.Limit))
	}
	if query.Offset > 0 {
		builder = builder.Offset(uint64(query.Offset))
	}

	sql, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build ticket query: %w", err)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query tickets: %w", mapPgError(err))
	}
	tickets, err := scanTickets(rows)
	if err != nil {
		return nil, fmt.Errorf("scan tickets: %w", mapPgError(err))
	}
	if len(tickets) == 0 {
		return tickets, nil
	}
	if err := loadTicketChildren(ctx, r.pool, tickets); err != nil {
		return nil, err
	}
	return tickets, nil
}

func (r *ticketRepository) Count(ctx context.Context, query TicketQuery) (int64, error) {
	builder := psql.Select("COUNT(*)").From("tickets")
	for _, pred := range ticketPredicates(query) {
		builder = builder.Where(pred)
	}
	sql, args, err := builder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}
	var total int64
	if err := r.pool.QueryRow(ctx, sql, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count tickets: %w", mapPgError(err))
	}
	return total, nil
}

func (r *ticketRepository) Update(ctx context.Context, mutation TicketMutation) error {
	ticket := mutation.Ticket
	if ticket == nil {
		return errors.New("update ticket: nil ticket")
	}
	score, feedback := ratingColumns(ticket.Rating)

	return WithTx(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		const query = `
            UPDATE tickets SET handler_id=$1, subject=$2, description=$3, category=$4, status=$5,
                priority=$6, rating_score=$7, rating_feedback=$8, updated_at=$9,
                resolved_at=COALESCE(resolved_at, $10), version=$11
            WHERE ticket_id=$12 AND version=$13`
		cmd, err := tx.Exec(ctx, query,
			ticket.HandlerID,
			ticket.Subject,
			ticket.Description,
			ticket.Category,
			ticket.Status,
			ticket.Priority,
			score,
			feedback,
			ticket.UpdatedAt,
			ticket.ResolvedAt,
			ticket.Version,
			ticket.TicketID,
			mutation.ExpectedVersion,
		)
		if err != nil {
			return fmt.Errorf("update ticket: %w", mapPgError(err))
		}
		if cmd.RowsAffected() == 0 {
			exists, err := ticketExists(ctx, tx, ticket.TicketID)
			if err != nil {
				return err
			}
			if !exists {
				return ErrNotFound
			}
			return ErrVersionConflict
		}

		if mutation.AppendAudit != nil {
			if err := insertAuditEntry(ctx, tx, ticket.TicketID, *mutation.AppendAudit); err != nil {
				return err
			}
		}
		return insertAttachments(ctx, tx, ticket.TicketID, mutation.AppendAttachments)
	})
}

func (r *ticketRepository) Delete(ctx context.Context, query TicketQuery) error {
	builder := psql.Delete("tickets")
	for _, pred := range ticketPredicates(query) {
		builder = builder.Where(pred)
	}
	sql, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	cmd, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("delete ticket: %w", mapPgError(err))
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func ticketPredicates(query TicketQuery) []sq.Sqlizer {
	var preds []sq.Sqlizer
	if query.TicketID != nil {
		preds = append(preds, sq.Eq{"ticket_id": *query.TicketID})
	}
	if query.OwnerID != nil {
		preds = append(preds, sq.Eq{"owner_id": *query.OwnerID})
	}
	if query.HandlerID != nil {
		preds = append(preds, sq.Eq{"handler_id": *query.HandlerID})
	}
	if len(query.Statuses) > 0 {
		preds = append(preds, sq.Eq{"status": toStrings(query.Statuses)})
	}
	if len(query.Priorities) > 0 {
		preds = append(preds, sq.Eq{"priority": toStrings(query.Priorities)})
	}
	if query.Category != nil {
		preds = append(preds, sq.Eq{"category": string(*query.Category)})
	}
	if query.SearchTerm != nil && strings.TrimSpace(*query.SearchTerm) != "" {
		pattern := "%" + strings.TrimSpace(*query.SearchTerm) + "%"
		preds = append(preds, sq.Or{
			sq.ILike{"ticket_id": pattern},
			sq.ILike{"subject": pattern},
			sq.ILike{"description": pattern},
		})
	}
	return preds
}

func toStrings[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func ticketExists(ctx context.Context, q querier, ticketID string) (bool, error) {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tickets WHERE ticket_id=$1)`, ticketID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check ticket: %w", mapPgError(err))
	}
	return exists, nil
}

func insertAuditEntry(ctx context.Context, tx pgx.Tx, ticketID string, entry domain.AuditEntry) error {
	payload, err := json.Marshal(entry.Changes)
	if err != nil {
		return fmt.Errorf("encode audit changes: %w", err)
	}
	const query = `INSERT INTO ticket_audit_entries (ticket_id, recorded_at, changes) VALUES ($1, $2, $3)`
	if _, err := tx.Exec(ctx, query, ticketID, entry.Timestamp, payload); err != nil {
		return fmt.Errorf("insert audit entry: %w", mapPgError(err))
	}
	return nil
}

func insertAttachments(ctx context.Context, tx pgx.Tx, ticketID string, attachments []domain.Attachment) error {
	if len(attachments) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, a := range attachments {
		batch.Queue(`
            INSERT INTO ticket_attachments (ticket_id, storage_key, original_name, mime_type, size_bytes, uploaded_at)
            VALUES ($1,$2,$3,$4,$5,$6)`,
			ticketID, a.StorageKey, a.OriginalName, a.MimeType, a.SizeBytes, a.UploadedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert attachments: %w", mapPgError(err))
	}
	return nil
}

// loadTicketChildren fills attachments and audit logs for the given tickets in two round trips.
func loadTicketChildren(ctx context.Context, q querier, tickets []domain.Ticket) error {
	ids := make([]string, len(tickets))
	index := make(map[string]int, len(tickets))
	for i := range tickets {
		ids[i] = tickets[i].TicketID
		index[tickets[i].TicketID] = i
	}

	rows, err := q.Query(ctx, `
        SELECT ticket_id, storage_key, original_name, mime_type, size_bytes, uploaded_at
        FROM ticket_attachments WHERE ticket_id = ANY($1) ORDER BY seq`, ids)
	if err != nil {
		return fmt.Errorf("query attachments: %w", mapPgError(err))
	}
	for rows.Next() {
		var ticketID string
		var a domain.Attachment
		if err := rows.Scan(&ticketID, &a.StorageKey, &a.OriginalName, &a.MimeType, &a.SizeBytes, &a.UploadedAt); err != nil {
			rows.Close()
			return fmt.Errorf("scan attachment: %w", err)
		}
		t := &tickets[index[ticketID]]
		t.Attachments = append(t.Attachments, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read attachments: %w", mapPgError(err))
	}

	rows, err = q.Query(ctx, `
        SELECT ticket_id, recorded_at, changes
        FROM ticket_audit_entries WHERE ticket_id = ANY($1) ORDER BY recorded_at, seq`, ids)
	if err != nil {
		return fmt.Errorf("query audit entries: %w", mapPgError(err))
	}
	defer rows.Close()
	for rows.Next() {
		var ticketID string
		var payload []byte
		var entry domain.AuditEntry
		if err := rows.Scan(&ticketID, &entry.Timestamp, &payload); err != nil {
			return fmt.Errorf("scan audit entry: %w", err)
		}
		if err := json.Unmarshal(payload, &entry.Changes); err != nil {
			return fmt.Errorf("decode audit entry: %w", err)
		}
		t := &tickets[index[ticketID]]
		t.AuditLog = append(t.AuditLog, entry)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read audit entries: %w", mapPgError(err))
	}
	return nil
}

func ratingColumns(rating *domain.Rating) (*int, *string) {
	if rating == nil {
		return nil, nil
	}
	score := rating.Score
	feedback := rating.Feedback
	return &score, &feedback
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	defer rows.Close()
	result := []domain.Ticket{}
	for rows.Next() {
		var ticket domain.Ticket
		var score *int
		var feedback *string
		if err := rows.Scan(
			&ticket.TicketID,
			&ticket.OwnerID,
			&ticket.OwnerName,
			&ticket.HandlerID,
			&ticket.Subject,
			&ticket.Description,
			&ticket.Category,
			&ticket.Status,
			&ticket.Priority,
			&score,
			&feedback,
			&ticket.CreatedAt,
			&ticket.UpdatedAt,
			&ticket.ResolvedAt,
			&ticket.FirstResponseAt,
			&ticket.Version,
		); err != nil {
			return nil, err
		}
		if score != nil {
			ticket.Rating = &domain.Rating{Score: *score}
			if feedback != nil {
				ticket.Rating.Feedback = *feedback
			}
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}
