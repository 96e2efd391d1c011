package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helpline-labs/support-desk/internal/domain"
	"github.com/helpline-labs/support-desk/internal/lifecycle"
)

// ChatMessageRepository persists the per-ticket chat thread.
type ChatMessageRepository interface {
	// Post stores msg while holding the parent ticket, taking msg.CreatedAt from clock under
	// that hold so a thread's timestamps follow write order. A staff message on a ticket without
	// a first response stamps it with msg.CreatedAt in the same write; the bool reports that.
	Post(ctx context.Context, msg *domain.ChatMessage, clock func() time.Time) (bool, error)
	ListByTicket(ctx context.Context, ticketID string) ([]domain.ChatMessage, error)
	CountAll(ctx context.Context) (int64, error)
}

type chatMessageRepository struct {
	pool *pgxpool.Pool
}

// NewChatMessageRepository returns a Postgres-backed implementation.
func NewChatMessageRepository(pool *pgxpool.Pool) ChatMessageRepository {
	return &chatMessageRepository{pool: pool}
}

func (r *chatMessageRepository) Post(ctx context.Context, msg *domain.ChatMessage, clock func() time.Time) (bool, error) {
	var stamped bool
	err := WithTx(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var firstResponseAt *time.Time
		err := tx.QueryRow(ctx, `SELECT first_response_at FROM tickets WHERE ticket_id=$1 FOR UPDATE`, msg.TicketID).
			Scan(&firstResponseAt)
		if err != nil {
			return fmt.Errorf("lock ticket: %w", mapPgError(err))
		}

		msg.CreatedAt = clock()
		const insert = `
            INSERT INTO chat_messages (id, ticket_id, sender_id, sender_role, body, created_at)
            VALUES ($1,$2,$3,$4,$5,$6)`
		if _, err := tx.Exec(ctx, insert,
			msg.ID,
			msg.TicketID,
			msg.SenderID,
			msg.SenderRole,
			msg.Body,
			msg.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert chat message: %w", mapPgError(err))
		}

		if !lifecycle.RespondsFirst(msg.SenderRole, firstResponseAt) {
			return nil
		}
		cmd, err := tx.Exec(ctx,
			`UPDATE tickets SET first_response_at=$2 WHERE ticket_id=$1 AND first_response_at IS NULL`,
			msg.TicketID, msg.CreatedAt)
		if err != nil {
			return fmt.Errorf("stamp first response: %w", mapPgError(err))
		}
		stamped = cmd.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return stamped, nil
}

func (r *chatMessageRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.ChatMessage, error) {
	const query = `
        SELECT id, ticket_id, sender_id, sender_role, body, created_at
        FROM chat_messages WHERE ticket_id=$1
        ORDER BY created_at, seq`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, fmt.Errorf("query chat messages: %w", mapPgError(err))
	}
	messages, err := scanChatMessages(rows)
	if err != nil {
		return nil, fmt.Errorf("scan chat messages: %w", mapPgError(err))
	}
	return messages, nil
}

func (r *chatMessageRepository) CountAll(ctx context.Context) (int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chat_messages`).Scan(&total); err != nil {
		return 0, fmt.Errorf("count chat messages: %w", mapPgError(err))
	}
	return total, nil
}

func scanChatMessages(rows pgx.Rows) ([]domain.ChatMessage, error) {
	defer rows.Close()
	result := []domain.ChatMessage{}
	for rows.Next() {
		var msg domain.ChatMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.TicketID,
			&msg.SenderID,
			&msg.SenderRole,
			&msg.Body,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}
