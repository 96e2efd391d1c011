package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helpline-labs/support-desk/internal/domain"
)

// Dataset is a consistent read of everything the metrics engine aggregates over.
type Dataset struct {
	Tickets       []domain.Ticket
	Users         []domain.User
	TotalMessages int64
}

// AnalyticsRepository loads datasets for aggregation.
type AnalyticsRepository interface {
	LoadDataset(ctx context.Context) (*Dataset, error)
}

type analyticsRepository struct {
	pool *pgxpool.Pool
}

// NewAnalyticsRepository returns a Postgres-backed implementation.
func NewAnalyticsRepository(pool *pgxpool.Pool) AnalyticsRepository {
	return &analyticsRepository{pool: pool}
}

// LoadDataset reads tickets, users and the message count inside one REPEATABLE READ
// snapshot so every figure derived from it describes the same instant.
func (r *analyticsRepository) LoadDataset(ctx context.Context) (*Dataset, error) {
	ds := &Dataset{}
	err := WithTx(ctx, r.pool, readSnapshot, func(tx pgx.Tx) error {
		sql, args, err := psql.Select(ticketColumns...).From("tickets").OrderBy("created_at DESC", "ticket_id DESC").ToSql()
		if err != nil {
			return fmt.Errorf("build dataset query: %w", err)
		}
		rows, err := tx.Query(ctx, sql, args...)
		if err != nil {
			return fmt.Errorf("query tickets: %w", mapPgError(err))
		}
		if ds.Tickets, err = scanTickets(rows); err != nil {
			return fmt.Errorf("scan tickets: %w", mapPgError(err))
		}
		if len(ds.Tickets) > 0 {
			if err := loadTicketChildren(ctx, tx, ds.Tickets); err != nil {
				return err
			}
		}

		rows, err = tx.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
		if err != nil {
			return fmt.Errorf("query users: %w", mapPgError(err))
		}
		if ds.Users, err = scanUsers(rows); err != nil {
			return fmt.Errorf("scan users: %w", mapPgError(err))
		}

		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM chat_messages`).Scan(&ds.TotalMessages); err != nil {
			return fmt.Errorf("count chat messages: %w", mapPgError(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ds, nil
}
