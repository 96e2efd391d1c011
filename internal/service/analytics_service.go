package service

import (
	"context"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/helpline-labs/support-desk/internal/access"
	"github.com/helpline-labs/support-desk/internal/analytics"
	"github.com/helpline-labs/support-desk/internal/observability"
	"github.com/helpline-labs/support-desk/internal/repository"
	apperrors "github.com/helpline-labs/support-desk/pkg/util/errorutil"
)

// AnalyticsService serves the admin dashboard.
type AnalyticsService struct {
	repo   repository.AnalyticsRepository
	tracer trace.Tracer
	now    func() time.Time
}

// NewAnalyticsService constructs the service. clock may be nil.
func NewAnalyticsService(repo repository.AnalyticsRepository, clock func() time.Time) *AnalyticsService {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &AnalyticsService{repo: repo, tracer: otel.Tracer(observability.TracerName), now: clock}
}

// Snapshot recomputes every dashboard figure from a consistent read of the store.
func (s *AnalyticsService) Snapshot(ctx context.Context, caller access.Caller) (_ *analytics.Snapshot, err error) {
	if err := access.RequireAdmin(caller); err != nil {
		return nil, err
	}
	return s.compute(ctx)
}

// Export writes the snapshot as an xlsx workbook.
func (s *AnalyticsService) Export(ctx context.Context, caller access.Caller, w io.Writer) error {
	snap, err := s.Snapshot(ctx, caller)
	if err != nil {
		return err
	}
	if err := analytics.WriteXLSX(*snap, w); err != nil {
		return apperrors.NewInternalError(err)
	}
	return nil
}

func (s *AnalyticsService) compute(ctx context.Context) (_ *analytics.Snapshot, err error) {
	ctx, span := s.tracer.Start(ctx, "AnalyticsService.Snapshot")
	defer func() { endSpan(span, err) }()

	ds, err := s.repo.LoadDataset(ctx)
	if err != nil {
		return nil, mapRepoError(err, "dataset")
	}
	snap := analytics.Compute(*ds, s.now())
	return &snap, nil
}
