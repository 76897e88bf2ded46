package usecases

import (
	"context"

	"github.com/MyCarrier-DevOps/cadence/internal/domain"
)

// Reporter produces read-only views of the ledger.
type Reporter struct {
	ledger domain.Ledger
}

// NewReporter creates a Reporter over ledger.
func NewReporter(ledger domain.Ledger) *Reporter {
	return &Reporter{ledger: ledger}
}

// List returns one row per ledger entry in store order.
func (r *Reporter) List(ctx context.Context) ([]domain.BuildReport, error) {
	var rows []domain.BuildReport
	for entry, err := range r.ledger.AllBuilds(ctx) {
		if err != nil {
			return nil, err
		}
		rows = append(rows, domain.BuildReport{
			State:      entry.Record.State,
			Commit:     entry.Key,
			Repository: entry.Record.Repo.URI,
		})
	}
	return rows, nil
}

// Show returns the record stored for hash.
func (r *Reporter) Show(ctx context.Context, hash string) (*domain.BuildRecord, error) {
	return r.ledger.Lookup(ctx, hash)
}
