package core

import (
	"context"

	"github.com/petmatch/pawcall/internal/domain"
)

// HistorySink receives terminal-state call summaries after the fact.
// The call core dispatches records asynchronously and never blocks on
// the sink.
type HistorySink interface {
	Record(ctx context.Context, rec domain.HistoryRecord) error
}
