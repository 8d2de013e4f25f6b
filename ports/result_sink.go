package ports

import (
	"context"

	"selinf/domain/selection"
)

// ResultSinkPort receives the aggregated outcome of a replicate run
type ResultSinkPort interface {
	WriteSummary(ctx context.Context, summary *selection.ReplicateSummary) error
}
