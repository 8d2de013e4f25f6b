package app

import (
	"context"

	"selinf/domain/selection"
	"selinf/ports"
)

// SinkChain writes a summary to every sink in order and stops at the first
// failure
type SinkChain []ports.ResultSinkPort

// NewSinkChain drops nil sinks. It returns nil when none remain so callers
// can hand the result straight to NewReplicateService.
func NewSinkChain(sinks ...ports.ResultSinkPort) ports.ResultSinkPort {
	var chain SinkChain
	for _, s := range sinks {
		if s != nil {
			chain = append(chain, s)
		}
	}
	switch len(chain) {
	case 0:
		return nil
	case 1:
		return chain[0]
	}
	return chain
}

// WriteSummary implements ports.ResultSinkPort
func (c SinkChain) WriteSummary(ctx context.Context, summary *selection.ReplicateSummary) error {
	for _, s := range c {
		if err := s.WriteSummary(ctx, summary); err != nil {
			return err
		}
	}
	return nil
}
