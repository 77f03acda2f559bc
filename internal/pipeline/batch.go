package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Outcome is the result of one request in a batch
type Outcome struct {
	Path   string  `json:"path"`
	Result *Result `json:"result,omitempty"`
	Err    error   `json:"-"`
	Error  string  `json:"error,omitempty"`
}

// IngestBatch runs independent jobs on at most cfg.Workers goroutines. A
// failed job does not cancel its siblings; outcomes keep request order.
func (s *Service) IngestBatch(ctx context.Context, requests []Request) []Outcome {
	outcomes := make([]Outcome, len(requests))

	var g errgroup.Group
	g.SetLimit(max(1, s.cfg.Workers))
	for i, req := range requests {
		g.Go(func() error {
			result, err := s.Ingest(ctx, req)
			outcomes[i] = Outcome{Path: req.Path, Result: result, Err: err}
			if err != nil {
				outcomes[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}
