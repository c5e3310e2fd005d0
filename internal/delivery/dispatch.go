package delivery

import (
	"context"
	"sync"

	"capsuled/internal/capsule"
)

// dispatch processes due with at most cfg.Workers capsules in flight. Once
// ctx ends no new capsule is started; results keep selection order.
func (s *Scheduler) dispatch(ctx context.Context, due []capsule.Capsule, today capsule.Date, cfg Config) ([]ItemResult, bool) {
	f := Format{SubjectPrefix: cfg.SubjectPrefix, Signature: cfg.Signature}
	results := make([]ItemResult, len(due))
	started := make([]bool, len(due))

	if cfg.Workers <= 1 || len(due) <= 1 {
		for i, c := range due {
			if ctx.Err() != nil {
				break
			}
			started[i] = true
			results[i] = s.process(ctx, c, today, f)
		}
		return compact(results, started)
	}

	sem := make(chan struct{}, cfg.Workers)
	var wg sync.WaitGroup
loop:
	for i, c := range due {
		select {
		case <-ctx.Done():
			break loop
		case sem <- struct{}{}:
		}
		if ctx.Err() != nil {
			<-sem
			break
		}
		started[i] = true
		wg.Add(1)
		go func(i int, c capsule.Capsule) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = s.process(ctx, c, today, f)
		}(i, c)
	}
	wg.Wait()
	return compact(results, started)
}

func compact(results []ItemResult, started []bool) ([]ItemResult, bool) {
	out := results[:0]
	interrupted := false
	for i, ok := range started {
		if !ok {
			interrupted = true
			continue
		}
		out = append(out, results[i])
	}
	return out, interrupted
}
