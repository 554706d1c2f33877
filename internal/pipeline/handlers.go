package pipeline

import (
	"context"
	"time"

	"github.com/tkilaker/feedkiln/internal/jobs"
)

// JobHandlers binds every job kind to the pipeline.
func (p *Pipeline) JobHandlers() map[jobs.Kind]jobs.Handler {
	return map[jobs.Kind]jobs.Handler{
		jobs.KindDailyFetch: p.fetchHandler(false),
		jobs.KindFullFetch:  p.fetchHandler(true),
		jobs.KindCleanup: func(ctx context.Context, task *jobs.Task) (any, error) {
			res, err := p.Cleanup(ctx, task.Params.DaysToKeep)
			if res == nil {
				return nil, err
			}
			return res, err
		},
		jobs.KindReport: func(ctx context.Context, task *jobs.Task) (any, error) {
			window := time.Duration(task.Params.WindowHours) * time.Hour
			res, err := p.Report(ctx, window)
			if res == nil {
				return nil, err
			}
			return res, err
		},
	}
}

func (p *Pipeline) fetchHandler(full bool) jobs.Handler {
	return func(ctx context.Context, task *jobs.Task) (any, error) {
		full := full || task.Params.FetchContent
		res, err := p.Run(ctx, task.Kind, full, task.Progress)
		if res == nil {
			return nil, err
		}
		return res, err
	}
}
