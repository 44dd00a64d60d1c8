package app

import (
	"context"
	"fmt"

	"cardbatch/internal/config"
	"cardbatch/internal/job"
	"cardbatch/internal/jobs"
	"cardbatch/internal/source"
	"cardbatch/internal/worker"
)

// plan resolves job configurations into runnable tasks. Every problem a
// configuration can have is reported before any job starts.
func plan(configs []config.JobConfig) ([]worker.Task, error) {
	tasks := make([]worker.Task, 0, len(configs))
	for _, jc := range configs {
		def, err := jobs.Lookup(jc.Name)
		if err != nil {
			return nil, err
		}

		card, err := jc.Card()
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", jc.Name, err)
		}

		asOf, err := jc.Date()
		if err != nil {
			return nil, err
		}

		tasks = append(tasks, worker.Task{
			Definition: def,
			Params: job.Params{
				ControlCard:    card,
				AsOf:           asOf,
				Seed:           jc.Seed,
				CommitInterval: jc.CommitInterval,
				RunLimit:       jc.RunLimit,
			},
			Outputs: job.Outputs{
				Report:  jc.Report,
				Extract: jc.Extract,
				XLSX:    jc.XLSX,
			},
			Open: opener(jc),
		})
	}
	return tasks, nil
}

func opener(jc config.JobConfig) func(context.Context) (source.Source, error) {
	if jc.SQL != nil {
		opts := source.SQLOptions{
			Path:       jc.SQL.Path,
			Table:      jc.SQL.Table,
			KeyColumn:  jc.SQL.KeyColumn,
			LineColumn: jc.SQL.LineColumn,
		}
		return func(context.Context) (source.Source, error) {
			return source.OpenSQL(opts)
		}
	}

	path := jc.Input
	return func(context.Context) (source.Source, error) {
		return source.OpenFile(path)
	}
}
