package downloader

import (
	"context"
	"fmt"
)

// recover re-runs the browser download outside the title loop and records
// the chapter in the ledger itself, so a run interrupted right after still
// counts it. The ledger skips URLs it already holds.
func (p *ChapterPipeline) recover(ctx context.Context, job Job) (Result, error) {
	attempts := p.scrape.RecoveryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var (
		summary RunSummary
		lastErr error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if job.Title.HasArchive(job.Label) {
			path := job.Title.ArchivePath(job.Label)
			fmt.Printf("Recovery: %s already exists as %s.\n", job.Label, path)
			p.record(job)
			return Result{Path: path, Strategy: "recovery", Summary: summary}, nil
		}

		fmt.Printf("Processing fallback chapter: %s | URL: %s\n", job.Label, job.Chapter.URL)
		res, err := p.downloadRendered(ctx, job)
		summary.Merge(res.Summary)
		if err == nil {
			p.record(job)
			res.Strategy = "recovery"
			res.Summary = summary
			return res, nil
		}
		if ctx.Err() != nil {
			return Result{Summary: summary}, ctx.Err()
		}
		lastErr = err
		job.Title.LogError("Recovery attempt %d/%d for %s failed: %v", attempt, attempts, job.Label, err)
	}
	return Result{Summary: summary}, fmt.Errorf("recovery for %s: %w", job.Label, lastErr)
}

func (p *ChapterPipeline) record(job Job) {
	if job.Ledger == nil {
		return
	}
	if _, err := job.Ledger.Append(job.Chapter.URL, job.Chapter.Title, p.now()); err != nil {
		job.Title.LogError("Recovery could not record %s: %v", job.Label, err)
	}
}
