// Package usecases contains the application business logic.
// This package orchestrates domain entities and interfaces to fulfill use cases.
package usecases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MyCarrier-DevOps/cadence/internal/domain"
)

// Logger defines the logging interface required by the use cases.
// This abstracts the logger dependency to avoid coupling to a specific implementation.
type Logger interface {
	Info(ctx context.Context, msg string, fields map[string]interface{})
	Debug(ctx context.Context, msg string, fields map[string]interface{})
	Warn(ctx context.Context, msg string, fields map[string]interface{})
	Error(ctx context.Context, msg string, err error, fields map[string]interface{})
}

// Orchestrator runs one pass of discovery, matching and sequential execution.
type Orchestrator struct {
	runID   string
	seeds   []domain.Seed
	crawler domain.Crawler
	rules   []domain.BuildRule
	metrics domain.Metrics
	logger  Logger
	now     func() time.Time
}

// NewOrchestrator creates an Orchestrator with the given dependencies.
// A nil metrics recorder disables metrics.
func NewOrchestrator(
	runID string,
	seeds []domain.Seed,
	crawler domain.Crawler,
	rules []domain.BuildRule,
	metrics domain.Metrics,
	log Logger,
) *Orchestrator {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Orchestrator{
		runID:   runID,
		seeds:   seeds,
		crawler: crawler,
		rules:   rules,
		metrics: metrics,
		logger:  log,
		now:     time.Now,
	}
}

// Run resolves every seed, matches each commit against the rules and executes
// the resulting jobs in discovery order.
//
// Cancellation of ctx is the shutdown signal. It is checked only before each
// job starts; a job that has started always finishes. Run returns an error
// only when the ledger fails, in which case the remaining jobs are abandoned.
func (o *Orchestrator) Run(ctx context.Context) (*domain.RunSummary, error) {
	start := o.now()
	summary := &domain.RunSummary{
		RunID: o.runID,
		Seeds: len(o.seeds),
	}

	o.logger.Info(ctx, "starting run", map[string]interface{}{
		"run_id": o.runID,
		"seeds":  len(o.seeds),
		"rules":  len(o.rules),
	})

	commits := o.discover(ctx)
	summary.Commits = len(commits)
	o.metrics.DiscoveredCommits(len(commits))

	jobs := o.match(ctx, commits)
	summary.Jobs = len(jobs)

	for i, job := range jobs {
		if ctx.Err() != nil {
			summary.Interrupted = true
			o.logger.Warn(ctx, "shutdown requested, not starting remaining builds", map[string]interface{}{
				"run_id":    o.runID,
				"remaining": len(jobs) - i,
			})
			break
		}

		outcome, err := job.Execute(ctx)
		if err != nil {
			summary.Duration = o.now().Sub(start)
			o.logger.Error(ctx, "aborting run", err, map[string]interface{}{
				"run_id": o.runID,
				"commit": job.Commit().Hash,
			})
			return summary, fmt.Errorf("build %s: %w", job.Commit().Short(), err)
		}

		switch outcome {
		case domain.OutcomeSuccess:
			summary.Succeeded++
		case domain.OutcomeError:
			summary.Failed++
		case domain.OutcomeSkipped:
			summary.Skipped++
		}
		o.metrics.BuildFinished(outcome)
	}

	summary.Duration = o.now().Sub(start)
	o.metrics.RunFinished(summary)

	o.logger.Info(ctx, "run complete", map[string]interface{}{
		"run_id":      o.runID,
		"commits":     summary.Commits,
		"jobs":        summary.Jobs,
		"succeeded":   summary.Succeeded,
		"failed":      summary.Failed,
		"skipped":     summary.Skipped,
		"interrupted": summary.Interrupted,
		"duration":    summary.Duration.String(),
	})

	return summary, nil
}

// discover crawls every seed. A seed that fails contributes no commits.
func (o *Orchestrator) discover(ctx context.Context) []domain.Commit {
	var commits []domain.Commit
	for _, seed := range o.seeds {
		found, err := o.crawler.Crawl(ctx, seed)
		if err != nil {
			fields := map[string]interface{}{
				"run_id": o.runID,
				"seed":   seed.URI,
				"error":  err.Error(),
			}
			var discoveryErr *domain.DiscoveryError
			if !errors.As(err, &discoveryErr) {
				fields["unexpected"] = true
			}
			o.logger.Warn(ctx, "skipping seed for this run", fields)
			o.metrics.DiscoveryFailed(seed)
			continue
		}

		o.logger.Debug(ctx, "discovered commits", map[string]interface{}{
			"run_id":  o.runID,
			"seed":    seed.URI,
			"commits": len(found),
		})
		commits = append(commits, found...)
	}
	return commits
}

// match turns commits into jobs using the first matching rule.
func (o *Orchestrator) match(ctx context.Context, commits []domain.Commit) []domain.Build {
	jobs := make([]domain.Build, 0, len(commits))
	for _, commit := range commits {
		rule, ok := MatchFirst(o.rules, commit)
		if !ok {
			o.logger.Debug(ctx, "no rule matches commit", map[string]interface{}{
				"run_id": o.runID,
				"commit": commit.Hash,
			})
			continue
		}
		jobs = append(jobs, rule.Get(commit))
	}
	return jobs
}

type nopMetrics struct{}

func (nopMetrics) DiscoveredCommits(int)          {}
func (nopMetrics) DiscoveryFailed(domain.Seed)    {}
func (nopMetrics) BuildFinished(domain.Outcome)   {}
func (nopMetrics) RunFinished(*domain.RunSummary) {}
