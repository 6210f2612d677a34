package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devflow/internal/github"
)

// Launcher starts one workflow run for a qualifying event. Implementations
// run detached; the poller does not wait for them.
type Launcher func(ctx context.Context, issue int, dec Decision)

// Poller discovers qualifying issues on an interval and launches one
// pipeline per event, de-duplicated through the SeenStore.
type Poller struct {
	tracker    github.Tracker
	classifier *Classifier
	seen       SeenStore
	launch     Launcher
	interval   time.Duration
	cron       *cron.Cron
	logger     *zap.Logger
}

// NewPoller wires a poller. interval is the poll period.
func NewPoller(tracker github.Tracker, classifier *Classifier, seen SeenStore, launch Launcher, interval time.Duration, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		tracker:    tracker,
		classifier: classifier,
		seen:       seen,
		launch:     launch,
		interval:   interval,
		cron:       cron.New(),
		logger:     logger,
	}
}

// Start schedules the poll cycle and runs it once immediately.
func (p *Poller) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", p.interval)
	if _, err := p.cron.AddFunc(spec, func() { p.Cycle(ctx) }); err != nil {
		return fmt.Errorf("scheduling poll cycle: %w", err)
	}
	p.logger.Info("poller started", zap.Duration("interval", p.interval))
	p.Cycle(ctx)
	p.cron.Start()
	return nil
}

// Stop halts scheduling and waits for an in-flight cycle to finish, bounded
// by ctx.
func (p *Poller) Stop(ctx context.Context) error {
	done := p.cron.Stop()
	select {
	case <-done.Done():
		p.logger.Info("poller stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for poll cycle: %w", ctx.Err())
	}
}

// Cycle runs one poll pass: fetch open issues, classify the latest event on
// each, mark handled events, and launch workflows for actionable ones.
func (p *Poller) Cycle(ctx context.Context) {
	issues, err := p.tracker.FetchOpenIssues(ctx)
	if err != nil {
		p.logger.Warn("fetching open issues", zap.Error(err))
		return
	}

	for _, issue := range issues {
		event, err := p.latestEvent(ctx, issue)
		if err != nil {
			p.logger.Warn("fetching comments", zap.Int("issue", issue.Number), zap.Error(err))
			continue
		}

		handled, err := p.seen.Seen(event.IssueNumber, event.CommentID)
		if err != nil {
			p.logger.Warn("reading seen store", zap.Int("issue", issue.Number), zap.Error(err))
			continue
		}
		if handled {
			continue
		}

		dec := p.classifier.Classify(ctx, event)

		// Record the event before any work starts, whether or not it was
		// actionable, so the next poll does not reconsider it.
		if err := p.seen.Mark(event.IssueNumber, event.CommentID); err != nil {
			p.logger.Error("updating seen store", zap.Int("issue", issue.Number), zap.Error(err))
			continue
		}

		if !dec.Actionable {
			p.logger.Debug("event not actionable",
				zap.Int("issue", issue.Number), zap.String("reason", dec.Reason))
			continue
		}

		p.logger.Info("launching workflow",
			zap.Int("issue", issue.Number),
			zap.String("workflow", string(dec.Workflow)),
			zap.String("run_id", dec.RunID),
		)
		go p.launch(ctx, issue.Number, dec)
	}
}

func (p *Poller) latestEvent(ctx context.Context, issue *github.Issue) (Event, error) {
	comments, err := p.tracker.FetchComments(ctx, issue.Number)
	if err != nil {
		return Event{}, err
	}
	if len(comments) == 0 {
		return Event{IssueNumber: issue.Number, Body: issue.Body}, nil
	}
	last := comments[len(comments)-1]
	return Event{IssueNumber: issue.Number, CommentID: last.ID, Body: last.Body}, nil
}
