package afya

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/Josephat-Onkoba/healthwise-afya-siri/pkg/core"
	"github.com/Josephat-Onkoba/healthwise-afya-siri/pkg/core/types"
)

// pollJob drives the bounded polling loop for one accepted video job.
// Exactly one loop runs per job; it ends in completion, failure, or the
// pending-background deferral when the attempt budget runs out. Running
// out of budget is not an error: the server keeps working and the turn
// stays visibly "still processing".
func (c *Client) pollJob(turn Turn, input Input, jobID string) {
	defer func() {
		c.mu.Lock()
		delete(c.activeJobs, jobID)
		c.mu.Unlock()
	}()

	// The job is independent of the submission context: new interactions
	// must not cancel it.
	ctx := context.Background()

	for attempt := 1; attempt <= c.pollBudget; attempt++ {
		c.waitPollInterval()

		status, err := c.jobStatus(ctx, jobID)
		c.metrics.pollCycles.Inc()
		if err != nil {
			// A flaky poll is not a job failure; the next cycle retries.
			c.logger.Warn("job status poll failed", "job_id", jobID, "attempt", attempt, "error", err)
			continue
		}

		switch status.Status {
		case types.JobCompleted:
			c.logger.Debug("video job completed", "job_id", jobID, "attempt", attempt)
			c.resolveVideoResult(turn, input, status.Result)
			return
		case types.JobFailed:
			c.metrics.jobOutcomes.WithLabelValues("failed").Inc()
			c.resolveFailure(turn, input, core.NewJobFailedError(status.Error))
			return
		default:
			progress := progressEstimate(attempt)
			c.ledger.Update(turn.ID, func(t *Turn) {
				t.Progress = progress
			})
		}
	}

	c.metrics.jobOutcomes.WithLabelValues("deferred").Inc()
	// Keep the original submission so a later reconcile builds its retry
	// from the exact input, not a reconstruction.
	c.mu.Lock()
	c.bgInputs[turn.ID] = input
	c.mu.Unlock()
	c.ledger.Update(turn.ID, func(t *Turn) {
		t.Status = TurnPendingBackground
	})
	c.ledger.Append(Turn{
		Kind:   types.KindText,
		Origin: OriginAssistant,
		Body:   "Your video is taking longer than expected. It is still being processed, and the results will appear here once they are ready.",
		Status: TurnSent,
	})
	c.logger.Info("video job deferred to background", "job_id", jobID, "attempts", c.pollBudget)
}

func (c *Client) waitPollInterval() {
	done := make(chan struct{})
	c.clock.After(c.pollInterval, func() { close(done) })
	<-done
}

// jobStatus fetches the job state, retrying a couple of times on pure
// transport failures so one dropped packet does not burn a poll cycle.
func (c *Client) jobStatus(ctx context.Context, jobID string) (types.JobStatusResponse, error) {
	var status types.JobStatusResponse
	backoff := retry.WithMaxRetries(2, retry.NewConstant(250*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		s, err := c.backend.JobStatus(ctx, jobID)
		if err != nil {
			var ce *core.Error
			if errors.As(err, &ce) && ce.Type == core.ErrTransport {
				return retry.RetryableError(err)
			}
			return err
		}
		status = s
		return nil
	})
	return status, err
}

// progressEstimate maps the attempt count to a display percentage: quick
// early growth flattening out and capped below completion. It is a UX
// estimate only; the server does not report real progress for most jobs.
func progressEstimate(attempt int) int {
	p := 100 * attempt / (attempt + 6)
	if p > 95 {
		p = 95
	}
	return p
}

// ReconcileBackground re-checks every pending-background turn once and
// resolves any whose job finished after the client stopped actively
// polling. Hosts call this on resume or on an out-of-band completion
// signal.
func (c *Client) ReconcileBackground(ctx context.Context) {
	for _, turn := range c.ledger.Turns() {
		if turn.Status != TurnPendingBackground || turn.JobID == "" {
			continue
		}
		status, err := c.jobStatus(ctx, turn.JobID)
		if err != nil {
			c.logger.Debug("background reconcile poll failed", "job_id", turn.JobID, "error", err)
			continue
		}
		c.mu.Lock()
		input, ok := c.bgInputs[turn.ID]
		c.mu.Unlock()
		if !ok {
			input = Input{Kind: turn.Kind, Media: turn.Media}
		}
		switch status.Status {
		case types.JobCompleted:
			c.resolveVideoResult(turn, input, status.Result)
			c.forgetBackground(turn.ID)
		case types.JobFailed:
			c.metrics.jobOutcomes.WithLabelValues("failed").Inc()
			c.resolveFailure(turn, input, core.NewJobFailedError(status.Error))
			c.forgetBackground(turn.ID)
		}
	}
}

func (c *Client) forgetBackground(turnID string) {
	c.mu.Lock()
	delete(c.bgInputs, turnID)
	c.mu.Unlock()
}
