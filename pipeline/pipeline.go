package pipeline

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/mmacy/modul8r/logging"
	"github.com/mmacy/modul8r/models"
	"github.com/mmacy/modul8r/openai"
)

// PageConverter is the remote vision-model boundary consumed by the
// pipeline.
type PageConverter interface {
	ConvertPage(ctx context.Context, req openai.PageRequest) (string, error)
}

// Options tunes the per-page retry behavior and request shaping.
type Options struct {
	MaxTokens      int
	Temperature    float64
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// Pipeline fans a job's pages into a rate-limited executor, applies the
// model parameter adapter, retries transient failures bounded-ly and emits
// one PageOutcome per page.
type Pipeline struct {
	conv PageConverter
	bus  *logging.Capture
	log  zerolog.Logger
	opts Options
}

// New creates a conversion pipeline over the given remote-call boundary.
func New(conv PageConverter, bus *logging.Capture, log zerolog.Logger, opts Options) *Pipeline {
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = time.Second
	}
	if opts.RetryMaxDelay <= 0 {
		opts.RetryMaxDelay = 60 * time.Second
	}
	return &Pipeline{conv: conv, bus: bus, log: log, opts: opts}
}

// Run dispatches every page of the job and returns a channel carrying
// exactly one outcome per page. The channel closes after all pages resolve.
// Cancelling ctx (or exceeding the job's deadline) resolves not-yet-finished
// pages as failed-by-timeout without leaking permits.
func (p *Pipeline) Run(ctx context.Context, job *models.Job) <-chan models.PageOutcome {
	total := job.TotalPages()
	out := make(chan models.PageOutcome, total)

	runCtx := ctx
	cancel := context.CancelFunc(func() {})
	if job.Config.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, job.Config.Timeout)
	}

	exec := NewExecutor(job.Config.Concurrency)
	shape := openai.Adapt(job.Config.Model, job.Config.Detail, p.opts.MaxTokens, p.opts.Temperature)

	started := time.Now()
	var completed atomic.Int64
	var wg sync.WaitGroup

	for _, task := range job.Pages {
		wg.Add(1)
		go func(task models.PageTask) {
			defer wg.Done()
			outcome := p.convertPage(runCtx, exec, job, task, shape)

			done := int(completed.Add(1))
			p.publishProgress(job, done, total, started)
			out <- outcome
		}(task)
	}

	go func() {
		wg.Wait()
		cancel()
		close(out)
	}()
	return out
}

func (p *Pipeline) convertPage(ctx context.Context, exec *Executor, job *models.Job, task models.PageTask, shape openai.RequestShape) models.PageOutcome {
	var content string
	err := exec.Do(ctx, func(ctx context.Context) error {
		var callErr error
		content, callErr = p.callWithRetry(ctx, job, task, shape)
		return callErr
	})
	if err == nil {
		p.log.Info().Str("job_id", job.ID).Int("page", task.Index+1).
			Int("content_length", len(content)).Msg("page converted")
		return models.SuccessOutcome(task.Index, content)
	}

	kind := failureKind(err)
	p.log.Error().Str("job_id", job.ID).Int("page", task.Index+1).
		Str("kind", string(kind)).Err(err).Msg("page failed")
	return models.FailureOutcome(task.Index, kind, err.Error())
}

// callWithRetry invokes the remote call up to MaxRetries+1 times. Only
// retryable failure classes are retried; each page's attempt counter is
// independent of its siblings.
func (p *Pipeline) callWithRetry(ctx context.Context, job *models.Job, task models.PageTask, shape openai.RequestShape) (string, error) {
	req := openai.PageRequest{
		Model:    job.Config.Model,
		Shape:    shape,
		ImagePNG: task.Image,
	}

	attempts := job.Config.MaxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		content, err := p.conv.ConvertPage(ctx, req)
		if err == nil {
			return content, nil
		}
		lastErr = err

		if !openai.IsRetryable(err) {
			return "", err
		}
		if attempt == attempts-1 {
			break
		}

		delay := jitteredBackoff(attempt, p.opts.RetryBaseDelay, p.opts.RetryMaxDelay)
		p.log.Warn().Str("job_id", job.ID).Int("page", task.Index+1).
			Int("attempt", attempt+1).Dur("backoff", delay).Err(err).
			Msg("retrying page after transient failure")

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
	return "", lastErr
}

// jitteredBackoff grows exponentially from base, is capped at max, and
// randomizes the upper half of the delay so concurrently failing pages do
// not retry in lockstep.
func jitteredBackoff(attempt int, base, max time.Duration) time.Duration {
	delay := base << uint(attempt)
	if delay > max || delay <= 0 {
		delay = max
	}
	half := delay / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

func (p *Pipeline) publishProgress(job *models.Job, done, total int, started time.Time) {
	if p.bus == nil {
		return
	}
	eta := 0.0
	if done > 0 && done < total {
		perPage := time.Since(started) / time.Duration(done)
		eta = (perPage * time.Duration(total-done)).Seconds()
	}
	p.bus.Publish(models.ProgressEvent(job.ID, done, total, eta))
}

func failureKind(err error) models.FailureKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return models.FailureTimeout
	}
	switch openai.Classify(err) {
	case openai.KindContentRejected:
		return models.FailureContentRejected
	case openai.KindRateLimited, openai.KindTransient:
		return models.FailureRetriesExhausted
	case openai.KindTimeout:
		return models.FailureRetriesExhausted
	default:
		return models.FailureUnknown
	}
}
