// Package harvest drives provider page loops. A Runner owns exactly one
// session: it alternates gate, fetch and upsert until the provider signals the
// end or a stop is requested, persisting cursor and counters after every page
// so a crash loses at most one in-flight page. The Manager tracks runners and
// is the only entry point for starting, resuming and stopping them.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/revharvest/revharvest/internal/apperr"
	"github.com/revharvest/revharvest/internal/governor"
	"github.com/revharvest/revharvest/internal/provider"
	"github.com/revharvest/revharvest/internal/store"
)

// Runner executes the fetch loop for a single session. All session mutations
// happen on the run goroutine; readers get lock-free snapshots.
type Runner struct {
	store    *store.Store
	governor *governor.Governor
	client   provider.Client
	logger   *slog.Logger

	pageTimeout time.Duration
	maxRetries  int
	refresh     bool

	sess   *store.Session
	cursor provider.Cursor

	snapshot atomic.Pointer[store.Session]

	pauseCh    chan struct{}
	cancelCh   chan struct{}
	pauseOnce  sync.Once
	cancelOnce sync.Once
	done       chan struct{}
}

func newRunner(st *store.Store, gov *governor.Governor, client provider.Client, logger *slog.Logger,
	opts Options, sess *store.Session, cur provider.Cursor, refresh bool) *Runner {
	r := &Runner{
		store:       st,
		governor:    gov,
		client:      client,
		logger:      logger,
		pageTimeout: opts.PageTimeout,
		maxRetries:  opts.MaxRetries,
		refresh:     refresh,
		sess:        sess,
		cursor:      cur,
		pauseCh:     make(chan struct{}),
		cancelCh:    make(chan struct{}),
		done:        make(chan struct{}),
	}
	r.publish()
	return r
}

// Snapshot returns a copy of the session as of the last completed page.
func (r *Runner) Snapshot() *store.Session {
	return r.snapshot.Load().Clone()
}

// Pause asks the loop to stop at the next page boundary, keeping the session
// resumable. Safe to call any number of times.
func (r *Runner) Pause() {
	r.pauseOnce.Do(func() { close(r.pauseCh) })
}

// Cancel asks the loop to stop at the next page boundary and end the session
// for good. Safe to call any number of times.
func (r *Runner) Cancel() {
	r.cancelOnce.Do(func() { close(r.cancelCh) })
}

// Done is closed once the loop has persisted its final state.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

func (r *Runner) publish() {
	r.snapshot.Store(r.sess.Clone())
}

// run is the fetch loop. parent is the process-lifetime context: its
// cancellation means shutdown and parks the session as paused.
func (r *Runner) run(parent context.Context) {
	defer close(r.done)

	// ctx covers the blocking points (gate and fetch) and is cancelled by
	// pause and cancel requests too, so a long penalty wait never delays a
	// stop. The reason is resolved at the top of the loop.
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go func() {
		select {
		case <-r.cancelCh:
			cancel()
		case <-r.pauseCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	// Store writes are not cancellation points: a page that was fetched is
	// always recorded, and teardown must outlive the cancellation that
	// triggered it.
	storeCtx := context.Background()

	caps := r.client.Capabilities()
	q := provider.Query{LookupKey: r.sess.LookupKey, LookupKind: r.sess.LookupKind}

	emptyStreak := 0
	retries := 0

	for {
		// Stop requests are honoured between pages, never mid-page.
		select {
		case <-r.cancelCh:
			r.finishCancelled(storeCtx)
			return
		default:
		}
		select {
		case <-r.pauseCh:
			r.finishPaused(storeCtx, "pause requested")
			return
		default:
		}
		if parent.Err() != nil {
			r.finishPaused(storeCtx, "shutdown requested")
			return
		}

		if err := r.governor.Wait(ctx, r.client.Name()); err != nil {
			if ctx.Err() != nil {
				continue
			}
			r.finishFailed(storeCtx, err)
			return
		}

		pctx := ctx
		pcancel := context.CancelFunc(func() {})
		if r.pageTimeout > 0 {
			pctx, pcancel = context.WithTimeout(ctx, r.pageTimeout)
		}
		page, err := r.client.FetchPage(pctx, q, r.cursor)
		pcancel()

		if err != nil {
			if r.handleFetchError(ctx, storeCtx, err, &retries) {
				continue
			}
			return
		}
		retries = 0

		if len(page.Records) > 0 {
			res, err := r.applyBatch(storeCtx, page.Records)
			if err != nil {
				r.finishFailed(storeCtx, fmt.Errorf("storing page: %w", err))
				return
			}
			r.sess.RecordsFetched += int64(len(page.Records))
			r.sess.RecordsNew += res.Inserted
			r.sess.PagesFetched++
			emptyStreak = 0
			r.logger.Info("page fetched",
				"session", r.sess.ID,
				"page", page.Next.Page,
				"records", len(page.Records),
				"new", res.Inserted,
				"dropped", page.Dropped,
				"total", r.sess.RecordsFetched,
			)
		} else {
			emptyStreak++
			r.logger.Debug("empty page",
				"session", r.sess.ID,
				"page", page.Next.Page,
				"consecutive_empty", emptyStreak,
			)
		}
		r.sess.RecordsDropped += int64(page.Dropped)
		r.cursor = page.Next
		r.sess.Cursor = page.Next.String()
		if r.sess.State != store.StateRunning {
			r.sess.State = store.StateRunning
		}

		if page.End {
			r.finishCompleted(storeCtx)
			return
		}
		if caps.EmptyPageTolerance > 0 && emptyStreak >= caps.EmptyPageTolerance {
			r.logger.Info("assuming end of results",
				"session", r.sess.ID, "consecutive_empty", emptyStreak)
			r.finishCompleted(storeCtx)
			return
		}

		if err := r.store.SaveProgress(storeCtx, r.sess); err != nil {
			r.finishFailed(storeCtx, err)
			return
		}
		r.publish()
	}
}

// applyBatch turns a page's domains into records and writes them in one
// transaction. Refresh mode updates metadata on rows that already exist;
// the default leaves them untouched.
func (r *Runner) applyBatch(ctx context.Context, domains []string) (store.UpsertResult, error) {
	now := time.Now().UTC()
	recs := make([]store.Record, 0, len(domains))
	for _, d := range domains {
		recs = append(recs, store.Record{
			SubjectDomain: d,
			LookupKey:     r.sess.LookupKey,
			LookupKind:    r.sess.LookupKind,
			Provider:      r.sess.Provider,
			SessionID:     r.sess.ID,
			FetchedAt:     now,
		})
	}
	if r.refresh {
		return r.store.RefreshBatch(ctx, recs)
	}
	return r.store.UpsertBatch(ctx, recs)
}

// handleFetchError resolves one FetchPage failure. It returns true when the
// loop should continue (after any penalty has been recorded) and false when
// it has already finished the session.
func (r *Runner) handleFetchError(ctx, storeCtx context.Context, err error, retries *int) bool {
	switch {
	case errors.Is(err, apperr.ErrPageLimit):
		r.logger.Info("provider page cap reached",
			"session", r.sess.ID, "pages", r.sess.PagesFetched)
		r.finishCompleted(storeCtx)
		return false

	case errors.Is(err, apperr.ErrEndOfResults):
		r.finishCompleted(storeCtx)
		return false

	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		// Pause, cancel or shutdown interrupted the fetch; the top of the
		// loop resolves which.
		return true

	case errors.Is(err, apperr.ErrRateLimited):
		var rle *apperr.RateLimitError
		var retryAfter time.Duration
		if errors.As(err, &rle) {
			retryAfter = rle.RetryAfter
		}
		wait := r.governor.Penalize(r.client.Name(), retryAfter)
		r.logger.Info("rate limited",
			"session", r.sess.ID, "provider", r.client.Name(), "retry_after", wait)
		return true

	case errors.Is(err, apperr.ErrUnauthorized):
		r.finishFailed(storeCtx, err)
		return false

	case errors.Is(err, apperr.ErrTransient), errors.Is(err, context.DeadlineExceeded):
		if *retries >= r.maxRetries {
			r.finishFailed(storeCtx, fmt.Errorf("retry ceiling reached after %d attempts: %w", *retries, err))
			return false
		}
		wait := r.governor.PenalizeTransient(r.client.Name(), *retries)
		*retries++
		r.logger.Warn("transient fetch error",
			"session", r.sess.ID, "attempt", *retries, "backoff", wait, "error", err)
		return true

	default:
		r.finishFailed(storeCtx, err)
		return false
	}
}

func (r *Runner) finishCompleted(ctx context.Context) {
	now := time.Now().UTC()
	r.sess.State = store.StateCompleted
	r.sess.FinishedAt = &now
	r.sess.LastError = ""
	r.persistFinal(ctx)
	r.logger.Info("harvest completed",
		"session", r.sess.ID,
		"records", r.sess.RecordsFetched,
		"new", r.sess.RecordsNew,
		"dropped", r.sess.RecordsDropped,
		"pages", r.sess.PagesFetched,
	)
}

func (r *Runner) finishFailed(ctx context.Context, cause error) {
	now := time.Now().UTC()
	r.sess.State = store.StateFailed
	r.sess.LastError = cause.Error()
	r.sess.FinishedAt = &now
	r.persistFinal(ctx)
	r.logger.Error("harvest failed", "session", r.sess.ID, "error", cause)
}

func (r *Runner) finishPaused(ctx context.Context, reason string) {
	r.sess.State = store.StatePaused
	r.persistFinal(ctx)
	r.logger.Info("harvest paused",
		"session", r.sess.ID, "reason", reason, "cursor", r.sess.Cursor)
}

func (r *Runner) finishCancelled(ctx context.Context) {
	now := time.Now().UTC()
	r.sess.State = store.StateCancelled
	r.sess.FinishedAt = &now
	r.persistFinal(ctx)
	r.logger.Info("harvest cancelled",
		"session", r.sess.ID, "records", r.sess.RecordsFetched)
}

func (r *Runner) persistFinal(ctx context.Context) {
	if err := r.store.SaveProgress(ctx, r.sess); err != nil {
		r.logger.Error("persisting final session state",
			"session", r.sess.ID, "state", r.sess.State, "error", err)
	}
	r.publish()
}
