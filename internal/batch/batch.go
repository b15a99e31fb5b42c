// Package batch identifies many resources concurrently on a bounded
// scheduler.
package batch

import (
	"context"
	"encoding/hex"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/FocuswithJustin/sigid/core/bytesource"
	"github.com/FocuswithJustin/sigid/core/errors"
	"github.com/FocuswithJustin/sigid/core/identify"
	"github.com/FocuswithJustin/sigid/core/scheduler"
	"github.com/FocuswithJustin/sigid/internal/ingest"
	"github.com/FocuswithJustin/sigid/internal/logging"
)

// Request names one resource to identify.
type Request struct {
	// Path is opened with the runner's ingest options unless Open is set.
	Path string
	// Open supplies the source for resources that are not plain files,
	// such as archive entries. The runner closes the returned source.
	Open func() (bytesource.Source, error)
	// CorrelationID ties the outcome back to the caller. A UUID is
	// generated when it is empty.
	CorrelationID string
}

// Outcome is the result of one Request. Exactly one of Collection and Err
// is set.
type Outcome struct {
	Request       Request
	CorrelationID string
	Collection    *identify.ResultCollection
	Err           error
	Duration      time.Duration
}

// Options configure a Runner.
type Options struct {
	Ingest ingest.Options
	// Hash records the BLAKE3 digest of every resource.
	Hash bool
}

// Runner runs identifications on a scheduler.Pool.
type Runner struct {
	identifier *identify.Identifier
	pool       *scheduler.Pool[*identify.ResultCollection]
	opts       Options
}

// New starts a Runner. Close must be called to release its workers.
func New(identifier *identify.Identifier, cfg scheduler.Config, opts Options) (*Runner, error) {
	pool, err := scheduler.New[*identify.ResultCollection](cfg)
	if err != nil {
		return nil, err
	}
	logging.SchedulerStarted(cfg.CoreWorkers, cfg.MaxWorkers, cfg.QueueCapacity, "idle_timeout", cfg.IdleTimeout)
	return &Runner{identifier: identifier, pool: pool, opts: opts}, nil
}

// Stats returns the scheduler counters.
func (r *Runner) Stats() scheduler.Stats { return r.pool.Stats() }

// Submit schedules req, blocking while the scheduler is saturated.
func (r *Runner) Submit(ctx context.Context, req Request) (*scheduler.Handle[*identify.ResultCollection], error) {
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.New().String()
	}
	return r.pool.Submit(ctx, func(ctx context.Context) (*identify.ResultCollection, error) {
		return r.Identify(ctx, req)
	})
}

// Run submits every request and delivers their outcomes in completion
// order. The channel is closed once every request has an outcome. If ctx
// is cancelled, requests not yet submitted fail with the context error.
func (r *Runner) Run(ctx context.Context, reqs []Request) <-chan Outcome {
	out := make(chan Outcome)
	go func() {
		var wg sync.WaitGroup
		defer func() {
			wg.Wait()
			close(out)
		}()
		for i, req := range reqs {
			req := req // per-iteration copy (Go 1.21 loop semantics)
			if req.CorrelationID == "" {
				req.CorrelationID = uuid.New().String()
			}
			start := time.Now()
			h, err := r.Submit(ctx, req)
			if err != nil {
				out <- Outcome{Request: req, CorrelationID: req.CorrelationID, Err: err}
				for _, rest := range reqs[i+1:] {
					if rest.CorrelationID == "" {
						rest.CorrelationID = uuid.New().String()
					}
					out <- Outcome{Request: rest, CorrelationID: rest.CorrelationID, Err: err}
				}
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				rc, err := h.Wait(context.Background())
				if errors.Is(err, errors.ErrPanic) {
					// Identify never returned, so it logged nothing.
					logging.IdentificationFailed(logging.WithCorrelationID(ctx, req.CorrelationID), req.name(), err)
				}
				out <- Outcome{
					Request:       req,
					CorrelationID: req.CorrelationID,
					Collection:    rc,
					Err:           err,
					Duration:      time.Since(start),
				}
			}()
		}
	}()
	return out
}

// Identify opens, evaluates and closes one resource on the calling
// goroutine.
func (r *Runner) Identify(ctx context.Context, req Request) (*identify.ResultCollection, error) {
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.New().String()
	}
	ctx = logging.WithCorrelationID(ctx, req.CorrelationID)
	start := time.Now()

	rc, err := r.evaluate(ctx, req)
	if err != nil {
		logging.IdentificationFailed(ctx, req.name(), err)
		return nil, err
	}
	rc.CorrelationID = req.CorrelationID
	logging.IdentificationCompleted(ctx, rc.Name, len(rc.Results), time.Since(start), "puids", rc.PUIDs())
	return rc, nil
}

func (r *Runner) evaluate(ctx context.Context, req Request) (rc *identify.ResultCollection, err error) {
	src, err := r.open(req)
	if err != nil {
		return nil, err
	}
	logging.DebugContext(ctx, "resource_opened", "resource", src.Name(), "size", src.Len())
	defer func() {
		if cerr := src.Close(); cerr != nil && err == nil {
			rc, err = nil, cerr
		}
	}()

	rc, err = r.identifier.Evaluate(src)
	if err != nil {
		return nil, err
	}
	if r.opts.Hash {
		if rc.Digest, err = Digest(src); err != nil {
			return nil, err
		}
	}
	return rc, nil
}

func (r *Runner) open(req Request) (bytesource.Source, error) {
	if req.Open != nil {
		return req.Open()
	}
	if req.Path == "" {
		return nil, errors.NewValidation("path", "request has neither a path nor an opener")
	}
	return ingest.Open(req.Path, r.opts.Ingest)
}

func (req Request) name() string {
	if req.Path != "" {
		return req.Path
	}
	return "<stream>"
}

// Close stops accepting requests and waits for submitted ones to finish.
func (r *Runner) Close(ctx context.Context) error {
	r.pool.Shutdown()
	err := r.pool.AwaitTermination(ctx)
	s := r.pool.Stats()
	logging.SchedulerShutdown(s.Completed, s.Failed, "cancelled", s.Cancelled, "rejected", s.Rejected)
	return err
}

// Digest returns the hex BLAKE3-256 digest of the whole source.
func Digest(src bytesource.Source) (string, error) {
	h := blake3.New()
	if _, err := io.Copy(h, bytesource.NewReader(src)); err != nil {
		return "", errors.NewIO("hash", src.Name(), err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
