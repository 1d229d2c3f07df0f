// Package coordinator turns one generation request into a batch of variants
// sharing a single image.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ubuygold/gosparklio/internal/failure"
	"github.com/ubuygold/gosparklio/internal/metrics"
	"github.com/ubuygold/gosparklio/internal/model"
	"github.com/ubuygold/gosparklio/internal/quota"
	"github.com/ubuygold/gosparklio/internal/request"
)

// Generator produces one variant with a key resolved for userID.
type Generator interface {
	GenerateWithKey(ctx context.Context, req model.GenerationRequest, userID, apiKey string) (model.GenerationResult, error)
}

// Images returns the image shown with a batch. It never fails.
type Images interface {
	Acquire(ctx context.Context, stylePrompt, topic string, channel model.Channel) model.ImageAsset
}

// Limiter gates and meters batches. Reserve consumes a call only when it allows one.
type Limiter interface {
	Check(ctx context.Context, key string, personal bool) (quota.Verdict, error)
	Reserve(ctx context.Context, key string, personal bool) (quota.Verdict, error)
}

// Credentials resolves the key a batch runs with.
type Credentials interface {
	Resolve(ctx context.Context, userID string) (string, error)
}

// Batch is the outcome of one request. Results are in variant order; Failed
// counts the variants that were dropped.
type Batch struct {
	RequestID string                   `json:"request_id"`
	Results   []model.GenerationResult `json:"results"`
	Image     model.ImageAsset         `json:"image"`
	Failed    int                      `json:"failed"`
}

// Coordinator runs generation batches.
type Coordinator struct {
	validator *request.Validator
	creds     Credentials
	limiter   Limiter
	gen       Generator
	images    Images
	metrics   metrics.Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Coordinator. rec may be nil.
func New(validator *request.Validator, creds Credentials, limiter Limiter, gen Generator, images Images, rec metrics.Recorder, log *slog.Logger) *Coordinator {
	if validator == nil {
		validator = request.NewValidator()
	}
	return &Coordinator{
		validator: validator,
		creds:     creds,
		limiter:   limiter,
		gen:       gen,
		images:    images,
		metrics:   metrics.OrNop(rec),
		logger:    log.With("component", "coordinator"),
		now:       time.Now,
	}
}

// Run validates req, applies the quota, generates every variant concurrently
// and attaches one image. The batch fails only when every variant fails.
func (c *Coordinator) Run(ctx context.Context, req model.GenerationRequest, userID string) (Batch, error) {
	start := c.now()

	req, err := c.validator.Normalize(req)
	if err != nil {
		return Batch{}, err
	}

	apiKey, credErr := c.creds.Resolve(ctx, userID)
	if credErr != nil {
		// A throttled key still belongs to the personal tier. A local denial
		// is reported ahead of the credential problem.
		personal := failure.KindOf(credErr) == failure.KindQuotaExceeded
		verdict, err := c.limiter.Check(ctx, userID, personal)
		if err != nil {
			return Batch{}, failure.Wrap(failure.KindGeneric, "could not check usage limits", err)
		}
		if !verdict.Allowed {
			return Batch{}, failure.QuotaDenied(verdict.Reason)
		}
		c.logger.Info("Rejected batch before generation", "request_id", req.ID, "user_id", userID, "kind", failure.KindOf(credErr))
		return Batch{}, credErr
	}

	verdict, err := c.limiter.Reserve(ctx, userID, true)
	if err != nil {
		return Batch{}, failure.Wrap(failure.KindGeneric, "could not check usage limits", err)
	}
	if !verdict.Allowed {
		return Batch{}, failure.QuotaDenied(verdict.Reason)
	}

	outcomes := c.fanOut(ctx, req, userID, apiKey)
	results, failed, err := settle(outcomes)
	if err != nil {
		c.metrics.RecordBatch(c.now().Sub(start), 0, failed)
		c.logger.Error("All variants failed", "request_id", req.ID, "variants", req.VariantCount, "error", err)
		return Batch{}, err
	}

	asset := c.images.Acquire(ctx, results[0].StylePrompt, req.Topic, req.Channel)

	elapsed := c.now().Sub(start)
	c.metrics.RecordBatch(elapsed, len(results), failed)
	c.logger.Info("Generation batch finished",
		"request_id", req.ID,
		"succeeded", len(results),
		"failed", failed,
		"image_provider", asset.Provider,
		"duration", elapsed,
	)
	return Batch{RequestID: req.ID, Results: results, Image: asset, Failed: failed}, nil
}

type outcome struct {
	result model.GenerationResult
	err    error
}

func (c *Coordinator) fanOut(ctx context.Context, req model.GenerationRequest, userID, apiKey string) []outcome {
	outcomes := make([]outcome, req.VariantCount)
	var wg sync.WaitGroup
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := c.gen.GenerateWithKey(ctx, req, userID, apiKey)
			if err != nil {
				c.logger.Warn("Variant failed", "request_id", req.ID, "variant", i+1, "error", err)
				outcomes[i] = outcome{err: err}
				return
			}
			res.Variant = i + 1
			outcomes[i] = outcome{result: res}
		}(i)
	}
	wg.Wait()
	return outcomes
}

// settle keeps successes in variant order. If nothing succeeded it returns
// the error of the lowest variant.
func settle(outcomes []outcome) ([]model.GenerationResult, int, error) {
	results := make([]model.GenerationResult, 0, len(outcomes))
	failed := 0
	var first error
	for _, o := range outcomes {
		if o.err != nil {
			failed++
			if first == nil {
				first = o.err
			}
			continue
		}
		results = append(results, o.result)
	}
	if len(results) == 0 {
		if first == nil {
			first = failure.ErrGeneric
		}
		return nil, failed, first
	}
	return results, failed, nil
}
