// Package completion turns one generation request into one post variant using
// the user's own Gemini key.
package completion

import (
	"context"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/ubuygold/gosparklio/internal/config"
	"github.com/ubuygold/gosparklio/internal/failure"
	"github.com/ubuygold/gosparklio/internal/metrics"
	"github.com/ubuygold/gosparklio/internal/model"
	"github.com/ubuygold/gosparklio/internal/retry"
)

// Credentials resolves the user's API key and records what the provider said about it.
type Credentials interface {
	Resolve(ctx context.Context, userID string) (string, error)
	MarkStatus(ctx context.Context, userID string, status model.CredentialStatus, reason string) error
}

// TextGenerator is the text-generation provider.
type TextGenerator interface {
	Generate(ctx context.Context, apiKey, prompt string) (string, error)
}

// Orchestrator generates single variants.
type Orchestrator struct {
	creds     Credentials
	gen       TextGenerator
	attempts  int
	baseDelay time.Duration
	policy    *bluemonday.Policy
	metrics   metrics.Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewOrchestrator creates an Orchestrator. rec may be nil.
func NewOrchestrator(creds Credentials, gen TextGenerator, cfg config.RetryConfig, rec metrics.Recorder, log *slog.Logger) *Orchestrator {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = retry.DefaultAttempts
	}
	return &Orchestrator{
		creds:     creds,
		gen:       gen,
		attempts:  attempts,
		baseDelay: cfg.Delay(),
		policy:    bluemonday.StrictPolicy(),
		metrics:   metrics.OrNop(rec),
		logger:    log.With("component", "completion"),
		now:       time.Now,
	}
}

// Generate produces one variant for req. Unparseable provider output never fails:
// the channel template is used instead and the result is marked Fallback.
func (o *Orchestrator) Generate(ctx context.Context, req model.GenerationRequest, userID string) (model.GenerationResult, error) {
	apiKey, err := o.creds.Resolve(ctx, userID)
	if err != nil {
		o.metrics.RecordGeneration(failure.KindOf(err).String())
		return model.GenerationResult{}, err
	}
	return o.GenerateWithKey(ctx, req, userID, apiKey)
}

// GenerateWithKey is Generate for a caller that already resolved userID's key.
// Provider rejections are still recorded against userID.
func (o *Orchestrator) GenerateWithKey(ctx context.Context, req model.GenerationRequest, userID, apiKey string) (model.GenerationResult, error) {
	prompt := BuildPrompt(req)
	text, err := retry.Do(ctx, func(ctx context.Context) (string, error) {
		out, err := o.gen.Generate(ctx, apiKey, prompt)
		if err != nil {
			switch failure.Classify(err).Kind {
			case failure.KindInvalidCredential, failure.KindParse:
				return "", retry.Permanent(err)
			}
		}
		return out, err
	}, o.attempts,
		retry.WithBaseDelay(o.baseDelay),
		retry.WithNotify(func(attempt int, err error, wait time.Duration) {
			o.metrics.RecordRetry()
			o.logger.Warn("Provider call failed, retrying", "request_id", req.ID, "attempt", attempt, "wait", wait, "error", err)
		}),
	)

	var parsed Parsed
	fallback := false
	if err != nil {
		classified := failure.Classify(err)
		if classified.Kind != failure.KindParse {
			o.markCredential(ctx, userID, classified)
			o.metrics.RecordGeneration(classified.Kind.String())
			o.logger.Error("Generation failed", "request_id", req.ID, "kind", classified.Kind, "error", err)
			return model.GenerationResult{}, classified
		}
		o.logger.Warn("Provider returned no usable content, using template", "request_id", req.ID, "error", err)
		fallback = true
	} else if parsed, err = ParseResponse(text); err != nil {
		o.logger.Warn("Could not parse provider response, using template", "request_id", req.ID, "response_len", len(text))
		fallback = true
	}

	if !fallback {
		parsed.Hook = o.clean(parsed.Hook)
		parsed.Caption = o.clean(parsed.Caption)
		parsed.StylePrompt = o.clean(parsed.StylePrompt)
		if parsed.Hook == "" || parsed.Caption == "" || parsed.StylePrompt == "" {
			fallback = true
		}
	}
	if fallback {
		parsed = Fallback(req)
		o.metrics.RecordGeneration("fallback")
	} else {
		o.metrics.RecordGeneration("success")
	}

	return model.GenerationResult{
		RequestID:   req.ID,
		Hook:        parsed.Hook,
		Caption:     parsed.Caption,
		Hashtags:    NormalizeHashtags(parsed.Hashtags, req),
		StylePrompt: parsed.StylePrompt,
		Channel:     req.Channel,
		Style:       req.Style,
		Topic:       req.Topic,
		Fallback:    fallback,
		CreatedAt:   o.now(),
	}, nil
}

// markCredential records auth and quota rejections so later resolves short-circuit.
func (o *Orchestrator) markCredential(ctx context.Context, userID string, err *failure.Error) {
	var status model.CredentialStatus
	switch err.Kind {
	case failure.KindInvalidCredential:
		status = model.StatusInvalid
	case failure.KindQuotaExceeded:
		status = model.StatusQuotaExceeded
	default:
		return
	}
	reason := err.Error()
	if err.Err != nil {
		reason = err.Err.Error()
	}
	if markErr := o.creds.MarkStatus(ctx, userID, status, reason); markErr != nil {
		o.logger.Error("Failed to update credential status", "user_id", userID, "status", status, "error", markErr)
		return
	}
	o.metrics.RecordCredentialStatus(string(status))
}

func (o *Orchestrator) clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(o.policy.Sanitize(s)))
}
