package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/whookdev/sharedrelay/internal/metrics"
	"github.com/whookdev/sharedrelay/internal/models"
)

const unknownError = "unknown error"

// Relay performs outgoing calls on behalf of connected ports. It holds no
// per-connection state; a single Relay is shared by every port.
type Relay struct {
	fetcher Fetcher
	logger  *slog.Logger
	timings *timings
}

func New(fetcher Fetcher, logger *slog.Logger) (*Relay, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Relay{
		fetcher: fetcher,
		logger:  logger.With("component", "relay"),
		timings: newTimings(),
	}, nil
}

// HandleMessage decodes a raw frame and handles it. The boolean is false
// when no response envelope should be posted.
func (r *Relay) HandleMessage(ctx context.Context, raw []byte) (*models.ResponseEnvelope, bool) {
	var env models.RequestEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		r.logger.Warn("dropping malformed message", "error", err)
		metrics.Messages.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return nil, false
	}
	return r.Handle(ctx, &env)
}

// Handle runs one envelope to completion. Messages without request options
// or without a url are skipped: nothing is fetched and no response is due.
// Every other message yields exactly one response envelope, carrying the
// request's id when it had one.
func (r *Relay) Handle(ctx context.Context, env *models.RequestEnvelope) (out *models.ResponseEnvelope, ok bool) {
	opts := env.Options()
	if opts == nil {
		r.logger.Debug("message has no request options, skipping")
		metrics.Messages.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return nil, false
	}
	if opts.URL == "" {
		r.logger.Debug("message has no url, skipping")
		metrics.Messages.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return nil, false
	}

	correlationID := r.timings.start()
	logger := r.logger.With("correlation_id", correlationID, "url", opts.URL)
	if env.ID != nil {
		logger = logger.With("id", *env.ID)
	}

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("recovered panic while relaying", "panic", rec)
			out = models.NewFailure(env.ID, fmt.Sprint(rec))
			ok = true
		}
		r.complete(correlationID, env, out, logger)
	}()

	return r.relay(ctx, env, opts, logger), true
}

func (r *Relay) relay(ctx context.Context, env *models.RequestEnvelope, opts *models.FetchOptions, logger *slog.Logger) *models.ResponseEnvelope {
	req, err := NormalizeRequest(opts, env.Request.Credentials, logger)
	if err != nil {
		return failure(env.ID, err, logger)
	}

	logger.Debug("fetching",
		"method", req.Method,
		"body", bodyKind(req.Body))

	resp, err := r.fetcher.Fetch(ctx, req)
	if err != nil {
		return failure(env.ID, err, logger)
	}

	return models.NewSuccess(env.ID, NormalizeResponse(req, resp, logger))
}

func (r *Relay) complete(correlationID string, env *models.RequestEnvelope, out *models.ResponseEnvelope, logger *slog.Logger) {
	elapsed := r.timings.finish(correlationID)

	code := "error"
	outcome := metrics.OutcomeFailed
	if out != nil && out.Response != nil {
		code = strconv.Itoa(out.Response.StatusCode)
		outcome = metrics.OutcomeRelayed
	}
	metrics.FetchDuration.WithLabelValues(code).Observe(elapsed.Seconds())
	metrics.Messages.WithLabelValues(outcome).Inc()

	if env.ID == nil {
		logger.Info("relayed message without id",
			"code", code,
			"elapsed", elapsed)
		return
	}
	logger.Debug("relayed message",
		"code", code,
		"elapsed", elapsed)
}

func failure(id *string, err error, logger *slog.Logger) *models.ResponseEnvelope {
	msg := err.Error()
	if msg == "" {
		msg = unknownError
	}
	logger.Warn("relay request failed", "error", msg)
	return models.NewFailure(id, msg)
}

func bodyKind(b *models.Body) string {
	if b == nil {
		return models.BodyNone.String()
	}
	return b.Kind.String()
}

// Pending reports messages currently being processed.
func (r *Relay) Pending() int {
	return r.timings.pending()
}
