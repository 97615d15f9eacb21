package ingestion

import (
	"context"
	"errors"
	"time"

	"FundLedger/internal/core"
	"FundLedger/internal/ledger"
	"FundLedger/internal/observability"

	"github.com/rs/zerolog"
)

// Outcomes of applying one command.
const (
	ResultOK       = "ok"
	ResultReplayed = "replayed"
	ResultRejected = "rejected"
	ResultRetry    = "retry"
)

// Handler applies parsed commands to the fund.
type Handler struct {
	fund    *core.Fund
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewHandler(fund *core.Fund, metrics *observability.Metrics, log zerolog.Logger) *Handler {
	return &Handler{fund: fund, metrics: metrics, log: log}
}

// Apply parses and executes one command. Only persistence failures are
// retryable; every other error is permanent.
func (h *Handler) Apply(ctx context.Context, kind Kind, data []byte) (string, error) {
	start := time.Now()
	result, err := h.apply(ctx, kind, data)
	if h.metrics != nil {
		h.metrics.IngestCommands.WithLabelValues(string(kind), result).Inc()
		h.metrics.IngestDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	}
	return result, err
}

func (h *Handler) apply(ctx context.Context, kind Kind, data []byte) (string, error) {
	cmd, err := ParseCommand(kind, data)
	if err != nil {
		return ResultRejected, err
	}

	var res *core.DraftResult
	switch c := cmd.(type) {
	case *CapitalCallCommand:
		res, err = h.fund.DraftCapitalCall(ctx, c.Request)
	case *PnLCommand:
		res, err = h.fund.DraftPnL(ctx, c.Request)
	case *DistributionCommand:
		req := c.Request
		if !c.HasHurdle {
			req.Deal.HurdleRate = h.fund.DefaultHurdleRate()
		}
		res, err = h.fund.DraftDistribution(ctx, req)
	case *PostCommand:
		return h.post(ctx, c)
	}
	if err != nil {
		return classify(err), err
	}
	if res.Replayed {
		return ResultReplayed, nil
	}
	return ResultOK, nil
}

// post treats an already POSTED batch as a replay so redelivery is harmless.
func (h *Handler) post(ctx context.Context, c *PostCommand) (string, error) {
	_, err := h.fund.PostBatch(ctx, c.BatchID)
	if err == nil {
		return ResultOK, nil
	}
	if errors.Is(err, ledger.ErrInvalidStateTransition) {
		if b, gerr := h.fund.Batches().Get(ctx, c.BatchID); gerr == nil && b.Status == ledger.StatusPosted {
			return ResultReplayed, nil
		}
	}
	return classify(err), err
}

func classify(err error) string {
	if errors.Is(err, ledger.ErrPersistenceFailure) {
		return ResultRetry
	}
	return ResultRejected
}

// Handle applies raw and settles the message: Ack on success or replay,
// Nak on retryable failure, Term otherwise.
func (h *Handler) Handle(ctx context.Context, raw RawCommand) {
	kind := KindFromSubject(raw.Subject)
	result, err := h.Apply(ctx, kind, raw.Data)

	switch result {
	case ResultOK, ResultReplayed:
		h.log.Info().Str("kind", string(kind)).Str("result", result).Msg("command applied")
		settle(raw.Ack)
	case ResultRetry:
		h.log.Warn().Err(err).Str("kind", string(kind)).Msg("command failed, will retry")
		settle(raw.Nak)
	default:
		h.log.Error().Err(err).Str("kind", string(kind)).Str("subject", raw.Subject).Msg("command rejected")
		settle(raw.Term)
	}
}

func settle(fn func()) {
	if fn != nil {
		fn()
	}
}

// Run applies commands from in until ctx is cancelled or in is closed.
func (h *Handler) Run(ctx context.Context, in <-chan RawCommand) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-in:
			if !ok {
				return nil
			}
			h.Handle(ctx, raw)
		}
	}
}
