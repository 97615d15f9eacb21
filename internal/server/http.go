package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"FundLedger/internal/audit"
	"FundLedger/internal/core"
	"FundLedger/internal/ledger"
	"FundLedger/internal/observability"
	"FundLedger/internal/query"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

// IdempotencyHeader may carry the idempotency key instead of the JSON body.
const IdempotencyHeader = "Idempotency-Key"

// Deps holds everything the HTTP API calls into.
type Deps struct {
	Fund    *core.Fund
	Query   *query.QueryService
	Auditor *audit.Auditor
	Health  *observability.HealthChecker
	Metrics *observability.Metrics
	Logger  zerolog.Logger
}

type api struct {
	Deps
}

// handlerFunc returns the success status and body, or an error mapped by statusFor.
type handlerFunc func(r *http.Request, params map[string]string) (int, interface{}, error)

// NewHandler builds the HTTP/JSON surface: ledger routes on a grpc-gateway
// mux plus liveness and readiness endpoints.
func NewHandler(deps Deps) (http.Handler, error) {
	a := &api{Deps: deps}
	gw := runtime.NewServeMux()

	routes := []struct {
		method, pattern, endpoint string
		fn                        handlerFunc
	}{
		{http.MethodGet, "/v1/captable", "captable", a.capTable},
		{http.MethodPost, "/v1/investors", "register_investor", a.registerInvestor},
		{http.MethodPost, "/v1/commitments", "add_commitment", a.addCommitment},
		{http.MethodPost, "/v1/capital-calls/preview", "preview_capital_call", a.previewCapitalCall},
		{http.MethodPost, "/v1/capital-calls", "draft_capital_call", a.draftCapitalCall},
		{http.MethodPost, "/v1/pnl/preview", "preview_pnl", a.previewPnL},
		{http.MethodPost, "/v1/pnl", "draft_pnl", a.draftPnL},
		{http.MethodPost, "/v1/waterfall", "run_waterfall", a.runWaterfall},
		{http.MethodPost, "/v1/distributions/preview", "preview_distribution", a.previewDistribution},
		{http.MethodPost, "/v1/distributions", "draft_distribution", a.draftDistribution},
		{http.MethodGet, "/v1/batches", "list_batches", a.listBatches},
		{http.MethodGet, "/v1/batches/{id}", "get_batch", a.getBatch},
		{http.MethodPost, "/v1/batches/{id}/post", "post_batch", a.postBatch},
		{http.MethodDelete, "/v1/batches/{id}", "discard_batch", a.discardBatch},
		{http.MethodGet, "/v1/commitments/{id}/statement", "statement", a.statement},
		{http.MethodGet, "/v1/summary", "fund_summary", a.fundSummary},
		{http.MethodGet, "/v1/audit", "audit", a.audit},
	}
	for _, rt := range routes {
		if err := gw.HandlePath(rt.method, rt.pattern, a.wrap(rt.endpoint, rt.fn)); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}

	mux := http.NewServeMux()
	if a.Health != nil {
		mux.HandleFunc("/healthz", a.Health.LivenessHandler)
		mux.HandleFunc("/readyz", a.Health.ReadinessHandler)
	} else {
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	}
	mux.Handle("/", gw)
	return mux, nil
}

func (a *api) wrap(endpoint string, fn handlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()

		status, body, err := fn(r, params)
		if err != nil {
			status = statusFor(err)
			writeError(w, status, err)

			ev := a.Logger.Warn()
			if status >= http.StatusInternalServerError {
				ev = a.Logger.Error()
			}
			ev.Err(err).Str("endpoint", endpoint).Int("status", status).Msg("request failed")
			if a.Metrics != nil {
				a.Metrics.QueryErrors.WithLabelValues(endpoint, errorCode(status)).Inc()
			}
		} else {
			writeJSON(w, status, body)
		}

		if a.Metrics != nil {
			a.Metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
			a.Metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("request body is required")
		}
		return badRequest(fmt.Sprintf("decode body: %v", err))
	}
	return nil
}

func pathID(params map[string]string) (uuid.UUID, error) {
	id, err := uuid.Parse(params["id"])
	if err != nil {
		return uuid.Nil, badRequest(fmt.Sprintf("invalid id %q", params["id"]))
	}
	return id, nil
}

// --- Registry ---

func (a *api) registerInvestor(r *http.Request, _ map[string]string) (int, interface{}, error) {
	var req investorRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	inv, err := a.Fund.RegisterInvestor(r.Context(), req.Name)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, InvestorResponse{ID: inv.ID, Name: inv.Name, CreatedAt: inv.CreatedAt}, nil
}

func (a *api) addCommitment(r *http.Request, _ map[string]string) (int, interface{}, error) {
	var req commitmentRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	c, err := a.Fund.AddCommitment(r.Context(), req.InvestorID, req.CommittedAmount)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, CommitmentResponse{
		ID:              c.ID,
		InvestorID:      c.InvestorID,
		CommittedAmount: c.CommittedAmount,
		CreatedAt:       c.CreatedAt,
	}, nil
}

func (a *api) capTable(r *http.Request, _ map[string]string) (int, interface{}, error) {
	ct, err := a.Query.CapTable(r.Context())
	return http.StatusOK, ct, err
}

// --- Previews and drafts ---

func (a *api) previewCapitalCall(r *http.Request, _ map[string]string) (int, interface{}, error) {
	var req capitalCallRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	p, err := a.Fund.PreviewCapitalCall(r.Context(), req.Total)
	if err != nil {
		return 0, nil, err
	}
	return a.previewBody(r.Context(), p)
}

func (a *api) draftCapitalCall(r *http.Request, _ map[string]string) (int, interface{}, error) {
	var req capitalCallRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	opts, err := req.options(r.Header.Get(IdempotencyHeader))
	if err != nil {
		return 0, nil, err
	}
	res, err := a.Fund.DraftCapitalCall(r.Context(), core.CapitalCallRequest{Total: req.Total, DraftOptions: opts})
	if err != nil {
		return 0, nil, err
	}
	return a.draftBody(r.Context(), res)
}

func (a *api) previewPnL(r *http.Request, _ map[string]string) (int, interface{}, error) {
	var req pnlRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	code, err := ledger.ParseTransactionCode(req.Code)
	if err != nil {
		return 0, nil, err
	}
	p, err := a.Fund.PreviewPnL(r.Context(), code, req.Total)
	if err != nil {
		return 0, nil, err
	}
	return a.previewBody(r.Context(), p)
}

func (a *api) draftPnL(r *http.Request, _ map[string]string) (int, interface{}, error) {
	var req pnlRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	code, err := ledger.ParseTransactionCode(req.Code)
	if err != nil {
		return 0, nil, err
	}
	opts, err := req.options(r.Header.Get(IdempotencyHeader))
	if err != nil {
		return 0, nil, err
	}
	res, err := a.Fund.DraftPnL(r.Context(), core.PnLRequest{Code: code, Total: req.Total, DraftOptions: opts})
	if err != nil {
		return 0, nil, err
	}
	return a.draftBody(r.Context(), res)
}

func (a *api) runWaterfall(r *http.Request, _ map[string]string) (int, interface{}, error) {
	var req dealRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	deal, err := req.deal(a.Fund.DefaultHurdleRate())
	if err != nil {
		return 0, nil, err
	}
	res, err := a.Fund.RunWaterfall(deal)
	return http.StatusOK, res, err
}

func (a *api) previewDistribution(r *http.Request, _ map[string]string) (int, interface{}, error) {
	var req distributionRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	deal, err := req.Deal.deal(a.Fund.DefaultHurdleRate())
	if err != nil {
		return 0, nil, err
	}
	p, err := a.Fund.PreviewDistribution(r.Context(), deal)
	if err != nil {
		return 0, nil, err
	}
	return a.previewBody(r.Context(), p)
}

func (a *api) draftDistribution(r *http.Request, _ map[string]string) (int, interface{}, error) {
	var req distributionRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	deal, err := req.Deal.deal(a.Fund.DefaultHurdleRate())
	if err != nil {
		return 0, nil, err
	}
	opts, err := req.options(r.Header.Get(IdempotencyHeader))
	if err != nil {
		return 0, nil, err
	}
	res, err := a.Fund.DraftDistribution(r.Context(), core.DistributionRequest{Deal: deal, DraftOptions: opts})
	if err != nil {
		return 0, nil, err
	}
	return a.draftBody(r.Context(), res)
}

func (a *api) previewBody(ctx context.Context, p *core.Preview) (int, interface{}, error) {
	names, err := a.Query.InvestorNames(ctx)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, newPreviewResponse(p, names), nil
}

// draftBody answers 201 for a new batch and 200 for a replay.
func (a *api) draftBody(ctx context.Context, res *core.DraftResult) (int, interface{}, error) {
	names, err := a.Query.InvestorNames(ctx)
	if err != nil {
		return 0, nil, err
	}
	resp := DraftResponse{
		Batch:    query.NewBatchResponse(res.Batch, names),
		Replayed: res.Replayed,
	}
	if res.Preview != nil {
		p := newPreviewResponse(res.Preview, names)
		resp.Preview = &p
	}
	if res.Replayed {
		return http.StatusOK, resp, nil
	}
	return http.StatusCreated, resp, nil
}

// --- Batches ---

func (a *api) listBatches(r *http.Request, _ map[string]string) (int, interface{}, error) {
	var filter ledger.BatchFilter
	q := r.URL.Query()
	for _, s := range splitParam(q["status"]) {
		st, err := ledger.ParseStatus(s)
		if err != nil {
			return 0, nil, badRequest(err.Error())
		}
		filter.Statuses = append(filter.Statuses, st)
	}
	for _, s := range splitParam(q["category"]) {
		cat, err := ledger.ParseCategory(s)
		if err != nil {
			return 0, nil, badRequest(err.Error())
		}
		filter.Categories = append(filter.Categories, cat)
	}
	list, err := a.Query.ListBatches(r.Context(), filter)
	return http.StatusOK, list, err
}

// splitParam accepts both ?status=A&status=B and ?status=A,B.
func splitParam(values []string) []string {
	var out []string
	for _, v := range values {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, strings.ToUpper(s))
			}
		}
	}
	return out
}

func (a *api) getBatch(r *http.Request, params map[string]string) (int, interface{}, error) {
	id, err := pathID(params)
	if err != nil {
		return 0, nil, err
	}
	b, err := a.Query.GetBatch(r.Context(), id)
	return http.StatusOK, b, err
}

func (a *api) postBatch(r *http.Request, params map[string]string) (int, interface{}, error) {
	id, err := pathID(params)
	if err != nil {
		return 0, nil, err
	}
	if _, err := a.Fund.PostBatch(r.Context(), id); err != nil {
		return 0, nil, err
	}
	b, err := a.Query.GetBatch(r.Context(), id)
	return http.StatusOK, b, err
}

func (a *api) discardBatch(r *http.Request, params map[string]string) (int, interface{}, error) {
	id, err := pathID(params)
	if err != nil {
		return 0, nil, err
	}
	if err := a.Fund.DiscardBatch(r.Context(), id); err != nil {
		return 0, nil, err
	}
	return http.StatusOK, map[string]string{"deleted": id.String()}, nil
}

// --- Reports ---

func (a *api) statement(r *http.Request, params map[string]string) (int, interface{}, error) {
	id, err := pathID(params)
	if err != nil {
		return 0, nil, err
	}
	st, err := a.Query.Statement(r.Context(), id)
	return http.StatusOK, st, err
}

func (a *api) fundSummary(r *http.Request, _ map[string]string) (int, interface{}, error) {
	s, err := a.Query.FundSummary(r.Context())
	return http.StatusOK, s, err
}

func (a *api) audit(r *http.Request, _ map[string]string) (int, interface{}, error) {
	report, err := a.Auditor.Check(r.Context())
	return http.StatusOK, report, err
}

// HTTPServer serves a handler with graceful shutdown.
type HTTPServer struct {
	srv *http.Server
	log zerolog.Logger
}

func NewHTTPServer(addr string, h http.Handler, log zerolog.Logger) *HTTPServer {
	return &HTTPServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// Serve runs on lis until ctx is cancelled.
func (s *HTTPServer) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", lis.Addr().String()).Msg("HTTP server listening")
	if err := s.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	return s.Serve(ctx, lis)
}
