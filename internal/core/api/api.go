// Package api provides the HTTP handlers for product management, price
// imports and payoff evaluation.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Handlers translate engine errors into HTTP status codes: missing market
// data is a client-visible 422, not a 500, because the fix (load the
// missing close) sits with the caller.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/meridianwm/structprod/internal/marketdata"
	"github.com/meridianwm/structprod/internal/metrics"
	"github.com/meridianwm/structprod/internal/payoff"
	"github.com/meridianwm/structprod/internal/repo"
	"github.com/meridianwm/structprod/internal/types"
)

// Service wires the product repository, the price source and the engine
// behind HTTP handlers.
type Service struct {
	repo     *repo.Repository
	prices   marketdata.Source
	recorder *marketdata.SQLSource
	logger   *slog.Logger
}

// NewService creates the API service. recorder may be nil when the
// deployment is read-only for prices.
func NewService(r *repo.Repository, prices marketdata.Source, recorder *marketdata.SQLSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: r, prices: prices, recorder: recorder, logger: logger}
}

// Routes mounts all v1 endpoints on a router.
func (s *Service) Routes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/products", s.CreateProduct)
		r.Get("/products", s.ListProducts)
		r.Get("/products/{productID}", s.GetProduct)
		r.Post("/products/{productID}/evaluate", s.EvaluateProduct)
		r.Post("/evaluate", s.EvaluateAll)
		r.Post("/translate", s.TranslateComponents)
		r.Post("/prices", s.RecordPrice)
	})
}

// --- Request/Response types ---

// CreateProductRequest is the JSON body for product creation. Legacy holds
// the old editor's component tree; when present it is validated through the
// translator before the product is accepted.
type CreateProductRequest struct {
	Name          string                    `json:"name"`
	Template      string                    `json:"template"`
	TradeDate     string                    `json:"trade_date"`    // YYYY-MM-DD
	MaturityDate  string                    `json:"maturity_date"` // YYYY-MM-DD
	CouponRate    decimal.Decimal           `json:"coupon_rate"`
	MemoryCoupon  bool                      `json:"memory_coupon"`
	Participation decimal.Decimal           `json:"participation"`
	Underlyings   []types.Underlying        `json:"underlyings"`
	Barriers      []types.Barrier           `json:"barriers"`
	Schedule      []scheduleEntry           `json:"schedule"`
	Legacy        *payoff.LegacyComponent   `json:"legacy_components,omitempty"`
}

type scheduleEntry struct {
	Date string `json:"date"` // YYYY-MM-DD
	Role string `json:"role"` // periodic | final
}

// EvaluateRequest is the JSON body for POST /v1/products/{id}/evaluate.
// AsOf defaults to today; evaluation never looks past it.
type EvaluateRequest struct {
	AsOf string `json:"as_of,omitempty"` // YYYY-MM-DD
}

// EvaluateResponse wraps the engine result with the trace collected during
// the run, so operators can see why a ledger looks the way it does.
type EvaluateResponse struct {
	Result *types.EvaluationResult `json:"result"`
	Trace  []string                `json:"trace,omitempty"`
}

// BatchResult is one product's entry in a batch evaluation response. Error
// is set when that product failed; the rest of the batch is unaffected.
type BatchResult struct {
	ProductID types.ProductID         `json:"product_id"`
	Result    *types.EvaluationResult `json:"result,omitempty"`
	Error     string                  `json:"error,omitempty"`
}

// BatchEvaluateResponse is the JSON body returned by POST /v1/evaluate.
type BatchEvaluateResponse struct {
	AsOf    string        `json:"as_of"`
	Results []BatchResult `json:"results"`
	Failed  int           `json:"failed"`
}

// TranslateRequest is the JSON body for POST /v1/translate: a legacy
// component tree to lower into the primitive representation.
type TranslateRequest struct {
	Components payoff.LegacyComponent `json:"components"`
}

// TranslateResponse reports whether a legacy tree translates cleanly.
type TranslateResponse struct {
	Valid       bool             `json:"valid"`
	Errors      []payoff.Issue   `json:"errors,omitempty"`
	Warnings    []payoff.Issue   `json:"warnings,omitempty"`
	Suggestions []string         `json:"suggestions,omitempty"`
}

// RecordPriceRequest is the JSON body for POST /v1/prices.
type RecordPriceRequest struct {
	Ticker   string          `json:"ticker"`
	QuotedOn string          `json:"quoted_on"` // YYYY-MM-DD
	Close    decimal.Decimal `json:"close"`
}

// --- Handlers ---

// CreateProduct handles POST /v1/products.
func (s *Service) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	p, err := req.toProduct()
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Legacy != nil {
		node, vr := payoff.TranslateLegacy(*req.Legacy)
		if node == nil || !vr.Valid() {
			writeJSON(w, http.StatusBadRequest, TranslateResponse{
				Valid:       false,
				Errors:      vr.Errors,
				Warnings:    vr.Warnings,
				Suggestions: vr.Suggestions,
			})
			return
		}
	}

	if err := s.repo.Create(r.Context(), p, req.Legacy); err != nil {
		s.logger.Error("create product failed", "err", err)
		writeError(w, "could not store product", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// ListProducts handles GET /v1/products.
func (s *Service) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.repo.List(r.Context())
	if err != nil {
		s.logger.Error("list products failed", "err", err)
		writeError(w, "could not list products", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

// GetProduct handles GET /v1/products/{productID}.
func (s *Service) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseProductID(chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, "invalid product id", http.StatusBadRequest)
		return
	}
	p, err := s.repo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, types.ErrProductNotFound) {
			writeError(w, "product not found", http.StatusNotFound)
			return
		}
		s.logger.Error("get product failed", "err", err)
		writeError(w, "could not load product", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// EvaluateProduct handles POST /v1/products/{id}/evaluate. Each call is a
// fresh run: state is recomputed from the trade date; nothing persists
// between requests.
func (s *Service) EvaluateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseProductID(chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, "invalid product id", http.StatusBadRequest)
		return
	}

	var req EvaluateRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	asOf := time.Now().UTC()
	if req.AsOf != "" {
		asOf, err = time.Parse("2006-01-02", req.AsOf)
		if err != nil {
			writeError(w, "as_of must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
	}

	p, err := s.repo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, types.ErrProductNotFound) {
			writeError(w, "product not found", http.StatusNotFound)
			return
		}
		s.logger.Error("get product failed", "err", err)
		writeError(w, "could not load product", http.StatusInternalServerError)
		return
	}

	trace := &payoff.CollectorTrace{}
	start := time.Now()
	result, err := payoff.EvaluateProduct(r.Context(), p, s.prices, asOf, trace)
	elapsed := time.Since(start)
	if err != nil {
		var missing *types.MissingPriceError
		switch {
		case errors.As(err, &missing):
			metrics.MissingPriceTotal.Inc()
			metrics.ObserveEvaluation(string(p.Template), "missing_price", elapsed)
			writeError(w, err.Error(), http.StatusUnprocessableEntity)
		case errors.Is(err, types.ErrEmptySchedule),
			errors.Is(err, types.ErrScheduleNotChronological),
			errors.Is(err, types.ErrScheduleTooLong),
			errors.Is(err, types.ErrEmptyBasket),
			errors.Is(err, types.ErrTooManyUnderlyings):
			writeError(w, err.Error(), http.StatusBadRequest)
		default:
			s.logger.Error("evaluation failed", "product", id, "err", err)
			metrics.ObserveEvaluation(string(p.Template), "error", elapsed)
			writeError(w, "evaluation failed", http.StatusInternalServerError)
		}
		return
	}

	metrics.ObserveEvaluation(string(p.Template), string(result.Status), elapsed)
	writeJSON(w, http.StatusOK, EvaluateResponse{Result: result, Trace: trace.Events})
}

// EvaluateAll handles POST /v1/evaluate: every stored product, each with a
// fresh run. Products are independent, so a missing close for one product
// marks that entry failed and the rest of the batch still completes.
func (s *Service) EvaluateAll(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	asOf := time.Now().UTC()
	if req.AsOf != "" {
		var err error
		asOf, err = time.Parse("2006-01-02", req.AsOf)
		if err != nil {
			writeError(w, "as_of must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
	}

	products, err := s.repo.List(r.Context())
	if err != nil {
		s.logger.Error("list products failed", "err", err)
		writeError(w, "could not list products", http.StatusInternalServerError)
		return
	}

	resp := BatchEvaluateResponse{
		AsOf:    asOf.Format("2006-01-02"),
		Results: make([]BatchResult, 0, len(products)),
	}
	for _, p := range products {
		start := time.Now()
		result, err := payoff.EvaluateProduct(r.Context(), p, s.prices, asOf, payoff.NopTrace{})
		elapsed := time.Since(start)
		if err != nil {
			resp.Failed++
			resp.Results = append(resp.Results, BatchResult{ProductID: p.ID, Error: err.Error()})
			var missing *types.MissingPriceError
			if errors.As(err, &missing) {
				metrics.MissingPriceTotal.Inc()
				metrics.ObserveEvaluation(string(p.Template), "missing_price", elapsed)
			} else {
				metrics.ObserveEvaluation(string(p.Template), "error", elapsed)
			}
			s.logger.Warn("batch evaluation: product failed", "product", p.ID, "err", err)
			continue
		}
		metrics.ObserveEvaluation(string(p.Template), string(result.Status), elapsed)
		resp.Results = append(resp.Results, BatchResult{ProductID: p.ID, Result: result})
	}
	writeJSON(w, http.StatusOK, resp)
}

// TranslateComponents handles POST /v1/translate: dry-run validation of a
// legacy component tree without creating anything.
func (s *Service) TranslateComponents(w http.ResponseWriter, r *http.Request) {
	var req TranslateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	node, vr := payoff.TranslateLegacy(req.Components)
	resp := TranslateResponse{
		Valid:       node != nil && vr.Valid(),
		Errors:      vr.Errors,
		Warnings:    vr.Warnings,
		Suggestions: vr.Suggestions,
	}
	writeJSON(w, http.StatusOK, resp)
}

// RecordPrice handles POST /v1/prices.
func (s *Service) RecordPrice(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeError(w, "price imports disabled", http.StatusNotImplemented)
		return
	}
	var req RecordPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Ticker == "" {
		writeError(w, "ticker must not be empty", http.StatusBadRequest)
		return
	}
	day, err := time.Parse("2006-01-02", req.QuotedOn)
	if err != nil {
		writeError(w, "quoted_on must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	if req.Close.LessThanOrEqual(decimal.Zero) {
		writeError(w, "close must be positive", http.StatusBadRequest)
		return
	}
	if err := s.recorder.RecordPrice(r.Context(), req.Ticker, day, req.Close); err != nil {
		s.logger.Error("record price failed", "ticker", req.Ticker, "err", err)
		writeError(w, "could not store price", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

func (req *CreateProductRequest) toProduct() (*types.Product, error) {
	trade, err := time.Parse("2006-01-02", req.TradeDate)
	if err != nil {
		return nil, errors.New("trade_date must be YYYY-MM-DD")
	}
	maturity, err := time.Parse("2006-01-02", req.MaturityDate)
	if err != nil {
		return nil, errors.New("maturity_date must be YYYY-MM-DD")
	}
	p := &types.Product{
		ID:            types.NewProductID(),
		Name:          req.Name,
		Template:      types.TemplateKind(req.Template),
		TradeDate:     trade,
		MaturityDate:  maturity,
		CouponRate:    req.CouponRate,
		MemoryCoupon:  req.MemoryCoupon,
		Participation: req.Participation,
		Underlyings:   req.Underlyings,
		Barriers:      req.Barriers,
	}
	if p.Participation.IsZero() {
		p.Participation = decimal.NewFromInt(1)
	}
	for _, e := range req.Schedule {
		day, err := time.Parse("2006-01-02", e.Date)
		if err != nil {
			return nil, errors.New("schedule dates must be YYYY-MM-DD")
		}
		p.Schedule = append(p.Schedule, types.ObservationDate{
			Date: day,
			Role: types.ObservationRole(e.Role),
		})
	}
	if err := p.Schedule.Validate(); err != nil {
		return nil, err
	}
	if len(p.Underlyings) == 0 {
		return nil, types.ErrEmptyBasket
	}
	if len(p.Underlyings) > types.MaxUnderlyings {
		return nil, types.ErrTooManyUnderlyings
	}
	return p, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
