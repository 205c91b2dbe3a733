package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/cyber-rating/internal/quote"
	"github.com/sells-group/cyber-rating/internal/rating"
	"github.com/sells-group/cyber-rating/internal/resilience"
	"github.com/sells-group/cyber-rating/internal/tower"
)

// rateRequest is a QuoteRequest whose industry may be given as a NAICS code.
type rateRequest struct {
	Industry  string   `json:"industry"`
	NAICS     string   `json:"naics"`
	Revenue   int64    `json:"revenue"`
	Limit     int64    `json:"limit"`
	Retention int64    `json:"retention"`
	Controls  []string `json:"controls"`
}

func (s *Server) quoteRequest(in rateRequest) (rating.QuoteRequest, error) {
	industry, err := s.engine.ResolveIndustry(in.Industry, in.NAICS)
	if err != nil {
		return rating.QuoteRequest{}, err
	}
	return rating.QuoteRequest{
		Industry:  industry,
		Revenue:   in.Revenue,
		Limit:     in.Limit,
		Retention: in.Retention,
		Controls:  in.Controls,
	}, nil
}

func (s *Server) price(in rateRequest) (*rating.Quote, error) {
	req, err := s.quoteRequest(in)
	if err != nil {
		s.metrics.observeRating(0, err)
		return nil, err
	}
	q, err := s.engine.PriceWithBreakdown(req)
	if err != nil {
		s.metrics.observeRating(0, err)
		return nil, err
	}
	s.metrics.observeRating(q.Premium, nil)
	return q, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	t := s.engine.Table()
	respond(w, http.StatusOK, map[string]string{
		"status":        "ok",
		"table_version": t.Version(),
		"table_hash":    t.Hash(),
	})
}

// POST /v1/rate
func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	var in rateRequest
	if !decode(w, r, &in) {
		return
	}
	q, err := s.price(in)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, q)
}

type optionsRequest struct {
	Industry string          `json:"industry"`
	NAICS    string          `json:"naics"`
	Revenue  int64           `json:"revenue"`
	Controls []string        `json:"controls"`
	Options  []rating.Option `json:"options"`
}

type optionsResponse struct {
	Quotes []*rating.Quote `json:"quotes"`
}

const maxOptions = 50

// POST /v1/rate/options
func (s *Server) handleRateOptions(w http.ResponseWriter, r *http.Request) {
	var in optionsRequest
	if !decode(w, r, &in) {
		return
	}
	if len(in.Options) == 0 {
		respondErr(w, http.StatusBadRequest, "options must not be empty")
		return
	}
	if len(in.Options) > maxOptions {
		respondErr(w, http.StatusBadRequest, "too many options in a single request (max 50)")
		return
	}

	req, err := s.quoteRequest(rateRequest{
		Industry: in.Industry,
		NAICS:    in.NAICS,
		Revenue:  in.Revenue,
		Controls: in.Controls,
	})
	if err != nil {
		s.metrics.observeRating(0, err)
		respondError(w, r, err)
		return
	}
	quotes, err := s.engine.PriceOptions(req, in.Options)
	if err != nil {
		s.metrics.observeRating(0, err)
		respondError(w, r, err)
		return
	}
	for _, q := range quotes {
		s.metrics.observeRating(q.Premium, nil)
	}
	respond(w, http.StatusOK, optionsResponse{Quotes: quotes})
}

type nameRequest struct {
	Layers           []tower.Layer `json:"layers"`
	Position         string        `json:"position"`
	PrimaryRetention int64         `json:"primary_retention"`
}

type nameResponse struct {
	QuoteName   string  `json:"quote_name"`
	Position    string  `json:"position"`
	Retention   int64   `json:"retention"`
	TowerLimit  int64   `json:"tower_limit"`
	Attachments []int64 `json:"attachments"`
}

// POST /v1/towers/name
func (s *Server) handleNameTower(w http.ResponseWriter, r *http.Request) {
	var in nameRequest
	if !decode(w, r, &in) {
		return
	}
	position, err := tower.ParsePosition(in.Position)
	if err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(in.Layers) == 0 {
		respondErr(w, http.StatusBadRequest, "layers must not be empty")
		return
	}

	name, err := s.namer.Name(in.Layers, position, in.PrimaryRetention)
	if err != nil {
		respondError(w, r, err)
		return
	}
	attachments, err := s.namer.Attachments(in.Layers)
	if err != nil {
		respondError(w, r, err)
		return
	}
	total, err := tower.TowerLimit(in.Layers)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respond(w, http.StatusOK, nameResponse{
		QuoteName:   name,
		Position:    string(position),
		Retention:   s.namer.Retention(in.Layers, in.PrimaryRetention),
		TowerLimit:  total,
		Attachments: attachments,
	})
}

type saveQuoteRequest struct {
	ID               string        `json:"id"`
	SubmissionID     string        `json:"submission_id"`
	Layers           []tower.Layer `json:"layers"`
	Position         string        `json:"position"`
	PrimaryRetention int64         `json:"primary_retention"`
	SoldPremium      int64         `json:"sold_premium"`
	EffectiveDate    *time.Time    `json:"effective_date"`
	ExpirationDate   *time.Time    `json:"expiration_date"`
	// Rating is optional; when present the technical premium and breakdown
	// are stored with the tower.
	Rating *rateRequest `json:"rating"`
}

// POST /v1/quotes
func (s *Server) handleSaveQuote(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	var in saveQuoteRequest
	if !decode(w, r, &in) {
		return
	}
	position, err := tower.ParsePosition(in.Position)
	if err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}

	var rated *rating.Quote
	if in.Rating != nil {
		if rated, err = s.price(*in.Rating); err != nil {
			respondError(w, r, err)
			return
		}
	}

	row, err := quote.BuildRow(s.namer, quote.RowInput{
		ID:               in.ID,
		SubmissionID:     in.SubmissionID,
		Layers:           in.Layers,
		Position:         position,
		PrimaryRetention: in.PrimaryRetention,
		Quote:            rated,
		SoldPremium:      in.SoldPremium,
		EffectiveDate:    in.EffectiveDate,
		ExpirationDate:   in.ExpirationDate,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	err = s.retry(r.Context(), "quote.upsert", func(ctx context.Context) error {
		return s.store.UpsertTower(ctx, row)
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	s.metrics.quotesSaved.Inc()

	zap.L().Info("quote saved",
		zap.String("component", "api"),
		zap.String("id", row.ID),
		zap.String("submission_id", row.SubmissionID),
		zap.String("quote_name", row.QuoteName),
	)
	respond(w, http.StatusCreated, row)
}

// POST /v1/quotes/{id}/bind
func (s *Server) handleBindQuote(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))

	if err := quote.Bind(r.Context(), s.store, id, s.cfg.Retry.WithOp("quote.bind")); err != nil {
		respondError(w, r, err)
		return
	}
	s.metrics.quotesBound.Inc()

	row, err := s.store.GetTower(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, row)
}

type listQuotesResponse struct {
	SubmissionID string           `json:"submission_id"`
	Quotes       []quote.TowerRow `json:"quotes"`
}

// GET /v1/submissions/{id}/quotes
func (s *Server) handleListQuotes(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	rows, err := s.store.ListTowers(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if rows == nil {
		rows = []quote.TowerRow{}
	}
	respond(w, http.StatusOK, listQuotesResponse{SubmissionID: id, Quotes: rows})
}

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		respondErr(w, http.StatusServiceUnavailable, "quote store is not configured")
		return false
	}
	return true
}

func (s *Server) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return resilience.Do(ctx, s.cfg.Retry.WithOp(op), fn)
}
