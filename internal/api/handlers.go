package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"shopwatch/internal/monitor"
)

var errBadRequest = errors.New("bad request")

func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.engine.Repository().Products(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (s *Server) handleListMonitored(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Monitor().GetAll())
}

type startMonitoringRequest struct {
	ProductID            string          `json:"product_id"`
	CheckIntervalMinutes int             `json:"check_interval_minutes"`
	PriceAlertEnabled    bool            `json:"price_alert_enabled"`
	StockAlertEnabled    bool            `json:"stock_alert_enabled"`
	PriceDeltaThreshold  decimal.Decimal `json:"price_delta_threshold"`
}

func (s *Server) handleStartMonitoring(w http.ResponseWriter, r *http.Request) {
	var req startMonitoringRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.ProductID == "" {
		s.writeError(w, fmt.Errorf("%w: product_id is required", errBadRequest))
		return
	}

	p, err := s.engine.StartMonitoringProduct(r.Context(), req.ProductID, monitor.Options{
		CheckIntervalMinutes: req.CheckIntervalMinutes,
		PriceAlertEnabled:    req.PriceAlertEnabled,
		StockAlertEnabled:    req.StockAlertEnabled,
		PriceDeltaThreshold:  req.PriceDeltaThreshold,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetMonitored(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.Monitor().Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdateMonitoring(w http.ResponseWriter, r *http.Request) {
	var upd monitor.OptionsUpdate
	if err := decode(r, &upd); err != nil {
		s.writeError(w, err)
		return
	}
	p, err := s.engine.Monitor().UpdateOptions(r.Context(), chi.URLParam(r, "id"), upd)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleStopMonitoring(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Monitor().StopMonitoring(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCheckNow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	outcome, err := s.engine.Monitor().CheckNow(r.Context(), id)
	if err != nil {
		if errors.Is(err, monitor.ErrNotFound) || errors.Is(err, monitor.ErrCheckInFlight) {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

type startBatchRequest struct {
	Targets      []string `json:"targets"`
	PerItemDelay string   `json:"per_item_delay,omitempty"`
	SettleDelay  string   `json:"settle_delay,omitempty"`
	MaxRetries   int      `json:"max_retries,omitempty"`
}

func (s *Server) handleStartBatch(w http.ResponseWriter, r *http.Request) {
	var req startBatchRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	opts := s.engine.DefaultBatchOptions()
	if err := overrideDuration(&opts.PerItemDelay, req.PerItemDelay); err != nil {
		s.writeError(w, err)
		return
	}
	if err := overrideDuration(&opts.SettleDelay, req.SettleDelay); err != nil {
		s.writeError(w, err)
		return
	}
	if req.MaxRetries > 0 {
		opts.MaxRetries = req.MaxRetries
	}

	run, err := s.engine.StartBatch(s.ctx, req.Targets, opts, nil)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	run, ok, err := s.engine.LastBatch(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no batch run recorded"})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleStopBatch(w http.ResponseWriter, r *http.Request) {
	s.engine.Batch().Stop()
	w.WriteHeader(http.StatusAccepted)
}

func overrideDuration(dst *time.Duration, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return fmt.Errorf("%w: invalid duration %q", errBadRequest, raw)
	}
	*dst = d
	return nil
}
