// Copyright 2025 Certen Protocol
//
// Price-quote endpoints: GET /v1/price/x402/data-item/{token}/{byteCount},
// GET /v1/price/x402/data/{token}/{byteCount}, and
// GET /v1/x402/price/{sigType}/{address}, each returning a 402-shaped
// quote body without requiring payment first.

package admission

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/certen/bundler/pkg/payment"
)

// handlePriceDataItem quotes the price of a wire-format item of a given raw
// byte count, including header overhead, on a single named network.
func (s *Server) handlePriceDataItem(w http.ResponseWriter, r *http.Request) {
	s.quoteSingleNetwork(w, r, "/v1/tx")
}

// handlePriceData quotes the price of a payload of byteCount data bytes
// exactly as handlePriceDataItem does: the tags and contentType query
// parameters are not read, and no header or tag overhead is added to
// byteCount.
func (s *Server) handlePriceData(w http.ResponseWriter, r *http.Request) {
	s.quoteSingleNetwork(w, r, "/v1/tx")
}

func (s *Server) quoteSingleNetwork(w http.ResponseWriter, r *http.Request, uploadPath string) {
	network := chi.URLParam(r, "token")
	if network == "" {
		network = defaultNetwork
	}
	byteCount, err := strconv.ParseInt(chi.URLParam(r, "byteCount"), 10, 64)
	if err != nil || byteCount < 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid byteCount", Kind: "InvalidRequest"})
		return
	}

	req, err := s.payments.Quote(r.Context(), network, byteCount, uploadPath)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// handlePriceQuote returns a full 402 quote across every enabled network,
// keyed loosely by a signature-type/address pair a client supplies to
// scope the quote (the service does not require either to exist yet).
func (s *Server) handlePriceQuote(w http.ResponseWriter, r *http.Request) {
	byteCountStr := r.URL.Query().Get("bytes")
	byteCount, err := strconv.ParseInt(byteCountStr, 10, 64)
	if err != nil || byteCount < 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid bytes query parameter", Kind: "InvalidRequest"})
		return
	}

	quote := &payment.Quote{X402Version: 1}
	for _, network := range s.payments.Networks() {
		req, err := s.payments.Quote(r.Context(), network, byteCount, "/v1/tx")
		if err != nil {
			continue
		}
		quote.Accepts = append(quote.Accepts, *req)
	}
	if len(quote.Accepts) == 0 {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "no enabled networks could be quoted", Kind: "Unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, quote)
}
