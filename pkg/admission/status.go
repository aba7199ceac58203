// Copyright 2025 Certen Protocol
//
// GET /v1/tx/{id}/status and GET /v1/tx/{id}/offsets.

package admission

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/certen/bundler/pkg/database"
)

type statusResponse struct {
	ID           string          `json:"id"`
	Status       string          `json:"status"`
	BundlePlanID *string         `json:"bundlePlanId,omitempty"`
	FailedReason *string         `json:"failedReason,omitempty"`
	Info         string          `json:"info"`
	Price        float64         `json:"price"`
	Offsets      *offsetResponse `json:"offsets,omitempty"`
}

type offsetResponse struct {
	ItemID                     string  `json:"itemId"`
	RootBundleID               string  `json:"rootBundleId"`
	StartOffsetInRoot          int64   `json:"startOffsetInRoot"`
	RawContentLength           int64   `json:"rawContentLength"`
	PayloadDataStart           int64   `json:"payloadDataStart"`
	PayloadContentType         string  `json:"payloadContentType"`
	ParentItemID               *string `json:"parentItemId,omitempty"`
	StartOffsetInParentPayload *int64  `json:"startOffsetInParentPayload,omitempty"`
}

// handleItemStatus serves the lifecycle status of an admitted item. A
// short cache window applies while the item is still in flight; once it
// reaches a terminal state the response is immutable and cached for a day.
func (s *Server) handleItemStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := s.items.GetItemStatus(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrItemNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "item not found", Kind: "NotFound"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error(), Kind: "Internal"})
		return
	}

	if isTerminalStatus(st.Status) {
		w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	} else {
		w.Header().Set("Cache-Control", "public, max-age=15")
	}

	var offsets *offsetResponse
	if st.Status == "permanent" {
		if off, err := s.offsets.GetOffset(r.Context(), id); err == nil {
			offsets = &offsetResponse{
				ItemID:                     off.ItemID,
				RootBundleID:               off.RootBundleID,
				StartOffsetInRoot:          off.StartOffsetInRoot,
				RawContentLength:           off.RawContentLength,
				PayloadDataStart:           off.PayloadDataStart,
				PayloadContentType:         off.PayloadContentType,
				ParentItemID:               off.ParentItemID,
				StartOffsetInParentPayload: off.StartOffsetInParentPayload,
			}
		}
	}

	writeJSON(w, http.StatusOK, statusResponse{
		ID:           st.ID,
		Status:       st.Status,
		BundlePlanID: st.BundlePlanID,
		FailedReason: st.FailedReason,
		Info:         statusInfo(st.Status),
		Price:        st.AssessedPrice,
		Offsets:      offsets,
	})
}

func isTerminalStatus(status string) bool {
	return status == "permanent" || status == "failed"
}

// statusInfo gives a short human-readable gloss on an item's lifecycle
// status, for clients that display it directly rather than branching on
// the status code.
func statusInfo(status string) string {
	switch status {
	case "new":
		return "awaiting bundling"
	case "planned":
		return "assigned to a bundle plan, awaiting preparation"
	case "prepared":
		return "bundle prepared, awaiting chain submission"
	case "posted":
		return "bundle submitted to chain, awaiting confirmation"
	case "permanent":
		return "permanently stored and confirmed"
	case "failed":
		return "failed"
	default:
		return status
	}
}

// handleItemOffsets serves an item's chain-relative byte offsets, available
// only once the item's containing bundle is permanent and put-offsets has
// written its offset rows.
func (s *Server) handleItemOffsets(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	off, err := s.offsets.GetOffset(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrOffsetNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "offsets not yet available", Kind: "NotFound"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error(), Kind: "Internal"})
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	writeJSON(w, http.StatusOK, offsetResponse{
		ItemID:                     off.ItemID,
		RootBundleID:               off.RootBundleID,
		StartOffsetInRoot:          off.StartOffsetInRoot,
		RawContentLength:           off.RawContentLength,
		PayloadDataStart:           off.PayloadDataStart,
		PayloadContentType:         off.PayloadContentType,
		ParentItemID:               off.ParentItemID,
		StartOffsetInParentPayload: off.StartOffsetInParentPayload,
	})
}
