package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// maxSalesBatch bounds one POST /sales body.
const maxSalesBatch = 10000

// CreateParameterSet validates and stores a parameter set. Posting an
// existing id replaces it.
func (h *Handler) CreateParameterSet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var ps domain.ParameterSet
	if err := json.NewDecoder(r.Body).Decode(&ps); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "invalid JSON request body")
		return
	}
	if ps.WindowDays <= 0 {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "windowDays must be positive")
		return
	}
	if ps.EffectiveFrom.IsZero() {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "effectiveFrom is required")
		return
	}
	if ps.EffectiveTo != nil && ps.EffectiveTo.Before(ps.EffectiveFrom) {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "effectiveTo must not precede effectiveFrom")
		return
	}
	if err := h.engine.ValidateParameterSet(&ps); err != nil {
		writeError(w, http.StatusBadRequest, CodeMalformedRule, err.Error())
		return
	}

	ps.EffectiveFrom = ps.EffectiveFrom.UTC()
	if ps.EffectiveTo != nil {
		to := ps.EffectiveTo.UTC()
		ps.EffectiveTo = &to
	}
	if err := h.repo.SaveParameterSet(ctx, tenantID, &ps); err != nil {
		h.fail(w, r, "failed to save parameter set", err)
		return
	}
	h.scorer.Invalidate(ctx, tenantID, ps.ID)

	writeJSON(w, http.StatusCreated, ps)
}

// GetParameterSet returns one parameter set.
func (h *Handler) GetParameterSet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ps, err := h.repo.GetParameterSet(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "failed to get parameter set", err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

// ListParameterSets handles GET /parameter-sets?branch=.
func (h *Handler) ListParameterSets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sets, err := h.repo.ListParameterSets(ctx, GetTenantID(ctx), optionalParam(r.URL.Query().Get("branch")))
	if err != nil {
		h.fail(w, r, "failed to list parameter sets", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"parameterSets": sets,
		"count":         len(sets),
	})
}

// GetActiveParameterSet exposes the resolver: GET /parameter-sets/active?branch=&asOf=.
func (h *Handler) GetActiveParameterSet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	asOf, err := parseAsOf(q.Get("asOf"))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "asOf must be an RFC3339 timestamp or a date")
		return
	}
	at := time.Now().UTC()
	if asOf != nil {
		at = asOf.UTC()
	}

	ps, err := h.repo.FindActiveParameterSet(ctx, GetTenantID(ctx), optionalParam(q.Get("branch")), at)
	if err != nil {
		h.fail(w, r, "failed to resolve parameter set", err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

// DeleteParameterSet removes a set and its segments.
func (h *Handler) DeleteParameterSet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	id := chi.URLParam(r, "id")

	if err := h.repo.DeleteParameterSet(ctx, tenantID, id); err != nil {
		h.fail(w, r, "failed to delete parameter set", err)
		return
	}
	h.scorer.Invalidate(ctx, tenantID, id)

	w.WriteHeader(http.StatusNoContent)
}

// CreateSegment validates and stores a segment under a parameter set.
func (h *Handler) CreateSegment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var seg domain.Segment
	if err := json.NewDecoder(r.Body).Decode(&seg); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "invalid JSON request body")
		return
	}
	seg.ParameterSetID = chi.URLParam(r, "id")
	if seg.Name == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "name is required")
		return
	}
	if err := h.engine.ValidateSegment(&seg); err != nil {
		writeError(w, http.StatusBadRequest, CodeMalformedRule, err.Error())
		return
	}

	if err := h.repo.SaveSegment(ctx, tenantID, &seg); err != nil {
		h.fail(w, r, "failed to save segment", err)
		return
	}
	h.scorer.Invalidate(ctx, tenantID, seg.ParameterSetID)

	writeJSON(w, http.StatusCreated, seg)
}

// ListSegments returns the segments of a parameter set in evaluation order.
func (h *Handler) ListSegments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	psID := chi.URLParam(r, "id")

	if _, err := h.repo.GetParameterSet(ctx, tenantID, psID); err != nil {
		h.fail(w, r, "failed to get parameter set", err)
		return
	}
	segs, err := h.repo.ListSegments(ctx, tenantID, psID)
	if err != nil {
		h.fail(w, r, "failed to list segments", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"segments": segs,
		"count":    len(segs),
	})
}

// DeleteSegment removes one segment of a parameter set.
func (h *Handler) DeleteSegment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	psID := chi.URLParam(r, "id")
	segID := chi.URLParam(r, "segmentID")

	segs, err := h.repo.ListSegments(ctx, tenantID, psID)
	if err != nil {
		h.fail(w, r, "failed to list segments", err)
		return
	}
	owned := false
	for _, s := range segs {
		if s.ID == segID {
			owned = true
			break
		}
	}
	if !owned {
		writeError(w, http.StatusNotFound, CodeNotFound, "segment not found")
		return
	}

	if err := h.repo.DeleteSegment(ctx, tenantID, segID); err != nil {
		h.fail(w, r, "failed to delete segment", err)
		return
	}
	h.scorer.Invalidate(ctx, tenantID, psID)

	w.WriteHeader(http.StatusNoContent)
}

// CreateSales ingests one sale object or an array of them.
func (h *Handler) CreateSales(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "invalid JSON request body")
		return
	}

	var reqs []domain.SaleRequest
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &reqs); err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidInput, "invalid sales array")
			return
		}
	} else {
		var single domain.SaleRequest
		if err := json.Unmarshal(trimmed, &single); err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidInput, "invalid sale object")
			return
		}
		reqs = []domain.SaleRequest{single}
	}

	if len(reqs) == 0 {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "at least one sale is required")
		return
	}
	if len(reqs) > maxSalesBatch {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, fmt.Sprintf("at most %d sales per request", maxSalesBatch))
		return
	}

	sales := make([]*domain.Sale, len(reqs))
	for i := range reqs {
		if reqs[i].CustomerID == "" {
			writeError(w, http.StatusBadRequest, CodeInvalidInput, fmt.Sprintf("sales[%d]: customerId is required", i))
			return
		}
		if reqs[i].Date.IsZero() {
			writeError(w, http.StatusBadRequest, CodeInvalidInput, fmt.Sprintf("sales[%d]: date is required", i))
			return
		}
		sales[i] = reqs[i].ToSale(tenantID)
	}

	if err := h.repo.SaveSales(ctx, tenantID, sales); err != nil {
		h.fail(w, r, "failed to save sales", err)
		return
	}
	h.scorer.Invalidate(ctx, tenantID, "")

	ids := make([]string, len(sales))
	for i, s := range sales {
		ids[i] = s.ID
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"ids":   ids,
		"count": len(ids),
	})
}
