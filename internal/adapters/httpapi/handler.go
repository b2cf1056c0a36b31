// Package httpapi exposes the custody ledger and evidence store over JSON
// HTTP. The calling identity is taken from the X-Caller header; wallet
// signatures are verified upstream.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"custodychain/internal/core"
	"custodychain/internal/evidence"
	"custodychain/pkg/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CallerHeader carries the identity a request acts as.
const CallerHeader = "X-Caller"

const maxBodyBytes = 8 << 20

// Handler routes ledger and evidence requests.
type Handler struct {
	Ledger   *core.Ledger
	Evidence *evidence.Service // optional; evidence routes return 404 when nil
	Gatherer prometheus.Gatherer
	Logger   core.Logger

	mux *http.ServeMux
	// appendMu serializes log appends from reading the current evidence
	// reference to moving it, so concurrent appends extend one chain.
	appendMu sync.Mutex
}

// NewHandler wires the routes. gatherer may be nil to omit /metrics.
func NewHandler(ledger *core.Ledger, ev *evidence.Service, gatherer prometheus.Gatherer, logger core.Logger) *Handler {
	if logger == nil {
		logger = core.NewNoopLogger()
	}
	h := &Handler{Ledger: ledger, Evidence: ev, Gatherer: gatherer, Logger: logger, mux: http.NewServeMux()}
	h.routes()
	return h
}

func (h *Handler) routes() {
	h.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	h.mux.HandleFunc("GET /api/v1/owner", h.handleOwner)

	h.mux.HandleFunc("GET /api/v1/roles/{kind}", h.handleListRoles)
	h.mux.HandleFunc("POST /api/v1/roles/{kind}", h.handleRegisterRole)
	h.mux.HandleFunc("GET /api/v1/roles/{kind}/lookup", h.handleLookupRole)
	h.mux.HandleFunc("GET /api/v1/roles/{kind}/{id}", h.handleGetRole)

	h.mux.HandleFunc("GET /api/v1/products", h.handleListProducts)
	h.mux.HandleFunc("POST /api/v1/products", h.handleRegisterProduct)
	h.mux.HandleFunc("GET /api/v1/products/{id}", h.handleGetProduct)
	h.mux.HandleFunc("POST /api/v1/products/{id}/transitions/{op}", h.handleTransition)
	h.mux.HandleFunc("PUT /api/v1/products/{id}/evidence", h.handleUpdateEvidence)
	h.mux.HandleFunc("GET /api/v1/products/{id}/verify", h.handleVerify)
	h.mux.HandleFunc("GET /api/v1/products/{id}/logs", h.handleListLogs)
	h.mux.HandleFunc("POST /api/v1/products/{id}/logs", h.handleAppendLog)

	h.mux.HandleFunc("GET /api/v1/events", h.handleListEvents)

	h.mux.HandleFunc("POST /api/v1/evidence", h.handlePutEvidence)
	h.mux.HandleFunc("GET /api/v1/evidence/{ref}", h.handleGetEvidence)
	h.mux.HandleFunc("GET /api/v1/evidence/{ref}/url", h.handleEvidenceURL)

	if h.Gatherer != nil {
		h.mux.Handle("GET /metrics", promhttp.HandlerFor(h.Gatherer, promhttp.HandlerOpts{}))
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Ledger == nil {
		writeError(w, http.StatusInternalServerError, "ledger not configured")
		return
	}
	h.mux.ServeHTTP(w, r)
}

type productView struct {
	domain.Product
	StageLabel string `json:"stage_label"`
}

func viewOf(p domain.Product) productView {
	return productView{Product: p, StageLabel: p.Stage.Label()}
}

func (h *Handler) handleOwner(w http.ResponseWriter, r *http.Request) {
	owner, err := h.Ledger.Owner(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"owner": owner})
}

type registerRoleRequest struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Place   string `json:"place"`
}

func (h *Handler) handleRegisterRole(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.roleKind(w, r)
	if !ok {
		return
	}
	var req registerRoleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	record, err := h.Ledger.RegisterRole(r.Context(), caller(r), kind, domain.Address(req.Address), req.Name, req.Place)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"role": record})
}

func (h *Handler) handleListRoles(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.roleKind(w, r)
	if !ok {
		return
	}
	roles, err := h.Ledger.ListRoles(r.Context(), kind)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles, "count": len(roles)})
}

func (h *Handler) handleGetRole(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.roleKind(w, r)
	if !ok {
		return
	}
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	record, err := h.Ledger.GetRole(r.Context(), kind, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"role": record})
}

func (h *Handler) handleLookupRole(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.roleKind(w, r)
	if !ok {
		return
	}
	addr := r.URL.Query().Get("address")
	if addr == "" {
		writeError(w, http.StatusBadRequest, "address query parameter required")
		return
	}
	id, err := h.Ledger.FindRoleByAddress(r.Context(), kind, domain.Address(addr))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "registered": id != 0})
}

type registerProductRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *Handler) handleRegisterProduct(w http.ResponseWriter, r *http.Request) {
	var req registerProductRequest
	if !decodeBody(w, r, &req) {
		return
	}
	product, err := h.Ledger.RegisterProduct(r.Context(), caller(r), req.Name, req.Description)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": viewOf(product)})
}

func (h *Handler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Ledger.ListProducts(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	views := make([]productView, 0, len(products))
	for _, p := range products {
		views = append(views, viewOf(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": views, "count": len(views)})
}

func (h *Handler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	product, err := h.Ledger.GetProduct(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": viewOf(product)})
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	op, err := core.ParseOperation(r.PathValue("op"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	product, err := h.Ledger.Transition(r.Context(), caller(r), op, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": viewOf(product)})
}

type updateEvidenceRequest struct {
	Ref string `json:"ref"`
}

func (h *Handler) handleUpdateEvidence(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	var req updateEvidenceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	product, err := h.Ledger.UpdateEvidenceReference(r.Context(), caller(r), id, req.Ref)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": viewOf(product)})
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	stage, err := strconv.Atoi(r.URL.Query().Get("stage"))
	if err != nil || !domain.Stage(stage).Valid() {
		writeError(w, http.StatusBadRequest, "stage query parameter must be a stage ordinal")
		return
	}
	matches, product, err := core.VerifyStage(r.Context(), h.Ledger, id, domain.Stage(stage))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches, "product": viewOf(product)})
}

func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	productID := 0
	if raw := r.URL.Query().Get("product_id"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "product_id must be an integer")
			return
		}
		productID = n
	}
	events, err := h.Ledger.ListEvents(r.Context(), productID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func (h *Handler) handlePutEvidence(w http.ResponseWriter, r *http.Request) {
	if !h.evidenceEnabled(w) {
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "evidence body too large")
		return
	}
	ref, err := h.Evidence.Put(r.Context(), data, r.Header.Get("Content-Type"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ref": ref, "size_bytes": len(data)})
}

func (h *Handler) handleGetEvidence(w http.ResponseWriter, r *http.Request) {
	if !h.evidenceEnabled(w) {
		return
	}
	data, err := h.Evidence.Get(r.Context(), r.PathValue("ref"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) handleEvidenceURL(w http.ResponseWriter, r *http.Request) {
	if !h.evidenceEnabled(w) {
		return
	}
	var expiry time.Duration
	if raw := r.URL.Query().Get("expiry"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "expiry must be a duration")
			return
		}
		expiry = d
	}
	u, err := h.Evidence.URL(r.Context(), r.PathValue("ref"), expiry)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": u})
}

type appendLogRequest struct {
	Temperature string              `json:"temperature"`
	Humidity    string              `json:"humidity"`
	Timestamp   string              `json:"timestamp"`
	Certificate *certificatePayload `json:"certificate,omitempty"`
}

type certificatePayload struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"` // base64
}

// handleAppendLog records an environmental log against the product and
// points the product at the new evidence document. Only the owner may move
// the reference, so the owner check runs before anything is stored.
func (h *Handler) handleAppendLog(w http.ResponseWriter, r *http.Request) {
	if !h.evidenceEnabled(w) {
		return
	}
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	var req appendLogRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx := r.Context()
	who := caller(r)
	owner, err := h.Ledger.Owner(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if owner.IsZero() || who != owner {
		h.fail(w, r, domain.UnauthorizedError{Operation: "append_log", Caller: who})
		return
	}
	h.appendMu.Lock()
	defer h.appendMu.Unlock()
	product, err := h.Ledger.GetProduct(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entry := evidence.EnvironmentalLog{
		ProductID:   evidence.ProductID(id),
		Temperature: evidence.Reading(req.Temperature),
		Humidity:    evidence.Reading(req.Humidity),
		Timestamp:   req.Timestamp,
		RecordedBy:  string(who),
	}
	var cert *evidence.Certificate
	if req.Certificate != nil {
		cert = &evidence.Certificate{Name: req.Certificate.Name, ContentType: req.Certificate.ContentType, Data: req.Certificate.Data}
	}
	ref, doc, err := h.Evidence.AppendLog(ctx, product.EvidenceRef, entry, cert)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	product, err = h.Ledger.UpdateEvidenceReference(ctx, who, id, ref)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ref": ref, "logs": len(doc.Logs), "product": viewOf(product)})
}

func (h *Handler) handleListLogs(w http.ResponseWriter, r *http.Request) {
	if !h.evidenceEnabled(w) {
		return
	}
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	product, err := h.Ledger.GetProduct(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	logs, err := h.Evidence.LogsForProduct(r.Context(), product.EvidenceRef, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ref": product.EvidenceRef, "logs": logs})
}

func (h *Handler) evidenceEnabled(w http.ResponseWriter) bool {
	if h.Evidence == nil {
		writeError(w, http.StatusNotFound, "evidence store not configured")
		return false
	}
	return true
}

func (h *Handler) roleKind(w http.ResponseWriter, r *http.Request) (domain.RoleKind, bool) {
	kind, err := domain.ParseRoleKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown role registry %q", r.PathValue("kind")))
		return "", false
	}
	return kind, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err.Error())
}

// statusFor maps ledger and evidence errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrNotRegistered),
		errors.Is(err, domain.ErrNotAssignedActor):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrRoleNotFound),
		errors.Is(err, evidence.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidStage),
		errors.Is(err, domain.ErrRolesIncomplete),
		errors.Is(err, domain.ErrAlreadyInitialized):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, evidence.ErrInvalidRef):
		return http.StatusBadRequest
	case errors.Is(err, evidence.ErrUnsupported):
		return http.StatusNotImplemented
	case core.IsRuleViolation(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func caller(r *http.Request) domain.Address {
	return domain.Address(strings.TrimSpace(r.Header.Get(CallerHeader)))
}

func pathInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	n, err := strconv.Atoi(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, name+" must be an integer")
		return 0, false
	}
	return n, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
