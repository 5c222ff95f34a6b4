package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/template-mapper/internal/dataset"
	"github.com/ignite/template-mapper/internal/formula"
	"github.com/ignite/template-mapper/internal/mapping"
	"github.com/ignite/template-mapper/internal/pkg/logger"
	"github.com/ignite/template-mapper/internal/schema"
	"github.com/ignite/template-mapper/internal/store"
)

// Handlers carries the engine, its collaborators, and the live sessions.
type Handlers struct {
	templates   TemplateStore
	corrections CorrectionStore
	fetcher     SourceFetcher
	caps        mapping.Capabilities
	dict        mapping.DictionaryProvider
	engineCfg   mapping.Config
	registry    *sessionRegistry
}

// NewHandlers wires the handler set. templates, corrections, and fetcher
// may be nil; the corresponding endpoints then answer 503.
func NewHandlers(templates TemplateStore, corrections CorrectionStore, fetcher SourceFetcher, caps mapping.Capabilities, dict mapping.DictionaryProvider, engineCfg mapping.Config) *Handlers {
	return &Handlers{
		templates:   templates,
		corrections: corrections,
		fetcher:     fetcher,
		caps:        caps,
		dict:        dict,
		engineCfg:   engineCfg,
		registry:    newSessionRegistry(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// ValidateTemplate runs structural validation and echoes the parsed
// template back. Legacy flat templates come back upgraded.
func (h *Handlers) ValidateTemplate(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tmpl, err := schema.Validate(raw)
	if err != nil {
		var schemaErr *schema.SchemaError
		if errors.As(err, &schemaErr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error": schemaErr.Msg,
				"path":  schemaErr.Path,
			})
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tmpl)
}

func (h *Handlers) SaveTemplate(w http.ResponseWriter, r *http.Request) {
	if h.templates == nil {
		writeError(w, http.StatusServiceUnavailable, "template store not configured")
		return
	}
	raw, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := h.templates.Save(r.Context(), raw)
	if err != nil {
		var schemaErr *schema.SchemaError
		if errors.As(err, &schemaErr) {
			writeError(w, http.StatusUnprocessableEntity, schemaErr.Error())
			return
		}
		logger.Error("save template", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "save failed")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handlers) ListTemplates(w http.ResponseWriter, r *http.Request) {
	if h.templates == nil {
		writeError(w, http.StatusServiceUnavailable, "template store not configured")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recs, err := h.templates.List(r.Context(), limit)
	if err != nil {
		logger.Error("list templates", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"templates": recs})
}

func (h *Handlers) GetTemplate(w http.ResponseWriter, r *http.Request) {
	if h.templates == nil {
		writeError(w, http.StatusServiceUnavailable, "template store not configured")
		return
	}
	rec, err := h.templates.Get(r.Context(), chi.URLParam(r, "guid"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "template not found")
		return
	}
	if err != nil {
		logger.Error("get template", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "get failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(rec.Raw)
}

func (h *Handlers) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if h.templates == nil {
		writeError(w, http.StatusServiceUnavailable, "template store not configured")
		return
	}
	err := h.templates.Delete(r.Context(), chi.URLParam(r, "guid"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "template not found")
		return
	}
	if err != nil {
		logger.Error("delete template", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

type createSessionRequest struct {
	Template     json.RawMessage `json:"template,omitempty"`
	TemplateGUID string          `json:"template_guid,omitempty"`

	Dataset *inlineDataset `json:"dataset,omitempty"`
	S3Key   string         `json:"s3_key,omitempty"`
	Sheet   string         `json:"sheet,omitempty"`
}

type inlineDataset struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// CreateSession validates the template, loads the dataset (inline or from
// object storage), replays remembered corrections, and registers a session.
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	raw := []byte(req.Template)
	if len(raw) == 0 {
		if req.TemplateGUID == "" || h.templates == nil {
			writeError(w, http.StatusBadRequest, "template or template_guid required")
			return
		}
		rec, err := h.templates.Get(r.Context(), req.TemplateGUID)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "template not found")
			return
		}
		if err != nil {
			logger.Error("load template", "error", err.Error())
			writeError(w, http.StatusInternalServerError, "template load failed")
			return
		}
		raw = rec.Raw
	}

	tmpl, err := schema.Validate(raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	tbl, err := h.loadDataset(r, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess := mapping.NewSession(tmpl, tbl, h.caps, h.dict, h.engineCfg)
	if h.corrections != nil && tmpl.GUID != "" {
		if err := h.corrections.Replay(r.Context(), tmpl.GUID, sess); err != nil {
			logger.Warn("replay corrections", "template", tmpl.GUID, "error", err.Error())
		}
	}
	h.registry.add(&sessionEntry{sess: sess, templateGUID: tmpl.GUID, createdAt: time.Now()})

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"session_id": sess.ID,
		"state":      sess.State(),
		"layers":     len(tmpl.Layers),
		"columns":    tbl.Columns,
	})
}

func (h *Handlers) loadDataset(r *http.Request, req *createSessionRequest) (*dataset.Table, error) {
	switch {
	case req.Dataset != nil:
		if len(req.Dataset.Columns) == 0 {
			return nil, errors.New("dataset has no columns")
		}
		return dataset.New(req.Dataset.Columns, req.Dataset.Rows), nil
	case req.S3Key != "":
		if h.fetcher == nil {
			return nil, errors.New("object storage not configured")
		}
		return h.fetcher.Fetch(r.Context(), req.S3Key, req.Sheet)
	}
	return nil, errors.New("dataset or s3_key required")
}

func (h *Handlers) session(w http.ResponseWriter, r *http.Request) (*sessionEntry, bool) {
	entry, ok := h.registry.get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return entry, true
}

// RunNextLayer advances the session by one layer.
func (h *Handlers) RunNextLayer(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.session(w, r)
	if !ok {
		return
	}
	out, err := entry.sess.RunNextLayer(r.Context())
	if errors.Is(err, mapping.ErrSessionComplete) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "all layers resolved"})
		return
	}
	h.writeLayerResult(w, entry, out, err)
}

// RunLayer re-runs one layer by index.
func (h *Handlers) RunLayer(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.session(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid layer index")
		return
	}
	out, runErr := entry.sess.RunLayer(r.Context(), index)
	h.writeLayerResult(w, entry, out, runErr)
}

func (h *Handlers) writeLayerResult(w http.ResponseWriter, entry *sessionEntry, out *mapping.LayerOutcome, err error) {
	if err != nil && out == nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp := map[string]interface{}{
		"state":   entry.sess.State(),
		"outcome": out,
	}
	if err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

type overrideRequest struct {
	TargetKey string `json:"target_key"`
	SourceKey string `json:"source_key"`
}

// ApplyOverride writes a user decision into the document and, when a
// correction store is wired, remembers it for future sessions over the same
// template.
func (h *Handlers) ApplyOverride(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.session(w, r)
	if !ok {
		return
	}
	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TargetKey == "" || req.SourceKey == "" {
		writeError(w, http.StatusBadRequest, "target_key and source_key required")
		return
	}

	entry.sess.ApplyOverride(req.TargetKey, req.SourceKey)
	if h.corrections != nil && entry.templateGUID != "" {
		if err := h.corrections.Save(r.Context(), entry.templateGUID, req.TargetKey, req.SourceKey); err != nil {
			logger.Warn("save correction", "error", err.Error())
		}
	}
	writeJSON(w, http.StatusOK, entry.sess.Document())
}

type expressionRequest struct {
	Layer      int    `json:"layer"`
	Expression string `json:"expression"`
}

// ProposeExpression validates a user-authored expression for a user_defined
// computed layer. Rejections leave the session's document unchanged.
func (h *Handlers) ProposeExpression(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.session(w, r)
	if !ok {
		return
	}
	var req expressionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := entry.sess.ProposeExpression(req.Layer, req.Expression)
	if err != nil {
		var exprErr *mapping.ExpressionError
		if errors.As(err, &exprErr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": exprErr.Error()})
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":  entry.sess.State(),
		"result": res,
	})
}

// GetDocument returns the session's current mapping document.
func (h *Handlers) GetDocument(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":    entry.sess.State(),
		"next":     entry.sess.NextLayer(),
		"document": entry.sess.Document(),
	})
}

// ResetSession discards the document and rewinds to the first layer.
func (h *Handlers) ResetSession(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.session(w, r)
	if !ok {
		return
	}
	entry.sess.Reset()
	writeJSON(w, http.StatusOK, map[string]string{"state": string(entry.sess.State())})
}

// DeleteSession evicts a session from the registry.
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.session(w, r); !ok {
		return
	}
	h.registry.remove(chi.URLParam(r, "id"))
	writeJSON(w, http.StatusNoContent, nil)
}

type validateExpressionRequest struct {
	Expression string `json:"expression"`
}

// ValidateExpression parses an expression without a session: a cheap
// syntax check for interactive editors.
func (h *Handlers) ValidateExpression(w http.ResponseWriter, r *http.Request) {
	var req validateExpressionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	expr, err := formula.Parse(req.Expression)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid":        true,
		"columns":      expr.Columns(),
		"placeholders": expr.Placeholders(),
		"canonical":    expr.String(),
	})
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	return raw, nil
}
