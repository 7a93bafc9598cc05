// Package authority serves the remote side of the sync protocol over a
// server-side document store.
package authority

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nonibytes/docsync/docstore"
	dserrors "github.com/nonibytes/docsync/docstore/errors"
	"github.com/nonibytes/docsync/docstore/query"
	"github.com/nonibytes/docsync/docstore/schema"
	"github.com/nonibytes/docsync/syncsvc/remote"
)

const DefaultUpdatedAt = "updatedAt"

type Options struct {
	// Secret enables HS256 bearer token verification.
	Secret []byte
	// UpdatedAt is the field stamped on every accepted change.
	UpdatedAt string
	// MaxBatch caps the number of items a pull returns.
	MaxBatch int

	Logger *zap.SugaredLogger
	Now    func() time.Time
}

func DefaultOptions() Options {
	return Options{UpdatedAt: DefaultUpdatedAt, MaxBatch: 500, Now: time.Now}
}

// Handler holds the server store and registers routes.
type Handler struct {
	store     *docstore.Engine
	secret    []byte
	updatedAt string
	maxBatch  int
	log       *zap.SugaredLogger
	now       func() time.Time

	// push serializes change application so an id lookup and its write
	// are not interleaved with another push.
	push sync.Mutex
	mux  *http.ServeMux
}

// PrepareSchema declares the change timestamp field on a server store.
// Call it before the store connects.
func PrepareSchema(store *docstore.Engine, field string) error {
	if field == "" {
		field = DefaultUpdatedAt
	}
	return store.ExtendSchema(map[string]schema.Field{field: {Type: schema.Date}}, schema.Index{Field: field})
}

func New(store *docstore.Engine, opts Options) *Handler {
	def := DefaultOptions()
	if opts.UpdatedAt == "" {
		opts.UpdatedAt = def.UpdatedAt
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = def.MaxBatch
	}
	if opts.Now == nil {
		opts.Now = store.Now
	}
	log := opts.Logger
	if log == nil {
		log = store.Logger()
	}
	h := &Handler{
		store:     store,
		secret:    opts.Secret,
		updatedAt: opts.UpdatedAt,
		maxBatch:  opts.MaxBatch,
		log:       log.With("component", "authority"),
		now:       opts.Now,
		mux:       http.NewServeMux(),
	}
	h.routes()
	return h
}

// ServeHTTP makes Handler an http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) routes() {
	h.mux.HandleFunc("GET /health", h.health)
	h.mux.HandleFunc("POST "+remote.PullPath, h.authorized(h.pull))
	h.mux.HandleFunc("POST "+remote.PushPath, h.authorized(h.pushChanges))
}

// ---------- helpers ----------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func (h *Handler) authorized(next http.HandlerFunc) http.HandlerFunc {
	if len(h.secret) == 0 {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := remote.VerifyToken(h.secret, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		h.log.Debugw("authorized request", "sub", claims.Subject, "path", r.URL.Path)
		next(w, r)
	}
}

// ---------- endpoints ----------

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "healthy",
		"database":   h.store.Name(),
		"collection": h.store.ActiveCollection(),
	})
}

func (h *Handler) pull(w http.ResponseWriter, r *http.Request) {
	var req remote.PullRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	var q query.Query
	if req.LastSync != nil {
		q = query.Where(h.updatedAt, query.Gt{Value: *req.LastSync})
	}
	recs, err := h.store.Find(r.Context(), docstore.FindOptions{Query: q})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	batch := req.BatchSize
	if batch <= 0 || batch > h.maxBatch {
		batch = h.maxBatch
	}
	recs = docstore.Limit(docstore.Sort(recs, docstore.SortOptions{Key: h.updatedAt, Mode: docstore.SortDate}), batch)

	items := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		item := map[string]any(rec)
		item["id"] = rec[h.store.Primary()]
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, remote.PullResponse{Items: items})
}

func (h *Handler) pushChanges(w http.ResponseWriter, r *http.Request) {
	var req remote.PushRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	h.push.Lock()
	defer h.push.Unlock()

	resp := remote.PushResponse{Synchronized: []remote.Ack{}}
	for _, c := range req.Changes {
		if c.LocalID == "" {
			continue
		}
		sid, at, err := h.apply(r, c)
		if err != nil {
			if ctxErr := r.Context().Err(); ctxErr != nil {
				writeError(w, http.StatusServiceUnavailable, ctxErr.Error())
				return
			}
			resp.Failed = append(resp.Failed, remote.Failure{LocalID: c.LocalID, Error: err.Error()})
			continue
		}
		resp.Synchronized = append(resp.Synchronized, remote.Ack{LocalID: c.LocalID, ServerID: sid, UpdatedAt: at})
	}
	h.log.Infow("applied changes", "accepted", len(resp.Synchronized), "rejected", len(resp.Failed))
	writeJSON(w, http.StatusOK, resp)
}

// apply writes one change and returns its server id and change timestamp.
// A change naming an id the store does not hold is created under that id.
func (h *Handler) apply(r *http.Request, c remote.Change) (string, *time.Time, error) {
	ctx := r.Context()
	data := make(docstore.Record, len(c.Data)+1)
	for k, v := range c.Data {
		data[k] = v
	}
	data[h.updatedAt] = h.now()

	if c.ID != "" {
		rec, err := h.store.Update(ctx, data, c.ID)
		if err == nil {
			return h.stored(rec)
		}
		if !dserrors.IsKind(err, dserrors.ErrNotFound) {
			return "", nil, err
		}
		data[h.store.Primary()] = c.ID
	} else {
		delete(data, h.store.Primary())
	}
	rec, err := h.store.Create(ctx, data, docstore.CreateOptions{CastToSchema: true})
	if err != nil {
		return "", nil, err
	}
	return h.stored(rec)
}

func (h *Handler) stored(rec docstore.Record) (string, *time.Time, error) {
	id, _ := rec[h.store.Primary()].(string)
	if t, ok := query.ToTime(rec[h.updatedAt]); ok {
		return id, &t, nil
	}
	return id, nil, nil
}
