// Package api exposes the mapping engine over HTTP: template CRUD and
// validation, mapping sessions driven layer by layer, overrides, and
// expression validation. Sessions live in process memory; the documents
// they build are returned to the caller, never written anywhere by the
// server itself.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ignite/template-mapper/internal/config"
	"github.com/ignite/template-mapper/internal/dataset"
	"github.com/ignite/template-mapper/internal/mapping"
	"github.com/ignite/template-mapper/internal/pkg/logger"
	"github.com/ignite/template-mapper/internal/store"
)

// TemplateStore is the persistence surface the handlers need; implemented
// by store.TemplateStore.
type TemplateStore interface {
	Save(ctx context.Context, raw []byte) (*store.TemplateRecord, error)
	Get(ctx context.Context, guid string) (*store.TemplateRecord, error)
	List(ctx context.Context, limit int) ([]store.TemplateRecord, error)
	Delete(ctx context.Context, guid string) error
}

// CorrectionStore replays and records user overrides across sessions;
// implemented by store.CorrectionStore.
type CorrectionStore interface {
	Save(ctx context.Context, templateGUID, targetKey, sourceKey string) error
	Replay(ctx context.Context, templateGUID string, sess *mapping.Session) error
}

// SourceFetcher pulls a source file from object storage; implemented by
// dataset.S3Fetcher.
type SourceFetcher interface {
	Fetch(ctx context.Context, key, sheet string) (*dataset.Table, error)
}

// Server represents the API server
type Server struct {
	config   config.ServerConfig
	handlers *Handlers
	server   *http.Server
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, h *Handlers) *Server {
	return &Server{config: cfg, handlers: h}
}

// Start begins listening. Blocks until the listener fails or Stop is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      SetupRoutes(s.handlers),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
	}
	logger.Info("api server listening", "addr", addr)
	return s.server.ListenAndServe()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// sessionRegistry tracks live mapping sessions by ID. Sessions are
// in-memory only; abandoning one needs no cleanup beyond eviction.
type sessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

type sessionEntry struct {
	sess         *mapping.Session
	templateGUID string
	createdAt    time.Time
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: make(map[string]*sessionEntry)}
}

func (r *sessionRegistry) add(e *sessionEntry) {
	r.mu.Lock()
	r.sessions[e.sess.ID] = e
	r.mu.Unlock()
}

func (r *sessionRegistry) get(id string) (*sessionEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[id]
	return e, ok
}

func (r *sessionRegistry) remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}
