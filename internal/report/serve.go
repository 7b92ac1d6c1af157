package report

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/mixstack-labs/mixpipe/internal/artifact"
)

// Server serves the summary report over HTTP and regenerates it when the
// artifact file changes on disk.
type Server struct {
	generator    *Generator
	artifactPath string
	port         int
	logger       *slog.Logger

	mu          sync.RWMutex
	currentHTML []byte

	clientsMu sync.Mutex
	clients   map[chan struct{}]struct{}
}

// NewServer creates a report server for one artifact file.
func NewServer(artifactPath string, port int, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	gen, err := NewGenerator()
	if err != nil {
		return nil, err
	}
	return &Server{
		generator:    gen,
		artifactPath: artifactPath,
		port:         port,
		logger:       logger,
		clients:      make(map[chan struct{}]struct{}),
	}, nil
}

// Serve blocks until ctx is cancelled or the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.rebuild(); err != nil {
		return fmt.Errorf("initial report build failed: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory: editors and the fit command replace the file,
	// which would orphan a watch on the file itself.
	if err := watcher.Add(filepath.Dir(s.artifactPath)); err != nil {
		return fmt.Errorf("failed to watch artifact directory: %w", err)
	}

	go s.watchLoop(ctx, watcher)

	router := chi.NewRouter()
	router.Use(chimiddleware.Recoverer)
	router.Get("/", s.handleIndex)
	router.Get("/__reload", s.handleSSE)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("serving report", "url", fmt.Sprintf("http://localhost:%d", s.port), "artifact", s.artifactPath)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// watchLoop regenerates the report when the artifact file changes, with a
// debounce so a write burst triggers one rebuild.
func (s *Server) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Base(event.Name) != filepath.Base(s.artifactPath) {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(200*time.Millisecond, func() {
				s.logger.Info("artifact changed, regenerating report")
				if err := s.rebuild(); err != nil {
					s.logger.Error("report rebuild failed", "error", err)
					return
				}
				s.notifyClients()
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("watcher error", "error", err)
		}
	}
}

// rebuild loads the artifact and renders the summary page.
func (s *Server) rebuild() error {
	a, err := artifact.Load(s.artifactPath)
	if err != nil {
		return err
	}

	html, err := s.generator.Summary(a)
	if err != nil {
		return err
	}
	html = append(html, []byte(liveReloadScript)...)

	s.mu.Lock()
	s.currentHTML = html
	s.mu.Unlock()
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	html := s.currentHTML
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	_, _ = w.Write(html)
}

// handleSSE streams reload events to the browser.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	ch := make(chan struct{}, 1)
	s.clientsMu.Lock()
	s.clients[ch] = struct{}{}
	s.clientsMu.Unlock()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, ch)
		s.clientsMu.Unlock()
		close(ch)
	}()

	_, _ = fmt.Fprintf(w, "data: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ch:
			_, _ = fmt.Fprintf(w, "data: reload\n\n")
			flusher.Flush()
		}
	}
}

func (s *Server) notifyClients() {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	for ch := range s.clients {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

const liveReloadScript = `
<script>
;(function() {
  var es = new EventSource('/__reload');
  es.onmessage = function(e) {
    if (e.data === 'reload') {
      window.location.reload();
    }
  };
  es.onerror = function() {
    setTimeout(function() { window.location.reload(); }, 1000);
  };
})();
</script>
`
