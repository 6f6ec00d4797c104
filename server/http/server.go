// Package httpserver exposes a minimal REST surface over one
// storage.Storage: write, point read, range read, and an SSE tail endpoint
// backed by a consumer.Consumer. It mirrors the teacher's bare net/http
// server shape (no router dependency, a CORS wrapper, one ServeMux).
package httpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nesdb/nesdb/consumer"
	"github.com/nesdb/nesdb/pkg/nlog"
	"github.com/nesdb/nesdb/storage"
)

// Server owns the HTTP listener and the engine instance it fronts.
type Server struct {
	store *storage.Storage
	state consumer.StateStore
	log   nlog.Logger

	srv *http.Server
	lis net.Listener
}

// New builds a Server. state backs every consumer created for /v1/tail.
func New(store *storage.Storage, state consumer.StateStore, log nlog.Logger) *Server {
	mux := http.NewServeMux()
	s := &Server{store: store, state: state, log: log.WithComponent("http"), srv: &http.Server{Handler: cors(mux)}}
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.HandleFunc("/v1/write", s.handleWrite)
	mux.HandleFunc("/v1/read", s.handleRead)
	mux.HandleFunc("/v1/range", s.handleRange)
	mux.HandleFunc("/v1/tail", s.handleTailSSE)
	return s
}

// ListenAndServe binds to addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Close releases the listener without waiting for in-flight requests.
func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type writeReq struct {
	Payload []byte `json:"payload"`
}

type writeResp struct {
	Position   int64            `json:"position"`
	Size       int              `json:"size"`
	IndexSlots map[string]int64 `json:"indexSlots"`
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req writeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	result, err := s.store.Write(req.Payload, nil)
	if err != nil {
		s.log.Error("write failed", nlog.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(writeResp{
		Position:   result.Position,
		Size:       result.Size,
		IndexSlots: result.IndexSlots,
	})
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	position, err := strconv.ParseInt(r.URL.Query().Get("position"), 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))

	doc, ok := s.store.ReadFrom(position, size)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"payload": base64.StdEncoding.EncodeToString(doc)})
}

func (s *Server) handleRange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	name := r.URL.Query().Get("index")
	idx, ok := s.store.Index(name)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	from, _ := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
	to, _ := strconv.ParseInt(r.URL.Query().Get("to"), 10, 64)

	rs, ok := s.store.ReadRange(from, to, idx)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	docs := make([]string, 0, rs.Len())
	for {
		doc, ok := rs.Next()
		if !ok {
			break
		}
		docs = append(docs, base64.StdEncoding.EncodeToString(doc))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"documents": docs})
}

type sseSink struct {
	w http.ResponseWriter
}

func (s sseSink) send(doc []byte) {
	b, _ := json.Marshal(map[string]string{"payload": base64.StdEncoding.EncodeToString(doc)})
	s.w.Write([]byte("data: "))
	s.w.Write(b)
	s.w.Write([]byte("\n\n"))
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
}

// handleTailSSE streams an index's documents, catch-up then live, as
// Server-Sent Events. The consumer's position is keyed by the "consumer"
// query parameter and persisted across reconnects via the server's
// StateStore. Callers that omit "consumer" get a fresh uuid per connection
// instead of a shared name, so two anonymous tails of the same index don't
// stomp on each other's durable cursor.
func (s *Server) handleTailSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	name := r.URL.Query().Get("index")
	consumerName := r.URL.Query().Get("consumer")
	if consumerName == "" {
		consumerName = uuid.NewString()
	}
	idx, ok := s.store.Index(name)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	source, ok := s.store.ConsumerSource(name)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	c := consumer.New(name, consumerName, idx, source, s.state)
	dataCh, err := c.Subscribe()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	defer c.Stop()

	sink := sseSink{w: w}
	for {
		select {
		case <-r.Context().Done():
			return
		case doc, ok := <-dataCh:
			if !ok {
				return
			}
			sink.send(doc)
		}
	}
}
