package relay

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"parley/internal/domain"
)

// Queue is the store-and-forward side the server exposes.
type Queue interface {
	domain.Transport
	domain.Mailbox
}

// Server serves the relay HTTP API on top of a directory and a queue.
//
//	PUT  /prekey/{user}/{device}   publish a bundle
//	GET  /prekey/{user}/{device}   fetch a bundle with one one-time pre-key
//	POST /msg/{user}               enqueue a message
//	GET  /msg/{user}?limit=N       list queued messages
//	POST /msg/{user}/ack           drop the first N queued messages
type Server struct {
	dir   domain.Directory
	queue Queue
	log   *zap.Logger
	mux   *http.ServeMux
}

// NewServer returns the relay handler.
func NewServer(dir domain.Directory, queue Queue, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{dir: dir, queue: queue, log: log, mux: http.NewServeMux()}
	s.mux.HandleFunc("PUT /prekey/{user}/{device}", s.putBundle)
	s.mux.HandleFunc("GET /prekey/{user}/{device}", s.getBundle)
	s.mux.HandleFunc("POST /msg/{user}", s.postMessage)
	s.mux.HandleFunc("GET /msg/{user}", s.getMessages)
	s.mux.HandleFunc("POST /msg/{user}/ack", s.ack)
	return s
}

// ServeHTTP implements http.Handler with a structured access log.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)
	s.log.Info("request",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("remote", r.RemoteAddr),
		zap.Int("status", rec.status),
		zap.Int("bytes", rec.bytes),
		zap.Duration("duration", time.Since(start)),
	)
}

func (s *Server) putBundle(w http.ResponseWriter, r *http.Request) {
	user, device, ok := pathKey(w, r)
	if !ok {
		return
	}
	var b domain.PreKeyBundle
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		http.Error(w, "invalid bundle", http.StatusBadRequest)
		return
	}
	if b.Username != user || b.DeviceID != device {
		http.Error(w, "bundle does not match path", http.StatusBadRequest)
		return
	}
	if err := s.dir.PublishPreKeyBundle(r.Context(), b); err != nil {
		s.fail(w, err)
		return
	}
	s.log.Info("bundle published", zap.String("user", user.String()),
		zap.Uint32("device", uint32(device)), zap.Int("one_time_prekeys", len(b.OneTimePreKeys)))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getBundle(w http.ResponseWriter, r *http.Request) {
	user, device, ok := pathKey(w, r)
	if !ok {
		return
	}
	b, err := s.dir.FetchPreKeyBundle(r.Context(), user, device)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, b)
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	var msg domain.EncryptedMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid message", http.StatusBadRequest)
		return
	}
	if msg.RecipientID != domain.Username(r.PathValue("user")) {
		http.Error(w, "recipient does not match path", http.StatusBadRequest)
		return
	}
	if err := s.queue.Send(r.Context(), msg); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	msgs, err := s.queue.FetchMessages(r.Context(), domain.Username(r.PathValue("user")), limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	if msgs == nil {
		msgs = []domain.EncryptedMessage{}
	}
	writeJSON(w, msgs)
}

func (s *Server) ack(w http.ResponseWriter, r *http.Request) {
	var req ackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Count < 0 {
		http.Error(w, "invalid ack", http.StatusBadRequest)
		return
	}
	if err := s.queue.AckMessages(r.Context(), domain.Username(r.PathValue("user")), req.Count); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrSignatureVerification):
		http.Error(w, "bad signature", http.StatusBadRequest)
	default:
		s.log.Error("relay failure", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func pathKey(w http.ResponseWriter, r *http.Request) (domain.Username, domain.DeviceID, bool) {
	device, err := strconv.ParseUint(r.PathValue("device"), 10, 32)
	if err != nil {
		http.Error(w, "invalid device", http.StatusBadRequest)
		return "", 0, false
	}
	return domain.Username(r.PathValue("user")), domain.DeviceID(device), true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}
