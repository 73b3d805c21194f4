// Package agenthttp exposes the agent's live reconfiguration surface:
// partition, message, revision and commit can be read and replaced while
// the agent runs. Every change dumps pending coverage first, so coverage
// collected before the change stays attributed to the old value.
package agenthttp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// AgentFacade is what the HTTP layer needs from the agent. It is handed
// in at construction; the package keeps no global agent reference.
type AgentFacade interface {
	DumpNow() error
	Partition() string
	SetPartition(string)
	Message() string
	SetMessage(string)
	Revision() string
	SetRevision(string)
	Commit() string
	SetCommit(string)
}

// Server serves the reconfiguration endpoints.
type Server struct {
	facade AgentFacade
	srv    *http.Server
}

// NewServer builds the server; Start must be called to begin listening.
func NewServer(addr string, facade AgentFacade) *Server {
	s := &Server{facade: facade}
	mux := http.NewServeMux()
	mux.HandleFunc("/partition", s.value("partition", facade.Partition, facade.SetPartition))
	mux.HandleFunc("/message", s.value("message", facade.Message, facade.SetMessage))
	mux.HandleFunc("/revision", s.value("revision", facade.Revision, facade.SetRevision))
	mux.HandleFunc("/commit", s.value("commit", facade.Commit, facade.SetCommit))
	mux.HandleFunc("/dump", s.dump)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// value serves GET (current value) and PUT (dump, then apply) for one
// configuration field. The facade's setters perform the dump-and-flush
// before applying.
func (s *Server) value(name string, get func() string, set func(string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			fmt.Fprintln(w, get())
		case http.MethodPut, http.MethodPost:
			body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
			if err != nil {
				http.Error(w, "reading body failed", http.StatusBadRequest)
				return
			}
			newValue := strings.TrimSpace(string(body))
			slog.Info("live reconfiguration", "field", name, "value", newValue)
			set(newValue)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.Header().Set("Allow", "GET, PUT")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// dump triggers an immediate dump-and-flush.
func (s *Server) dump(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		w.Header().Set("Allow", "POST, PUT")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.facade.DumpNow(); err != nil {
		slog.Warn("requested dump failed", "error", err)
		http.Error(w, "dump failed", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start begins serving in a background goroutine. Listen errors other
// than a clean shutdown are logged; the control surface is auxiliary and
// must not take the agent down.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("agent control server stopped", "error", err)
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
