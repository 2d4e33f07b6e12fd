// Package server exposes a small operator dashboard over the multiplexer:
// a JSON line-status list, per-line transcript browsing, and an SSE
// live-follow stream of each line's received bytes. It is grounded on the
// teacher's server.Server (router setup, embedded static files, graceful
// shutdown) with the IPMI-specific analytics and MAC-lookup surface
// dropped, since nothing in this domain has an analog for them.
package server

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"tmxsim/internal/opcmd"
	"tmxsim/internal/tmxr"
	"tmxsim/logs"
)

//go:embed web/*
var webFS embed.FS

type Server struct {
	port       int
	tmux       *tmxr.Multiplexer
	logWriter  *logs.Writer
	dispatcher *opcmd.Dispatcher
	router     *mux.Router
	httpServer *http.Server

	hub *hub
}

func New(port int, m *tmxr.Multiplexer, logWriter *logs.Writer, dispatcher *opcmd.Dispatcher) *Server {
	s := &Server{
		port:       port,
		tmux:       m,
		logWriter:  logWriter,
		dispatcher: dispatcher,
		router:     mux.NewRouter(),
		hub:        newHub(),
	}

	m.SetTap(s.hub.broadcast)

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/lines", s.handleListLines).Methods("GET")
	api.HandleFunc("/lines/{index}/stream", s.handleStream).Methods("GET")
	api.HandleFunc("/lines/{index}/logs", s.handleListLogs).Methods("GET")
	api.HandleFunc("/lines/{index}/logs/{filename}", s.handleGetLog).Methods("GET")
	api.HandleFunc("/lines/{index}/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/console/show", s.handleConsoleShow).Methods("GET")
	api.HandleFunc("/console/set", s.handleConsoleSet).Methods("POST")

	webContent, _ := fs.Sub(webFS, "web")
	s.router.PathPrefix("/").Handler(http.FileServer(http.FS(webContent)))
}

func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		s.httpServer.Shutdown(context.Background())
	}()

	log.Infof("Starting dashboard on port %d", s.port)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
