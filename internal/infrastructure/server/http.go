package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

type Server interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type HTTPServer struct {
	addr    string
	handler http.Handler
	srv     *http.Server

	mu       sync.Mutex
	listener net.Listener
}

var _ Server = (*HTTPServer)(nil)

type Option func(*http.Server)

// WithOnShutdown registers f to run when Stop begins, after the listener has
// closed. Long-lived handlers use it to end their connections so Stop does not
// wait on them.
func WithOnShutdown(f func()) Option {
	return func(s *http.Server) {
		s.RegisterOnShutdown(f)
	}
}

// WithWriteTimeout overrides the write timeout. Streaming endpoints need 0.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *http.Server) {
		s.WriteTimeout = d
	}
}

func NewHTTPServer(addr string, handler http.Handler, opts ...Option) *HTTPServer {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	for _, opt := range opts {
		opt(srv)
	}
	return &HTTPServer{
		addr:    addr,
		handler: handler,
		srv:     srv,
	}
}

// Listen binds the address without serving yet, so bind errors surface to the
// caller before anything else starts.
func (h *HTTPServer) Listen() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", h.addr, err)
	}
	h.listener = ln
	return nil
}

// Addr is the bound address, or the configured one before Listen.
func (h *HTTPServer) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.listener != nil {
		return h.listener.Addr().String()
	}
	return h.addr
}

// Start serves until Stop is called. It binds first if Listen was not called.
func (h *HTTPServer) Start(ctx context.Context) error {
	if err := h.Listen(); err != nil {
		return err
	}

	h.mu.Lock()
	ln := h.listener
	h.mu.Unlock()

	err := h.srv.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (h *HTTPServer) Stop(ctx context.Context) error {
	h.mu.Lock()
	ln := h.listener
	h.mu.Unlock()

	if ln == nil {
		return nil
	}
	err := h.srv.Shutdown(ctx)
	// Shutdown only closes listeners that Serve has tracked.
	if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) && err == nil {
		err = cerr
	}
	return err
}
