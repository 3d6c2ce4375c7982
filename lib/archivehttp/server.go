// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archivehttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bureau-foundation/rattrap/lib/archive"
	"github.com/bureau-foundation/rattrap/lib/codec"
)

// Server routes HTTP requests to one archive.
type Server struct {
	archive *archive.Archive
	logger  *slog.Logger
	router  chi.Router
}

// NewServer builds the router for an open archive. The caller keeps
// ownership of the archive and closes it after the server stops.
func NewServer(a *archive.Archive, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{archive: a, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/", s.listFiles)
	r.Route("/api", func(r chi.Router) {
		r.Get("/files", s.listFiles)
		r.Get("/metadata", s.metadata)
		r.Get("/plan/*", s.chunkPlan)
	})
	r.Get("/files/*", s.fileContent)
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListingResponse is the body of GET /api/files.
type ListingResponse struct {
	Query string                `json:"query,omitempty"`
	Count int                   `json:"count"`
	Files []archive.FileSummary `json:"files"`
}

func (s *Server) listFiles(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	files, err := s.archive.ListFiles(r.Context(), query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if files == nil {
		files = []archive.FileSummary{}
	}
	writeJSON(w, ListingResponse{Query: query, Count: len(files), Files: files})
}

func (s *Server) metadata(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.archive.Metadata())
}

func (s *Server) chunkPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := s.archive.ChunkPlan(r.Context(), archivePath(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !acceptsCBOR(r) {
		writeJSON(w, plan)
		return
	}
	data, err := codec.Marshal(plan)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("encoding chunk plan: %w", err))
		return
	}
	w.Header().Set("Content-Type", codec.ContentType)
	w.Header().Set("Vary", "Accept")
	w.Write(data)
}

func (s *Server) fileContent(w http.ResponseWriter, r *http.Request) {
	file, err := s.archive.OpenFile(r.Context(), archivePath(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if checksum := file.Entry().Checksum; checksum != "" {
		w.Header().Set("ETag", `"`+checksum+`"`)
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeContent(w, r, file.Name(), s.archive.Metadata().CreatedAt, file)
}

// archivePath returns the wildcard part of the route. chi matches on
// the raw path when the URL carries escapes that decoding would lose,
// such as %2F, so the parameter is unescaped in that case.
func archivePath(r *http.Request) string {
	param := chi.URLParam(r, "*")
	if r.URL.RawPath == "" {
		return param
	}
	if unescaped, err := url.PathUnescape(param); err == nil {
		return unescaped
	}
	return param
}

// acceptsCBOR reports whether the Accept header names CBOR. Media
// type parameters and quality values are ignored.
func acceptsCBOR(r *http.Request) bool {
	for _, accept := range r.Header.Values("Accept") {
		for _, mediaType := range strings.Split(accept, ",") {
			mediaType, _, _ = strings.Cut(mediaType, ";")
			if strings.EqualFold(strings.TrimSpace(mediaType), codec.ContentType) {
				return true
			}
		}
	}
	return false
}

// errorResponse is the JSON body of every error reply.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case archive.IsNotFound(err):
		return http.StatusNotFound
	case archive.IsRangeError(err):
		return http.StatusRequestedRangeNotSatisfiable
	case errors.Is(err, context.Canceled):
		// The client went away; the status is never seen.
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	encoder.Encode(value)
}

// logRequests logs one line per request at debug level, or at warn
// when the response is a server error.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(wrapped, r)

		level := slog.LevelDebug
		if wrapped.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.Status(),
			"bytes", wrapped.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// Timeouts bounds server reads, response writes, and graceful
// shutdown. Zero disables the corresponding limit.
type Timeouts struct {
	Read     time.Duration
	Write    time.Duration
	Shutdown time.Duration
}

// ListenAndServe serves handler on address until ctx is cancelled,
// then shuts down gracefully within timeouts.Shutdown. ready, when
// non-nil, receives the bound address once the listener is open.
func ListenAndServe(ctx context.Context, address string, handler http.Handler, timeouts Timeouts, logger *slog.Logger, ready func(net.Addr)) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", address, err)
	}

	server := &http.Server{
		Handler:           handler,
		ReadTimeout:       timeouts.Read,
		ReadHeaderTimeout: timeouts.Read,
		WriteTimeout:      timeouts.Write,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()
	logger.Info("serving archive", "address", listener.Addr().String())
	if ready != nil {
		ready(listener.Addr())
	}

	select {
	case err := <-serveErr:
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx := context.Background()
	if timeouts.Shutdown > 0 {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(shutdownCtx, timeouts.Shutdown)
		defer cancel()
	}
	logger.Info("shutting down")
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}
