// Package fileserver exposes the log directory of a peer over HTTP so that large logs can be
// downloaded on demand instead of going through the control plane.
package fileserver

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/maestro/internal/common/health"
	"github.com/G-Research/maestro/internal/common/maestroerrors"
	"github.com/G-Research/maestro/internal/peerexec"
)

// HashHeader carries the hex encoded SHA-256 of a served file.
const HashHeader = "X-Content-Sha256"

const shutdownTimeout = 5 * time.Second

// FileInfo is one entry of a location listing.
type FileInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Hash string `json:"hash"`
}

type Server struct {
	logs   *peerexec.LogDirectory
	router *mux.Router
}

func NewServer(logs *peerexec.LogDirectory, checker health.Checker) *Server {
	s := &Server{logs: logs, router: mux.NewRouter()}
	s.router.HandleFunc("/logs/{location}", s.list).Methods(http.MethodGet)
	s.router.HandleFunc("/logs/{location}/{file}", s.file).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	health.SetupHttpMux(s.router, checker)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("failed to shut down the file server")
		}
	}()
	log.Infof("serving logs of %s on %s", s.logs.Base(), addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.WithStack(err)
	}
	return nil
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	dir, err := s.logs.ResolveName(mux.Vars(r)["location"])
	if err != nil {
		writeError(w, err)
		return
	}
	files, err := s.logs.Files(dir, "")
	if err != nil {
		writeError(w, err)
		return
	}
	listing := make([]FileInfo, 0, len(files))
	for _, file := range files {
		hash, err := s.logs.Hash(file)
		if err != nil {
			writeError(w, err)
			return
		}
		listing = append(listing, FileInfo{Name: file.Name, Size: file.Size, Hash: hash})
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(listing); err != nil {
		log.WithError(err).Debug("failed to write listing")
	}
}

func (s *Server) file(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	dir, err := s.logs.ResolveName(vars["location"])
	if err != nil {
		writeError(w, err)
		return
	}
	files, err := s.logs.Files(dir, "")
	if err != nil {
		writeError(w, err)
		return
	}
	name := filepath.Base(vars["file"])
	for _, file := range files {
		if file.Name != name {
			continue
		}
		hash, err := s.logs.Hash(file)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set(HashHeader, hash)
		http.ServeFile(w, r, file.Path)
		return
	}
	writeError(w, errors.WithStack(&maestroerrors.ErrNotFound{Type: "file", Value: name}))
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var notFound *maestroerrors.ErrNotFound
	var invalid *maestroerrors.ErrInvalidArgument
	switch {
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &invalid):
		status = http.StatusBadRequest
	default:
		log.WithError(err).Warn("failed to serve logs")
	}
	http.Error(w, err.Error(), status)
}
