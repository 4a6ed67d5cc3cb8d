package api

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"

	"github.com/cuemby/burrow/pkg/engine"
	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/gorilla/mux"
)

// engineHandler runs a relayed engine operation on this host's engine
func (s *Server) engineHandler(w http.ResponseWriter, r *http.Request) {
	op := mux.Vars(r)["op"]

	var req engine.Request
	if err := decodeBody(r, &req); err != nil {
		handleError(w, err)
		return
	}

	resp, err := engine.Dispatch(r.Context(), s.engine, op, &req)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// engineExportHandler streams a snapshot of a local replica
func (s *Server) engineExportHandler(w http.ResponseWriter, r *http.Request) {
	var req engine.Request
	if err := decodeBody(r, &req); err != nil {
		handleError(w, err)
		return
	}
	if req.Replica == nil || req.Snapshot == "" {
		handleError(w, errdefs.NewInvalidArgumentError("export requires a replica and a snapshot"))
		return
	}

	rc, err := s.engine.ExportSnapshot(r.Context(), req.Replica, req.Snapshot)
	if err != nil {
		handleError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn().Err(err).
			Str("replica", req.Replica.Name).
			Str("snapshot", req.Snapshot).
			Msg("Snapshot export interrupted")
	}
}

// engineImportHandler writes the request body into a volume attached on
// this host
func (s *Server) engineImportHandler(w http.ResponseWriter, r *http.Request) {
	meta, err := base64.StdEncoding.DecodeString(r.Header.Get(engine.VolumeHeader))
	if err != nil || len(meta) == 0 {
		handleError(w, errdefs.NewInvalidArgumentError("import requires the %s header", engine.VolumeHeader))
		return
	}
	var volume types.Volume
	if err := json.Unmarshal(meta, &volume); err != nil {
		handleError(w, errdefs.NewInvalidArgumentError("invalid %s header: %v", engine.VolumeHeader, err))
		return
	}

	if err := s.engine.ImportVolume(r.Context(), &volume, r.Body); err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &engine.Response{})
}
