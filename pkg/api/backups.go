package api

import (
	"net/http"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/params"
	"github.com/gorilla/mux"
)

func (s *Server) listBackupVolumesHandler(w http.ResponseWriter, r *http.Request) {
	volumes, err := s.backups.ListVolumes(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	out := make([]*params.BackupVolume, 0, len(volumes))
	for _, bv := range volumes {
		out = append(out, params.NewBackupVolume(bv))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getBackupVolumeHandler(w http.ResponseWriter, r *http.Request) {
	bv, err := s.backups.GetVolume(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, params.NewBackupVolume(bv))
}

// backupVolumeActionHandler serves POST /v1/backupvolumes/{name}/{action}
func (s *Server) backupVolumeActionHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	volumeName, action := vars["name"], vars["action"]
	ctx := r.Context()

	var req params.BackupRequest
	if err := decodeBody(r, &req); err != nil {
		handleError(w, err)
		return
	}

	switch action {
	case "backupList":
		backups, err := s.backups.List(ctx, volumeName)
		if err != nil {
			handleError(w, err)
			return
		}
		out := make([]*params.Backup, 0, len(backups))
		for _, b := range backups {
			out = append(out, params.NewBackup(b))
		}
		writeJSON(w, http.StatusOK, out)

	case "backupGet":
		if req.Name == "" {
			handleError(w, errdefs.NewInvalidArgumentError("backupGet requires a backup name"))
			return
		}
		b, err := s.backups.Get(ctx, volumeName, req.Name)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, params.NewBackup(b))

	case "backupDelete":
		if req.Name == "" {
			handleError(w, errdefs.NewInvalidArgumentError("backupDelete requires a backup name"))
			return
		}
		if err := s.backups.Delete(ctx, volumeName, req.Name); err != nil {
			handleError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		handleError(w, errdefs.NewNotFoundError("unknown backup volume action %q", action))
	}
}
