package api

import (
	"net/http"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/params"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/cuemby/burrow/pkg/volume"
	"github.com/gorilla/mux"
)

func renderVolume(v *types.Volume) *params.Volume {
	return params.NewVolume(v, volume.Actions(v))
}

func (s *Server) listVolumesHandler(w http.ResponseWriter, r *http.Request) {
	volumes, err := s.volumes.List()
	if err != nil {
		handleError(w, err)
		return
	}
	out := make([]*params.Volume, 0, len(volumes))
	for _, v := range volumes {
		out = append(out, renderVolume(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getVolumeHandler(w http.ResponseWriter, r *http.Request) {
	v, err := s.volumes.Get(mux.Vars(r)["name"])
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderVolume(v))
}

func (s *Server) createVolumeHandler(w http.ResponseWriter, r *http.Request) {
	var req params.CreateVolumeRequest
	if err := decodeBody(r, &req); err != nil {
		handleError(w, err)
		return
	}

	v, err := s.volumes.Create(r.Context(), volume.CreateRequest{
		Name:             req.Name,
		Size:             int64(req.Size),
		NumberOfReplicas: req.NumberOfReplicas,
		RecurringJobs:    req.RecurringJobs,
		FromBackup:       req.FromBackup,
	})
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderVolume(v))
}

func (s *Server) deleteVolumeHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.volumes.Delete(r.Context(), mux.Vars(r)["name"]); err != nil {
		handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// volumeActionHandler serves POST /v1/volumes/{name}/{action}
func (s *Server) volumeActionHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name, action := vars["name"], vars["action"]
	ctx := r.Context()

	switch action {
	case "attach":
		var req params.AttachRequest
		if err := decodeBody(r, &req); err != nil {
			handleError(w, err)
			return
		}
		if req.HostID == "" {
			handleError(w, errdefs.NewInvalidArgumentError("attach requires hostId"))
			return
		}
		v, err := s.volumes.Attach(ctx, name, req.HostID)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, renderVolume(v))

	case "detach":
		v, err := s.volumes.Detach(ctx, name)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, renderVolume(v))

	case "recurringUpdate":
		var req params.RecurringUpdateRequest
		if err := decodeBody(r, &req); err != nil {
			handleError(w, err)
			return
		}
		v, err := s.volumes.UpdateRecurring(ctx, name, req.Jobs)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, renderVolume(v))

	case "snapshotCreate":
		var req params.SnapshotRequest
		if err := decodeBody(r, &req); err != nil {
			handleError(w, err)
			return
		}
		snap, err := s.volumes.SnapshotCreate(ctx, name, req.Name, req.Labels)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, params.NewSnapshot(snap))

	case "snapshotList":
		s.writeSnapshots(w, name)

	case "snapshotGet":
		snapName, ok := snapshotName(w, r)
		if !ok {
			return
		}
		snap, err := s.volumes.SnapshotGet(name, snapName)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, params.NewSnapshot(snap))

	case "snapshotDelete":
		snapName, ok := snapshotName(w, r)
		if !ok {
			return
		}
		if err := s.volumes.SnapshotDelete(ctx, name, snapName); err != nil {
			handleError(w, err)
			return
		}
		s.writeSnapshots(w, name)

	case "snapshotRevert":
		snapName, ok := snapshotName(w, r)
		if !ok {
			return
		}
		if err := s.volumes.SnapshotRevert(ctx, name, snapName); err != nil {
			handleError(w, err)
			return
		}
		s.writeSnapshots(w, name)

	case "snapshotPurge":
		purged, err := s.volumes.SnapshotPurge(ctx, name)
		if err != nil {
			handleError(w, err)
			return
		}
		if purged == nil {
			purged = []string{}
		}
		writeJSON(w, http.StatusOK, &params.PurgeResponse{Purged: purged})

	case "snapshotBackup":
		var req params.SnapshotRequest
		if err := decodeBody(r, &req); err != nil {
			handleError(w, err)
			return
		}
		if req.Name == "" {
			handleError(w, errdefs.NewInvalidArgumentError("snapshotBackup requires a snapshot name"))
			return
		}
		task, err := s.volumes.SnapshotBackup(ctx, name, req.Name, req.Labels)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, task)

	case "bgTaskQueue":
		tasks, err := s.volumes.BgTaskQueue(name)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tasks)

	default:
		handleError(w, errdefs.NewNotFoundError("unknown volume action %q", action))
	}
}

func (s *Server) writeSnapshots(w http.ResponseWriter, volumeName string) {
	snaps, err := s.volumes.SnapshotList(volumeName)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, params.NewSnapshots(snaps))
}

// snapshotName decodes a SnapshotRequest that must name a snapshot
func snapshotName(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req params.SnapshotRequest
	if err := decodeBody(r, &req); err != nil {
		handleError(w, err)
		return "", false
	}
	if req.Name == "" {
		handleError(w, errdefs.NewInvalidArgumentError("snapshot name is required"))
		return "", false
	}
	return req.Name, true
}
