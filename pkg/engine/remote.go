package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/pkg/errors"
)

// VolumeHeader carries the base64 encoded JSON volume of an import, whose
// body is the volume data
const VolumeHeader = "X-Burrow-Volume"

// Remote relays engine operations to the engine of another host through its
// /v1/engine endpoints
type Remote struct {
	baseURL string
	client  *http.Client
}

// NewRemote creates a relay to the host serving its API on apiAddr
func NewRemote(apiAddr string) *Remote {
	return &Remote{
		baseURL: fmt.Sprintf("http://%s/v1/engine", apiAddr),
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

type relayError struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

func (r *Remote) post(ctx context.Context, op string, req *Request) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling engine request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/"+op, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "creating engine request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return r.send(httpReq, op)
}

func (r *Remote) send(httpReq *http.Request, op string) (*http.Response, error) {
	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, errors.Wrapf(err, "relaying %s", op)
	}

	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		var apiErr relayError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		msg := fmt.Sprintf("%s on %s: %s", op, r.baseURL, apiErr.Details)
		switch resp.StatusCode {
		case http.StatusNotFound:
			return nil, errdefs.NewNotFoundError("%s", msg)
		case http.StatusBadRequest:
			return nil, errdefs.NewInvalidArgumentError("%s", msg)
		default:
			return nil, fmt.Errorf("%s (HTTP %d)", msg, resp.StatusCode)
		}
	}
	return resp, nil
}

func (r *Remote) call(ctx context.Context, op string, req *Request) (*Response, error) {
	resp, err := r.post(ctx, op, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrapf(err, "decoding %s response", op)
	}
	return &out, nil
}

func (r *Remote) CreateReplica(ctx context.Context, replica *types.Replica, size int64, image string) error {
	_, err := r.call(ctx, OpCreateReplica, &Request{Replica: replica, Size: size, Image: image})
	return err
}

func (r *Remote) StartReplica(ctx context.Context, replica *types.Replica) (string, error) {
	resp, err := r.call(ctx, OpStartReplica, &Request{Replica: replica})
	if err != nil {
		return "", err
	}
	return resp.Address, nil
}

func (r *Remote) StopReplica(ctx context.Context, replica *types.Replica) error {
	_, err := r.call(ctx, OpStopReplica, &Request{Replica: replica})
	return err
}

func (r *Remote) DeleteReplica(ctx context.Context, replica *types.Replica) error {
	_, err := r.call(ctx, OpDeleteReplica, &Request{Replica: replica})
	return err
}

func (r *Remote) StartController(ctx context.Context, volume *types.Volume, hostID string, replicaAddrs []string) (string, error) {
	resp, err := r.call(ctx, OpStartController, &Request{Volume: volume, HostID: hostID, ReplicaAddrs: replicaAddrs})
	if err != nil {
		return "", err
	}
	return resp.Address, nil
}

func (r *Remote) StopController(ctx context.Context, volume *types.Volume) error {
	_, err := r.call(ctx, OpStopController, &Request{Volume: volume})
	return err
}

func (r *Remote) ControllerHealthy(ctx context.Context, volume *types.Volume) error {
	_, err := r.call(ctx, OpControllerHealthy, &Request{Volume: volume})
	return err
}

func (r *Remote) SnapshotCreate(ctx context.Context, volume *types.Volume, name string, labels map[string]string) error {
	_, err := r.call(ctx, OpSnapshotCreate, &Request{Volume: volume, Snapshot: name, Labels: labels})
	return err
}

func (r *Remote) SnapshotDelete(ctx context.Context, volume *types.Volume, name string) error {
	_, err := r.call(ctx, OpSnapshotDelete, &Request{Volume: volume, Snapshot: name})
	return err
}

func (r *Remote) SnapshotRevert(ctx context.Context, volume *types.Volume, name string) error {
	_, err := r.call(ctx, OpSnapshotRevert, &Request{Volume: volume, Snapshot: name})
	return err
}

func (r *Remote) SnapshotPurge(ctx context.Context, volume *types.Volume) error {
	_, err := r.call(ctx, OpSnapshotPurge, &Request{Volume: volume})
	return err
}

// ExportSnapshot streams the snapshot from the remote host. The caller closes
// the returned reader.
func (r *Remote) ExportSnapshot(ctx context.Context, replica *types.Replica, name string) (io.ReadCloser, error) {
	resp, err := r.post(ctx, "export", &Request{Replica: replica, Snapshot: name})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// ImportVolume streams data to the remote host's engine
func (r *Remote) ImportVolume(ctx context.Context, volume *types.Volume, data io.Reader) error {
	meta, err := json.Marshal(volume)
	if err != nil {
		return errors.Wrap(err, "marshaling volume")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/import", data)
	if err != nil {
		return errors.Wrap(err, "creating engine request")
	}
	httpReq.Header.Set("Content-Type", "application/octet-stream")
	httpReq.Header.Set(VolumeHeader, base64.StdEncoding.EncodeToString(meta))

	resp, err := r.send(httpReq, OpImportVolume)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
