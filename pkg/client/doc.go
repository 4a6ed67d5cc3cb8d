/*
Package client is a Go client for the Burrow REST API.

A Client wraps one manager node's API address. Any node can be used: reads
are answered locally and writes are forwarded to the leader by the server.

	c := client.NewClient("10.0.0.1:9500")
	vol, err := c.CreateVolume(ctx, &params.CreateVolumeRequest{
		Name:             "pgdata",
		Size:             10 << 30,
		NumberOfReplicas: 2,
	})
	if errors.Is(err, errdefs.ErrNameConflict) {
		// already exists
	}

Failed requests return a *StatusError that matches the errdefs sentinels of
its HTTP status through errors.Is.
*/
package client
