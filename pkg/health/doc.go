/*
Package health provides the checks the reconciler uses to judge liveness.

HTTPChecker checks a URL; NewHostChecker points it at another manager's
/health endpoint. TCPChecker opens a connection, which is how the frontend
port of a volume controller is checked. A Status folds successive results into
a verdict: Retries consecutive failures make a target unhealthy and a single
success makes it healthy again.

	status := health.NewStatus()
	result := health.NewHostChecker(host.Address).Check(ctx)
	if status.Update(result, health.DefaultConfig()) && !status.Healthy {
		// mark host down
	}
*/
package health
