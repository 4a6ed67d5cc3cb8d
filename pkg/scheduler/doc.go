/*
Package scheduler places the replicas of a new volume on hosts.

Placement uses soft anti-affinity. The candidate hosts are shuffled, ordered
by the number of replicas they already carry, and replicas are assigned to
them round-robin:

	hosts (by load)   host-2(0)  host-3(2)  host-1(4)
	3 replicas        r1         r2         r3
	5 replicas        r1 r4      r2 r5      r3

With at least as many hosts as replicas every replica lands on a distinct
host. With fewer hosts the surplus is spread evenly instead of failing.

Hosts marked down by the reconciler are skipped while any ready host exists.
An empty host list fails with errdefs.InsufficientHostsError.
*/
package scheduler
