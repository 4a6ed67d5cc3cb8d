/*
Package reconciler detects failed hosts and controllers and corrects the
cluster state.

The reconciler runs on every manager node but acts only on the raft leader.
Each cycle, every DefaultInterval unless configured otherwise:

 1. Checks the /health endpoint of every other host. A host that fails
    Retries consecutive checks is marked down; one successful check marks it
    ready again.
 2. Asks the data engine whether the controller of each healthy volume
    responds. A volume whose controller fails Retries consecutive checks is
    moved to faulted through the volume manager, which serializes the change
    with the volume's other operations.
 3. Resyncs the recurring job scheduler with the volume records, so a newly
    elected leader schedules the jobs of every volume.

Host and controller transitions are published on the event broker.
*/
package reconciler
