/*
Package health probes the reachability of the registry's upstream
collaborators.

The registry depends on three external parties: the S3-compatible blob
store, the OAuth provider, and (when configured) the git remote carrying the
index. The Monitor probes each on an interval and feeds the outcomes into
the component health registry served at /health and /ready.

Probes answer reachability, not application health: an HTTP target counts as
alive on any response, authentication errors included, because the question
a deployment needs answered is "can the publish pipeline reach its
collaborators", not "is the collaborator happy". The git remote is probed by
connecting to its SSH port, for both URL and scp-style remotes.

A target flips to unreachable only after three consecutive failed probes and
recovers on the first success, so one flaky probe does not flap readiness.

# Usage

	monitor := health.NewMonitor(cfg)
	monitor.Start()
	defer monitor.Stop()

# See Also

  - pkg/metrics for the component health registry and HTTP handlers
*/
package health
