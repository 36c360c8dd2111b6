/*
Package metrics provides Prometheus metrics collection and exposition for the
registry.

The metrics package defines and registers all granary metrics using the
Prometheus client library, and exposes them through the standard promhttp
handler mounted on the API router.

# Metric Groups

Content gauges (refreshed by the Collector every 15s from the store):

	granary_crates_total
	granary_versions_total
	granary_users_total{active}
	granary_docs_jobs_by_state{state}

Publish pipeline:

	granary_publishes_total
	granary_publish_failures_total{stage}
	granary_yanks_total
	granary_publish_duration_seconds
	granary_index_commit_duration_seconds
	granary_index_rollbacks_total

Blob store and API:

	granary_blob_requests_total{method,outcome}
	granary_blob_request_duration_seconds{method}
	granary_api_requests_total{method,status}
	granary_api_request_duration_seconds{method}

Docs worker:

	granary_docs_jobs_total{state}
	granary_docs_job_duration_seconds

# Health Endpoints

The package also carries the component status registry backing /health,
/ready and /live. Which components are critical is decided by their
registrars at startup (cmd/granary registers storage, index, and api as
critical), not by this package: RegisterComponent declares a critical
component before it comes up, UpdateComponent records status, and readiness
is withheld while any critical component is down or has not reported in.
Non-critical entries, such as the upstream targets probed by pkg/health,
degrade /health without blocking /ready.

# See Also

  - pkg/api for where the handlers are mounted
  - pkg/registry and pkg/docs for the instrumented paths
*/
package metrics
