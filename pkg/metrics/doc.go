/*
Package metrics provides Prometheus metrics collection and exposition for
the RM, TM, and WC services.

Every counter/histogram below is registered at package init, so each
binary that imports this package registers the full set regardless of
which service it runs; Handler() serves them. A shared HealthChecker
(RegisterComponent / GetHealth / GetReadiness) lets each service report its
own component health (e.g. an RM's prepared log, a TM's decision log)
through the same /health and /ready handlers regardless of which service
is running; SetCriticalComponents declares which registered names gate
readiness for that service.

Categories:

  - RM: prepare/commit/abort outcomes, lock conflicts, CRUD error kinds,
    per-op request latency, count of PREPARED transactions rebuilt at
    startup recovery.
  - TM: transaction outcomes (COMMITTED/ABORTED/IN_DOUBT), phase-2 retry
    counts per participant, commit-protocol latency, active transaction
    gauge.
  - WC: reservation outcomes by resource type, auto-abort count, per-route
    request latency.
*/
package metrics
