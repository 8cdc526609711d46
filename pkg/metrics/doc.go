/*
Package metrics defines FORGE's Prometheus metrics and a small process
health/readiness surface.

Every metric is a package-level collector registered with the Prometheus
default registry in init(), so any package can update it without setup.
Handler returns promhttp.Handler() for serving them over HTTP.

# Metrics

Workers and issues:

	forge_workers_total{status}                    gauge
	forge_worker_health_level{worker_id, level}    gauge
	forge_issues_total{workspace, status}          gauge
	forge_stuck_tasks_total{workspace}             counter

Cost and subscriptions:

	forge_api_calls_total{model, event_type}       counter
	forge_api_cost_usd_total{model}                counter
	forge_subscription_usage_percent{subscription} gauge

Routing, recovery and optimizer:

	forge_routing_decisions_total{tier}            counter
	forge_recovery_actions_total{action_type}      counter
	forge_recovery_cycle_duration_seconds          histogram, default buckets
	forge_optimizer_recommendations_total{type}    gauge
	forge_optimizer_achieved_savings_usd           gauge

Driver cadences:

	forge_cycle_duration_seconds{job}              histogram, default buckets
	forge_cycle_skipped_total{job}                 counter

# Timer

Timer measures wall time from NewTimer:

	timer := metrics.NewTimer()
	// ... run one cycle ...
	timer.ObserveDurationVec(metrics.CycleDuration, jobName)

ObserveDuration records into a plain histogram such as
RecoveryCycleDuration; Duration returns the elapsed time without recording
it.

# Health endpoints

RegisterComponent and UpdateComponent record a named component's health.
HealthHandler answers "healthy" (200) unless some registered component is
unhealthy (503). ReadyHandler answers "ready" (200) only when components
named "raft", "containerd" and "api" are all registered and healthy, and
"not_ready" (503) otherwise. LivenessHandler always answers 200 with the
process uptime.
*/
package metrics
