// Package telemetry provides logging, tracing and metrics for the arbiter.
//
// # Logging
//
// Logging uses zerolog. Logger adds component, plan and recipe fields and
// hands a plain zerolog.Logger to the engine, manifest and recipes packages
// through Zerolog:
//
//	tel, _ := telemetry.NewTelemetry(cfg)
//	planner := engine.NewPlanner(
//	    engine.WithLogger(tel.Logger.NewComponentLogger("planner").Zerolog()),
//	)
//
// Logs go to stderr by default so that plan output on stdout stays parseable.
//
// # Tracing
//
// When enabled, NewTracer installs an OpenTelemetry provider globally. The
// engine and recipes packages start their spans (recipes.load, plan.compute,
// plan.run) from the global provider, so no tracer needs to be passed around.
// Spans are exported to stderr (stdout exporter) or to an OTLP gRPC collector.
//
// # Metrics
//
// Metrics implements engine.PlanRecorder with Prometheus collectors:
//
//   - arbiter_plans_computed_total{target,result}
//   - arbiter_plan_duration_seconds{target}
//   - arbiter_plan_recipes{target}
//   - arbiter_plan_warnings_total{code}
//   - arbiter_builds_total{result}
//   - arbiter_build_duration_seconds{result}
//   - arbiter_errors_total{code}
//
// The arbiter is a short-lived CLI, so metrics are not served over HTTP.
// Telemetry.Shutdown writes them to a textfile for the node exporter's
// textfile collector instead.
package telemetry
