// Package telemetry wires OpenTelemetry tracing, metrics and log export for rasac.
//
// Telemetry is disabled by default. When enabled, spans and metrics are
// exported over OTLP (grpc or http) to a collector, and logs follow when
// logging.otel is set:
//
//	telemetry:
//	  enabled: true
//	  endpoint: localhost:4317
//	  protocol: grpc
//	  insecure: true
//
// The backend client traces every REST call and counts requests by route
// and outcome. Failures to build exporters degrade to no-op providers
// instead of failing the command.
//
// Tests use NewTestTelemetry, which records spans and metrics in memory.
package telemetry
