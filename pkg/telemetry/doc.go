// Package telemetry provides observability instrumentation for Stagecraft.
//
// The telemetry package integrates structured logging (zerolog), distributed
// tracing (OpenTelemetry), and metrics (Prometheus) into a unified system for
// monitoring and debugging deployment runs.
//
// # Architecture
//
// The telemetry system is built on three pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "stagecraft"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	// Start metrics server
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
// Add telemetry to context:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context propagation:
//
//	logger := tel.Logger.NewComponentLogger("orchestrator")
//	logger = logger.WithRunID("run-123").WithPhase("phase-04", 4)
//	logger.Info("Starting phase execution")
//	logger.WithError(err).Error("Phase execution failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing provides visibility into run flow and phase timings:
//
//	ctx, span := tel.Tracer.StartPhaseSpan(ctx, "phase-04", "package-manifest", 4)
//	defer span.End()
//
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Supported exporters: OTLP (production), Stdout (development), None (testing)
//
// # Metrics
//
// Prometheus metrics track run and phase behavior:
//
//	tel.Metrics.RecordRunStarted("resume")
//	tel.Metrics.RecordPhaseExecution("phase-04", "succeeded", duration)
//	tel.Metrics.RecordFailureDecision("retry")
//	tel.Metrics.RecordRunCompleted("succeeded", duration)
//
// Key metrics exposed:
//
//   - stagecraft_runs_started_total{mode}
//   - stagecraft_runs_completed_total{result}
//   - stagecraft_run_duration_seconds{result}
//   - stagecraft_phases_executed_total{phase,result}
//   - stagecraft_phase_duration_seconds{phase}
//   - stagecraft_phase_retries_total{phase}
//   - stagecraft_failure_decisions_total{decision}
//   - stagecraft_rollbacks_total{result}
//   - stagecraft_state_writes_total{result}
//   - stagecraft_completed_phases
//   - stagecraft_active_run
//
// Metrics are exposed via HTTP at /metrics (default: :9290/metrics)
//
// # Context Helpers
//
// High-level helpers simplify common instrumentation patterns:
//
//	// Instrument an operation
//	ic := telemetry.StartOperation(ctx, "state.load",
//	    attribute.String("state.path", statePath))
//	defer ic.End(err)
//
//	// Run context
//	ctx = telemetry.WithRunContext(ctx, runID, mode)
//	defer telemetry.EndRunContext(ctx, result, err)
//
//	// Phase context
//	ctx = telemetry.WithPhaseContext(ctx, phaseID, name, ordinal)
//	defer telemetry.EndPhaseContext(ctx, phaseID, result, err)
//
// # Configuration
//
// The package provides pre-configured setups for different environments:
//
//	// Development (verbose logging, stdout traces, full sampling)
//	cfg := telemetry.DevelopmentConfig()
//
//	// Production (JSON logs, OTLP traces, 10% sampling)
//	cfg := telemetry.ProductionConfig()
//
// # Graceful Shutdown
//
// Always shut down telemetry gracefully to flush pending data:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	if err := tel.Shutdown(ctx); err != nil {
//	    log.Printf("Telemetry shutdown error: %v", err)
//	}
package telemetry
