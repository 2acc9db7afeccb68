// Package telemetry provides observability instrumentation for the
// waivern orchestrator.
//
// The telemetry package integrates structured logging (zerolog), distributed
// tracing (OpenTelemetry), metrics (Prometheus), and event publishing into a
// unified system for monitoring and debugging runs and artifact execution.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//  4. Event Publishing - Async event system for audit and notifications
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "waivern"
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
//	logger := tel.Logger.NewComponentLogger("executor")
//	logger = logger.WithRunID("run-123").WithArtifactID("scan_filesystem")
//	logger.Info("extracting artifact")
//	logger.WithError(err).Error("extraction failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing provides visibility into run and artifact execution:
//
//	ctx, span := tel.Tracer.Start(ctx, "waivern.artifact.execute")
//	defer span.End()
//
//	span.SetAttributes(
//	    attribute.String("artifact.id", artifactID),
//	    attribute.String("operation", "extract"),
//	)
//
//	span.AddEvent("schema.validated")
//
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Supported exporters: OTLP (production), Stdout (development)
//
// # Metrics
//
// Prometheus metrics track system behavior and performance:
//
//	tel.Metrics.RecordRunStarted("user@example.com")
//	tel.Metrics.RecordRunCompleted("succeeded", duration)
//
//	tel.Metrics.RecordArtifactStarted()
//	tel.Metrics.RecordArtifactExecution("source", "succeeded", duration)
//
//	tel.Metrics.RecordComponentCall("fsfile", "extract", duration)
//
//	tel.Metrics.RecordError("transient", "TIMEOUT")
//
// Metrics are exposed via HTTP at /metrics (default: :9090/metrics)
//
// # Event Publishing
//
// The event system provides async publishing with buffering and filtering:
//
//	tel.Events.PublishRunStarted(runID, user)
//	tel.Events.PublishArtifactCompleted(runID, artifactID, duration)
//	tel.Events.PublishPolicyViolation(artifactID, policyName, reason)
//
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
//	}, telemetry.FilterByLevel("warning"))
//
// Event filters: FilterByLevel, FilterByType, FilterByRunID, FilterByArtifactID
//
// # Context Helpers
//
// High-level helpers simplify common instrumentation patterns:
//
//	ic := telemetry.StartOperation(ctx, "runbook.validate",
//	    attribute.String("runbook.path", path))
//	defer ic.End(err)
//
//	ctx = telemetry.WithRunContext(ctx, runID, user)
//	defer telemetry.EndRunContext(ctx, runID, status, err)
//
//	ctx = telemetry.WithArtifactContext(ctx, runID, artifactID, kind, operation)
//	defer telemetry.EndArtifactContext(ctx, runID, artifactID, status, err)
//
//	err := telemetry.RecordComponentOperation(ctx, "fsfile", "extract", func() error {
//	    return source.Extract(ctx)
//	})
//
// # Configuration
//
// The package provides pre-configured setups for different environments:
//
//	cfg := telemetry.DevelopmentConfig() // verbose logging, stdout traces, full sampling
//	cfg := telemetry.ProductionConfig()  // JSON logs, OTLP traces, 10% sampling
//
// # Common Metrics
//
// Key metrics exposed:
//
//  - waivern_runs_started_total{user}
//  - waivern_runs_completed_total{status}
//  - waivern_run_duration_seconds{status}
//  - waivern_artifacts_total{kind,status}
//  - waivern_artifact_duration_seconds{kind}
//  - waivern_artifacts_running
//  - waivern_component_calls_total{component,operation}
//  - waivern_errors_by_class_total{class}
//  - waivern_active_runs
//
// # Security Considerations
//
//  - Never log sensitive data (credentials, keys, tokens)
//  - Sanitize artifact content if it may contain PII
//  - Use secure connections (TLS) for trace exporters in production
//  - Limit metrics endpoint access via network policies
package telemetry
