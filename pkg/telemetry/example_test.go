package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/waivern-compliance/waivern/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = "waivern"
	cfg.ServiceVersion = "1.0.0"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	if err := tel.StartMetricsServer(); err != nil {
		panic(err)
	}

	ctx := tel.WithContext(context.Background())

	logger := telemetry.FromContext(ctx)
	logger.Info("orchestrator started")

	// Output can vary, so we don't specify output for this example
}

// Example_structuredLogging demonstrates structured logging features.
func Example_structuredLogging() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	logger := tel.Logger.NewComponentLogger("executor")

	logger = logger.WithFields(map[string]interface{}{
		"run_id":      "run-123",
		"artifact_id": "scan_filesystem",
	})

	logger.Debug("extracting artifact")
	logger.Info("artifact extracted successfully")
	logger.Warn("schema compatibility fallback used")

	err := fmt.Errorf("network timeout")
	logger.WithError(err).Error("failed to reach remote host")

	// Output varies, no output specified
}

// Example_distributedTracing demonstrates distributed tracing usage.
func Example_distributedTracing() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Tracing.Exporter = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	ctx, span := tel.Tracer.Start(ctx, "waivern.run.execute")
	defer span.End()

	span.SetAttributes(
		attribute.String("run.id", "run-789"),
		attribute.Int("run.artifact_count", 5),
	)

	span.AddEvent("planning.complete")

	ctx, childSpan := tel.Tracer.Start(ctx, "waivern.artifact.execute")
	defer childSpan.End()

	childSpan.SetAttributes(
		attribute.String("artifact.id", "scan_filesystem"),
		attribute.String("artifact.kind", "source"),
	)

	time.Sleep(10 * time.Millisecond)

	telemetry.RecordSuccess(childSpan)

	// Output varies, no output specified
}

// Example_metricsCollection demonstrates metrics collection.
func Example_metricsCollection() {
	cfg := telemetry.DefaultConfig()
	cfg.Metrics.Enabled = true

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	tel.Metrics.RecordRunStarted("user@example.com")

	start := time.Now()
	time.Sleep(50 * time.Millisecond)
	duration := time.Since(start)

	tel.Metrics.RecordRunCompleted("succeeded", duration)

	tel.Metrics.RecordArtifactStarted()
	tel.Metrics.RecordArtifactExecution("source", "succeeded", 25*time.Millisecond)

	tel.Metrics.RecordComponentCall("fsfile", "extract", 15*time.Millisecond)

	tel.Metrics.RecordError("transient", "TIMEOUT")

	tel.Metrics.SetQueuedArtifacts(3)

	fmt.Println("Metrics recorded successfully")
	// Output: Metrics recorded successfully
}

// Example_eventPublishing demonstrates event publishing and subscription.
func Example_eventPublishing() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.Enabled = true
	cfg.Events.EnableAsync = false // Synchronous for example

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
	}, nil) // No filter, receive all events

	tel.Events.PublishRunStarted("run-123", "user@example.com")
	tel.Events.PublishArtifactStarted("run-123", "scan_filesystem", "extract")
	tel.Events.PublishArtifactCompleted("run-123", "scan_filesystem", 25*time.Millisecond)

	// Output varies due to async nature, no output specified
}

// Example_runInstrumentation demonstrates instrumenting a complete run.
func Example_runInstrumentation() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stderr"
	cfg.Tracing.Exporter = "none"
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	runID := "run-123"
	user := "admin@example.com"
	ctx = telemetry.WithRunContext(ctx, runID, user)

	executeRun(ctx, runID)

	telemetry.EndRunContext(ctx, runID, "succeeded", nil)

	fmt.Println("Run instrumentation complete")
	// Output: Run instrumentation complete
}

func executeRun(ctx context.Context, runID string) {
	artifactID := "scan_filesystem"

	ctx = telemetry.WithArtifactContext(ctx, runID, artifactID, "source", "extract")

	logger := telemetry.FromContext(ctx)
	logger.Info("executing artifact")

	time.Sleep(10 * time.Millisecond)

	telemetry.EndArtifactContext(ctx, runID, artifactID, "succeeded", nil)
}

// Example_componentInstrumentation demonstrates instrumenting component calls.
func Example_componentInstrumentation() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Tracing.Exporter = "none"
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	ctx = telemetry.WithComponentContext(ctx, "source_type", "fsfile")

	err := telemetry.RecordComponentOperation(ctx, "fsfile", "extract", func() error {
		time.Sleep(15 * time.Millisecond)
		return nil
	})

	if err == nil {
		fmt.Println("Component operation completed successfully")
	}

	// Output: Component operation completed successfully
}

// Example_instrumentedOperation demonstrates using the InstrumentedContext helper.
func Example_instrumentedOperation() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stderr"
	cfg.Tracing.Exporter = "none"
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	ic := telemetry.StartOperation(ctx, "validate_runbook",
		attribute.String("runbook.path", "/etc/waivern/runbook.yaml"),
	)
	defer ic.End(nil)

	ic.Logger.Info("validating runbook")

	time.Sleep(5 * time.Millisecond)

	ic.Logger.Debug("runbook validation complete")

	fmt.Println("Operation instrumentation complete")
	// Output: Operation instrumentation complete
}

// Example_eventFiltering demonstrates event filtering.
func Example_eventFiltering() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.Enabled = true
	cfg.Events.EnableAsync = false

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Subscribe with level filter (only warnings and errors)
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Important event: %s\n", event.Type)
	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))

	// Subscribe with type filter (only policy violations)
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Policy event: %s\n", event.Message)
	}, telemetry.FilterByType("policy.violation"))

	tel.Events.PublishRunStarted("run-123", "user")                          // Info - filtered by level filter
	tel.Events.PublishPolicyViolation("scan_filesystem", "no-raw-export", "output leaves the org boundary") // Error - passes level filter
	tel.Events.PublishRunFailed("run-123", "error")                          // Error - passes level filter

	// Output varies, no output specified
}

// Example_productionConfiguration demonstrates production-ready configuration.
func Example_productionConfiguration() {
	cfg := telemetry.ProductionConfig()

	cfg.ServiceName = "waivern"
	cfg.ServiceVersion = "1.2.3"
	cfg.Environment = "production"

	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.Endpoint = "otel-collector.monitoring.svc.cluster.local:4317"
	cfg.Tracing.SamplingRate = 0.1 // 10% sampling
	cfg.Tracing.Insecure = false   // Use TLS in production

	cfg.Metrics.ListenAddress = ":9090"
	cfg.Metrics.Namespace = "waivern"

	cfg.Events.BufferSize = 10000
	cfg.Events.FlushInterval = 5 * time.Second

	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	fmt.Println("Production configuration validated")
	// Output: Production configuration validated
}

// Example_errorRecording demonstrates error recording with proper classification.
func Example_errorRecording() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stderr"
	cfg.Tracing.Exporter = "none"
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	ctx, span := tel.Tracer.Start(ctx, "risky_operation")
	defer span.End()

	err := fmt.Errorf("connection timeout")

	if err != nil {
		telemetry.RecordError(span, err)

		tel.Metrics.RecordError("transient", "TIMEOUT")

		logger := telemetry.FromContext(ctx)
		logger.WithError(err).Error("operation failed")
	}

	fmt.Println("Error recording complete")
	// Output: Error recording complete
}

// Example_multipleComponents demonstrates telemetry in a multi-component system.
func Example_multipleComponents() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stderr"
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	executorLogger := tel.Logger.NewComponentLogger("executor")
	plannerLogger := tel.Logger.NewComponentLogger("planner")
	sourceLogger := tel.Logger.NewComponentLogger("source")

	executorLogger.Info("executor initialized")
	plannerLogger.Info("building execution plan")
	sourceLogger.Info("loading source plugins")

	fmt.Println("Multi-component logging complete")
	// Output: Multi-component logging complete
}
