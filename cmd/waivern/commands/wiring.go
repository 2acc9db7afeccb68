package commands

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/waivern-compliance/waivern/pkg/artifactstore"
	"github.com/waivern-compliance/waivern/pkg/policy"
	"github.com/waivern-compliance/waivern/pkg/registry"
	"github.com/waivern-compliance/waivern/pkg/statestore"
	"github.com/waivern-compliance/waivern/pkg/statestore/sqlitestore"
	"github.com/waivern-compliance/waivern/pkg/telemetry"
	"github.com/waivern-compliance/waivern/pkg/waivernerr"

	"github.com/waivern-compliance/waivern/plugins/processors/patternmatch"
	"github.com/waivern-compliance/waivern/plugins/processors/script"
	"github.com/waivern-compliance/waivern/plugins/processors/wasm"
	"github.com/waivern-compliance/waivern/plugins/sources/fsfile"
	"github.com/waivern-compliance/waivern/plugins/sources/sshfile"
)

// newRegistry builds a Registry with every in-tree plugin discovered.
func newRegistry() *registry.Registry {
	r := registry.New()
	registry.Discover(r,
		fsfile.Register,
		sshfile.Register,
		patternmatch.Register,
		script.Register,
		wasm.Register,
	)
	return r
}

// newArtifactStore builds the artifact store backend named by --store,
// rooted at --data-dir for the filesystem backend.
func newArtifactStore(backend, dataDir string) (artifactstore.Store, error) {
	switch backend {
	case "memory":
		return artifactstore.NewMemoryStore(), nil
	case "filesystem", "":
		return artifactstore.NewFilesystemStore(dataDir + "/artifacts"), nil
	default:
		return nil, waivernerr.New(waivernerr.KindConfig, "unknown artifact store backend: "+backend, nil).
			WithCode(waivernerr.CodeConfig)
	}
}

// newStateStore builds the state store backend named by --store.
func newStateStore(ctx context.Context, backend, dataDir string) (statestore.Store, error) {
	switch backend {
	case "memory":
		return statestore.NewMemoryStore(), nil
	case "filesystem":
		return statestore.NewFilesystemStore(dataDir + "/state"), nil
	case "sqlite", "":
		store, err := sqlitestore.Open(ctx, sqlitestore.Config{Path: dataDir + "/waivern.db"})
		if err != nil {
			return nil, waivernerr.New(waivernerr.KindInternal, "failed to open sqlite state store", err).
				WithCode(waivernerr.CodeInternal)
		}
		return store, nil
	default:
		return nil, waivernerr.New(waivernerr.KindConfig, "unknown state store backend: "+backend, nil).
			WithCode(waivernerr.CodeConfig)
	}
}

// newTelemetry builds a Telemetry instance wired for console logging,
// since the CLI runs as a one-shot foreground process rather than a
// long-lived service exporting to a collector.
func newTelemetry(serviceVersion string) (*telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = "waivern"
	cfg.ServiceVersion = serviceVersion
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		return nil, waivernerr.New(waivernerr.KindInternal, "failed to initialize telemetry", err).
			WithCode(waivernerr.CodeInternal)
	}
	return tel, nil
}

// newPolicyEngine builds a policy Engine pre-loaded with the built-in
// guardrail policies.
func newPolicyEngine() (*policy.Engine, error) {
	engine, err := policy.NewEngine(log.Logger)
	if err != nil {
		return nil, waivernerr.New(waivernerr.KindInternal, "failed to initialize policy engine", err).
			WithCode(waivernerr.CodeInternal)
	}
	return engine, nil
}

func logRunResult(runID string, succeeded, failed, skipped, cancelled int) {
	log.Info().
		Str("run_id", runID).
		Int("succeeded", succeeded).
		Int("failed", failed).
		Int("skipped", skipped).
		Int("cancelled", cancelled).
		Msg("run finished")
}

// ExitCode maps a command's returned error to a process exit code,
// falling back to 1 for plain (non-classified) errors.
func ExitCode(err error) int {
	if waivernerr.KindOf(err) != "" {
		return waivernerr.ExitCode(err)
	}
	if err != nil {
		return 1
	}
	return 0
}
