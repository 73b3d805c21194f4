package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/coverbeam/coverbeam/internal/domain"
)

// ErrIncompatible is returned by a context factory that is present but
// cannot serve the request (missing capability, not a test failure).
// The orchestrator falls back to the next older shape.
var ErrIncompatible = errors.New("execution context shape not supported")

// The engine contract for creating execution contexts has evolved three
// times. Engines implement whichever shapes they support; the
// orchestrator probes newest-first and caches the result, so test
// semantics never depend on the negotiated shape.

// ContextFactoryV1 is the oldest shape: descriptor, listener, config.
type ContextFactoryV1 interface {
	NewExecutionContextV1(desc *domain.TestNode, listener ExecutionListener, cfg ExecutionConfig) (*ExecutionContext, error)
}

// ContextFactoryV2 adds an artifact store and an explicit session id.
type ContextFactoryV2 interface {
	NewExecutionContextV2(desc *domain.TestNode, listener ExecutionListener, cfg ExecutionConfig, store ArtifactStore, sessionID string) (*ExecutionContext, error)
}

// ContextFactoryV3 adds an output-directory provider and a cancellation
// signal.
type ContextFactoryV3 interface {
	NewExecutionContextV3(desc *domain.TestNode, listener ExecutionListener, cfg ExecutionConfig, store ArtifactStore, dirs OutputDirProvider, cancel context.Context) (*ExecutionContext, error)
}

// contextBuilder is the negotiated strategy for one engine.
type contextBuilder func(ctx context.Context, desc *domain.TestNode, listener ExecutionListener, cfg ExecutionConfig, store ArtifactStore, dirs OutputDirProvider) (*ExecutionContext, error)

// negotiateFactory probes the engine's factory shapes newest-first and
// returns the builder for the newest working one.
func negotiateFactory(engine TestEngine) (contextBuilder, error) {
	if f, ok := engine.(ContextFactoryV3); ok {
		return func(ctx context.Context, desc *domain.TestNode, listener ExecutionListener, cfg ExecutionConfig, store ArtifactStore, dirs OutputDirProvider) (*ExecutionContext, error) {
			execCtx, err := f.NewExecutionContextV3(desc, listener, cfg, store, dirs, ctx)
			if errors.Is(err, ErrIncompatible) {
				return negotiateBelowV3(engine, ctx, desc, listener, cfg, store)
			}
			return execCtx, err
		}, nil
	}
	return builderBelowV3(engine)
}

func negotiateBelowV3(engine TestEngine, ctx context.Context, desc *domain.TestNode, listener ExecutionListener, cfg ExecutionConfig, store ArtifactStore) (*ExecutionContext, error) {
	builder, err := builderBelowV3(engine)
	if err != nil {
		return nil, err
	}
	return builder(ctx, desc, listener, cfg, store, nil)
}

func builderBelowV3(engine TestEngine) (contextBuilder, error) {
	if f, ok := engine.(ContextFactoryV2); ok {
		return func(ctx context.Context, desc *domain.TestNode, listener ExecutionListener, cfg ExecutionConfig, store ArtifactStore, _ OutputDirProvider) (*ExecutionContext, error) {
			execCtx, err := f.NewExecutionContextV2(desc, listener, cfg, store, cfg.SessionID)
			if errors.Is(err, ErrIncompatible) {
				return buildV1(engine, desc, listener, cfg)
			}
			return execCtx, err
		}, nil
	}
	if _, ok := engine.(ContextFactoryV1); ok {
		return func(_ context.Context, desc *domain.TestNode, listener ExecutionListener, cfg ExecutionConfig, _ ArtifactStore, _ OutputDirProvider) (*ExecutionContext, error) {
			return buildV1(engine, desc, listener, cfg)
		}, nil
	}
	return nil, fmt.Errorf("engine %q implements no execution context factory", engine.ID())
}

func buildV1(engine TestEngine, desc *domain.TestNode, listener ExecutionListener, cfg ExecutionConfig) (*ExecutionContext, error) {
	f, ok := engine.(ContextFactoryV1)
	if !ok {
		return nil, fmt.Errorf("engine %q implements no execution context factory", engine.ID())
	}
	return f.NewExecutionContextV1(desc, listener, cfg)
}
