package acceptor

import (
	"context"

	"github.com/ethereum/go-ethereum/log"

	"github.com/blendertools/infra/addon-acceptor/runner"
)

// RunExecutor is responsible for executing a full run of entry points.
type RunExecutor interface {
	Execute(ctx context.Context) (*runner.Result, error)
}

// DefaultRunExecutor implements the RunExecutor interface.
type DefaultRunExecutor struct {
	runner runner.EntrypointRunner
	logger log.Logger
}

// NewDefaultRunExecutor creates a new DefaultRunExecutor.
func NewDefaultRunExecutor(runner runner.EntrypointRunner, logger log.Logger) *DefaultRunExecutor {
	return &DefaultRunExecutor{
		runner: runner,
		logger: logger,
	}
}

// Execute runs all entry points and returns the results.
func (e *DefaultRunExecutor) Execute(ctx context.Context) (*runner.Result, error) {
	e.logger.Info("Running all entry points...")
	result, err := e.runner.RunAll(ctx)
	if err != nil {
		e.logger.Error("Error running entry points", "error", err)
		return nil, err
	}
	e.logger.Info("Run completed", "run_id", result.RunID, "status", result.Status)
	return result, nil
}
