package acceptor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
)

// Lifecycle is implemented by the long-running service the CLI drives.
type Lifecycle interface {
	// Start starts the service. It must not block: long-running work goes
	// into background goroutines that react to context cancellation.
	Start(ctx context.Context) error
	// Stop shuts the service down within the given context deadline.
	Stop(ctx context.Context) error
	// Stopped reports whether the service has stopped.
	Stopped() bool
}

// LifecycleAction instantiates a Lifecycle from CLI flags. The shutdown
// callback lets the service request application shutdown itself, e.g. after
// a run-once cycle completes.
type LifecycleAction func(ctx *cli.Context, shutdown context.CancelCauseFunc) (Lifecycle, error)

var errSignalInterrupt = errors.New("interrupt signal received")

// stopTimeout bounds how long shutdown may take once requested.
const stopTimeout = 10 * time.Second

// LifecycleCmd turns a LifecycleAction into a cli action: it instantiates
// and starts the service, then blocks until an interrupt signal arrives or
// the service requests shutdown, and finally stops the service.
func LifecycleCmd(action LifecycleAction) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		appCtx, appCancel := context.WithCancelCause(ctx.Context)
		defer appCancel(nil)
		ctx.Context = appCtx

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			select {
			case <-sigCh:
				appCancel(errSignalInterrupt)
			case <-appCtx.Done():
			}
		}()

		appLifecycle, err := action(ctx, appCancel)
		if err != nil {
			return fmt.Errorf("failed to setup: %w", err)
		}

		if err := appLifecycle.Start(appCtx); err != nil {
			return err
		}

		<-appCtx.Done()

		stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
		defer stopCancel()
		if err := appLifecycle.Stop(stopCtx); err != nil {
			return fmt.Errorf("failed to stop: %w", err)
		}

		// A signal or a self-requested shutdown is a normal exit; any other
		// cause propagates.
		if cause := context.Cause(appCtx); cause != nil &&
			!errors.Is(cause, errSignalInterrupt) && !errors.Is(cause, context.Canceled) {
			return cause
		}
		return nil
	}
}
