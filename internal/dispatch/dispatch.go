// Package dispatch hands execution off to a resolved dbt executable. The
// hand-off is blocking and transparent: dbt gets the terminal's stdio, and
// dbtenv exits with dbt's own exit code.
package dispatch

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/brooklyn-data/dbtenv/internal/log"
)

// ExitError reports that the dispatched process exited non-zero. dbtenv
// passes the code through as its own exit code.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("dbt execution failed with exit code %d", e.Code)
}

// Run executes the dbt executable with the given arguments and blocks
// until it finishes. SIGINT and SIGTERM are forwarded rather than handled,
// so dbt gets the chance to wrap up (e.g. cancel running queries) before
// exiting on its own terms.
func Run(executable string, args []string) error {
	log.Debug("dispatching", "executable", executable, "args", args)

	cmd := exec.Command(executable, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", executable, err)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-signals:
				_ = cmd.Process.Signal(sig)
			case <-done:
				return
			}
		}
	}()

	err := cmd.Wait()
	signal.Stop(signals)
	close(done)

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{Code: exitErr.ExitCode()}
		}
		return fmt.Errorf("running %s: %w", executable, err)
	}
	return nil
}
