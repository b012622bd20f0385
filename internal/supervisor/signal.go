package supervisor

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/epics-modules/sdds-core/internal/runctl"
	"github.com/epics-modules/sdds-core/pkg/log"
)

// gracefulSignals request clean shutdown through the volatile interrupt
// flag, matching "exits non-zero on SIGINT/SIGTERM/SIGQUIT" (§5).
var gracefulSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT}

// fatalNotifiableSignals terminate the process immediately after running
// the exit hook. Go cannot intercept SIGSEGV/SIGBUS/SIGILL/SIGTRAP/SIGFPE
// as ordinary channel deliveries without corrupting the runtime's own use
// of them, so only SIGABRT is notified here; the others keep the Go
// runtime's default handling and do not run the exit hook.
var fatalNotifiableSignals = []os.Signal{syscall.SIGABRT}

// ExitHook runs on every termination path before the process exits: it
// must detach from CA and notify the supervisor (§4.9, §5 "Resource
// scoping").
type ExitHook func(reason string)

// WatchSignals installs handlers for the graceful and fatal-notifiable
// signal sets. A graceful signal calls controller.Interrupt with the
// matching Reason; a fatal signal runs hook once and re-raises itself so
// the process still terminates with the expected signal exit status.
func WatchSignals(controller *runctl.Controller, hook ExitHook) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, append(append([]os.Signal{}, gracefulSignals...), fatalNotifiableSignals...)...)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig, ok := <-ch:
				if !ok {
					return
				}
				handleSignal(sig, controller, hook)
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}

func handleSignal(sig os.Signal, controller *runctl.Controller, hook ExitHook) {
	switch sig {
	case syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
		log.Warnf("supervisor: received %s, requesting clean shutdown", sig)
		controller.Interrupt(runctl.ReasonFatalSignal)
		if hook != nil {
			hook(sig.String())
		}
	default:
		log.Errorf("supervisor: received fatal signal %s, detaching and exiting", sig)
		if hook != nil {
			hook(sig.String())
		}
		signal.Reset(sig)
		_ = syscall.Kill(syscall.Getpid(), sig.(syscall.Signal))
	}
}
