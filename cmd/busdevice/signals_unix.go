//go:build unix

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/yellowbus/route-tracker/internal/domain"
)

// watchSignals maps job control onto the app lifecycle: SIGTSTP backgrounds the app and
// SIGCONT brings it back. SIGUSR1 and SIGUSR2 press the dashboard's start and stop buttons.
func watchSignals() (<-chan domain.AppState, <-chan button, func()) {
	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, syscall.SIGTSTP, syscall.SIGCONT, syscall.SIGUSR1, syscall.SIGUSR2)

	lifecycle := make(chan domain.AppState, 4)
	buttons := make(chan button, 4)
	done := make(chan struct{})
	go forwardSignals(sigs, lifecycle, buttons, done)
	return lifecycle, buttons, func() {
		signal.Stop(sigs)
		close(done)
	}
}

// forwardSignals translates signals until done is closed, even when nobody is reading
// lifecycle or buttons any more.
func forwardSignals(sigs <-chan os.Signal, lifecycle chan<- domain.AppState, buttons chan<- button, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case sig := <-sigs:
			if st, ok := appStateFor(sig); ok {
				select {
				case lifecycle <- st:
				case <-done:
					return
				}
			}
			if b, ok := buttonFor(sig); ok {
				select {
				case buttons <- b:
				case <-done:
					return
				}
			}
		}
	}
}

func appStateFor(sig os.Signal) (domain.AppState, bool) {
	switch sig {
	case syscall.SIGTSTP:
		return domain.AppBackground, true
	case syscall.SIGCONT:
		return domain.AppForeground, true
	}
	return "", false
}

func buttonFor(sig os.Signal) (button, bool) {
	switch sig {
	case syscall.SIGUSR1:
		return buttonStart, true
	case syscall.SIGUSR2:
		return buttonStop, true
	}
	return "", false
}
