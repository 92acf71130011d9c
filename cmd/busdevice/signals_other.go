//go:build !unix

package main

import "github.com/yellowbus/route-tracker/internal/domain"

// watchSignals has no job control to map on this platform.
func watchSignals() (<-chan domain.AppState, <-chan button, func()) {
	return make(chan domain.AppState), make(chan button), func() {}
}
