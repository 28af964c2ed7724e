//go:build !linux

package main

import (
	"context"
	"errors"
	"log/slog"
)

func runEvdevSource(context.Context, EvdevConfig, lineSink, *slog.Logger) error {
	return errors.New("evdev input requires linux")
}

func newGPIOSource(GPIOConfig, lineSink, *slog.Logger) (lineReconfigurer, error) {
	return nil, errors.New("gpio input requires linux")
}
