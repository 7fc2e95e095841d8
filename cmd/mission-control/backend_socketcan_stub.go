//go:build !linux

package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/naokiiwakami/mission-control/internal/mcconfig"
	"github.com/naokiiwakami/mission-control/internal/transport"
)

func initSocketCANBackend(_ context.Context, _ *mcconfig.Config, _ *slog.Logger, _ *sync.WaitGroup) (*transport.Adapter, func(), error) {
	return nil, func() {}, errors.New("socketcan backend is only available on linux")
}
