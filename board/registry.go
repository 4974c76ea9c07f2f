package board

import (
	"context"
	"runtime"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
)

// A CreateBoard constructs a board from a config.
type CreateBoard func(ctx context.Context, cfg Config, logger golog.Logger) (Board, error)

var (
	boardRegistry    = map[string]CreateBoard{}
	simBoardRegistry = map[string]CreateBoard{}
	genericSimBoard  CreateBoard
)

// RegisterBoard registers a real board implementation for a model.
func RegisterBoard(model string, c CreateBoard) {
	_, old := boardRegistry[model]
	if old {
		panic(errors.Errorf("board model [%s] already registered", model))
	}
	boardRegistry[model] = c
}

// RegisterSimBoard registers the simulated counterpart for a board model.
func RegisterSimBoard(model string, c CreateBoard) {
	_, old := simBoardRegistry[model]
	if old {
		panic(errors.Errorf("simulated board model [%s] already registered", model))
	}
	simBoardRegistry[model] = c
}

// RegisterGenericSimBoard registers the catch-all simulated board used when
// no model specific implementation resolves.
func RegisterGenericSimBoard(c CreateBoard) {
	if genericSimBoard != nil {
		panic(errors.New("generic simulated board already registered"))
	}
	genericSimBoard = c
}

// HostSupportsRealHardware reports whether this host can drive boards at
// all; the GPIO character devices and bus registries only exist on linux.
func HostSupportsRealHardware() bool {
	return runtime.GOOS == "linux"
}

// Options direct how NewBoard resolves a config to an implementation.
type Options struct {
	// ForceSim skips real board implementations entirely.
	ForceSim bool
}

// NewBoard resolves a board config to a usable instance, degrading from the
// real implementation to a model specific simulator to the generic simulated
// board. Hardware absence is invisible to callers except through the
// capability set the returned board advertises.
func NewBoard(ctx context.Context, cfg Config, opts Options, logger golog.Logger) (Board, error) {
	if !opts.ForceSim {
		if creator, have := boardRegistry[cfg.Model]; have {
			b, err := creator(ctx, cfg, logger)
			if err == nil {
				return b, nil
			}
			logger.Warnw("real board failed to construct, falling back to simulation",
				"model", cfg.Model, "board", cfg.Name, "error", err)
		} else {
			logger.Debugw("no real board implementation for model, using simulation",
				"model", cfg.Model, "board", cfg.Name)
		}
	}

	if creator, have := simBoardRegistry[cfg.Model]; have {
		b, err := creator(ctx, cfg, logger)
		if err == nil {
			return b, nil
		}
		logger.Warnw("simulated board failed to construct, falling back to generic simulation",
			"model", cfg.Model, "board", cfg.Name, "error", err)
	}

	if genericSimBoard == nil {
		return nil, errors.Errorf("no generic simulated board registered to stand in for model %q", cfg.Model)
	}
	return genericSimBoard(ctx, cfg, logger)
}
