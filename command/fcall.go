package command

import (
	"context"
	"strconv"
	"time"

	"github.com/corvusdb/script-runtime/errors"
	"github.com/corvusdb/script-runtime/registry"
)

// fcall implements FCALL and FCALL_RO:
//
//	FCALL <name> <numkeys> [key ...] [arg ...]
//
// Validation runs in a fixed order: argument shape, numkeys bounds,
// function existence, structural integrity, then the read-only
// constraint. Only after all of it passes does the engine run.
func (h *Handler) fcall(ctx context.Context, argv []string, readonly bool) (any, error) {
	if len(argv) < 3 {
		return nil, errors.Syntax(errors.PhaseParse, "wrong number of arguments for FCALL")
	}
	name := argv[1]

	numkeys, err := strconv.ParseInt(argv[2], 10, 64)
	if err != nil {
		return nil, errors.InvalidInput(errors.PhaseParse, "value is not an integer or out of range")
	}
	if numkeys < 0 {
		return nil, errors.InvalidInput(errors.PhaseParse, "Number of keys can't be negative")
	}
	rest := argv[3:]
	if numkeys > int64(len(rest)) {
		return nil, errors.InvalidInput(errors.PhaseParse, "Number of keys can't be greater than number of args")
	}
	keys := rest[:numkeys]
	args := rest[numkeys:]

	h.m.Lock()
	defer h.m.Unlock()

	fn, ok := h.m.Current().Lookup(name)
	if !ok {
		return nil, errors.FunctionNotFound(name)
	}
	lib := fn.Library()
	if lib == nil || lib.Registration() == nil || lib.Registration().Engine() == nil || fn.Compiled() == nil {
		return nil, errors.InvalidInput(errors.PhaseCall, "Function library is invalid")
	}
	noWrites := fn.Flags().Has(registry.FlagNoWrites)
	if readonly && !noWrites {
		return nil, errors.ReadOnly()
	}

	cmd := "FCALL"
	if readonly {
		cmd = "FCALL_RO"
	}
	h.running.Store(&RunningScript{
		Name:      name,
		Command:   append([]string{cmd}, argv[1:]...),
		StartedAt: time.Now(),
	})
	defer h.running.Store(nil)

	reg := lib.Registration()
	res, err := reg.Engine().Call(ctx, reg.Conn(), fn.Compiled(), keys, args)
	if err != nil {
		return nil, err
	}

	if !readonly && !noWrites {
		h.markDirty()
	}
	return res, nil
}
