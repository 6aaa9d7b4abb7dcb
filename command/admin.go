package command

import (
	"strings"

	"go.uber.org/zap"

	"github.com/corvusdb/script-runtime/errors"
)

// flush implements FUNCTION FLUSH [SYNC|ASYNC]. Always a write, even
// when the registry was already empty.
func (h *Handler) flush(args []string) (any, error) {
	async := false
	switch {
	case len(args) == 0:
	case len(args) == 1 && strings.EqualFold(args[0], "SYNC"):
	case len(args) == 1 && strings.EqualFold(args[0], "ASYNC"):
		async = true
	default:
		return nil, errors.Syntax(errors.PhaseParse, "FUNCTION FLUSH only supports SYNC|ASYNC option")
	}

	h.m.Lock()
	defer h.m.Unlock()

	h.m.ClearCurrent(async)
	h.log.Info("functions flushed", zap.Bool("async", async))
	h.markDirty()
	return OK, nil
}

// delete implements FUNCTION DELETE <library>.
func (h *Handler) delete(args []string) (any, error) {
	if len(args) != 1 {
		return nil, errWrongArity("function|delete")
	}

	h.m.Lock()
	defer h.m.Unlock()

	if err := h.m.Current().Delete(args[0]); err != nil {
		return nil, err
	}
	h.log.Info("library deleted", zap.String("library", args[0]))
	h.markDirty()
	return OK, nil
}

// kill implements FUNCTION KILL. Invocation runs to completion inside
// the exclusive section, so by the time KILL is serviced nothing can
// still be in flight.
func (h *Handler) kill() (any, error) {
	return nil, errors.NoScript()
}
