package command

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/corvusdb/script-runtime/errors"
	"github.com/corvusdb/script-runtime/registry"
)

// load implements FUNCTION LOAD [REPLACE] <code>. The reply is the
// library name.
func (h *Handler) load(ctx context.Context, args []string) (any, error) {
	replace := false
	if len(args) == 2 && strings.EqualFold(args[0], "REPLACE") {
		replace = true
		args = args[1:]
	}
	if len(args) != 1 {
		return nil, errWrongArity("function|load")
	}
	code := args[0]

	h.m.Lock()
	defer h.m.Unlock()

	name, err := h.loadLibrary(ctx, code, replace)
	if err != nil {
		return nil, err
	}

	h.log.Info("library loaded", zap.String("library", name), zap.Bool("replace", replace))
	h.markDirty()
	return name, nil
}

// loadLibrary compiles code into a detached library and attaches it to
// the current registry. Caller holds the exclusive section.
func (h *Handler) loadLibrary(ctx context.Context, code string, replace bool) (string, error) {
	engineName, libName, err := parseShebang(code)
	if err != nil {
		return "", err
	}

	reg, ok := h.m.Engine(engineName)
	if !ok {
		return "", errors.UnknownEngine(engineName)
	}

	current := h.m.Current()
	if _, exists := current.Library(libName); exists && !replace {
		return "", errors.LibraryExists(libName)
	}

	lib := registry.NewLibrary(libName, reg, code)
	if err := reg.Engine().Create(ctx, lib, code, LoadTimeout); err != nil {
		lib.Release()
		return "", err
	}
	if lib.Len() == 0 {
		lib.Release()
		return "", errors.Compile("No functions registered", nil)
	}

	if err := current.Attach(lib, replace); err != nil {
		lib.Release()
		return "", err
	}
	return libName, nil
}
