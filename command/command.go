package command

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	scriptruntime "github.com/corvusdb/script-runtime"
	"github.com/corvusdb/script-runtime/errors"
	"github.com/corvusdb/script-runtime/registry"
)

// OK is the reply value for commands that answer with a simple status.
const OK = "OK"

// LoadTimeout bounds the compile budget handed to an engine during
// FUNCTION LOAD and FUNCTION RESTORE.
const LoadTimeout = 500 * time.Millisecond

// Config holds construction options for a Handler.
type Config struct {
	// Dirty receives the write signal for replication and persistence.
	// Nil disables the signal.
	Dirty scriptruntime.Dirty

	Logger *zap.Logger
}

// RunningScript describes the function invocation currently in flight,
// surfaced by FUNCTION STATS.
type RunningScript struct {
	Name      string
	Command   []string
	StartedAt time.Time
}

// Handler executes FUNCTION and FCALL commands against the registry
// owned by a lifecycle manager.
type Handler struct {
	m       *registry.Manager
	dirty   scriptruntime.Dirty
	log     *zap.Logger
	running atomic.Pointer[RunningScript]
}

// NewHandler builds a handler bound to the manager's current registry.
func NewHandler(m *registry.Manager, cfg Config) *Handler {
	log := cfg.Logger
	if log == nil {
		log = Logger()
	}
	return &Handler{m: m, dirty: cfg.Dirty, log: log}
}

// Execute runs one parsed command. argv holds the full argument vector
// including the command name. The reply is a plain Go value the front
// end serializes: string, int64, nil, []any, or the record types in
// this package.
func (h *Handler) Execute(ctx context.Context, argv []string) (any, error) {
	if len(argv) == 0 {
		return nil, errors.Syntax(errors.PhaseParse, "empty command")
	}

	switch strings.ToUpper(argv[0]) {
	case "FUNCTION":
		return h.executeFunction(ctx, argv)
	case "FCALL":
		return h.fcall(ctx, argv, false)
	case "FCALL_RO":
		return h.fcall(ctx, argv, true)
	}
	return nil, errors.Syntax(errors.PhaseParse, "unknown command '%s'", argv[0])
}

func (h *Handler) executeFunction(ctx context.Context, argv []string) (any, error) {
	if len(argv) < 2 {
		return nil, errWrongArity("function")
	}

	switch strings.ToUpper(argv[1]) {
	case "LOAD":
		return h.load(ctx, argv[2:])
	case "LIST":
		return h.list(argv[2:])
	case "STATS":
		if len(argv) != 2 {
			return nil, errWrongArity("function|stats")
		}
		return h.stats(), nil
	case "FLUSH":
		return h.flush(argv[2:])
	case "DELETE":
		return h.delete(argv[2:])
	case "DUMP":
		if len(argv) != 2 {
			return nil, errWrongArity("function|dump")
		}
		return h.dump(), nil
	case "RESTORE":
		return h.restore(ctx, argv[2:])
	case "KILL":
		if len(argv) != 2 {
			return nil, errWrongArity("function|kill")
		}
		return h.kill()
	}
	return nil, errors.Syntax(errors.PhaseParse,
		"Unknown subcommand or wrong number of arguments for '%s'. Try FUNCTION HELP.", argv[1])
}

func (h *Handler) markDirty() {
	if h.dirty != nil {
		h.dirty.MarkDirty()
	}
}

func errWrongArity(cmd string) error {
	return errors.Syntax(errors.PhaseParse, "wrong number of arguments for '%s' command", cmd)
}
