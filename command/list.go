package command

import (
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"github.com/corvusdb/script-runtime/errors"
	"github.com/corvusdb/script-runtime/registry"
)

// FunctionInfo is one function entry in a LIST reply.
type FunctionInfo struct {
	Name        string
	Description string
	Flags       []string
}

// LibraryInfo is one library record in a LIST reply. Code is populated
// only when WITHCODE was given.
type LibraryInfo struct {
	Name      string
	Engine    string
	Functions []FunctionInfo
	Code      string
}

// Stats is the FUNCTION STATS reply.
type Stats struct {
	RunningScript *RunningScript
	Engines       map[string]registry.EngineStats
}

// list implements FUNCTION LIST [LIBRARYNAME <pattern>] [WITHCODE].
// Pattern matching is glob-style.
func (h *Handler) list(args []string) (any, error) {
	withCode := false
	var matcher glob.Glob

	for i := 0; i < len(args); i++ {
		switch {
		case strings.EqualFold(args[i], "WITHCODE"):
			withCode = true
		case strings.EqualFold(args[i], "LIBRARYNAME") && i+1 < len(args):
			i++
			g, err := glob.Compile(args[i])
			if err != nil {
				return nil, errors.Syntax(errors.PhaseParse, "invalid library name pattern '%s'", args[i])
			}
			matcher = g
		default:
			return nil, errors.Syntax(errors.PhaseParse, "Unknown FUNCTION LIST option '%s'", args[i])
		}
	}

	h.m.Lock()
	defer h.m.Unlock()

	var out []LibraryInfo
	for _, lib := range h.m.Current().Libraries() {
		if matcher != nil && !matcher.Match(lib.Name()) {
			continue
		}
		out = append(out, libraryInfo(lib, withCode))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func libraryInfo(lib *registry.Library, withCode bool) LibraryInfo {
	info := LibraryInfo{
		Name:   lib.Name(),
		Engine: lib.Registration().Name(),
	}
	for _, fn := range lib.Functions() {
		info.Functions = append(info.Functions, FunctionInfo{
			Name:        fn.Name(),
			Description: fn.Description(),
			Flags:       fn.Flags().Names(),
		})
	}
	if withCode {
		info.Code = lib.Code()
	}
	return info
}

// stats implements FUNCTION STATS.
func (h *Handler) stats() Stats {
	h.m.Lock()
	defer h.m.Unlock()

	return Stats{
		RunningScript: h.running.Load(),
		Engines:       h.m.Current().Stats(),
	}
}
