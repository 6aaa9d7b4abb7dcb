package command

import (
	"strings"

	"github.com/corvusdb/script-runtime/errors"
	"github.com/corvusdb/script-runtime/registry"
)

// parseShebang extracts the engine and library name from the metadata
// header that must open every library: "#!<engine> name=<library>".
// Tokens other than name= are ignored for forward compatibility.
func parseShebang(code string) (engine, library string, err error) {
	if len(code) < 5 || !strings.HasPrefix(code, "#!") {
		return "", "", errors.Syntax(errors.PhaseParse, "library code must start with shebang statement")
	}

	eol := strings.IndexByte(code, '\n')
	if eol < 0 {
		return "", "", errors.Syntax(errors.PhaseParse, "missing library metadata")
	}
	line := strings.TrimSuffix(code[2:eol], "\r")

	engine, rest, hasMeta := strings.Cut(line, " ")
	if hasMeta {
		if _, after, ok := strings.Cut(rest, "name="); ok {
			library = after
			if i := strings.IndexAny(library, " \t"); i >= 0 {
				library = library[:i]
			}
		}
	}
	if library == "" {
		return "", "", errors.Syntax(errors.PhaseParse, "library name must be specified in shebang")
	}
	if !registry.ValidName(library) {
		return "", "", errors.InvalidLibraryName()
	}
	return engine, library, nil
}
