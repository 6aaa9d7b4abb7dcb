package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/corvusdb/script-runtime/command"
	"github.com/corvusdb/script-runtime/luaengine"
	"github.com/corvusdb/script-runtime/registry"
	"github.com/corvusdb/script-runtime/wasmengine"
)

func main() {
	var (
		libFiles    = flag.String("lib", "", "Library files to load at startup (comma-separated)")
		execCmd     = flag.String("exec", "", "Command to execute, e.g. 'FCALL double 0 21'")
		list        = flag.Bool("list", false, "List loaded libraries and exit")
		interactive = flag.Bool("i", false, "Interactive console")
		verbose     = flag.Bool("verbose", false, "Log to stderr")
	)
	flag.Parse()

	if *execCmd == "" && !*list && !*interactive {
		fmt.Fprintln(os.Stderr, "Usage: functions -lib <file.lua,...> -exec '<command>'")
		fmt.Fprintln(os.Stderr, "       functions -lib <file.lua,...> -list")
		fmt.Fprintln(os.Stderr, "       functions -i  (interactive console)")
		os.Exit(1)
	}

	h, m, err := newRuntime(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer m.Close()

	ctx := context.Background()
	for _, file := range splitList(*libFiles) {
		if err := loadFile(ctx, h, file); err != nil {
			fmt.Fprintf(os.Stderr, "Error: load %s: %v\n", file, err)
			os.Exit(1)
		}
	}

	if *interactive {
		if err := runInteractive(h); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *list {
		res, err := h.Execute(ctx, []string{"FUNCTION", "LIST"})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(formatReply(res))
		return
	}

	argv := splitCommand(*execCmd)
	res, err := h.Execute(ctx, argv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(formatReply(res))
}

// newRuntime wires the manager, both engines, an in-memory store, and
// the command handler.
func newRuntime(verbose bool) (*command.Handler, *registry.Manager, error) {
	log := zap.NewNop()
	if verbose {
		var err error
		log, err = zap.NewDevelopment()
		if err != nil {
			return nil, nil, err
		}
	}

	m := registry.NewManager()
	store := newMemStore()

	if _, err := m.RegisterEngine("LUA", luaengine.New(luaengine.Config{Logger: log}), store); err != nil {
		return nil, nil, err
	}
	wasmEng, err := wasmengine.New(context.Background(), wasmengine.Config{Logger: log})
	if err != nil {
		return nil, nil, err
	}
	if _, err := m.RegisterEngine("WASM", wasmEng, store); err != nil {
		return nil, nil, err
	}

	return command.NewHandler(m, command.Config{Logger: log}), m, nil
}

func loadFile(ctx context.Context, h *command.Handler, file string) error {
	code, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	_, err = h.Execute(ctx, []string{"FUNCTION", "LOAD", "REPLACE", string(code)})
	return err
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// splitCommand splits a command line into argv, honoring single and
// double quotes so inline code can be passed to LOAD.
func splitCommand(line string) []string {
	var argv []string
	var cur strings.Builder
	var quote byte
	pending := false

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				cur.WriteByte(c)
			}
		case c == '\'' || c == '"':
			quote = c
			pending = true
		case c == ' ' || c == '\t':
			if pending || cur.Len() > 0 {
				argv = append(argv, cur.String())
				cur.Reset()
				pending = false
			}
		default:
			cur.WriteByte(c)
		}
	}
	if pending || cur.Len() > 0 {
		argv = append(argv, cur.String())
	}
	return argv
}

// formatReply renders a command reply the way a redis-cli user would
// expect to read it.
func formatReply(res any) string {
	var b strings.Builder
	writeReply(&b, res, 0)
	return b.String()
}

func writeReply(b *strings.Builder, res any, indent int) {
	pad := strings.Repeat("  ", indent)
	switch v := res.(type) {
	case nil:
		fmt.Fprintf(b, "%s(nil)\n", pad)
	case []command.LibraryInfo:
		if len(v) == 0 {
			fmt.Fprintf(b, "%s(empty list)\n", pad)
			return
		}
		for _, lib := range v {
			fmt.Fprintf(b, "%s%s [%s]\n", pad, lib.Name, lib.Engine)
			for _, fn := range lib.Functions {
				line := fn.Name
				if fn.Description != "" {
					line += " - " + fn.Description
				}
				if len(fn.Flags) > 0 {
					line += " (" + strings.Join(fn.Flags, ", ") + ")"
				}
				fmt.Fprintf(b, "%s  %s\n", pad, line)
			}
			if lib.Code != "" {
				fmt.Fprintf(b, "%s  code: %d bytes\n", pad, len(lib.Code))
			}
		}
	case command.Stats:
		running := "(none)"
		if v.RunningScript != nil {
			running = v.RunningScript.Name
		}
		fmt.Fprintf(b, "%srunning_script: %s\n", pad, running)
		names := make([]string, 0, len(v.Engines))
		for name := range v.Engines {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			s := v.Engines[name]
			fmt.Fprintf(b, "%s%s: libraries=%d functions=%d\n", pad, name, s.Libraries, s.Functions)
		}
	case []any:
		if len(v) == 0 {
			fmt.Fprintf(b, "%s(empty list)\n", pad)
			return
		}
		for _, item := range v {
			writeReply(b, item, indent)
		}
	default:
		fmt.Fprintf(b, "%s%v\n", pad, v)
	}
}

// memStore is the in-process key-value store scripts read and write.
type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]string)}
}

func (s *memStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}
