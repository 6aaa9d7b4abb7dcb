package command

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"

	"github.com/corvusdb/script-runtime/errors"
	"github.com/corvusdb/script-runtime/luaengine"
	"github.com/corvusdb/script-runtime/registry"
)

type memStore struct {
	data map[string]string
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]string)}
}

func (s *memStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memStore) Set(ctx context.Context, key, value string) error {
	s.data[key] = value
	return nil
}

type fakeDirty struct {
	marks int
}

func (d *fakeDirty) MarkDirty() { d.marks++ }

func newTestHandler(t *testing.T) (*Handler, *fakeDirty) {
	t.Helper()

	m := registry.NewManager()
	t.Cleanup(m.Close)

	eng := luaengine.New(luaengine.Config{})
	if _, err := m.RegisterEngine("LUA", eng, newMemStore()); err != nil {
		t.Fatalf("register engine: %v", err)
	}

	dirty := &fakeDirty{}
	return NewHandler(m, Config{Dirty: dirty}), dirty
}

func exec(t *testing.T, h *Handler, argv ...string) any {
	t.Helper()
	res, err := h.Execute(context.Background(), argv)
	if err != nil {
		t.Fatalf("%v: %v", argv, err)
	}
	return res
}

const doubleLib = "#!lua name=mylib\n" +
	"redis.register_function('double', function(keys, args) return tonumber(args[1]) * 2 end)\n"

const readerLib = "#!lua name=reader\n" +
	"redis.register_function{\n" +
	"  function_name = 'peek',\n" +
	"  callback = function(keys, args) return redis.call('GET', keys[1]) end,\n" +
	"  flags = {'no-writes'},\n" +
	"}\n"

func TestLoadAndFCall(t *testing.T) {
	h, dirty := newTestHandler(t)

	res := exec(t, h, "FUNCTION", "LOAD", doubleLib)
	if res != "mylib" {
		t.Fatalf("LOAD reply = %v, want mylib", res)
	}
	if dirty.marks != 1 {
		t.Fatalf("dirty marks after LOAD = %d, want 1", dirty.marks)
	}

	res = exec(t, h, "FCALL", "double", "0", "21")
	if res != int64(42) {
		t.Fatalf("FCALL reply = %v (%T), want 42", res, res)
	}
	if dirty.marks != 2 {
		t.Fatalf("dirty marks after FCALL = %d, want 2", dirty.marks)
	}
}

func TestList(t *testing.T) {
	h, _ := newTestHandler(t)
	exec(t, h, "FUNCTION", "LOAD", doubleLib)

	libs := exec(t, h, "FUNCTION", "LIST").([]LibraryInfo)
	if len(libs) != 1 {
		t.Fatalf("LIST returned %d libraries, want 1", len(libs))
	}
	lib := libs[0]
	if lib.Name != "mylib" || lib.Engine != "LUA" {
		t.Fatalf("library = %+v", lib)
	}
	if len(lib.Functions) != 1 || lib.Functions[0].Name != "double" {
		t.Fatalf("functions = %+v", lib.Functions)
	}
	if lib.Code != "" {
		t.Fatal("code returned without WITHCODE")
	}

	libs = exec(t, h, "FUNCTION", "LIST", "WITHCODE").([]LibraryInfo)
	if libs[0].Code != doubleLib {
		t.Fatalf("WITHCODE code = %q", libs[0].Code)
	}
}

func TestList_Pattern(t *testing.T) {
	h, _ := newTestHandler(t)
	exec(t, h, "FUNCTION", "LOAD", doubleLib)
	exec(t, h, "FUNCTION", "LOAD", readerLib)

	libs := exec(t, h, "FUNCTION", "LIST", "LIBRARYNAME", "my*").([]LibraryInfo)
	if len(libs) != 1 || libs[0].Name != "mylib" {
		t.Fatalf("pattern match = %+v", libs)
	}

	libs = exec(t, h, "FUNCTION", "LIST", "LIBRARYNAME", "nosuch*").([]LibraryInfo)
	if len(libs) != 0 {
		t.Fatalf("pattern match = %+v, want empty", libs)
	}
}

func TestDelete(t *testing.T) {
	h, _ := newTestHandler(t)
	exec(t, h, "FUNCTION", "LOAD", doubleLib)

	if res := exec(t, h, "FUNCTION", "DELETE", "mylib"); res != OK {
		t.Fatalf("DELETE reply = %v", res)
	}
	if libs := exec(t, h, "FUNCTION", "LIST").([]LibraryInfo); len(libs) != 0 {
		t.Fatalf("LIST after DELETE = %+v", libs)
	}

	_, err := h.Execute(context.Background(), []string{"FCALL", "double", "0", "21"})
	if !stderrors.Is(err, errors.FunctionNotFound("")) {
		t.Fatalf("FCALL after DELETE: %v", err)
	}

	_, err = h.Execute(context.Background(), []string{"FUNCTION", "DELETE", "mylib"})
	if !stderrors.Is(err, errors.LibraryNotFound()) {
		t.Fatalf("second DELETE: %v", err)
	}
}

func TestLoad_Errors(t *testing.T) {
	h, _ := newTestHandler(t)

	tests := []struct {
		name string
		code string
		want string
	}{
		{"no_shebang", "return 1", "shebang"},
		{"no_name", "#!lua\nreturn 1", "library name must be specified"},
		{"bad_name", "#!lua name=my-lib\nreturn 1", "letters, numbers, or underscores"},
		{"unknown_engine", "#!javascript name=jslib\nreturn 1", "unknown engine 'javascript'"},
		{"no_functions", "#!lua name=empty\nlocal x = 1", "No functions registered"},
		{"compile_error", "#!lua name=broken\nthis is not lua ((", "Error compiling function"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Execute(context.Background(), []string{"FUNCTION", "LOAD", tt.code})
			if err == nil {
				t.Fatal("LOAD succeeded")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q missing %q", err, tt.want)
			}
		})
	}

	// Failed loads leave no trace in the stats.
	stats := exec(t, h, "FUNCTION", "STATS").(Stats)
	if s := stats.Engines["LUA"]; s.Libraries != 0 || s.Functions != 0 {
		t.Fatalf("stats after failed loads = %+v", s)
	}
}

func TestLoad_ExistsWithoutReplace(t *testing.T) {
	h, _ := newTestHandler(t)
	exec(t, h, "FUNCTION", "LOAD", doubleLib)

	_, err := h.Execute(context.Background(), []string{"FUNCTION", "LOAD", doubleLib})
	if !stderrors.Is(err, errors.LibraryExists("")) {
		t.Fatalf("reload without REPLACE: %v", err)
	}

	// The original library still works.
	if res := exec(t, h, "FCALL", "double", "0", "21"); res != int64(42) {
		t.Fatalf("FCALL after failed reload = %v", res)
	}
}

func TestLoad_Replace(t *testing.T) {
	h, _ := newTestHandler(t)
	exec(t, h, "FUNCTION", "LOAD", doubleLib)

	replacement := "#!lua name=mylib\n" +
		"redis.register_function('double', function(keys, args) return tonumber(args[1]) * 3 end)\n"
	if res := exec(t, h, "FUNCTION", "LOAD", "REPLACE", replacement); res != "mylib" {
		t.Fatalf("REPLACE reply = %v", res)
	}
	if res := exec(t, h, "FCALL", "double", "0", "21"); res != int64(63) {
		t.Fatalf("FCALL after REPLACE = %v", res)
	}
}

func TestStatsAndFlush(t *testing.T) {
	h, dirty := newTestHandler(t)
	exec(t, h, "FUNCTION", "LOAD", doubleLib)
	exec(t, h, "FUNCTION", "LOAD", readerLib)

	stats := exec(t, h, "FUNCTION", "STATS").(Stats)
	if stats.RunningScript != nil {
		t.Fatalf("running script = %+v", stats.RunningScript)
	}
	if s := stats.Engines["LUA"]; s.Libraries != 2 || s.Functions != 2 {
		t.Fatalf("stats = %+v", s)
	}

	marks := dirty.marks
	if res := exec(t, h, "FUNCTION", "FLUSH"); res != OK {
		t.Fatalf("FLUSH reply = %v", res)
	}
	if dirty.marks != marks+1 {
		t.Fatal("FLUSH did not mark dirty")
	}

	if libs := exec(t, h, "FUNCTION", "LIST").([]LibraryInfo); len(libs) != 0 {
		t.Fatalf("LIST after FLUSH = %+v", libs)
	}
	stats = exec(t, h, "FUNCTION", "STATS").(Stats)
	if s := stats.Engines["LUA"]; s.Libraries != 0 || s.Functions != 0 {
		t.Fatalf("stats after FLUSH = %+v", s)
	}

	// FLUSH of an empty registry is still a write.
	marks = dirty.marks
	exec(t, h, "FUNCTION", "FLUSH", "ASYNC")
	if dirty.marks != marks+1 {
		t.Fatal("FLUSH of empty registry did not mark dirty")
	}

	_, err := h.Execute(context.Background(), []string{"FUNCTION", "FLUSH", "LATER"})
	if err == nil || !strings.Contains(err.Error(), "SYNC|ASYNC") {
		t.Fatalf("FLUSH LATER: %v", err)
	}
}

func TestFCallRO(t *testing.T) {
	h, dirty := newTestHandler(t)
	exec(t, h, "FUNCTION", "LOAD", doubleLib)
	exec(t, h, "FUNCTION", "LOAD", readerLib)

	// double has no no-writes flag.
	_, err := h.Execute(context.Background(), []string{"FCALL_RO", "double", "0", "21"})
	if !stderrors.Is(err, errors.ReadOnly()) {
		t.Fatalf("FCALL_RO on writing function: %v", err)
	}

	marks := dirty.marks
	res := exec(t, h, "FCALL_RO", "peek", "1", "nokey")
	if res != false {
		t.Fatalf("FCALL_RO peek = %v, want false for missing key", res)
	}
	if dirty.marks != marks {
		t.Fatal("read-only call marked dirty")
	}

	// FCALL of a no-writes function does not mark dirty either.
	exec(t, h, "FCALL", "peek", "1", "nokey")
	if dirty.marks != marks {
		t.Fatal("FCALL of no-writes function marked dirty")
	}
}

func TestFCall_Validation(t *testing.T) {
	h, _ := newTestHandler(t)
	exec(t, h, "FUNCTION", "LOAD", doubleLib)

	tests := []struct {
		name string
		argv []string
		want string
	}{
		{"missing_numkeys", []string{"FCALL", "double"}, "wrong number of arguments"},
		{"numkeys_not_int", []string{"FCALL", "double", "abc"}, "not an integer"},
		{"numkeys_negative", []string{"FCALL", "double", "-1"}, "can't be negative"},
		{"numkeys_too_big", []string{"FCALL", "double", "2", "onlykey"}, "greater than number of args"},
		{"not_found", []string{"FCALL", "nosuch", "0"}, "Function 'nosuch' not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Execute(context.Background(), tt.argv)
			if err == nil {
				t.Fatal("FCALL succeeded")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q missing %q", err, tt.want)
			}
		})
	}
}

func TestDumpRestoreRoundtrip(t *testing.T) {
	h, _ := newTestHandler(t)
	exec(t, h, "FUNCTION", "LOAD", doubleLib)
	exec(t, h, "FUNCTION", "LOAD", readerLib)

	payload := exec(t, h, "FUNCTION", "DUMP").(string)
	exec(t, h, "FUNCTION", "FLUSH")
	if libs := exec(t, h, "FUNCTION", "LIST").([]LibraryInfo); len(libs) != 0 {
		t.Fatal("registry not empty after FLUSH")
	}

	if res := exec(t, h, "FUNCTION", "RESTORE", payload, "FLUSH"); res != OK {
		t.Fatalf("RESTORE reply = %v", res)
	}

	libs := exec(t, h, "FUNCTION", "LIST").([]LibraryInfo)
	if len(libs) != 2 {
		t.Fatalf("LIST after RESTORE = %+v", libs)
	}
	if libs[0].Name != "mylib" || libs[1].Name != "reader" {
		t.Fatalf("restored libraries = %s, %s", libs[0].Name, libs[1].Name)
	}
	if res := exec(t, h, "FCALL", "double", "0", "21"); res != int64(42) {
		t.Fatalf("FCALL after RESTORE = %v", res)
	}
}

func TestRestore_AppendSkipsExisting(t *testing.T) {
	h, _ := newTestHandler(t)
	exec(t, h, "FUNCTION", "LOAD", doubleLib)
	payload := exec(t, h, "FUNCTION", "DUMP").(string)

	replacement := "#!lua name=mylib\n" +
		"redis.register_function('double', function(keys, args) return tonumber(args[1]) * 3 end)\n"
	exec(t, h, "FUNCTION", "LOAD", "REPLACE", replacement)

	// Default policy keeps the live library.
	exec(t, h, "FUNCTION", "RESTORE", payload)
	if res := exec(t, h, "FCALL", "double", "0", "21"); res != int64(63) {
		t.Fatalf("APPEND overwrote existing library: FCALL = %v", res)
	}

	// REPLACE policy overwrites it.
	exec(t, h, "FUNCTION", "RESTORE", payload, "REPLACE")
	if res := exec(t, h, "FCALL", "double", "0", "21"); res != int64(42) {
		t.Fatalf("REPLACE did not overwrite: FCALL = %v", res)
	}
}

func TestRestore_BestEffort(t *testing.T) {
	h, _ := newTestHandler(t)

	// A broken record between two good ones only loses itself.
	payload := "LUA\ngood1\n#!lua name=good1\nredis.register_function('f1', function() return 1 end)\n---\n" +
		"LUA\nbad\n#!lua name=bad\nthis is not lua ((\n---\n" +
		"LUA\ngood2\n#!lua name=good2\nredis.register_function('f2', function() return 2 end)\n---\n"

	if res := exec(t, h, "FUNCTION", "RESTORE", payload); res != OK {
		t.Fatalf("RESTORE reply = %v", res)
	}
	libs := exec(t, h, "FUNCTION", "LIST").([]LibraryInfo)
	if len(libs) != 2 || libs[0].Name != "good1" || libs[1].Name != "good2" {
		t.Fatalf("restored = %+v", libs)
	}
}

func TestDecodeDump_IgnoresTrailingGarbage(t *testing.T) {
	payload := "LUA\nlib1\ncode line\n---\nLUA\npartial"
	records := decodeDump(payload)
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	if records[0].library != "lib1" || records[0].code != "code line" {
		t.Fatalf("record = %+v", records[0])
	}
}

func TestKill(t *testing.T) {
	h, _ := newTestHandler(t)

	_, err := h.Execute(context.Background(), []string{"FUNCTION", "KILL"})
	if !stderrors.Is(err, errors.NoScript()) {
		t.Fatalf("KILL: %v", err)
	}
}

func TestUnknownSubcommand(t *testing.T) {
	h, _ := newTestHandler(t)

	_, err := h.Execute(context.Background(), []string{"FUNCTION", "BOGUS"})
	if err == nil || !strings.Contains(err.Error(), "Unknown subcommand") {
		t.Fatalf("FUNCTION BOGUS: %v", err)
	}
}

func TestStoreBridgeThroughFCall(t *testing.T) {
	h, _ := newTestHandler(t)

	code := "#!lua name=kv\n" +
		"redis.register_function('put', function(keys, args)\n" +
		"  redis.call('SET', keys[1], args[1])\n" +
		"  return redis.status_reply('OK')\n" +
		"end)\n" +
		"redis.register_function{function_name='get', callback=function(keys, args)\n" +
		"  return redis.call('GET', keys[1])\n" +
		"end, flags={'no-writes'}}\n"
	exec(t, h, "FUNCTION", "LOAD", code)

	if res := exec(t, h, "FCALL", "put", "1", "greeting", "hello"); res != "OK" {
		t.Fatalf("put = %v", res)
	}
	if res := exec(t, h, "FCALL_RO", "get", "1", "greeting"); res != "hello" {
		t.Fatalf("get = %v", res)
	}
}
