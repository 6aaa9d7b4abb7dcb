package luaengine

import (
	"math"

	lua "github.com/yuin/gopher-lua"

	"github.com/corvusdb/script-runtime/errors"
)

func stringsToTable(L *lua.LState, vals []string) *lua.LTable {
	tbl := L.NewTable()
	for i, v := range vals {
		L.RawSetInt(tbl, i+1, lua.LString(v))
	}
	return tbl
}

// luaToResult converts a function's return value into the command reply.
// The redis scripting conventions apply: {err = msg} is a runtime error,
// {ok = msg} is a status string.
func luaToResult(v lua.LValue) (any, error) {
	if tbl, ok := v.(*lua.LTable); ok {
		if msg, ok := tbl.RawGetString("err").(lua.LString); ok {
			return nil, errors.Runtime(string(msg), nil)
		}
		if msg, ok := tbl.RawGetString("ok").(lua.LString); ok {
			return string(msg), nil
		}
	}
	return luaToGo(v), nil
}

func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		f := float64(val)
		if f == math.Trunc(f) && f >= math.MinInt64 && f <= math.MaxInt64 {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(val)
	case *lua.LTable:
		return tableToGo(val)
	default:
		return val.String()
	}
}

// tableToGo maps a table with a contiguous array part to a slice, anything
// else to a string-keyed map. An empty table is an empty slice, matching how
// the protocol layer replies with arrays.
func tableToGo(tbl *lua.LTable) any {
	n := tbl.Len()
	if n > 0 {
		arr := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			arr = append(arr, luaToGo(tbl.RawGetInt(i)))
		}
		return arr
	}

	m := make(map[string]any)
	tbl.ForEach(func(k, v lua.LValue) {
		if ks, ok := k.(lua.LString); ok {
			m[string(ks)] = luaToGo(v)
		}
	})
	if len(m) == 0 {
		return []any{}
	}
	return m
}
