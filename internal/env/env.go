package env

import (
	"os"
	"strings"
)

// Env composes the environment handed to spawned managed processes: the
// warden process environment as the base, global extras from config layered
// on top, then per-process pairs. Values may reference other variables as
// ${VAR}; a single expansion pass runs over the composed map (no recursion).

type Env struct {
	extras map[string]string
	base   map[string]string // cached snapshot of the OS environment
}

func New() *Env {
	return &Env{extras: make(map[string]string)}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k := kv[:i]
			if k == "" {
				continue
			}
			base[k] = kv[i+1:]
		}
	}
	e.base = base
}

// Set adds or overrides a global extra K=V.
func (e *Env) Set(k, v string) {
	if e.extras == nil {
		e.extras = make(map[string]string)
	}
	e.extras[k] = v
}

// SetPairs adds global extras from "K=V" strings; malformed pairs are skipped.
func (e *Env) SetPairs(pairs []string) {
	for _, kv := range pairs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			e.Set(kv[:i], kv[i+1:])
		}
	}
}

// Merge composes the final environment list. Order: cached OS base, then
// global extras, then perProc overrides. Returns "K=V" form with ${VAR}
// expansion applied using the composed map.
func (e *Env) Merge(perProc []string) []string {
	if e.base == nil {
		e.FromOS()
	}
	m := make(map[string]string, len(e.base)+len(e.extras)+len(perProc))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.extras {
		if k == "" {
			continue
		}
		m[k] = v
	}
	for _, kv := range perProc {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	return out
}

func expand(s string, m map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	res := s
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}
