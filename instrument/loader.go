package instrument

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/petrel-dev/petrel/core"
	"github.com/petrel-dev/petrel/lang"
	"github.com/petrel-dev/petrel/lang/bytecode"
	"github.com/petrel-dev/petrel/lang/compile"
	"github.com/petrel-dev/petrel/lang/vm"
)

// Finder resolves module identifiers to source text. The default
// implementation reads <name>.sl files under a project root.
type Finder interface {
	Find(name string) (src string, err error)
}

// DirFinder resolves modules against a project directory.
type DirFinder struct {
	Root string
}

// Find implements Finder.
func (f DirFinder) Find(name string) (string, error) {
	path := filepath.Join(f.Root, strings.ReplaceAll(name, ".", string(filepath.Separator))+".sl")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("resolve module %q: %w", name, err)
	}
	return string(data), nil
}

// MemFinder serves modules from memory, used by fixtures and tests.
type MemFinder map[string]string

// Find implements Finder.
func (f MemFinder) Find(name string) (string, error) {
	src, ok := f[name]
	if !ok {
		return "", fmt.Errorf("unknown module %q", name)
	}
	return src, nil
}

// Loader intercepts module loading: the target module (and transitively
// resolved source modules) pass through the full adapter chain, while
// excluded modules receive only the unwrap adapter. Instrumented
// bytecode is cached in memory only, keyed by module and version.
type Loader struct {
	isa      bytecode.ISA
	finder   Finder
	chain    *Chain
	excluded []string
	cache    *lru.Cache[string, *bytecode.Code]
}

// NewLoader builds a loader over the given adapter chain. excludeModules
// names modules that must not receive coverage instrumentation.
func NewLoader(isa bytecode.ISA, finder Finder, chain *Chain, excludeModules []string) (*Loader, error) {
	cache, err := lru.New[string, *bytecode.Code](64)
	if err != nil {
		return nil, err
	}
	return &Loader{isa: isa, finder: finder, chain: chain, excluded: excludeModules, cache: cache}, nil
}

func (l *Loader) intercepts(name string) bool {
	for _, ex := range l.excluded {
		if ex == name || strings.HasPrefix(name, ex+".") {
			return false
		}
	}
	return true
}

// Compile parses, compiles and instruments the named module without
// executing it.
func (l *Loader) Compile(name string) (*bytecode.Code, error) {
	key := fmt.Sprintf("%s@v%d", name, l.isa.Version())
	if code, ok := l.cache.Get(key); ok {
		return code, nil
	}
	src, err := l.finder.Find(name)
	if err != nil {
		return nil, &core.SetupError{Stage: "import", Err: err}
	}
	mod, nocover, err := lang.Parse(name, src)
	if err != nil {
		return nil, &core.SetupError{Stage: "parse", Err: err}
	}
	code, err := compile.Module(mod)
	if err != nil {
		return nil, &core.SetupError{Stage: "compile", Err: err}
	}
	if l.intercepts(name) {
		chain := l.chain
		if la := findLineAdapter(chain); la != nil {
			la.excluded = nocover
		}
		if err := chain.InstrumentModule(code); err != nil {
			return nil, &core.SetupError{Stage: "instrument", Err: err}
		}
	} else {
		// Non-target modules still need proxy hygiene on native calls.
		unwrapOnly, err := NewChain(l.isa, l.chain.registry, NewUnwrapAdapter())
		if err != nil {
			return nil, &core.SetupError{Stage: "instrument", Err: err}
		}
		if err := unwrapOnly.InstrumentModule(code); err != nil {
			return nil, &core.SetupError{Stage: "instrument", Err: err}
		}
	}
	l.cache.Add(key, code)
	return code, nil
}

// Load compiles the module and executes its top level under the given
// hook, yielding the live module namespace.
func (l *Loader) Load(name string, hook vm.TraceHook) (*vm.Module, error) {
	code, err := l.Compile(name)
	if err != nil {
		return nil, err
	}
	machine := vm.New()
	machine.Hook = hook
	module, err := machine.ExecModule(name, code)
	if err != nil {
		return nil, &core.SetupError{Stage: "import", Err: err}
	}
	return module, nil
}

// Evict drops the cached bytecode of a module, forcing the next Load
// to recompile. Mutation analysis uses this when installing mutants.
func (l *Loader) Evict(name string) {
	l.cache.Remove(fmt.Sprintf("%s@v%d", name, l.isa.Version()))
}

func findLineAdapter(c *Chain) *LineAdapter {
	for _, a := range c.adapters {
		if la, ok := a.(*LineAdapter); ok {
			return la
		}
	}
	return nil
}
