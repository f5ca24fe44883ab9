// Package loader loads a function's handler artifact by interpreting it
// in-process with yaegi, producing a fresh callable on every reload so
// stale versions are never retained.
package loader

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"faasd/internal/invocation"
	"faasd/internal/logging"
)

// Error reports why a handler artifact could not be loaded.
type Error struct {
	Function string
	Artifact string
	Reason   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("load %s/%s: %s", e.Function, e.Artifact, e.Reason)
}

// Loaded is the callable produced from one handler artifact. Exactly one
// of HTTP or Job is set, depending on the exported function's signature.
type Loaded struct {
	HTTP invocation.HTTPHandler
	Job  invocation.JobHandler
}

// Config configures a Loader.
type Config struct {
	// Logger is scoped with "component": "loader". Nil discards.
	Logger *slog.Logger
}

// Loader interprets .go handler artifacts. Each Load call creates a fresh
// yaegi interpreter, so there is no artifact cache to invalidate: a new
// generation always gets a clean evaluation.
type Loader struct {
	logger *slog.Logger
}

// New creates a Loader from cfg.
func New(cfg Config) *Loader {
	return &Loader{logger: logging.Default(cfg.Logger).With("component", "loader")}
}

// Load reads, parses, and interprets the handler artifact at
// filepath.Join(dir, artifact) for function, returning a fresh callable.
func (l *Loader) Load(function, dir, artifact string) (*Loaded, error) {
	if ext := filepath.Ext(artifact); ext != ".go" {
		return nil, &Error{Function: function, Artifact: artifact, Reason: fmt.Sprintf("unsupported artifact extension %q (only .go handlers are interpreted)", ext)}
	}

	path := filepath.Join(dir, artifact)
	src, err := os.ReadFile(path) //nolint:gosec // dir is operator-controlled
	if err != nil {
		return nil, &Error{Function: function, Artifact: artifact, Reason: fmt.Sprintf("read: %v", err)}
	}

	pkgName, handlerName, err := singleExportedFunc(path, src)
	if err != nil {
		return nil, &Error{Function: function, Artifact: artifact, Reason: err.Error()}
	}

	i := interp.New(interp.Options{GoPath: dir})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, &Error{Function: function, Artifact: artifact, Reason: fmt.Sprintf("load stdlib symbols: %v", err)}
	}
	if err := i.Use(invocationSymbols); err != nil {
		return nil, &Error{Function: function, Artifact: artifact, Reason: fmt.Sprintf("load invocation symbols: %v", err)}
	}

	if _, err := i.Eval(string(src)); err != nil {
		return nil, &Error{Function: function, Artifact: artifact, Reason: fmt.Sprintf("evaluation failed: %v", err)}
	}

	raw, err := i.Eval(pkgName + "." + handlerName)
	if err != nil {
		return nil, &Error{Function: function, Artifact: artifact, Reason: fmt.Sprintf("resolve %s: %v", handlerName, err)}
	}

	if fn, ok := raw.Interface().(func(*invocation.Request, invocation.Response) error); ok {
		return &Loaded{HTTP: fn}, nil
	}
	if fn, ok := raw.Interface().(func(*invocation.Job) error); ok {
		return &Loaded{Job: fn}, nil
	}

	return nil, &Error{
		Function: function,
		Artifact: artifact,
		Reason: fmt.Sprintf(
			"%s has an unsupported signature %s (want func(*invocation.Request, invocation.Response) error or func(*invocation.Job) error)",
			handlerName, raw.Type(),
		),
	}
}

// singleExportedFunc parses src and returns the package name and the name
// of its single top-level exported function. More or fewer than one such
// function is a load error, per §4.4.
func singleExportedFunc(path string, src []byte) (pkgName, funcName string, err error) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, path, src, parser.ParseComments)
	if err != nil {
		return "", "", fmt.Errorf("parse: %w", err)
	}

	var exported []string
	for _, decl := range f.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv != nil {
			continue
		}
		if fn.Name.IsExported() {
			exported = append(exported, fn.Name.Name)
		}
	}

	switch len(exported) {
	case 0:
		return "", "", fmt.Errorf("no exported handler function found")
	case 1:
		return f.Name.Name, exported[0], nil
	default:
		return "", "", fmt.Errorf("expected exactly one exported handler function, found %d: %s", len(exported), strings.Join(exported, ", "))
	}
}

// invocationSymbols exposes the faasd/internal/invocation package to
// interpreted handler code, the way stdlib.Symbols exposes the standard
// library — a hand-built table since the symbols extractor is a toolchain
// step we can't run against our own module.
var invocationSymbols = interp.Exports{
	"faasd/internal/invocation/invocation": {
		"Request":    reflect.ValueOf((*invocation.Request)(nil)),
		"Response":   reflect.ValueOf((*invocation.Response)(nil)),
		"Job":        reflect.ValueOf((*invocation.Job)(nil)),
		"HTTPHandler": reflect.ValueOf((*invocation.HTTPHandler)(nil)),
		"JobHandler":  reflect.ValueOf((*invocation.JobHandler)(nil)),
	},
}
