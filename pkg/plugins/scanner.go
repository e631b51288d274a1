package plugins

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ajitpratap0/wealthsync/pkg/errors"
)

// Imports a plugin may not use.
var deniedImports = map[string]string{
	"os/exec":      "process spawning",
	"syscall":      "raw system calls",
	"unsafe":       "unchecked memory access",
	"plugin":       "nested dynamic loading",
	"encoding/gob": "arbitrary type decoding",
	"runtime/cgo":  "native code",
	"C":            "native code",
	"net":          "raw sockets",
}

// Calls a plugin may not make, keyed by package path then function.
var deniedCalls = map[string]map[string]bool{
	"os":      {"StartProcess": true},
	"syscall": {"Exec": true, "ForkExec": true},
	"reflect": {"NewAt": true},
}

// ConnectorMethods is the method set a plugin connector type must cover.
var ConnectorMethods = []string{"Metadata", "Authenticate", "Holdings", "Transactions", "HealthCheck", "Disconnect"}

// Methods a connector usually inherits from an embedded base.
var promotable = map[string]bool{"Metadata": true, "HealthCheck": true, "Disconnect": true}

type sourceSet struct {
	fset  *token.FileSet
	files []*ast.File
}

// parseDir parses every non-test Go file of dir with comments.
func parseDir(dir string) (*sourceSet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	s := &sourceSet{fset: token.NewFileSet()}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(s.fset, filepath.Join(dir, name), nil, parser.ParseComments)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypePluginValidation, "plugin source does not parse")
		}
		s.files = append(s.files, f)
	}
	if len(s.files) == 0 {
		return nil, errors.NewPluginValidation(fmt.Sprintf("no Go source in %s", dir))
	}
	return s, nil
}

// Scan runs the safety scan over a plugin directory and returns one issue
// per offending construct. A nil slice means the package passed.
func Scan(dir string) ([]string, error) {
	src, err := parseDir(dir)
	if err != nil {
		return nil, err
	}
	return src.scan(), nil
}

func (s *sourceSet) scan() []string {
	var issues []string
	for _, f := range s.files {
		aliases := map[string]string{}
		for _, imp := range f.Imports {
			path, _ := strconv.Unquote(imp.Path.Value)
			if reason, denied := deniedImports[path]; denied {
				issues = append(issues, fmt.Sprintf("%s: import %q is not allowed (%s)", s.pos(imp.Pos()), path, reason))
			}
			local := path[strings.LastIndex(path, "/")+1:]
			if imp.Name != nil {
				local = imp.Name.Name
			}
			aliases[local] = path
		}

		for _, group := range f.Comments {
			for _, c := range group.List {
				if strings.HasPrefix(c.Text, "//go:linkname") {
					issues = append(issues, fmt.Sprintf("%s: go:linkname directive is not allowed", s.pos(c.Pos())))
				}
			}
		}

		ast.Inspect(f, func(n ast.Node) bool {
			call, ok := n.(*ast.CallExpr)
			if !ok {
				return true
			}
			sel, ok := call.Fun.(*ast.SelectorExpr)
			if !ok {
				return true
			}
			pkg, ok := sel.X.(*ast.Ident)
			if !ok {
				return true
			}
			path, imported := aliases[pkg.Name]
			if imported && deniedCalls[path][sel.Sel.Name] {
				issues = append(issues, fmt.Sprintf("%s: call to %s.%s is not allowed", s.pos(call.Pos()), path, sel.Sel.Name))
			}
			return true
		})
	}
	return issues
}

func (s *sourceSet) pos(p token.Pos) string {
	position := s.fset.Position(p)
	return fmt.Sprintf("%s:%d", filepath.Base(position.Filename), position.Line)
}

// connectorType finds the single exported type whose methods cover the
// connector contract. Metadata, HealthCheck and Disconnect may be promoted
// from an embedded field; the rest must be declared on the type.
func (s *sourceSet) connectorType() (string, error) {
	methods := map[string]map[string]bool{}
	embeds := map[string]bool{}

	for _, f := range s.files {
		for _, decl := range f.Decls {
			switch d := decl.(type) {
			case *ast.FuncDecl:
				if d.Recv == nil || len(d.Recv.List) == 0 {
					continue
				}
				recv := receiverName(d.Recv.List[0].Type)
				if recv == "" {
					continue
				}
				if methods[recv] == nil {
					methods[recv] = map[string]bool{}
				}
				methods[recv][d.Name.Name] = true
			case *ast.GenDecl:
				for _, spec := range d.Specs {
					ts, ok := spec.(*ast.TypeSpec)
					if !ok {
						continue
					}
					st, ok := ts.Type.(*ast.StructType)
					if !ok {
						continue
					}
					for _, field := range st.Fields.List {
						if len(field.Names) == 0 {
							embeds[ts.Name.Name] = true
						}
					}
				}
			}
		}
	}

	var candidates []string
	for typ, have := range methods {
		if !ast.IsExported(typ) {
			continue
		}
		covered := true
		for _, m := range ConnectorMethods {
			if !have[m] && !(promotable[m] && embeds[typ]) {
				covered = false
				break
			}
		}
		if covered {
			candidates = append(candidates, typ)
		}
	}
	sort.Strings(candidates)

	switch len(candidates) {
	case 0:
		return "", errors.NewPluginLoad("no connector type found")
	case 1:
		return candidates[0], nil
	default:
		return "", errors.NewPluginLoad(fmt.Sprintf("ambiguous connector types: %s", strings.Join(candidates, ", ")))
	}
}

func receiverName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverName(t.X)
	case *ast.Ident:
		return t.Name
	case *ast.IndexExpr:
		return receiverName(t.X)
	case *ast.IndexListExpr:
		return receiverName(t.X)
	}
	return ""
}
