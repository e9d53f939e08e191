package extract

import (
	"context"
	"go/ast"
	"go/parser"
	"go/token"
)

// GoStrategy walks Go sources with the standard library parser. Function and
// method declarations become function units; type specs become interface or
// type units. A source that does not parse yields an error and no units.
type GoStrategy struct{}

func (GoStrategy) Kind() StrategyKind { return KindNative }

func (GoStrategy) Extract(_ context.Context, src []byte) ([]CodeUnit, error) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "", src, parser.SkipObjectResolution)
	if err != nil {
		return nil, err
	}
	tf := fset.File(f.Pos())

	var units []CodeUnit
	emit := func(n ast.Node, name string, kind UnitType) {
		start, end := tf.Offset(n.Pos()), tf.Offset(n.End())
		if start < 0 || end > len(src) || start >= end {
			return
		}
		units = append(units, CodeUnit{
			Code:      string(src[start:end]),
			Type:      kind,
			Name:      name,
			LineStart: tf.Line(n.Pos()),
			LineEnd:   tf.Line(n.End()),
		})
	}

	ast.Inspect(f, func(n ast.Node) bool {
		switch d := n.(type) {
		case *ast.FuncDecl:
			emit(d, d.Name.Name, Function)
		case *ast.GenDecl:
			if d.Tok != token.TYPE {
				return true
			}
			for _, spec := range d.Specs {
				ts, ok := spec.(*ast.TypeSpec)
				if !ok {
					continue
				}
				kind := Type
				if _, ok := ts.Type.(*ast.InterfaceType); ok {
					kind = Interface
				}
				// Ungrouped declarations keep the "type" keyword.
				var node ast.Node = ts
				if !d.Lparen.IsValid() {
					node = d
				}
				emit(node, ts.Name.Name, kind)
			}
		}
		return true
	})
	return units, nil
}
