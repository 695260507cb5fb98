// Package deepparse extracts structural facts from Go source with
// tree-sitter. It backs the receiver-binding fallback for code the lexical
// extractor's line patterns cannot see: multi-line declarations, receivers
// produced by constructors, and value receivers with unusual spacing.
package deepparse

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
)

// MethodFact is one method declaration: its name and receiver binding.
type MethodFact struct {
	Name         string
	ReceiverVar  string
	ReceiverType string
	Line         int
}

// ConstructorFact maps a function name to the struct type it returns, for
// resolving receivers assigned from constructor calls.
type ConstructorFact struct {
	Name       string
	ReturnType string
	Line       int
}

// FuncFact is a plain function declaration.
type FuncFact struct {
	Name   string
	IsTest bool
	Line   int
}

// FileFacts holds everything ParseFile found in one file.
type FileFacts struct {
	Methods      []MethodFact
	Constructors []ConstructorFact
	Funcs        []FuncFact
}

const methodQuery = `(method_declaration
  receiver: (parameter_list
    (parameter_declaration
      name: (identifier) @recv.var
      type: [
        (type_identifier) @recv.type
        (pointer_type (type_identifier) @recv.type)
      ]))
  name: (field_identifier) @method.name)`

const funcQuery = `(function_declaration
  name: (identifier) @func.name) @func.decl`

// ParseFile parses src and collects method, function, and constructor facts.
func ParseFile(ctx context.Context, src []byte) (*FileFacts, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(golang.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse: %w", err)
	}
	defer tree.Close()
	root := tree.RootNode()

	facts := &FileFacts{}
	if err := collectMethods(root, src, facts); err != nil {
		return nil, err
	}
	if err := collectFuncs(root, src, facts); err != nil {
		return nil, err
	}
	return facts, nil
}

func collectMethods(root *sitter.Node, src []byte, facts *FileFacts) error {
	return eachMatch(root, src, methodQuery, func(captures map[string]*sitter.Node) {
		nameNode := captures["method.name"]
		varNode := captures["recv.var"]
		typeNode := captures["recv.type"]
		if nameNode == nil || varNode == nil || typeNode == nil {
			return
		}
		facts.Methods = append(facts.Methods, MethodFact{
			Name:         nameNode.Content(src),
			ReceiverVar:  varNode.Content(src),
			ReceiverType: typeNode.Content(src),
			Line:         int(nameNode.StartPoint().Row) + 1,
		})
	})
}

func collectFuncs(root *sitter.Node, src []byte, facts *FileFacts) error {
	return eachMatch(root, src, funcQuery, func(captures map[string]*sitter.Node) {
		nameNode := captures["func.name"]
		decl := captures["func.decl"]
		if nameNode == nil || decl == nil {
			return
		}
		name := nameNode.Content(src)
		line := int(nameNode.StartPoint().Row) + 1

		facts.Funcs = append(facts.Funcs, FuncFact{
			Name:   name,
			IsTest: strings.HasPrefix(name, "Test") || strings.HasPrefix(name, "testAcc"),
			Line:   line,
		})

		if ret := constructorReturnType(decl, src); ret != "" {
			facts.Constructors = append(facts.Constructors, ConstructorFact{
				Name:       name,
				ReturnType: ret,
				Line:       line,
			})
		}
	})
}

// constructorReturnType returns the named struct type a function returns, or
// "" when the result is absent, multiple, or not a plain (pointer to) named
// type.
func constructorReturnType(decl *sitter.Node, src []byte) string {
	result := decl.ChildByFieldName("result")
	if result == nil {
		return ""
	}
	switch result.Type() {
	case "type_identifier":
		return result.Content(src)
	case "pointer_type":
		if inner := result.NamedChild(0); inner != nil && inner.Type() == "type_identifier" {
			return inner.Content(src)
		}
	}
	return ""
}

// eachMatch runs a query against node and invokes fn with each match's
// captures keyed by capture name.
func eachMatch(node *sitter.Node, src []byte, pattern string, fn func(map[string]*sitter.Node)) error {
	q, err := sitter.NewQuery([]byte(pattern), golang.GetLanguage())
	if err != nil {
		return fmt.Errorf("compile query: %w", err)
	}
	defer q.Close()

	cursor := sitter.NewQueryCursor()
	defer cursor.Close()
	cursor.Exec(q, node)

	for {
		match, ok := cursor.NextMatch()
		if !ok {
			return nil
		}
		match = cursor.FilterPredicates(match, src)

		captures := make(map[string]*sitter.Node, len(match.Captures))
		for _, c := range match.Captures {
			captures[q.CaptureNameForId(c.Index)] = c.Node
		}
		fn(captures)
	}
}
