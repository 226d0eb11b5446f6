// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// DefaultMaxSourceSize caps cell source at 1MB. Notebook cells are small;
// anything larger is almost certainly pasted data, not code.
const DefaultMaxSourceSize = 1 << 20

// Analysis holds the symbols one cell defines and reads. Both slices are
// sorted and deduplicated.
type Analysis struct {
	Defines []string
	Uses    []string
}

// DefinesSet returns the defined symbols as a set.
func (a *Analysis) DefinesSet() map[string]struct{} {
	return toSet(a.Defines)
}

// UsesSet returns the used symbols as a set.
func (a *Analysis) UsesSet() map[string]struct{} {
	return toSet(a.Uses)
}

func toSet(names []string) map[string]struct{} {
	s := make(map[string]struct{}, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// AnalyzerOption configures an Analyzer instance.
type AnalyzerOption func(*Analyzer)

// WithMaxSourceSize sets the maximum cell source size the analyzer accepts.
func WithMaxSourceSize(bytes int) AnalyzerOption {
	return func(a *Analyzer) {
		if bytes > 0 {
			a.maxSourceSize = bytes
		}
	}
}

// Analyzer extracts defined and used symbol names from Python cell source.
//
// Description:
//
//	Analyzer parses one cell with tree-sitter and walks the tree twice:
//	once collecting top-level bindings (assignments, def/class, imports,
//	for/with targets) and once collecting identifier reads. Reads of
//	builtins and underscore-prefixed names are ignored. Names bound only
//	inside nested scopes (function bodies, lambdas, comprehensions) do
//	not count as defined; reads inside nested scopes count as used unless
//	the name is bound within that scope, keeping the analysis conservative.
//
// Thread Safety:
//
//	Analyzer is safe for concurrent use. Each Analyze call creates its
//	own tree-sitter parser instance.
type Analyzer struct {
	maxSourceSize int
}

// NewAnalyzer creates an Analyzer with the given options.
func NewAnalyzer(opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{maxSourceSize: DefaultMaxSourceSize}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze extracts the defined and used symbols from one cell's source.
//
// Inputs:
//   - ctx: Context for cancellation. Checked around the tree-sitter parse.
//   - source: Raw Python cell source. Must be valid UTF-8.
//
// Outputs:
//   - *Analysis: Sorted, deduplicated defines/uses. Never nil on success.
//   - error: ErrSyntax when the source does not parse, ErrSourceTooLarge,
//     ErrInvalidContent, or a context error.
//
// Analyze never executes the code.
func (a *Analyzer) Analyze(ctx context.Context, source string) (*Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("analysis canceled before start: %w", err)
	}
	if len(source) > a.maxSourceSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit %d", ErrSourceTooLarge, len(source), a.maxSourceSize)
	}
	if !utf8.ValidString(source) {
		return nil, ErrInvalidContent
	}

	content := []byte(source)

	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil, ErrSyntax
	}
	if root.HasError() {
		return nil, ErrSyntax
	}

	w := &symbolWalker{content: content}
	w.collectDefines(root)
	w.collectUses(root, nil)

	return &Analysis{
		Defines: sortedNames(w.defines),
		Uses:    sortedNames(w.uses),
	}, nil
}

func sortedNames(set map[string]struct{}) []string {
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// symbolWalker accumulates defines and uses during tree traversal.
type symbolWalker struct {
	content []byte
	defines map[string]struct{}
	uses    map[string]struct{}
}

func (w *symbolWalker) text(n *sitter.Node) string {
	return string(w.content[n.StartByte():n.EndByte()])
}

func (w *symbolWalker) addDefine(name string) {
	if name == "" || strings.HasPrefix(name, "_") {
		return
	}
	if w.defines == nil {
		w.defines = make(map[string]struct{})
	}
	w.defines[name] = struct{}{}
}

func (w *symbolWalker) addUse(name string) {
	if name == "" || strings.HasPrefix(name, "_") || isBuiltin(name) {
		return
	}
	if w.uses == nil {
		w.uses = make(map[string]struct{})
	}
	w.uses[name] = struct{}{}
}

// collectDefines walks statements that bind names at the cell's top level.
// It descends into compound statements (if/for/while/try/with) because an
// assignment inside them still binds a module-level name, but it stops at
// function and class bodies: those bindings are scoped.
func (w *symbolWalker) collectDefines(node *sitter.Node) {
	switch node.Type() {
	case "assignment", "augmented_assignment":
		if left := node.ChildByFieldName("left"); left != nil {
			w.collectTargets(left)
		}
		if right := node.ChildByFieldName("right"); right != nil {
			// Chained assignment nests on the right; a walrus on the
			// right still binds at this level.
			if right.Type() == "assignment" {
				w.collectDefines(right)
			} else {
				w.collectWalrus(right)
			}
		}
		return
	case "named_expression":
		if name := node.ChildByFieldName("name"); name != nil && name.Type() == "identifier" {
			w.addDefine(w.text(name))
		}
		if value := node.ChildByFieldName("value"); value != nil {
			w.collectWalrus(value)
		}
		return
	case "function_definition", "class_definition":
		if name := node.ChildByFieldName("name"); name != nil {
			w.addDefine(w.text(name))
		}
		// Do not descend: body bindings are local to the nested scope.
		return
	case "decorated_definition":
		if def := node.ChildByFieldName("definition"); def != nil {
			w.collectDefines(def)
		}
		return
	case "for_statement":
		if left := node.ChildByFieldName("left"); left != nil {
			w.collectTargets(left)
		}
		if body := node.ChildByFieldName("body"); body != nil {
			w.collectDefines(body)
		}
		return
	case "with_statement":
		w.collectWithTargets(node)
		if body := node.ChildByFieldName("body"); body != nil {
			w.collectDefines(body)
		}
		return
	case "import_statement":
		w.collectImportBindings(node)
		return
	case "import_from_statement":
		w.collectImportFromBindings(node)
		return
	case "lambda", "list_comprehension", "set_comprehension",
		"dictionary_comprehension", "generator_expression":
		// Nested scopes; their bindings never escape.
		return
	case "global_statement", "nonlocal_statement", "delete_statement":
		return
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		w.collectDefines(node.Child(i))
	}
}

// collectWalrus finds named_expression bindings inside an expression,
// skipping nested scopes.
func (w *symbolWalker) collectWalrus(node *sitter.Node) {
	switch node.Type() {
	case "named_expression":
		if name := node.ChildByFieldName("name"); name != nil && name.Type() == "identifier" {
			w.addDefine(w.text(name))
		}
	case "lambda", "function_definition", "class_definition",
		"list_comprehension", "set_comprehension",
		"dictionary_comprehension", "generator_expression":
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		w.collectWalrus(node.Child(i))
	}
}

// collectTargets extracts bound names from an assignment target. Subscript
// and attribute targets (a[i] = v, obj.x = v) mutate existing values and
// bind nothing.
func (w *symbolWalker) collectTargets(node *sitter.Node) {
	switch node.Type() {
	case "identifier":
		w.addDefine(w.text(node))
	case "pattern_list", "tuple_pattern", "list_pattern":
		for i := 0; i < int(node.ChildCount()); i++ {
			w.collectTargets(node.Child(i))
		}
	case "list_splat_pattern":
		for i := 0; i < int(node.ChildCount()); i++ {
			w.collectTargets(node.Child(i))
		}
	case "parenthesized_expression":
		for i := 0; i < int(node.ChildCount()); i++ {
			w.collectTargets(node.Child(i))
		}
	}
}

// collectWithTargets extracts 'as' targets from a with statement.
func (w *symbolWalker) collectWithTargets(node *sitter.Node) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() != "with_clause" {
			continue
		}
		for j := 0; j < int(child.ChildCount()); j++ {
			item := child.Child(j)
			if item.Type() != "with_item" {
				continue
			}
			value := item.ChildByFieldName("value")
			if value != nil && value.Type() == "as_pattern" {
				if alias := value.ChildByFieldName("alias"); alias != nil {
					w.collectTargets(w.unwrapAsPatternTarget(alias))
				}
			}
		}
	}
}

func (w *symbolWalker) unwrapAsPatternTarget(node *sitter.Node) *sitter.Node {
	if node.Type() == "as_pattern_target" && node.ChildCount() > 0 {
		return node.Child(0)
	}
	return node
}

// collectImportBindings handles 'import foo' and 'import foo.bar as baz'.
// A plain dotted import binds its first component.
func (w *symbolWalker) collectImportBindings(node *sitter.Node) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "dotted_name":
			name := w.text(child)
			if idx := strings.IndexByte(name, '.'); idx >= 0 {
				name = name[:idx]
			}
			w.addDefine(name)
		case "aliased_import":
			if alias := child.ChildByFieldName("alias"); alias != nil {
				w.addDefine(w.text(alias))
			}
		}
	}
}

// collectImportFromBindings handles 'from x import a, b as c'. The module
// path itself binds nothing; wildcard imports bind nothing we can see.
func (w *symbolWalker) collectImportFromBindings(node *sitter.Node) {
	sawImport := false
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "import":
			sawImport = true
		case "dotted_name", "identifier":
			if sawImport {
				w.addDefine(w.text(child))
			}
		case "aliased_import":
			if alias := child.ChildByFieldName("alias"); alias != nil {
				w.addDefine(w.text(alias))
			}
		}
	}
}

// collectUses walks the whole tree collecting identifier reads. bound holds
// names bound in enclosing nested scopes; reads of those are scope-local
// and skipped. The module level itself starts with no bound names, so an
// intra-cell read of a cell-defined symbol still counts as used (the graph
// discards self-edges).
func (w *symbolWalker) collectUses(node *sitter.Node, bound map[string]struct{}) {
	switch node.Type() {
	case "identifier":
		name := w.text(node)
		if bound != nil {
			if _, ok := bound[name]; ok {
				return
			}
		}
		w.addUse(name)
		return
	case "assignment":
		if left := node.ChildByFieldName("left"); left != nil {
			w.collectUsesInTarget(left, bound)
		}
		if typ := node.ChildByFieldName("type"); typ != nil {
			w.collectUses(typ, bound)
		}
		if right := node.ChildByFieldName("right"); right != nil {
			w.collectUses(right, bound)
		}
		return
	case "augmented_assignment":
		if left := node.ChildByFieldName("left"); left != nil {
			w.collectUsesInTarget(left, bound)
		}
		if right := node.ChildByFieldName("right"); right != nil {
			w.collectUses(right, bound)
		}
		return
	case "named_expression":
		if value := node.ChildByFieldName("value"); value != nil {
			w.collectUses(value, bound)
		}
		return
	case "for_statement":
		if left := node.ChildByFieldName("left"); left != nil {
			w.collectUsesInTarget(left, bound)
		}
		if right := node.ChildByFieldName("right"); right != nil {
			w.collectUses(right, bound)
		}
		if body := node.ChildByFieldName("body"); body != nil {
			w.collectUses(body, bound)
		}
		if alt := node.ChildByFieldName("alternative"); alt != nil {
			w.collectUses(alt, bound)
		}
		return
	case "function_definition":
		w.collectUsesInFunction(node, bound)
		return
	case "lambda":
		w.collectUsesInLambda(node, bound)
		return
	case "class_definition":
		// Base classes and decorators are evaluated in the enclosing
		// scope; the body gets its own binding scope.
		if supers := node.ChildByFieldName("superclasses"); supers != nil {
			w.collectUses(supers, bound)
		}
		if body := node.ChildByFieldName("body"); body != nil {
			inner := childScope(bound, w.boundInBlock(body))
			w.collectUses(body, inner)
		}
		return
	case "list_comprehension", "set_comprehension",
		"dictionary_comprehension", "generator_expression":
		w.collectUsesInComprehension(node, bound)
		return
	case "keyword_argument":
		// f(x=1): the keyword name is not a read.
		if value := node.ChildByFieldName("value"); value != nil {
			w.collectUses(value, bound)
		}
		return
	case "attribute":
		// obj.attr reads obj, not attr.
		if object := node.ChildByFieldName("object"); object != nil {
			w.collectUses(object, bound)
		}
		return
	case "import_statement", "import_from_statement":
		// Module paths are not symbol reads.
		return
	case "as_pattern":
		// with expr as x / except E as e: the expression side is a read.
		if node.ChildCount() > 0 {
			w.collectUses(node.Child(0), bound)
		}
		return
	case "global_statement", "nonlocal_statement":
		return
	case "string":
		// Walk only interpolations so f-string contents count as reads.
		for i := 0; i < int(node.ChildCount()); i++ {
			child := node.Child(i)
			if child.Type() == "interpolation" {
				w.collectUses(child, bound)
			}
		}
		return
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		w.collectUses(node.Child(i), bound)
	}
}

// collectUsesInTarget walks an assignment target for the reads it performs:
// a[i] = v reads a and i; obj.x = v reads obj; plain names read nothing.
func (w *symbolWalker) collectUsesInTarget(node *sitter.Node, bound map[string]struct{}) {
	switch node.Type() {
	case "identifier":
		return
	case "subscript":
		if value := node.ChildByFieldName("value"); value != nil {
			w.collectUses(value, bound)
		}
		if sub := node.ChildByFieldName("subscript"); sub != nil {
			w.collectUses(sub, bound)
		}
		return
	case "attribute":
		if object := node.ChildByFieldName("object"); object != nil {
			w.collectUses(object, bound)
		}
		return
	case "pattern_list", "tuple_pattern", "list_pattern",
		"list_splat_pattern", "parenthesized_expression":
		for i := 0; i < int(node.ChildCount()); i++ {
			w.collectUsesInTarget(node.Child(i), bound)
		}
		return
	}
	w.collectUses(node, bound)
}

func (w *symbolWalker) collectUsesInFunction(node *sitter.Node, bound map[string]struct{}) {
	local := make(map[string]struct{})

	params := node.ChildByFieldName("parameters")
	if params != nil {
		w.collectParamNames(params, local)
		// Defaults and annotations evaluate in the enclosing scope.
		w.collectUsesInParamValues(params, bound)
	}
	if ret := node.ChildByFieldName("return_type"); ret != nil {
		w.collectUses(ret, bound)
	}

	body := node.ChildByFieldName("body")
	if body == nil {
		return
	}
	for n := range w.boundInBlock(body) {
		local[n] = struct{}{}
	}
	w.collectUses(body, childScope(bound, local))
}

func (w *symbolWalker) collectUsesInLambda(node *sitter.Node, bound map[string]struct{}) {
	local := make(map[string]struct{})
	if params := node.ChildByFieldName("parameters"); params != nil {
		w.collectParamNames(params, local)
		w.collectUsesInParamValues(params, bound)
	}
	if body := node.ChildByFieldName("body"); body != nil {
		w.collectUses(body, childScope(bound, local))
	}
}

func (w *symbolWalker) collectUsesInComprehension(node *sitter.Node, bound map[string]struct{}) {
	local := make(map[string]struct{})
	// Gather every for-clause target first; they scope the whole expression.
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == "for_in_clause" {
			if left := child.ChildByFieldName("left"); left != nil {
				w.collectNamesInTarget(left, local)
			}
		}
	}
	inner := childScope(bound, local)
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "for_in_clause":
			if right := child.ChildByFieldName("right"); right != nil {
				w.collectUses(right, inner)
			}
		case "if_clause":
			w.collectUses(child, inner)
		default:
			w.collectUses(child, inner)
		}
	}
}

// collectParamNames records parameter names into the local binding set.
func (w *symbolWalker) collectParamNames(params *sitter.Node, local map[string]struct{}) {
	for i := 0; i < int(params.ChildCount()); i++ {
		child := params.Child(i)
		switch child.Type() {
		case "identifier":
			local[w.text(child)] = struct{}{}
		case "default_parameter", "typed_parameter", "typed_default_parameter":
			if name := child.ChildByFieldName("name"); name != nil {
				local[w.text(name)] = struct{}{}
			} else if child.ChildCount() > 0 && child.Child(0).Type() == "identifier" {
				local[w.text(child.Child(0))] = struct{}{}
			}
		case "list_splat_pattern", "dictionary_splat_pattern":
			for j := 0; j < int(child.ChildCount()); j++ {
				if child.Child(j).Type() == "identifier" {
					local[w.text(child.Child(j))] = struct{}{}
				}
			}
		}
	}
}

// collectUsesInParamValues walks default values and annotations only.
func (w *symbolWalker) collectUsesInParamValues(params *sitter.Node, bound map[string]struct{}) {
	for i := 0; i < int(params.ChildCount()); i++ {
		child := params.Child(i)
		switch child.Type() {
		case "default_parameter", "typed_default_parameter":
			if value := child.ChildByFieldName("value"); value != nil {
				w.collectUses(value, bound)
			}
			if typ := child.ChildByFieldName("type"); typ != nil {
				w.collectUses(typ, bound)
			}
		case "typed_parameter":
			if typ := child.ChildByFieldName("type"); typ != nil {
				w.collectUses(typ, bound)
			}
		}
	}
}

// collectNamesInTarget records plain bound names from a target pattern.
func (w *symbolWalker) collectNamesInTarget(node *sitter.Node, into map[string]struct{}) {
	switch node.Type() {
	case "identifier":
		into[w.text(node)] = struct{}{}
	case "pattern_list", "tuple_pattern", "list_pattern",
		"list_splat_pattern", "parenthesized_expression":
		for i := 0; i < int(node.ChildCount()); i++ {
			w.collectNamesInTarget(node.Child(i), into)
		}
	}
}

// boundInBlock pre-scans a scope body for the names it binds: assignments,
// loop and with targets, walrus bindings, imports, and nested def/class
// names. Does not descend into deeper nested scopes.
func (w *symbolWalker) boundInBlock(node *sitter.Node) map[string]struct{} {
	names := make(map[string]struct{})
	var scan func(n *sitter.Node)
	scan = func(n *sitter.Node) {
		switch n.Type() {
		case "assignment", "augmented_assignment":
			if left := n.ChildByFieldName("left"); left != nil {
				w.collectNamesInTarget(left, names)
			}
		case "named_expression":
			if name := n.ChildByFieldName("name"); name != nil && name.Type() == "identifier" {
				names[w.text(name)] = struct{}{}
			}
		case "for_statement":
			if left := n.ChildByFieldName("left"); left != nil {
				w.collectNamesInTarget(left, names)
			}
		case "with_statement":
			prev := w.defines
			w.defines = names
			w.collectWithTargets(n)
			w.defines = prev
		case "function_definition", "class_definition":
			if name := n.ChildByFieldName("name"); name != nil {
				names[w.text(name)] = struct{}{}
			}
			return // their bodies bind their own locals
		case "lambda", "list_comprehension", "set_comprehension",
			"dictionary_comprehension", "generator_expression":
			return
		case "import_statement":
			prev := w.defines
			w.defines = names
			w.collectImportBindings(n)
			w.defines = prev
			return
		case "import_from_statement":
			prev := w.defines
			w.defines = names
			w.collectImportFromBindings(n)
			w.defines = prev
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			scan(n.Child(i))
		}
	}
	scan(node)
	return names
}

// childScope merges an enclosing binding set with a scope's own bindings.
func childScope(parent, local map[string]struct{}) map[string]struct{} {
	if len(parent) == 0 {
		return local
	}
	merged := make(map[string]struct{}, len(parent)+len(local))
	for n := range parent {
		merged[n] = struct{}{}
	}
	for n := range local {
		merged[n] = struct{}{}
	}
	return merged
}
