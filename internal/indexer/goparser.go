// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package indexer

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"

	"github.com/kraklabs/kgpipe/internal/model"
)

// GoParser extracts functions, methods, types, and calls from Go source
// using Tree-sitter, the same grammar and node-walking idiom as
// pkg/ingestion/parser_go.go and theRebelliousNerd-codenerd's
// ast_treesitter.go (§4.2, "90% of codebase" primary focus).
type GoParser struct {
	parser *sitter.Parser
}

// NewGoParser returns a parser configured for the Go grammar.
func NewGoParser() *GoParser {
	p := sitter.NewParser()
	p.SetLanguage(golang.GetLanguage())
	return &GoParser{parser: p}
}

// Close releases the underlying Tree-sitter parser.
func (p *GoParser) Close() { p.parser.Close() }

// UnresolvedCall is a call site whose callee couldn't be resolved within
// the file being parsed; the cross-file Resolver attempts to match it by
// simple name against every entity discovered across the whole repo.
type UnresolvedCall struct {
	CallerKey  string
	CalleeName string
}

// ParseResult is everything ParseFile extracts from one Go source file.
type ParseResult struct {
	Entities        []model.CodeEntity
	Edges           []model.CodeEdge
	UnresolvedCalls []UnresolvedCall
	PackageName     string
}

type goWalkContext struct {
	content      []byte
	filePath     string
	orgID        string
	repoID       string
	indexVersion string
	funcNameToID map[string]string
	anonCounter  int
	fnNodes      []fnWithKey
	order        []string
	entities     map[string]model.CodeEntity
}

type fnWithKey struct {
	key  string
	node *sitter.Node
}

// ParseFile parses a single Go file's content into entities and edges
// (§4.2). Calls whose callee is declared in the same file are resolved
// immediately; everything else comes back as an UnresolvedCall for the
// package-wide Resolver to settle.
func (p *GoParser) ParseFile(ctx context.Context, orgID, repoID, indexVersion, filePath string, content []byte) (*ParseResult, error) {
	tree, err := p.parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("indexer: go parse %s: %w", filePath, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	wctx := &goWalkContext{
		content:      content,
		filePath:     filePath,
		orgID:        orgID,
		repoID:       repoID,
		indexVersion: indexVersion,
		funcNameToID: make(map[string]string),
		entities:     make(map[string]model.CodeEntity),
	}
	walkGoDeclarations(root, wctx)

	result := &ParseResult{PackageName: extractGoPackageName(root, content)}
	result.Entities = make([]model.CodeEntity, 0, len(wctx.order))
	for _, key := range wctx.order {
		result.Entities = append(result.Entities, wctx.entities[key])
	}

	for _, fn := range wctx.fnNodes {
		calls, unresolved := extractGoCalls(fn.node, content, fn.key, wctx.funcNameToID)
		for i := range calls {
			calls[i].OrgID = orgID
			calls[i].RepoID = repoID
			calls[i].IndexVersion = indexVersion
		}
		result.Edges = append(result.Edges, calls...)
		for _, name := range unresolved {
			result.UnresolvedCalls = append(result.UnresolvedCalls, UnresolvedCall{CallerKey: fn.key, CalleeName: name})
		}
	}
	return result, nil
}

// walkGoDeclarations performs the first pass: collect every function,
// method, and func literal with its AST node, mirroring
// pkg/ingestion/parser_go.go's walkGoAST/funcNameToID convention.
func walkGoDeclarations(node *sitter.Node, ctx *goWalkContext) {
	if node == nil {
		return
	}
	if ctx.entities == nil {
		ctx.entities = make(map[string]model.CodeEntity)
	}

	switch node.Type() {
	case "function_declaration":
		name, sig := goFunctionSignature(node, ctx.content)
		ent := buildGoEntity(node, ctx, model.KindFunction, name, sig)
		ctx.entities[ent.Key] = ent
		ctx.order = append(ctx.order, ent.Key)
		ctx.fnNodes = append(ctx.fnNodes, fnWithKey{key: ent.Key, node: node})
		ctx.funcNameToID[name] = ent.Key

	case "method_declaration":
		methodName, receiverType, sig := goMethodSignature(node, ctx.content)
		fullName := methodName
		if receiverType != "" {
			fullName = receiverType + "." + methodName
		}
		ent := buildGoEntity(node, ctx, model.KindMethod, fullName, sig)
		ctx.entities[ent.Key] = ent
		ctx.order = append(ctx.order, ent.Key)
		ctx.fnNodes = append(ctx.fnNodes, fnWithKey{key: ent.Key, node: node})
		ctx.funcNameToID[methodName] = ent.Key

	case "func_literal":
		ctx.anonCounter++
		name := fmt.Sprintf("$anon_%d", ctx.anonCounter)
		_, sig := goFunctionSignature(node, ctx.content)
		ent := buildGoEntity(node, ctx, model.KindFunction, name, sig)
		ctx.entities[ent.Key] = ent
		ctx.order = append(ctx.order, ent.Key)
		ctx.fnNodes = append(ctx.fnNodes, fnWithKey{key: ent.Key, node: node})

	case "type_declaration":
		for i := 0; i < int(node.ChildCount()); i++ {
			child := node.Child(i)
			if child.Type() != "type_spec" {
				continue
			}
			nameNode := child.ChildByFieldName("name")
			if nameNode == nil {
				continue
			}
			name := string(ctx.content[nameNode.StartByte():nameNode.EndByte()])
			kind := model.KindType
			if typeNode := child.ChildByFieldName("type"); typeNode != nil && typeNode.Type() == "interface_type" {
				kind = model.KindInterface
			}
			ent := buildGoEntity(child, ctx, kind, name, "")
			ctx.entities[ent.Key] = ent
			ctx.order = append(ctx.order, ent.Key)
		}
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		walkGoDeclarations(node.Child(i), ctx)
	}
}

func buildGoEntity(node *sitter.Node, ctx *goWalkContext, kind model.Kind, name, signature string) model.CodeEntity {
	startLine := int(node.StartPoint().Row) + 1
	endLine := int(node.EndPoint().Row) + 1
	startCol := int(node.StartPoint().Column) + 1
	endCol := int(node.EndPoint().Column) + 1
	body := string(ctx.content[node.StartByte():node.EndByte()])
	body, _ = model.TruncateBody(body)

	key := model.EntityKey(ctx.repoID, ctx.filePath, kind, name, signature)
	return model.CodeEntity{
		Key:          key,
		OrgID:        ctx.orgID,
		RepoID:       ctx.repoID,
		Kind:         kind,
		Name:         name,
		FilePath:     ctx.filePath,
		StartLine:    startLine,
		EndLine:      endLine,
		StartCol:     startCol,
		EndCol:       endCol,
		Signature:    signature,
		Body:         body,
		Language:     "go",
		IndexVersion: ctx.indexVersion,
	}
}

// goFunctionSignature renders "func Name(params) result", following
// pkg/ingestion/parser_go.go's extractGoFunctionDeclaration.
func goFunctionSignature(node *sitter.Node, content []byte) (name, signature string) {
	nameNode := node.ChildByFieldName("name")
	if nameNode != nil {
		name = string(content[nameNode.StartByte():nameNode.EndByte()])
	}
	params := fieldText(node, "parameters", content)
	result := fieldText(node, "result", content)

	var b strings.Builder
	b.WriteString("func ")
	b.WriteString(name)
	b.WriteString(params)
	if result != "" {
		b.WriteString(" ")
		b.WriteString(result)
	}
	return name, b.String()
}

// goMethodSignature renders "func (recv) Name(params) result" and
// extracts the receiver's base type name, following
// pkg/ingestion/parser_go.go's extractGoMethodDeclaration/extractReceiverType.
func goMethodSignature(node *sitter.Node, content []byte) (name, receiverType, signature string) {
	nameNode := node.ChildByFieldName("name")
	if nameNode != nil {
		name = string(content[nameNode.StartByte():nameNode.EndByte()])
	}
	receiverNode := node.ChildByFieldName("receiver")
	var receiver string
	if receiverNode != nil {
		receiver = string(content[receiverNode.StartByte():receiverNode.EndByte()])
		receiverType = extractReceiverType(receiverNode, content)
	}
	params := fieldText(node, "parameters", content)
	result := fieldText(node, "result", content)

	var b strings.Builder
	b.WriteString("func ")
	b.WriteString(receiver)
	b.WriteString(" ")
	b.WriteString(name)
	b.WriteString(params)
	if result != "" {
		b.WriteString(" ")
		b.WriteString(result)
	}
	return name, receiverType, b.String()
}

func fieldText(node *sitter.Node, field string, content []byte) string {
	n := node.ChildByFieldName(field)
	if n == nil {
		return ""
	}
	return string(content[n.StartByte():n.EndByte()])
}

func extractReceiverType(receiverNode *sitter.Node, content []byte) string {
	for i := 0; i < int(receiverNode.ChildCount()); i++ {
		child := receiverNode.Child(i)
		if child.Type() == "parameter_declaration" {
			if typeNode := child.ChildByFieldName("type"); typeNode != nil {
				return extractBaseTypeName(typeNode, content)
			}
		}
	}
	return ""
}

func extractBaseTypeName(typeNode *sitter.Node, content []byte) string {
	if typeNode == nil {
		return ""
	}
	switch typeNode.Type() {
	case "pointer_type":
		for i := 0; i < int(typeNode.ChildCount()); i++ {
			child := typeNode.Child(i)
			if child.Type() != "*" {
				return extractBaseTypeName(child, content)
			}
		}
	case "generic_type":
		if n := typeNode.ChildByFieldName("type"); n != nil {
			return string(content[n.StartByte():n.EndByte()])
		}
	case "type_identifier":
		return string(content[typeNode.StartByte():typeNode.EndByte()])
	}
	name := string(content[typeNode.StartByte():typeNode.EndByte()])
	name = strings.TrimPrefix(name, "*")
	if idx := strings.Index(name, "["); idx > 0 {
		name = name[:idx]
	}
	return name
}

func extractGoPackageName(root *sitter.Node, content []byte) string {
	for i := 0; i < int(root.ChildCount()); i++ {
		child := root.Child(i)
		if child.Type() == "package_clause" {
			if n := child.ChildByFieldName("name"); n != nil {
				return string(content[n.StartByte():n.EndByte()])
			}
		}
	}
	return ""
}

// extractGoCalls walks a function body for call_expression nodes,
// resolving each callee against funcNameToID (same-file declarations) and
// returning everything else as an unresolved simple name, following
// pkg/ingestion/parser_go.go's extractGoCallsFromNodeV2/walkGoCallExpressionsV2.
func extractGoCalls(fnNode *sitter.Node, content []byte, callerKey string, funcNameToID map[string]string) ([]model.CodeEdge, []string) {
	bodyNode := fnNode.ChildByFieldName("body")
	if bodyNode == nil {
		return nil, nil
	}
	var edges []model.CodeEdge
	var unresolved []string
	walkGoCallExpressions(bodyNode, content, callerKey, funcNameToID, &edges, &unresolved)
	return edges, unresolved
}

func walkGoCallExpressions(node *sitter.Node, content []byte, callerKey string, funcNameToID map[string]string, edges *[]model.CodeEdge, unresolved *[]string) {
	if node == nil {
		return
	}
	if node.Type() == "call_expression" {
		if funcNode := node.ChildByFieldName("function"); funcNode != nil {
			name := extractGoCalleeName(funcNode, content)
			if name != "" {
				if calleeKey, ok := funcNameToID[name]; ok {
					*edges = append(*edges, model.CodeEdge{
						FromKey:  callerKey,
						ToKey:    calleeKey,
						EdgeKind: model.EdgeCalls,
						Key:      model.EdgeKeyFor(callerKey, calleeKey, model.EdgeCalls),
					})
				} else {
					*unresolved = append(*unresolved, name)
				}
			}
		}
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		walkGoCallExpressions(node.Child(i), content, callerKey, funcNameToID, edges, unresolved)
	}
}

// extractGoCalleeName resolves the simple callee name from a call's
// function expression: a bare identifier, a selector's field (pkg.Func or
// recv.Method), or recurses through parenthesized expressions.
func extractGoCalleeName(node *sitter.Node, content []byte) string {
	switch node.Type() {
	case "identifier":
		return string(content[node.StartByte():node.EndByte()])
	case "selector_expression":
		if fieldNode := node.ChildByFieldName("field"); fieldNode != nil {
			return string(content[fieldNode.StartByte():fieldNode.EndByte()])
		}
	case "parenthesized_expression":
		if node.ChildCount() > 0 {
			return extractGoCalleeName(node.Child(1), content)
		}
	}
	return ""
}
