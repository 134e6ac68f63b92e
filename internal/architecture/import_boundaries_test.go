package architecture_test

import (
	"go/parser"
	"go/token"
	"io/fs"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const modulePath = "github.com/zzzcdf/cube.js"

type layerRule struct {
	sourcePrefix string
	forbidden    []string
	hint         string
}

// infrastructure sits above the compiler and may not leak into it.
var infrastructure = []string{
	modulePath + "/internal/config",
	modulePath + "/internal/repository",
	modulePath + "/internal/db",
	modulePath + "/internal/middleware",
	modulePath + "/internal/server",
	modulePath + "/pkg",
	modulePath + "/cmd",
}

var passes = []string{
	"transpile", "symbols", "extensions", "evaluator", "validator", "joingraph", "meta", "cache",
}

func pkgs(names ...string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, modulePath+"/internal/"+n)
	}
	return out
}

func architectureRules() []layerRule {
	rules := []layerRule{
		{
			sourcePrefix: modulePath + "/internal/ast",
			forbidden:    []string{modulePath + "/internal", modulePath + "/pkg", modulePath + "/cmd"},
			hint:         "ast is a leaf package",
		},
		{
			sourcePrefix: modulePath + "/internal/domain",
			forbidden:    append(append(pkgs(passes...), pkgs("compiler")...), infrastructure...),
			hint:         "domain may only import ast",
		},
		{
			sourcePrefix: modulePath + "/internal/compiler",
			forbidden:    infrastructure,
			hint:         "the compiler is driven by infrastructure, never the reverse",
		},
		{
			sourcePrefix: modulePath + "/internal/middleware",
			forbidden:    append(pkgs("compiler", "db", "repository", "server"), modulePath+"/pkg", modulePath+"/cmd"),
			hint:         "middleware should depend on domain only",
		},
		{
			sourcePrefix: modulePath + "/internal/db",
			forbidden:    append(pkgs("repository", "middleware", "server"), modulePath+"/pkg", modulePath+"/cmd"),
			hint:         "db stores compile results and knows nothing about transport",
		},
		{
			sourcePrefix: modulePath + "/internal/repository",
			forbidden:    append(pkgs("compiler", "db", "middleware", "server"), modulePath+"/pkg", modulePath+"/cmd"),
			hint:         "repositories only supply schema files",
		},
	}
	for _, p := range passes {
		rules = append(rules, layerRule{
			sourcePrefix: modulePath + "/internal/" + p,
			forbidden:    append(pkgs("compiler"), infrastructure...),
			hint:         "compile passes must not depend on the compiler or its infrastructure",
		})
	}
	return rules
}

func TestImportBoundaries(t *testing.T) {
	root := repoRootDir()
	files := collectGoFiles(t, filepath.Join(root, "internal"))
	rules := architectureRules()
	fset := token.NewFileSet()

	violations := make([]string, 0)
	for _, file := range files {
		if strings.HasSuffix(file, "_test.go") {
			continue
		}
		rel, err := filepath.Rel(root, filepath.Dir(file))
		require.NoError(t, err)
		sourcePkg := path.Join(modulePath, filepath.ToSlash(rel))

		rule, ok := findRule(rules, sourcePkg)
		if !ok {
			continue
		}

		parsed, err := parser.ParseFile(fset, file, nil, parser.ImportsOnly)
		require.NoErrorf(t, err, "parse imports for %s", file)
		for _, imp := range parsed.Imports {
			importPath := strings.Trim(imp.Path.Value, `"`)
			if !hasPathPrefix(importPath, modulePath) || hasPathPrefix(importPath, sourcePkg) {
				continue
			}
			for _, f := range rule.forbidden {
				if hasPathPrefix(importPath, f) {
					violations = append(violations, sourcePkg+" imports "+importPath+" via "+filepath.Base(file)+": "+rule.hint)
					break
				}
			}
		}
	}

	sort.Strings(violations)
	require.Empty(t, violations, strings.Join(violations, "\n"))
}

func TestImportBoundaries_CoversEveryPass(t *testing.T) {
	rules := architectureRules()
	for _, p := range append(passes, "ast", "domain", "compiler") {
		_, ok := findRule(rules, modulePath+"/internal/"+p)
		require.Truef(t, ok, "no import rule for internal/%s", p)
	}
}

func findRule(rules []layerRule, pkg string) (layerRule, bool) {
	for _, r := range rules {
		if hasPathPrefix(pkg, r.sourcePrefix) {
			return r, true
		}
	}
	return layerRule{}, false
}

// hasPathPrefix matches whole path segments, so ".../db" does not match
// ".../dbx".
func hasPathPrefix(p, prefix string) bool {
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

func collectGoFiles(t *testing.T, root string) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(p, ".go") {
			files = append(files, p)
		}
		return nil
	})
	require.NoError(t, err)
	return files
}

func repoRootDir() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "."
	}
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))
}
