package filter

import (
	"fmt"
	"os"
	"strings"
)

// Source identifies where a raw filter definition came from, preserved
// for diagnostics; combination takes inline, then file, then env, then
// CLI additions, in that precedence order per §4.2.
type Source struct {
	Inline string
	File   string // path to a JSON/YAML/DSL file
	EnvVar string // name of an environment variable holding a filter body
	CLI    []string
}

// detectFormat implements the deterministic precedence mandated in §9:
// try JSON if the first non-whitespace byte is '{' or '[', else try
// YAML, else treat as raw DSL.
func detectFormat(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "dsl"
	}
	switch trimmed[0] {
	case '{', '[':
		return "json"
	}
	if looksLikeYAML(trimmed) {
		return "yaml"
	}
	return "dsl"
}

// looksLikeYAML is a narrow heuristic: a top-level "key:" mapping line
// with no DSL call-parenthesis on it. Deliberately conservative — when
// unsure, detectFormat falls through to DSL, per the deterministic
// precedence mandated in §9.
func looksLikeYAML(trimmed string) bool {
	firstLine := trimmed
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		firstLine = trimmed[:idx]
	}
	colon := strings.IndexByte(firstLine, ':')
	if colon < 0 {
		return false
	}
	if strings.ContainsAny(firstLine[:colon], "(/") {
		return false
	}
	return true
}

// parseRaw parses raw filter text using the detected format and wraps a
// single resulting Expression in a one-element Document so it can be
// merged with JSON/YAML documents uniformly.
func parseRaw(raw string, now NowFunc) (Document, error) {
	switch detectFormat(raw) {
	case "json":
		return ParseJSON([]byte(raw))
	case "yaml":
		return ParseYAML([]byte(raw))
	default:
		expr, err := ParseDSL(raw, now)
		if err != nil {
			return Document{}, fmt.Errorf("parse dsl filter: %w", err)
		}
		return Document{Expressions: nil, dslExpr: expr}, nil
	}
}

// Build compiles a CompiledExpression from a Source, applying the
// precedence order (in order: inline, file, env, CLI additions) and
// letting file/env values override mode/default_action when present.
func Build(src Source, now NowFunc) (*CompiledExpression, error) {
	if now == nil {
		now = defaultNow
	}

	var docs []Document
	var rawExprs []Expression

	add := func(raw string) error {
		if raw == "" {
			return nil
		}
		doc, err := parseRaw(raw, now)
		if err != nil {
			return err
		}
		if doc.dslExpr != nil {
			rawExprs = append(rawExprs, doc.dslExpr)
			return nil
		}
		docs = append(docs, doc)
		return nil
	}

	if err := add(src.Inline); err != nil {
		return nil, fmt.Errorf("inline filter: %w", err)
	}

	if src.File != "" {
		data, err := os.ReadFile(src.File)
		if err != nil {
			return nil, fmt.Errorf("read filter file %s: %w", src.File, err)
		}
		if err := add(string(data)); err != nil {
			return nil, fmt.Errorf("filter file %s: %w", src.File, err)
		}
	}

	if src.EnvVar != "" {
		if v := os.Getenv(src.EnvVar); v != "" {
			if err := add(v); err != nil {
				return nil, fmt.Errorf("env filter %s: %w", src.EnvVar, err)
			}
		}
	}

	for _, cli := range src.CLI {
		if err := add(cli); err != nil {
			return nil, fmt.Errorf("cli filter addition: %w", err)
		}
	}

	mode := CombineAll
	action := ActionInclude
	var exprs []Expression
	for _, doc := range docs {
		if doc.Mode != "" {
			mode = doc.Mode
		}
		if doc.DefaultAction != "" {
			action = doc.DefaultAction
		}
		compiled, err := compileAll(doc.Expressions, now)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, compiled...)
	}
	exprs = append(exprs, rawExprs...)

	return &CompiledExpression{Exprs: exprs, Mode: mode, Default: action}, nil
}
