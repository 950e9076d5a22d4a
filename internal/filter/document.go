package filter

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// node is the wire shape shared by the JSON and YAML parsers: one tree
// type, per the re-architecture note in §9.
type node struct {
	And   []node  `json:"and,omitempty" yaml:"and,omitempty"`
	Or    []node  `json:"or,omitempty" yaml:"or,omitempty"`
	Not   *node   `json:"not,omitempty" yaml:"not,omitempty"`

	Regex           *regexNode `json:"regex,omitempty" yaml:"regex,omitempty"`
	Contains        *containsNode `json:"contains,omitempty" yaml:"contains,omitempty"`
	HasAttachment   *bool      `json:"has_attachment,omitempty" yaml:"has_attachment,omitempty"`
	AttachmentMIME  []string   `json:"attachment_mime,omitempty" yaml:"attachment_mime,omitempty"`
	FolderExact     string     `json:"folder_exact,omitempty" yaml:"folder_exact,omitempty"`
	FolderPrefix    string     `json:"folder_prefix,omitempty" yaml:"folder_prefix,omitempty"`
	FolderRegex     string     `json:"folder_regex,omitempty" yaml:"folder_regex,omitempty"`
	VIP             *bool      `json:"vip,omitempty" yaml:"vip,omitempty"`
	ListUnsubscribe *bool      `json:"list_unsubscribe,omitempty" yaml:"list_unsubscribe,omitempty"`

	DateRange   *dateRangeNode `json:"date_range,omitempty" yaml:"date_range,omitempty"`
	DateBetween *dateRangeNode `json:"date_between,omitempty" yaml:"date_between,omitempty"`
	DateBefore      string `json:"date_before,omitempty" yaml:"date_before,omitempty"`
	DateAfter       string `json:"date_after,omitempty" yaml:"date_after,omitempty"`
	DateOnOrBefore  string `json:"date_on_or_before,omitempty" yaml:"date_on_or_before,omitempty"`
	DateOnOrAfter   string `json:"date_on_or_after,omitempty" yaml:"date_on_or_after,omitempty"`
}

type regexNode struct {
	Field   string `json:"field" yaml:"field"`
	Pattern string `json:"pattern" yaml:"pattern"`
	Options struct {
		CaseInsensitive       bool `json:"case_insensitive,omitempty" yaml:"case_insensitive,omitempty"`
		DotMatchesNewline     bool `json:"dot_matches_newline,omitempty" yaml:"dot_matches_newline,omitempty"`
		AllowCommentsAndSpace bool `json:"allow_comments_and_whitespace,omitempty" yaml:"allow_comments_and_whitespace,omitempty"`
	} `json:"options,omitempty" yaml:"options,omitempty"`
}

type containsNode struct {
	Field         string `json:"field" yaml:"field"`
	Text          string `json:"text" yaml:"text"`
	CaseSensitive bool   `json:"case_sensitive,omitempty" yaml:"case_sensitive,omitempty"`
}

type dateRangeNode struct {
	Start string  `json:"start" yaml:"start"`
	End   *string `json:"end,omitempty" yaml:"end,omitempty"`
}

// Document is the top-level file/inline shape: combination mode, default
// action, and the expression list, per §4.2.
type Document struct {
	Mode          CombineMode   `json:"mode,omitempty" yaml:"mode,omitempty"`
	DefaultAction DefaultAction `json:"default_action,omitempty" yaml:"default_action,omitempty"`
	Expressions   []node        `json:"expressions,omitempty" yaml:"expressions,omitempty"`

	// dslExpr holds an already-compiled expression when this Document was
	// produced by parsing raw DSL content rather than JSON/YAML.
	dslExpr Expression `json:"-" yaml:"-"`
}

// compile converts a node into an Expression, recursively.
func (n *node) compile(now NowFunc) (Expression, error) {
	var parts []Expression

	if len(n.And) > 0 {
		children, err := compileAll(n.And, now)
		if err != nil {
			return nil, err
		}
		parts = append(parts, And(children...))
	}
	if len(n.Or) > 0 {
		children, err := compileAll(n.Or, now)
		if err != nil {
			return nil, err
		}
		parts = append(parts, Or(children...))
	}
	if n.Not != nil {
		child, err := n.Not.compile(now)
		if err != nil {
			return nil, err
		}
		parts = append(parts, Not(child))
	}
	if n.Regex != nil {
		e, err := Regex(n.Regex.Field, n.Regex.Pattern, RegexOptions{
			CaseInsensitive:       n.Regex.Options.CaseInsensitive,
			DotMatchesNewline:     n.Regex.Options.DotMatchesNewline,
			AllowCommentsAndSpace: n.Regex.Options.AllowCommentsAndSpace,
		})
		if err != nil {
			return nil, err
		}
		parts = append(parts, e)
	}
	if n.Contains != nil {
		parts = append(parts, Contains(n.Contains.Field, n.Contains.Text, n.Contains.CaseSensitive))
	}
	if n.HasAttachment != nil && *n.HasAttachment {
		parts = append(parts, HasAttachment())
	}
	if len(n.AttachmentMIME) > 0 {
		e, err := AttachmentMIME(n.AttachmentMIME)
		if err != nil {
			return nil, err
		}
		parts = append(parts, e)
	}
	if n.FolderExact != "" {
		parts = append(parts, FolderExact(n.FolderExact))
	}
	if n.FolderPrefix != "" {
		parts = append(parts, FolderPrefix(n.FolderPrefix))
	}
	if n.FolderRegex != "" {
		e, err := FolderRegex(n.FolderRegex)
		if err != nil {
			return nil, err
		}
		parts = append(parts, e)
	}
	if n.VIP != nil {
		parts = append(parts, VIP(*n.VIP))
	}
	if n.ListUnsubscribe != nil {
		parts = append(parts, ListUnsubscribe(*n.ListUnsubscribe))
	}
	if n.DateRange != nil {
		e, err := DateRange(n.DateRange.Start, n.DateRange.End, now)
		if err != nil {
			return nil, err
		}
		parts = append(parts, e)
	}
	if n.DateBetween != nil {
		if n.DateBetween.End == nil {
			return nil, fmt.Errorf("date_between requires an end value")
		}
		e, err := DateBetween(n.DateBetween.Start, *n.DateBetween.End, now)
		if err != nil {
			return nil, err
		}
		parts = append(parts, e)
	}
	for op, value := range map[string]string{
		"before": n.DateBefore, "after": n.DateAfter,
		"on_or_before": n.DateOnOrBefore, "on_or_after": n.DateOnOrAfter,
	} {
		if value == "" {
			continue
		}
		e, err := DateCompare(op, value, now)
		if err != nil {
			return nil, err
		}
		parts = append(parts, e)
	}

	switch len(parts) {
	case 0:
		return nil, fmt.Errorf("empty or unrecognized filter node")
	case 1:
		return parts[0], nil
	default:
		return And(parts...), nil
	}
}

func compileAll(nodes []node, now NowFunc) ([]Expression, error) {
	out := make([]Expression, 0, len(nodes))
	for i := range nodes {
		e, err := nodes[i].compile(now)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// defaultNow is the production NowFunc.
func defaultNow() time.Time { return time.Now() }

// CompileDocument builds a CompiledExpression from a parsed Document.
func CompileDocument(doc Document, now NowFunc) (*CompiledExpression, error) {
	if now == nil {
		now = defaultNow
	}
	mode := doc.Mode
	if mode == "" {
		mode = CombineAll
	}
	action := doc.DefaultAction
	if action == "" {
		action = ActionInclude
	}

	exprs, err := compileAll(doc.Expressions, now)
	if err != nil {
		return nil, fmt.Errorf("compile filter document: %w", err)
	}
	return &CompiledExpression{Exprs: exprs, Mode: mode, Default: action}, nil
}

// ParseJSON decodes a JSON filter document.
func ParseJSON(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parse json filter document: %w", err)
	}
	return doc, nil
}

// ParseYAML decodes a YAML filter document.
func ParseYAML(data []byte) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parse yaml filter document: %w", err)
	}
	return doc, nil
}
