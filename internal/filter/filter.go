// Package filter implements the Filter Engine (C2): compiling a boolean
// predicate tree from JSON, YAML, or a small DSL and evaluating it
// against a message context, per §4.2. One tree type is shared across all
// three parsers per the re-architecture note in §9 ("Filter tree decoded
// from multiple serializations + a DSL" -> one tree type, three parsers).
package filter

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// MessageContext is everything a predicate can inspect about one item.
type MessageContext struct {
	Subject         string
	Body            string
	BodyHTML        string
	From            string
	To              []string
	CC              []string
	BCC             []string
	Folder          string
	Headers         map[string][]string // canonical lower-case names
	HasAttachment   bool
	AttachmentMIMEs []string
	VIP             bool
	ListUnsubscribe bool
	Date            time.Time
}

// Participants returns the union of from/to/cc/bcc, per the `participants` field.
func (m *MessageContext) Participants() []string {
	out := make([]string, 0, 1+len(m.To)+len(m.CC)+len(m.BCC))
	if m.From != "" {
		out = append(out, m.From)
	}
	out = append(out, m.To...)
	out = append(out, m.CC...)
	out = append(out, m.BCC...)
	return out
}

func (m *MessageContext) field(name string) (string, bool) {
	switch name {
	case "subject":
		return m.Subject, true
	case "body":
		return m.Body, true
	case "body_html":
		return m.BodyHTML, true
	case "from":
		return m.From, true
	case "to":
		return strings.Join(m.To, ", "), true
	case "cc":
		return strings.Join(m.CC, ", "), true
	case "bcc":
		return strings.Join(m.BCC, ", "), true
	case "participants":
		return strings.Join(m.Participants(), ", "), true
	case "folder":
		return m.Folder, true
	}
	if strings.HasPrefix(name, "header:") {
		key := strings.ToLower(strings.TrimPrefix(name, "header:"))
		return strings.Join(m.Headers[key], ", "), true
	}
	return "", false
}

// CombineMode selects how multiple top-level expressions combine.
type CombineMode string

const (
	CombineAll CombineMode = "all"
	CombineAny CombineMode = "any"
)

// DefaultAction is returned by Evaluate when the expression set is empty.
type DefaultAction string

const (
	ActionInclude DefaultAction = "include"
	ActionExclude DefaultAction = "exclude"
)

// Expression is a node in the compiled boolean predicate tree.
type Expression interface {
	Eval(m *MessageContext) bool
}

// CompiledExpression is a ready-to-evaluate filter, built from zero or
// more top-level Expressions combined per Mode, with DefaultAction
// applied when the set is empty.
type CompiledExpression struct {
	Exprs   []Expression
	Mode    CombineMode
	Default DefaultAction
}

// Evaluate applies the compiled filter to m.
func (c *CompiledExpression) Evaluate(m *MessageContext) bool {
	if len(c.Exprs) == 0 {
		return c.Default == ActionInclude
	}
	switch c.Mode {
	case CombineAny:
		for _, e := range c.Exprs {
			if e.Eval(m) {
				return true
			}
		}
		return false
	default: // CombineAll
		for _, e := range c.Exprs {
			if !e.Eval(m) {
				return false
			}
		}
		return true
	}
}

// --- logical combinators ---

type andExpr struct{ children []Expression }

func (e *andExpr) Eval(m *MessageContext) bool {
	for _, c := range e.children {
		if !c.Eval(m) {
			return false
		}
	}
	return true
}

type orExpr struct{ children []Expression }

func (e *orExpr) Eval(m *MessageContext) bool {
	for _, c := range e.children {
		if c.Eval(m) {
			return true
		}
	}
	return false
}

type notExpr struct{ child Expression }

func (e *notExpr) Eval(m *MessageContext) bool { return !e.child.Eval(m) }

// And builds a conjunction of children.
func And(children ...Expression) Expression { return &andExpr{children: children} }

// Or builds a disjunction of children.
func Or(children ...Expression) Expression { return &orExpr{children: children} }

// Not negates child. eval(not not P, m) == eval(P, m) follows directly
// since Not just wraps with a second negation, per §8.
func Not(child Expression) Expression { return &notExpr{child: child} }

// --- leaf predicates ---

type regexLeaf struct {
	field string
	re    *regexp.Regexp
}

func (e *regexLeaf) Eval(m *MessageContext) bool {
	v, ok := m.field(e.field)
	return ok && e.re.MatchString(v)
}

// RegexOptions configure pattern compilation flags.
type RegexOptions struct {
	CaseInsensitive       bool
	DotMatchesNewline     bool
	AllowCommentsAndSpace bool
}

// Regex compiles a regex(field, pattern, options?) predicate once.
func Regex(field, pattern string, opts RegexOptions) (Expression, error) {
	var flags string
	if opts.CaseInsensitive {
		flags += "i"
	}
	if opts.DotMatchesNewline {
		flags += "s"
	}
	if opts.AllowCommentsAndSpace {
		flags += "x"
	}
	expr := pattern
	if flags != "" {
		expr = fmt.Sprintf("(?%s)%s", flags, pattern)
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile regex %q on field %q: %w", pattern, field, err)
	}
	return &regexLeaf{field: field, re: re}, nil
}

type containsLeaf struct {
	field         string
	text          string
	caseSensitive bool
}

func (e *containsLeaf) Eval(m *MessageContext) bool {
	v, ok := m.field(e.field)
	if !ok {
		return false
	}
	if e.caseSensitive {
		return strings.Contains(v, e.text)
	}
	return strings.Contains(strings.ToLower(v), strings.ToLower(e.text))
}

// Contains builds a contains(field, text, case_sensitive?) predicate.
func Contains(field, text string, caseSensitive bool) Expression {
	return &containsLeaf{field: field, text: text, caseSensitive: caseSensitive}
}

type hasAttachmentLeaf struct{}

func (e *hasAttachmentLeaf) Eval(m *MessageContext) bool { return m.HasAttachment }

// HasAttachment builds the has_attachment predicate.
func HasAttachment() Expression { return &hasAttachmentLeaf{} }

type attachmentMIMELeaf struct{ patterns []*regexp.Regexp }

func (e *attachmentMIMELeaf) Eval(m *MessageContext) bool {
	for _, mime := range m.AttachmentMIMEs {
		for _, p := range e.patterns {
			if p.MatchString(mime) {
				return true
			}
		}
	}
	return false
}

// AttachmentMIME builds attachment_mime([pattern,...]): case-insensitive
// regex over attachment MIME types, stripping leading/trailing `/`
// delimiters on each pattern.
func AttachmentMIME(patterns []string) (Expression, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		stripped := strings.TrimSuffix(strings.TrimPrefix(p, "/"), "/")
		re, err := regexp.Compile("(?i)" + stripped)
		if err != nil {
			return nil, fmt.Errorf("compile attachment_mime pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return &attachmentMIMELeaf{patterns: compiled}, nil
}

type folderExactLeaf struct{ name string }

func (e *folderExactLeaf) Eval(m *MessageContext) bool {
	return strings.ToLower(m.Folder) == strings.ToLower(e.name)
}

// FolderExact builds folder_exact(name).
func FolderExact(name string) Expression { return &folderExactLeaf{name: name} }

type folderPrefixLeaf struct{ prefix string }

func (e *folderPrefixLeaf) Eval(m *MessageContext) bool {
	return strings.HasPrefix(strings.ToLower(m.Folder), strings.ToLower(e.prefix))
}

// FolderPrefix builds folder_prefix(name).
func FolderPrefix(name string) Expression { return &folderPrefixLeaf{prefix: name} }

type folderRegexLeaf struct{ re *regexp.Regexp }

func (e *folderRegexLeaf) Eval(m *MessageContext) bool {
	return e.re.MatchString(strings.ToLower(m.Folder))
}

// FolderRegex builds folder_regex(pattern), matched against the
// normalized lower-case folder path.
func FolderRegex(pattern string) (Expression, error) {
	re, err := regexp.Compile(strings.ToLower(pattern))
	if err != nil {
		return nil, fmt.Errorf("compile folder_regex %q: %w", pattern, err)
	}
	return &folderRegexLeaf{re: re}, nil
}

type vipLeaf struct{ want bool }

func (e *vipLeaf) Eval(m *MessageContext) bool { return m.VIP == e.want }

// VIP builds vip(bool).
func VIP(want bool) Expression { return &vipLeaf{want: want} }

type listUnsubscribeLeaf struct{ want bool }

func (e *listUnsubscribeLeaf) Eval(m *MessageContext) bool { return m.ListUnsubscribe == e.want }

// ListUnsubscribe builds list_unsubscribe(bool).
func ListUnsubscribe(want bool) Expression { return &listUnsubscribeLeaf{want: want} }
