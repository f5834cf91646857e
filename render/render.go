package render

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Pair is an ordered two element tuple; it is the element type of
// every sequence-valued template variable, such as the (source,
// destination) pairs of files to install.
type Pair [2]string

// Namespace binds variable names to the values a template may
// reference. Values must be strings, bools, Pairs, or Pair slices;
// anything else fails at substitution time.
//
// A template referencing a name missing from its Namespace is an
// error, never an empty substitution.
type Namespace map[string]interface{}

// Error is returned for malformed templates and for references to
// undefined variables
type Error struct {
	Template string
	Reason   string
}

// Error implements the `error` interface, naming the template which
// failed to render
func (e Error) Error() string {
	return fmt.Sprintf("template %s: %s", e.Template, e.Reason)
}

var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Render expands the template held in text against ns, resolving
// {{ name }} and {{ name.attr }} substitutions, {% if name %} blocks,
// and {% for a, b in name %} loops over Pair sequences.
//
// name identifies the template in error messages; it is not used
// otherwise. Rendering performs no I/O and holds no state: the same
// (text, ns) input always yields the same output.
func Render(name, text string, ns Namespace) (out string, err error) {
	nodes, err := parse(name, text)
	if err != nil {
		return
	}

	b := &strings.Builder{}

	err = renderNodes(b, nodes, scope{tmpl: name, ns: ns})
	if err != nil {
		return
	}

	out = b.String()

	return
}

// scope is the variable lookup chain during rendering; loop
// bindings shadow the namespace
type scope struct {
	tmpl string
	ns   Namespace
	vars map[string]interface{}
}

func (s scope) lookup(name string) (interface{}, bool) {
	if s.vars != nil {
		if v, ok := s.vars[name]; ok {
			return v, true
		}
	}

	v, ok := s.ns[name]

	return v, ok
}

func (s scope) bind(extra map[string]interface{}) scope {
	vars := make(map[string]interface{}, len(s.vars)+len(extra))
	for k, v := range s.vars {
		vars[k] = v
	}

	for k, v := range extra {
		vars[k] = v
	}

	return scope{tmpl: s.tmpl, ns: s.ns, vars: vars}
}

func (s scope) errorf(format string, args ...interface{}) error {
	return Error{Template: s.tmpl, Reason: fmt.Sprintf(format, args...)}
}

type node interface {
	render(b *strings.Builder, sc scope) error
}

func renderNodes(b *strings.Builder, nodes []node, sc scope) (err error) {
	for _, n := range nodes {
		err = n.render(b, sc)
		if err != nil {
			return
		}
	}

	return
}

type textNode string

func (n textNode) render(b *strings.Builder, _ scope) error {
	b.WriteString(string(n))

	return nil
}

// varNode is a {{ name }} or {{ name.attr }} substitution
type varNode struct {
	name string
	attr string
}

func (n varNode) render(b *strings.Builder, sc scope) error {
	v, ok := sc.lookup(n.name)
	if !ok {
		return sc.errorf("undefined variable %q", n.name)
	}

	if n.attr != "" {
		p, ok := v.(Pair)
		if !ok {
			return sc.errorf("variable %q has no attribute %q", n.name, n.attr)
		}

		switch n.attr {
		case "0":
			b.WriteString(p[0])
		case "1":
			b.WriteString(p[1])
		default:
			return sc.errorf("variable %q has no attribute %q", n.name, n.attr)
		}

		return nil
	}

	switch t := v.(type) {
	case string:
		b.WriteString(t)

	case bool:
		b.WriteString(strconv.FormatBool(t))

	case Pair, []Pair:
		return sc.errorf("variable %q is a sequence and cannot be substituted directly", n.name)

	default:
		return sc.errorf("variable %q holds an unsupported value %T", n.name, v)
	}

	return nil
}

type ifNode struct {
	cond     string
	body     []node
	elseBody []node
}

func (n ifNode) render(b *strings.Builder, sc scope) error {
	v, ok := sc.lookup(n.cond)
	if !ok {
		return sc.errorf("undefined variable %q", n.cond)
	}

	truthy, err := truth(sc, n.cond, v)
	if err != nil {
		return err
	}

	if truthy {
		return renderNodes(b, n.body, sc)
	}

	return renderNodes(b, n.elseBody, sc)
}

func truth(sc scope, name string, v interface{}) (bool, error) {
	switch t := v.(type) {
	case string:
		return t != "", nil

	case bool:
		return t, nil

	case Pair:
		return true, nil

	case []Pair:
		return len(t) > 0, nil
	}

	return false, sc.errorf("variable %q holds an unsupported value %T", name, v)
}

type forNode struct {
	vars []string
	seq  string
	body []node
}

func (n forNode) render(b *strings.Builder, sc scope) (err error) {
	v, ok := sc.lookup(n.seq)
	if !ok {
		return sc.errorf("undefined variable %q", n.seq)
	}

	seq, ok := v.([]Pair)
	if !ok {
		return sc.errorf("variable %q is not a sequence and cannot be iterated", n.seq)
	}

	for _, p := range seq {
		bound := make(map[string]interface{}, 2)

		if len(n.vars) == 1 {
			bound[n.vars[0]] = p
		} else {
			bound[n.vars[0]] = p[0]
			bound[n.vars[1]] = p[1]
		}

		err = renderNodes(b, n.body, sc.bind(bound))
		if err != nil {
			return
		}
	}

	return
}

// parse splits text into literal text, substitutions, and block
// tags, and assembles the node tree
func parse(tmpl, text string) (nodes []node, err error) {
	fail := func(format string, args ...interface{}) ([]node, error) {
		return nil, Error{Template: tmpl, Reason: fmt.Sprintf(format, args...)}
	}

	// frames track open {% if %} / {% for %} blocks; frame 0 is
	// the document itself
	type frame struct {
		ifn    *ifNode
		forn   *forNode
		inElse bool
		nodes  []node
	}

	stack := []*frame{{}}
	top := func() *frame { return stack[len(stack)-1] }

	emit := func(n node) {
		f := top()
		f.nodes = append(f.nodes, n)
	}

	rest := text

	for len(rest) > 0 {
		sub := strings.Index(rest, "{{")
		tag := strings.Index(rest, "{%")

		next := sub
		if next < 0 || (tag >= 0 && tag < next) {
			next = tag
		}

		if next < 0 {
			emit(textNode(rest))

			break
		}

		if next > 0 {
			emit(textNode(rest[:next]))
		}

		if next == sub {
			end := strings.Index(rest[next:], "}}")
			if end < 0 {
				return fail("unclosed substitution")
			}

			expr := strings.TrimSpace(rest[next+2 : next+end])
			rest = rest[next+end+2:]

			name, attr, perr := parseExpr(expr)
			if perr != nil {
				return fail("invalid substitution {{ %s }}", expr)
			}

			emit(varNode{name: name, attr: attr})

			continue
		}

		end := strings.Index(rest[next:], "%}")
		if end < 0 {
			return fail("unclosed block tag")
		}

		inner := strings.TrimSpace(rest[next+2 : next+end])
		rest = rest[next+end+2:]

		switch keyword(inner) {
		case "if":
			cond := strings.TrimSpace(strings.TrimPrefix(inner, "if"))
			if !identPattern.MatchString(cond) {
				return fail("invalid condition {%% %s %%}", inner)
			}

			f := &frame{ifn: &ifNode{cond: cond}}
			stack = append(stack, f)

		case "else":
			f := top()
			if f.ifn == nil || f.inElse {
				return fail("unexpected {%% else %%}")
			}

			f.ifn.body = f.nodes
			f.nodes = nil
			f.inElse = true

		case "endif":
			f := top()
			if f.ifn == nil {
				return fail("unexpected {%% endif %%}")
			}

			if f.inElse {
				f.ifn.elseBody = f.nodes
			} else {
				f.ifn.body = f.nodes
			}

			stack = stack[:len(stack)-1]
			emit(*f.ifn)

		case "for":
			vars, seq, perr := parseFor(inner)
			if perr != nil {
				return fail("invalid loop {%% %s %%}", inner)
			}

			f := &frame{forn: &forNode{vars: vars, seq: seq}}
			stack = append(stack, f)

		case "endfor":
			f := top()
			if f.forn == nil {
				return fail("unexpected {%% endfor %%}")
			}

			f.forn.body = f.nodes
			stack = stack[:len(stack)-1]
			emit(*f.forn)

		default:
			return fail("unknown block tag {%% %s %%}", inner)
		}
	}

	if len(stack) > 1 {
		f := top()
		if f.ifn != nil {
			return fail("unterminated {%% if %s %%}", f.ifn.cond)
		}

		return fail("unterminated {%% for ... in %s %%}", f.forn.seq)
	}

	nodes = stack[0].nodes

	return
}

func keyword(tag string) string {
	i := strings.IndexByte(tag, ' ')
	if i < 0 {
		return tag
	}

	return tag[:i]
}

// parseExpr validates a substitution expression of the form
// "name" or "name.attr"
func parseExpr(expr string) (name, attr string, err error) {
	name = expr

	if i := strings.IndexByte(expr, '.'); i >= 0 {
		name, attr = expr[:i], expr[i+1:]

		if _, nerr := strconv.Atoi(attr); nerr != nil && !identPattern.MatchString(attr) {
			err = fmt.Errorf("invalid attribute %q", attr)

			return
		}
	}

	if !identPattern.MatchString(name) {
		err = fmt.Errorf("invalid variable %q", name)
	}

	return
}

// parseFor validates a loop tag of the form "for a in seq" or
// "for a, b in seq"
func parseFor(tag string) (vars []string, seq string, err error) {
	rest := strings.TrimSpace(strings.TrimPrefix(tag, "for"))

	parts := strings.SplitN(rest, " in ", 2)
	if len(parts) != 2 {
		err = fmt.Errorf("missing 'in' clause")

		return
	}

	seq = strings.TrimSpace(parts[1])
	if !identPattern.MatchString(seq) {
		err = fmt.Errorf("invalid sequence %q", seq)

		return
	}

	for _, v := range strings.Split(parts[0], ",") {
		v = strings.TrimSpace(v)
		if !identPattern.MatchString(v) {
			err = fmt.Errorf("invalid loop variable %q", v)

			return
		}

		vars = append(vars, v)
	}

	if len(vars) > 2 {
		err = fmt.Errorf("too many loop variables")

		return
	}

	return
}
