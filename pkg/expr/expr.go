// Package expr checks and evaluates the scalar expressions typed after
// `p`, `w` and `b ... if`. Expressions are evaluated with starlark against a
// flat binding set; dotted names such as mod.a become struct fields.
package expr

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

var ErrNotScalar = errors.New("expression does not evaluate to a scalar")

// Check reports whether src is a syntactically valid expression.
func Check(src string) error {
	if strings.TrimSpace(src) == "" {
		return errors.New("empty expression")
	}
	if _, err := syntax.ParseExpr("<expr>", translate(src), 0); err != nil {
		return fmt.Errorf("invalid expression %q: %v", src, err)
	}
	return nil
}

// Eval evaluates src against bindings and returns the resulting scalar.
// Booleans evaluate to 1 or 0.
func Eval(src string, bindings map[string]int64) (int64, error) {
	names, err := Names(src)
	if err != nil {
		return 0, err
	}
	env, err := environment(referenced(names, bindings))
	if err != nil {
		return 0, err
	}

	thread := &starlark.Thread{Name: "expr"}
	v, err := starlark.Eval(thread, "<expr>", translate(src), env)
	if err != nil {
		return 0, fmt.Errorf("evaluate %q: %v", src, err)
	}
	return scalar(v)
}

// Names returns the identifiers referenced by src, dotted selections are
// returned as one name (mod.a).
func Names(src string) ([]string, error) {
	e, err := syntax.ParseExpr("<expr>", translate(src), 0)
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %v", src, err)
	}

	seen := map[string]bool{}
	syntax.Walk(e, func(n syntax.Node) bool {
		switch n := n.(type) {
		case *syntax.DotExpr:
			if name, ok := dotted(n); ok {
				seen[name] = true
				return false
			}
		case *syntax.Ident:
			seen[n.Name] = true
		}
		return true
	})

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func dotted(n *syntax.DotExpr) (string, bool) {
	switch x := n.X.(type) {
	case *syntax.Ident:
		return x.Name + "." + n.Name.Name, true
	case *syntax.DotExpr:
		prefix, ok := dotted(x)
		if !ok {
			return "", false
		}
		return prefix + "." + n.Name.Name, true
	}
	return "", false
}

// translate rewrites the C style operators used in RTL conditions into
// starlark: && || ! become keywords, / is integer division.
func translate(src string) string {
	out := strings.NewReplacer("&&", " and ", "||", " or ").Replace(src)

	var b strings.Builder
	for i := 0; i < len(out); i++ {
		switch {
		case out[i] == '!' && (i+1 >= len(out) || out[i+1] != '='):
			b.WriteString(" not ")
		case out[i] == '/':
			b.WriteString("//")
			if i+1 < len(out) && out[i+1] == '/' {
				i++
			}
		default:
			b.WriteByte(out[i])
		}
	}
	return strings.TrimSpace(b.String())
}

// referenced keeps the bindings src can see. A name bound to a value hides
// the bindings below it, so a local a and an instance a.x do not collide.
func referenced(names []string, bindings map[string]int64) map[string]int64 {
	out := map[string]int64{}
	for _, n := range names {
		if v, ok := bindings[n]; ok {
			out[n] = v
			continue
		}
		for k, v := range bindings {
			if strings.HasPrefix(k, n+".") {
				out[k] = v
			}
		}
	}
	return out
}

// environment turns {"a": 1, "mod.b": 2} into a = 1, mod = struct(b = 2).
func environment(bindings map[string]int64) (starlark.StringDict, error) {
	type node struct {
		value    *int64
		children map[string]*node
	}
	root := &node{children: map[string]*node{}}

	for name, v := range bindings {
		cur := root
		for _, part := range strings.Split(name, ".") {
			next, ok := cur.children[part]
			if !ok {
				next = &node{children: map[string]*node{}}
				cur.children[part] = next
			}
			cur = next
		}
		cur.value = &v
	}

	var build func(n *node) (starlark.Value, error)
	build = func(n *node) (starlark.Value, error) {
		if len(n.children) == 0 {
			return starlark.MakeInt64(*n.value), nil
		}
		if n.value != nil {
			return nil, errors.New("binding is both a value and a scope")
		}
		dict := starlark.StringDict{}
		for k, c := range n.children {
			v, err := build(c)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			dict[k] = v
		}
		return starlarkstruct.FromStringDict(starlarkstruct.Default, dict), nil
	}

	env := starlark.StringDict{}
	for k, c := range root.children {
		v, err := build(c)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		env[k] = v
	}
	return env, nil
}

func scalar(v starlark.Value) (int64, error) {
	switch v := v.(type) {
	case starlark.Int:
		i, ok := v.Int64()
		if !ok {
			return 0, fmt.Errorf("%s overflows int64", v.String())
		}
		return i, nil
	case starlark.Bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case starlark.Float:
		f := float64(v)
		if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
			return 0, fmt.Errorf("%w: %s", ErrNotScalar, v.String())
		}
		return int64(f), nil
	}
	return 0, fmt.Errorf("%w: %s", ErrNotScalar, v.Type())
}
