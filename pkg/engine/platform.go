package engine

import (
	"fmt"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Platform is a concrete build target.
type Platform string

const (
	PlatformLinux Platform = "linux"
	PlatformOSX   Platform = "osx"
	PlatformWin   Platform = "win"
)

// Platforms lists every concrete target in a stable order.
var Platforms = []Platform{PlatformLinux, PlatformOSX, PlatformWin}

// ParsePlatform validates a concrete target tag.
func ParsePlatform(raw string) (Platform, error) {
	p := Platform(strings.TrimSpace(raw))
	switch p {
	case PlatformLinux, PlatformOSX, PlatformWin:
		return p, nil
	}
	return "", NewUnknownPlatform(raw).WithField("target")
}

// Selector restricts a patch, requirement or test entry to some platforms.
//
// A selector is one tag of the closed set {all, unix, linux, osx, win} or a
// boolean expression over those tags ("not win", "linux or osx"). The empty
// selector is unscoped and applies everywhere.
type Selector string

const (
	SelectorNone  Selector = ""
	SelectorAll   Selector = "all"
	SelectorUnix  Selector = "unix"
	SelectorLinux Selector = "linux"
	SelectorOSX   Selector = "osx"
	SelectorWin   Selector = "win"
)

var selectorTags = map[Selector]bool{
	SelectorAll:   true,
	SelectorUnix:  true,
	SelectorLinux: true,
	SelectorOSX:   true,
	SelectorWin:   true,
}

// ParseSelector validates a selector token, with or without its brackets.
func ParseSelector(raw string) (Selector, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	s = strings.TrimSpace(s)
	if s == "" {
		return SelectorNone, nil
	}

	sel := Selector(s)
	if selectorTags[sel] {
		return sel, nil
	}
	if _, err := parseSelectorExpr(s); err != nil {
		return "", err
	}
	return sel, nil
}

// Applies reports whether sel includes target.
func Applies(sel Selector, target Platform) (bool, error) {
	return sel.Applies(target)
}

// Applies reports whether the selector includes target.
func (s Selector) Applies(target Platform) (bool, error) {
	if _, err := ParsePlatform(string(target)); err != nil {
		return false, err
	}

	switch s {
	case SelectorNone, SelectorAll:
		return true, nil
	case SelectorUnix:
		return target == PlatformLinux || target == PlatformOSX, nil
	case SelectorLinux, SelectorOSX, SelectorWin:
		return Platform(s) == target, nil
	}

	expr, err := parseSelectorExpr(string(s))
	if err != nil {
		return false, err
	}
	return evalSelectorExpr(expr, target)
}

// IsCompound reports whether the selector is an expression rather than a single tag.
func (s Selector) IsCompound() bool {
	return s != SelectorNone && !selectorTags[s]
}

// parseSelectorExpr parses a compound selector and checks every identifier
// against the closed tag set.
func parseSelectorExpr(src string) (syntax.Expr, error) {
	expr, err := syntax.ParseExpr("selector", src, 0)
	if err != nil {
		return nil, NewPermanentError(fmt.Sprintf("unparseable selector %q", src), err).
			WithCode(ErrCodeUnknownPlatform).
			WithDetail("tag", src)
	}

	var walkErr error
	syntax.Walk(expr, func(n syntax.Node) bool {
		if walkErr != nil {
			return false
		}
		switch n := n.(type) {
		case nil:
			// Walk signals the end of a node's children with nil
		case *syntax.Ident:
			if !selectorTags[Selector(n.Name)] {
				walkErr = NewUnknownPlatform(n.Name)
			}
		case *syntax.UnaryExpr:
			if n.Op != syntax.NOT {
				walkErr = unsupportedSelector(src, n.Op.String())
			}
		case *syntax.BinaryExpr:
			if n.Op != syntax.AND && n.Op != syntax.OR {
				walkErr = unsupportedSelector(src, n.Op.String())
			}
		case *syntax.ParenExpr:
		default:
			walkErr = unsupportedSelector(src, fmt.Sprintf("%T", n))
		}
		return walkErr == nil
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return expr, nil
}

func unsupportedSelector(src, what string) *EngineError {
	return NewPermanentError(fmt.Sprintf("selector %q uses unsupported %s", src, what), nil).
		WithCode(ErrCodeUnknownPlatform).
		WithDetail("tag", src)
}

func evalSelectorExpr(expr syntax.Expr, target Platform) (bool, error) {
	env := starlark.StringDict{
		string(SelectorAll):   starlark.True,
		string(SelectorUnix):  starlark.Bool(target == PlatformLinux || target == PlatformOSX),
		string(SelectorLinux): starlark.Bool(target == PlatformLinux),
		string(SelectorOSX):   starlark.Bool(target == PlatformOSX),
		string(SelectorWin):   starlark.Bool(target == PlatformWin),
	}

	thread := &starlark.Thread{Name: "selector"}
	v, err := starlark.EvalExpr(thread, expr, env)
	if err != nil {
		return false, NewPermanentError("selector evaluation failed", err).
			WithCode(ErrCodeUnknownPlatform)
	}
	return bool(v.Truth()), nil
}
