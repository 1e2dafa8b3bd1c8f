package stageerr

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	KindFetch  Kind = "fetch"
	KindStore  Kind = "store"
	KindParse  Kind = "parse"
	KindRender Kind = "render"
	KindConfig Kind = "config"
)

// Error annotates a cause with the failure class and the operation that hit it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so errors.Is(err, stageerr.ErrFetch) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Err == nil && t.Op == "" && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrFetch  = &Error{Kind: KindFetch}
	ErrStore  = &Error{Kind: KindStore}
	ErrParse  = &Error{Kind: KindParse}
	ErrRender = &Error{Kind: KindRender}
	ErrConfig = &Error{Kind: KindConfig}
)

func wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Fetch wraps a provider failure.
func Fetch(op string, err error) error { return wrap(KindFetch, op, err) }

// Store wraps a persistence failure.
func Store(op string, err error) error { return wrap(KindStore, op, err) }

// Parse wraps a read-back failure.
func Parse(op string, err error) error { return wrap(KindParse, op, err) }

// Render wraps a chart failure.
func Render(op string, err error) error { return wrap(KindRender, op, err) }

// Config wraps a misconfiguration detected at runtime.
func Config(op string, err error) error { return wrap(KindConfig, op, err) }

// KindOf reports the outermost stage kind in err's chain, or "" when none.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return errors.Is(err, &Error{Kind: kind})
}
