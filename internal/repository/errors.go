package repository

import (
	"errors"
	"fmt"
)

// Kind classifies repository failures.
type Kind string

const (
	// KindNetwork means the remote fetch failed.
	KindNetwork Kind = "network"
	// KindDecode is reserved for payload failures reported as such.
	KindDecode Kind = "decode"
	// KindStore means a direct cache store operation failed.
	KindStore Kind = "store"
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// ErrClosed is returned by operations on a closed repository.
var ErrClosed = errors.New("repository closed")

// Error is a classified repository failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("repository: %s: %s failure", e.Op, e.Kind)
	}
	return fmt.Sprintf("repository: %s: %s failure: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a repository error anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind, true
	}
	return "", false
}
