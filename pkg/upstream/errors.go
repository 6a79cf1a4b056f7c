package upstream

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindTimeout Kind = iota + 1
	KindHTTP
	KindNetwork
	KindParse
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindHTTP:
		return "upstream http error"
	case KindNetwork:
		return "network error"
	case KindParse:
		return "parse error"
	}
	return "unknown"
}

// Error is returned for every failed upstream call.
type Error struct {
	Kind   Kind
	Status int // set for KindHTTP
	URL    string
	Err    error
}

func (e *Error) Error() string {
	if e.Kind == KindHTTP {
		return fmt.Sprintf("%s: %s returned status %d", e.Kind, e.URL, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.URL, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.URL)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the failure kind of err, or 0 when err is not an upstream error.
func KindOf(err error) Kind {
	var uerr *Error
	if errors.As(err, &uerr) {
		return uerr.Kind
	}
	return 0
}

func IsTimeout(err error) bool {
	return KindOf(err) == KindTimeout
}

// StatusCode returns the upstream status for KindHTTP errors.
func StatusCode(err error) (int, bool) {
	var uerr *Error
	if errors.As(err, &uerr) && uerr.Kind == KindHTTP {
		return uerr.Status, true
	}
	return 0, false
}
