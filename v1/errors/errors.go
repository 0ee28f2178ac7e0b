// Package errors defines the error kinds shared by warp-weather packages.
//
// Failures are returned as *Error values tagged with a Kind. Callers match
// them with the standard errors package:
//
//	if errors.Is(err, warperrors.ErrRemote) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTimeout          = errors.New("timeout")
	ErrConnectionClosed = errors.New("connection closed")
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	// KindNetwork covers transport failures: DNS, dial, TLS, timeouts.
	KindNetwork
	// KindRemote is a well-formed but unsuccessful API response.
	KindRemote
	// KindParse is a response body that could not be decoded.
	KindParse
	// KindConfig is an invalid setting detected at construction time.
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindRemote:
		return "remote"
	case KindParse:
		return "parse"
	case KindConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Sentinels matching every *Error of the corresponding kind.
var (
	ErrNetwork = &Error{Kind: KindNetwork}
	ErrRemote  = &Error{Kind: KindRemote}
	ErrParse   = &Error{Kind: KindParse}
	ErrConfig  = &Error{Kind: KindConfig}
)

// Error is a tagged failure.
type Error struct {
	Kind Kind
	// Op names the failing operation, e.g. "openweather.fetch".
	Op string
	// Key is the city the operation was about, if any.
	Key string
	// Status is the HTTP status code for KindRemote errors.
	Status int
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	b.WriteString(" error")
	if e.Key != "" {
		fmt.Fprintf(&b, " for %q", e.Key)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel of e's kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Key == "" && t.Msg == "" && t.Err == nil && t.Status == 0 && t.Kind == e.Kind
}

// Network wraps a transport failure.
func Network(op, key string, err error) error {
	return &Error{Kind: KindNetwork, Op: op, Key: key, Err: err}
}

// Remote reports a non-successful API response.
func Remote(op, key string, status int, msg string) error {
	return &Error{Kind: KindRemote, Op: op, Key: key, Status: status, Msg: msg}
}

// Parse wraps a decoding failure.
func Parse(op, key string, err error) error {
	return &Error{Kind: KindParse, Op: op, Key: key, Err: err}
}

// Config reports an invalid setting.
func Config(op, msg string) error {
	return &Error{Kind: KindConfig, Op: op, Msg: msg}
}

// KindOf returns the Kind of the first *Error in err's chain. The plain
// ErrTimeout and ErrConnectionClosed sentinels count as KindNetwork.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnectionClosed) {
		return KindNetwork
	}
	return KindUnknown
}

// StatusOf returns the HTTP status carried by a KindRemote error, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindRemote {
		return e.Status
	}
	return 0
}
