package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-sqlite3"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"github.com/desertthunder/ytsync/internal/shared"
)

// Kind is the recovery class of an error.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransient
	KindRateLimited
	KindAuth
	KindConflict
	KindQuota
	KindValidation
)

var kindNames = map[Kind]string{
	KindUnknown:     "unknown",
	KindTransient:   "transient",
	KindRateLimited: "rate_limited",
	KindAuth:        "auth",
	KindConflict:    "conflict",
	KindQuota:       "quota",
	KindValidation:  "validation",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Strategy is what the retry loop does with an error of a given kind.
type Strategy int

const (
	RetryBackoff Strategy = iota
	WaitHint
	RefreshThenRetry
	ResolveThenRetry
	Fail
)

func (s Strategy) String() string {
	switch s {
	case RetryBackoff:
		return "retry_backoff"
	case WaitHint:
		return "wait_hint"
	case RefreshThenRetry:
		return "refresh_then_retry"
	case ResolveThenRetry:
		return "resolve_then_retry"
	case Fail:
		return "fail"
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

var strategies = map[Kind]Strategy{
	KindTransient:   RetryBackoff,
	KindRateLimited: WaitHint,
	KindAuth:        RefreshThenRetry,
	KindConflict:    ResolveThenRetry,
	KindQuota:       Fail,
	KindValidation:  Fail,
	KindUnknown:     RetryBackoff,
}

// StrategyFor returns the recovery strategy for k.
func StrategyFor(k Kind) Strategy {
	if s, ok := strategies[k]; ok {
		return s
	}
	return RetryBackoff
}

// Recoverable reports whether errors of kind k may succeed on a later attempt.
func (k Kind) Recoverable() bool { return StrategyFor(k) != Fail }

// Error tags an error with an explicit kind and an optional server retry hint.
type Error struct {
	Kind       Kind
	RetryAfter time.Duration
	Err        error
}

// NewError tags err with kind.
func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Classify maps err to its recovery kind. It performs no I/O.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return classifyHTTP(apiErr.Code, reasons(apiErr))
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return KindAuth
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return KindConflict
		case sqlite3.ErrConstraint:
			if sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
				return KindConflict
			}
			return KindValidation
		}
	}

	switch {
	case errors.Is(err, context.Canceled):
		return KindValidation
	case errors.Is(err, shared.ErrQuotaExceeded):
		return KindQuota
	case errors.Is(err, shared.ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, shared.ErrTokenExpired), errors.Is(err, shared.ErrNotAuthenticated), errors.Is(err, shared.ErrAuthFailed):
		return KindAuth
	case errors.Is(err, shared.ErrConflict):
		return KindConflict
	case errors.Is(err, shared.ErrInvalidInput), errors.Is(err, shared.ErrInvalidArgument),
		errors.Is(err, shared.ErrMissingArgument), errors.Is(err, shared.ErrNotFound),
		errors.Is(err, shared.ErrCollectionNotFound), errors.Is(err, shared.ErrVideoNotFound),
		errors.Is(err, shared.ErrSyncInProgress), errors.Is(err, shared.ErrMissingCredentials),
		errors.Is(err, shared.ErrNoRefreshToken), errors.Is(err, shared.ErrInvalidConfig):
		return KindValidation
	case errors.Is(err, shared.ErrServiceUnavailable), errors.Is(err, shared.ErrTimeout), errors.Is(err, shared.ErrCircuitOpen):
		return KindTransient
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED):
		return KindTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy") {
		return KindConflict
	}

	return KindUnknown
}

// classifyHTTP maps an HTTP status and Google API error reasons to a kind.
func classifyHTTP(code int, reasons []string) Kind {
	for _, r := range reasons {
		switch r {
		case "quotaExceeded", "dailyLimitExceeded":
			return KindQuota
		case "rateLimitExceeded", "userRateLimitExceeded":
			return KindRateLimited
		case "authError", "expired":
			return KindAuth
		}
	}

	switch {
	case code == http.StatusUnauthorized:
		return KindAuth
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusConflict, code == http.StatusPreconditionFailed:
		return KindConflict
	case code == http.StatusRequestTimeout:
		return KindTransient
	case code >= 500:
		return KindTransient
	case code >= 400:
		return KindValidation
	}
	return KindUnknown
}

func reasons(e *googleapi.Error) []string {
	out := make([]string, 0, len(e.Errors))
	for _, item := range e.Errors {
		out = append(out, item.Reason)
	}
	return out
}

// RetryAfter extracts a server retry hint from err, if there is one.
func RetryAfter(err error) (time.Duration, bool) {
	var tagged *Error
	if errors.As(err, &tagged) && tagged.RetryAfter > 0 {
		return tagged.RetryAfter, true
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Header != nil {
		return parseRetryAfter(apiErr.Header.Get("Retry-After"), time.Now())
	}
	return 0, false
}

// parseRetryAfter accepts both forms of the Retry-After header: delay seconds and an HTTP date.
func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		return max(at.Sub(now), 0), true
	}
	return 0, false
}
