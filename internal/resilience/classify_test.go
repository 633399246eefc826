package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"github.com/desertthunder/ytsync/internal/shared"
)

func apiError(code int, reason string) *googleapi.Error {
	e := &googleapi.Error{Code: code, Message: http.StatusText(code)}
	if reason != "" {
		e.Errors = []googleapi.ErrorItem{{Reason: reason}}
	}
	return e
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"tagged", NewError(KindConflict, errors.New("boom")), KindConflict},
		{"wrapped tagged", fmt.Errorf("outer: %w", NewError(KindRateLimited, errors.New("slow down"))), KindRateLimited},
		{"quota exceeded reason", apiError(403, "quotaExceeded"), KindQuota},
		{"daily limit reason", apiError(403, "dailyLimitExceeded"), KindQuota},
		{"rate limit reason", apiError(403, "rateLimitExceeded"), KindRateLimited},
		{"forbidden", apiError(403, "forbidden"), KindValidation},
		{"unauthorized", apiError(401, ""), KindAuth},
		{"too many requests", apiError(429, ""), KindRateLimited},
		{"conflict", apiError(409, ""), KindConflict},
		{"not found", apiError(404, "playlistNotFound"), KindValidation},
		{"bad request", apiError(400, "invalidParameter"), KindValidation},
		{"server error", apiError(503, ""), KindTransient},
		{"request timeout", apiError(408, ""), KindTransient},
		{"oauth retrieve", &oauth2.RetrieveError{ErrorCode: "invalid_grant"}, KindAuth},
		{"sqlite busy", sqlite3.Error{Code: sqlite3.ErrBusy}, KindConflict},
		{"sqlite unique", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, KindConflict},
		{"sqlite check", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintCheck}, KindValidation},
		{"locked text", errors.New("database is locked"), KindConflict},
		{"canceled", context.Canceled, KindValidation},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"net error", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, KindTransient},
		{"quota sentinel", fmt.Errorf("reserve: %w", shared.ErrQuotaExceeded), KindQuota},
		{"token expired", shared.ErrTokenExpired, KindAuth},
		{"rate limited sentinel", shared.ErrRateLimited, KindRateLimited},
		{"conflict sentinel", shared.ErrConflict, KindConflict},
		{"invalid input", shared.ErrInvalidInput, KindValidation},
		{"collection not found", shared.ErrCollectionNotFound, KindValidation},
		{"sync in progress", shared.ErrSyncInProgress, KindValidation},
		{"service unavailable", shared.ErrServiceUnavailable, KindTransient},
		{"unclassified", errors.New("something odd"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestStrategyFor(t *testing.T) {
	tests := []struct {
		kind Kind
		want Strategy
	}{
		{KindTransient, RetryBackoff},
		{KindRateLimited, WaitHint},
		{KindAuth, RefreshThenRetry},
		{KindConflict, ResolveThenRetry},
		{KindQuota, Fail},
		{KindValidation, Fail},
		{KindUnknown, RetryBackoff},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := StrategyFor(tt.kind); got != tt.want {
				t.Errorf("StrategyFor(%s) = %s, want %s", tt.kind, got, tt.want)
			}
			if tt.kind.Recoverable() != (tt.want != Fail) {
				t.Errorf("Recoverable(%s) disagrees with strategy %s", tt.kind, tt.want)
			}
		})
	}
}

func TestRetryAfter(t *testing.T) {
	t.Run("Tagged", func(t *testing.T) {
		err := &Error{Kind: KindRateLimited, RetryAfter: 3 * time.Second, Err: errors.New("slow")}
		d, ok := RetryAfter(fmt.Errorf("wrapped: %w", err))
		if !ok || d != 3*time.Second {
			t.Errorf("expected 3s hint, got %v %v", d, ok)
		}
	})

	t.Run("HeaderSeconds", func(t *testing.T) {
		err := apiError(429, "")
		err.Header = http.Header{"Retry-After": []string{"7"}}
		d, ok := RetryAfter(err)
		if !ok || d != 7*time.Second {
			t.Errorf("expected 7s hint, got %v %v", d, ok)
		}
	})

	t.Run("NoHint", func(t *testing.T) {
		if _, ok := RetryAfter(apiError(429, "")); ok {
			t.Error("expected no hint without header")
		}
		if _, ok := RetryAfter(errors.New("plain")); ok {
			t.Error("expected no hint for plain error")
		}
	})

	t.Run("ParseForms", func(t *testing.T) {
		now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		tests := []struct {
			in     string
			want   time.Duration
			wantOK bool
		}{
			{"0", 0, true},
			{"120", 2 * time.Minute, true},
			{"-5", 0, false},
			{now.Add(10 * time.Second).Format(http.TimeFormat), 10 * time.Second, true},
			{now.Add(-time.Minute).Format(http.TimeFormat), 0, true},
			{"soon", 0, false},
			{"", 0, false},
		}
		for _, tt := range tests {
			got, ok := parseRetryAfter(tt.in, now)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("parseRetryAfter(%q) = %v %v, want %v %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		}
	})
}
