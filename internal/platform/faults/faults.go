package faults

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"
)

// Kind partitions failures the way the orchestrator branches on them.
// Callers must branch on Kind, never on message text.
type Kind string

const (
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindRateLimit  Kind = "rate_limit"
	KindTransient  Kind = "transient_network"
	KindSchema     Kind = "schema"
	KindBudget     Kind = "insufficient_budget"
	KindUnknown    Kind = "unknown"
)

type Error struct {
	Kind       Kind
	Operation  string
	StatusCode int
	Message    string
	// Field is set for KindSchema when the offending field could be
	// extracted from the provider message.
	Field string
	// RetryAfter carries a provider-supplied Retry-After hint, zero when
	// the provider sent none.
	RetryAfter time.Duration
	Cause      error
}

func (e *Error) Error() string {
	if e == nil {
		return "operation failed"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s failed (kind=%s", e.Operation, e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " status=%d", e.StatusCode)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " field=%s", e.Field)
	}
	b.WriteString(")")
	switch {
	case e.Message != "":
		fmt.Fprintf(&b, ": %s", e.Message)
	case e.Cause != nil:
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func (e *Error) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Operation: op, Message: msg}
}

func Wrap(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Operation: op, Cause: cause}
}

// KindOf classifies any error. Plain network/timeout errors map to
// KindTransient; everything unrecognized is KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	return KindUnknown
}

// RetryAfterOf surfaces the provider's Retry-After hint from anywhere in the
// chain, zero when absent.
func RetryAfterOf(err error) time.Duration {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.RetryAfter
	}
	return 0
}

func IsRateLimit(err error) bool  { return KindOf(err) == KindRateLimit }
func IsRetryable(err error) bool  { k := KindOf(err); return k == KindRateLimit || k == KindTransient }
func IsBudget(err error) bool     { return KindOf(err) == KindBudget }
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// FromStatus maps a provider HTTP status to the taxonomy.
func FromStatus(op string, status int, body string) *Error {
	kind := KindTransient
	switch {
	case status == 401 || status == 403:
		kind = KindAuth
	case status == 429:
		kind = KindRateLimit
	case status >= 400 && status < 500:
		kind = KindValidation
	}
	return &Error{Kind: kind, Operation: op, StatusCode: status, Message: truncate(body, 512)}
}

var schemaFieldRes = []*regexp.Regexp{
	regexp.MustCompile(`column "([A-Za-z0-9_]+)"`),
	regexp.MustCompile(`unknown field ['"]([A-Za-z0-9_]+)['"]`),
	regexp.MustCompile(`field ['"]([A-Za-z0-9_]+)['"] (?:is not|does not)`),
}

// Schema builds a KindSchema error, extracting the offending field name from
// the provider message when one of the known shapes matches.
func Schema(op, providerMsg string) *Error {
	field := ""
	for _, re := range schemaFieldRes {
		if m := re.FindStringSubmatch(providerMsg); len(m) == 2 {
			field = m[1]
			break
		}
	}
	return &Error{Kind: KindSchema, Operation: op, Message: truncate(providerMsg, 512), Field: field}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// UserMessage renders a taxonomy-categorized, human-readable string suitable
// for API responses. Never a stack trace.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindValidation:
		return "invalid input: " + rootMessage(err)
	case KindAuth:
		return "provider rejected credentials; check API key configuration"
	case KindRateLimit:
		return "provider rate limit exceeded; try again shortly"
	case KindTransient:
		return "temporary network failure talking to an external service"
	case KindSchema:
		return "storage schema rejected the request: " + rootMessage(err)
	case KindBudget:
		return "token budget exhausted for this billing period"
	default:
		return rootMessage(err)
	}
}

func rootMessage(err error) string {
	var fe *Error
	if errors.As(err, &fe) && fe.Message != "" {
		return fe.Message
	}
	return err.Error()
}
