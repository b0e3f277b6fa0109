package errs

import (
	"strconv"
	"strings"
)

// CodeError is a coded error that can be serialized onto the wire as the
// payload of an `error` event. Code ranges: 1xxx auth, 2xxx validation,
// 3xxx delivery.
type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

// WithDetail returns a copy carrying extra detail; the receiver is not
// mutated so the predefined sentinels stay clean.
func (e *CodeError) WithDetail(detail string) *CodeError {
	d := detail
	if e.Detail != "" {
		d = e.Detail + ", " + detail
	}
	return &CodeError{Code: e.Code, Msg: e.Msg, Detail: d}
}

func (e *CodeError) Error() string {
	v := make([]string, 0, 3)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

// Predefined wire errors.
var (
	ErrAuthFailed       = NewCodeError(1001, "authentication failed")
	ErrTokenExpired     = NewCodeError(1002, "token expired")
	ErrUnknownEvent     = NewCodeError(2001, "unknown event")
	ErrInvalidPayload   = NewCodeError(2002, "invalid payload")
	ErrDeliveryDegraded = NewCodeError(3001, "delivery degraded")
)
