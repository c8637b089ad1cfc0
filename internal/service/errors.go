package service

import (
	"errors"

	"playdrive/internal/repository"
)

// ErrorKind 账本错误分类
type ErrorKind string

const (
	KindValidation          ErrorKind = "validation"
	KindInsufficientBalance ErrorKind = "insufficient_balance"
	KindConflict            ErrorKind = "conflict"
	KindPostLimitReached    ErrorKind = "post_limit_reached"
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"
)

// LedgerError 面向调用方的类型化错误
//
// Message 可以直接展示给用户，Err 只用于日志，不对外返回
type LedgerError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *LedgerError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

// Is 与同类哨兵错误匹配，例如 errors.Is(err, ErrInsufficientBalance)
func (e *LedgerError) Is(target error) bool {
	t, ok := target.(*LedgerError)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Retriable 上游不可用时调用方可以重试
func (e *LedgerError) Retriable() bool {
	return e.Kind == KindUpstreamUnavailable
}

var (
	ErrValidation          = &LedgerError{Kind: KindValidation}
	ErrInsufficientBalance = &LedgerError{Kind: KindInsufficientBalance}
	ErrConflict            = &LedgerError{Kind: KindConflict}
	ErrPostLimitReached    = &LedgerError{Kind: KindPostLimitReached}
	ErrUpstreamUnavailable = &LedgerError{Kind: KindUpstreamUnavailable}
)

func validationError(message string) error {
	return &LedgerError{Kind: KindValidation, Message: message}
}

func insufficientBalance(message string) error {
	return &LedgerError{Kind: KindInsufficientBalance, Message: message}
}

func postLimitReached(message string) error {
	return &LedgerError{Kind: KindPostLimitReached, Message: message}
}

func conflictError(err error) error {
	return &LedgerError{Kind: KindConflict, Message: "账户余额已被其他操作修改，请重试", Err: err}
}

// upstream 包装数据库 / Redis 等基础设施错误；已分类的错误原样返回
func upstream(message string, err error) error {
	var le *LedgerError
	if errors.As(err, &le) {
		return err
	}
	return &LedgerError{Kind: KindUpstreamUnavailable, Message: message, Err: err}
}

// KindOf 返回错误分类，未分类错误视为上游错误
func KindOf(err error) ErrorKind {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindUpstreamUnavailable
}

// PublicMessage 返回可展示给用户的错误信息
func PublicMessage(err error) string {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Message
	}
	return "服务暂时不可用，请稍后重试"
}

// errReplay 幂等键已存在，回滚事务并视为成功
var errReplay = errors.New("幂等重放")

// withConflictRetry 乐观锁冲突时用新读取的数据重试一次，仍冲突则返回 ErrConflict
func withConflictRetry(fn func() error) error {
	err := fn()
	if !errors.Is(err, repository.ErrOptimisticLock) {
		return err
	}
	err = fn()
	if errors.Is(err, repository.ErrOptimisticLock) {
		return conflictError(err)
	}
	return err
}
