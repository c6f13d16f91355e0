package domain

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("record not found")
	// ErrInvalidDomain 未知内容域
	ErrInvalidDomain = errors.New("invalid content domain")
	// ErrInvalidTarget 目标不符合内容域的寻址规则
	ErrInvalidTarget = errors.New("invalid target")
	// ErrInvalidPayload 内容不是合法 JSON
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrVersionNotInGroup 回滚目标不属于该分组
	ErrVersionNotInGroup = errors.New("version does not belong to group")
)

// TransientNetworkError timeout, connection failure or 5xx, retried later
// TransientNetworkError 超时、连接失败或 5xx，稍后重试
type TransientNetworkError struct {
	Op  string
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("transient network error during %s: %v", e.Op, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// RemoteRejectionError the remote refused the write (4xx, validation, permission)
// RemoteRejectionError 远端拒绝写入（4xx、校验失败、无权限）
type RemoteRejectionError struct {
	Op      string
	Status  int
	Code    int
	Message string
	// Err sentinel matching Code when the remote reported a known domain error
	// Err 远端返回已知领域错误码时对应的哨兵错误
	Err error
}

func (e *RemoteRejectionError) Error() string {
	return fmt.Sprintf("remote rejected %s (status %d, code %d): %s", e.Op, e.Status, e.Code, e.Message)
}

func (e *RemoteRejectionError) Unwrap() error { return e.Err }

// DataIntegrityError a stored payload could not be parsed
// DataIntegrityError 存储的内容无法解析
type DataIntegrityError struct {
	Domain ContentDomain
	SubKey string
	Err    error
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("malformed stored payload for %s/%s: %v", e.Domain, e.SubKey, e.Err)
}

func (e *DataIntegrityError) Unwrap() error { return e.Err }

// ConcurrentVersionConflict another writer won the next version number, last write wins
// ConcurrentVersionConflict 其他写入方先分配了版本号，按最后写入者获胜处理
type ConcurrentVersionConflict struct {
	Group     GroupKey
	Observed  int64
	Allocated int64
}

func (e *ConcurrentVersionConflict) Error() string {
	return fmt.Sprintf("concurrent version conflict on %s: observed %d, allocated %d", e.Group, e.Observed, e.Allocated)
}

// NewTransient wraps err as a TransientNetworkError
// NewTransient 将 err 包装为 TransientNetworkError
func NewTransient(op string, err error) error {
	return &TransientNetworkError{Op: op, Err: err}
}

// IsTransient 是否为瞬时网络错误（含超时）
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var t *TransientNetworkError
	if errors.As(err, &t) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsRejection 是否为远端拒绝
func IsRejection(err error) bool {
	var r *RemoteRejectionError
	return errors.As(err, &r)
}

// IsDataIntegrity 是否为数据完整性错误
func IsDataIntegrity(err error) bool {
	var d *DataIntegrityError
	return errors.As(err, &d)
}
