// Package remote talks to the authoritative server: the HTTP version API and the websocket relay
// Package remote 与权威服务端通信：HTTP 版本接口与 WebSocket 中继
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/haierkeys/fast-content-sync-service/internal/domain"
	"github.com/haierkeys/fast-content-sync-service/internal/dto"
	"github.com/haierkeys/fast-content-sync-service/pkg/code"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	apiPrefix = "/api/v1"
	// maxResponseBytes 单个响应的读取上限
	maxResponseBytes = 32 << 20
)

// Config 远端客户端配置
type Config struct {
	// BaseURL 服务端地址，例如 http://127.0.0.1:9000
	BaseURL string
	// Timeout 单次请求超时，0 表示只受 ctx 限制
	Timeout time.Duration
	// HTTPClient 可选，用于测试注入
	HTTPClient *http.Client
}

// Client HTTP implementation of domain.RemoteStore
// Client domain.RemoteStore 的 HTTP 实现
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *zap.Logger
}

var _ domain.RemoteStore = (*Client)(nil)

// New 创建远端客户端
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse server url")
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.Errorf("server url must be http or https, got %q", cfg.BaseURL)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{base: base, http: hc, logger: logger}, nil
}

// BaseURL 服务端地址
func (c *Client) BaseURL() string {
	return c.base.String()
}

// InsertVersion 分配 max+1 版本号并设为当前版本
func (c *Client) InsertVersion(ctx context.Context, req *domain.InsertVersionRequest) (*domain.VersionRecord, error) {
	body := dto.VersionCreateRequest{
		TargetID:        req.TargetID,
		Payload:         req.Payload,
		Author:          dto.NewAuthorDTO(req.Author),
		Description:     req.Description,
		SessionID:       req.SessionID,
		ObservedVersion: req.ObservedVersion,
	}
	return call[*domain.VersionRecord](ctx, c, "insert version", http.MethodPost, versionsPath(req.Domain), nil, body)
}

// ListVersions 按条件分页查询版本
func (c *Client) ListVersions(ctx context.Context, filter *domain.VersionFilter) ([]*domain.VersionRecord, int64, error) {
	q := url.Values{}
	if filter.TargetID != nil {
		q.Set("targetId", *filter.TargetID)
	}
	if filter.AuthorID != "" {
		q.Set("authorId", filter.AuthorID)
	}
	setTimeRange(q, filter.Since, filter.Until)
	if filter.CurrentOnly {
		q.Set("current", "true")
	}
	setPage(q, filter.Page, filter.PageSize)

	data, err := call[dto.ListData[*domain.VersionRecord]](ctx, c, "list versions", http.MethodGet, versionsPath(filter.Domain), q, nil)
	if err != nil {
		return nil, 0, err
	}
	return data.List, int64(data.Pager.TotalRows), nil
}

// SetCurrent 将指定版本设为当前版本
func (c *Client) SetCurrent(ctx context.Context, req *domain.SetCurrentRequest) (*domain.VersionRecord, error) {
	body := dto.VersionSetCurrentRequest{
		TargetID:  req.TargetID,
		VersionID: req.VersionID,
		Author:    dto.NewAuthorDTO(req.Author),
		SessionID: req.SessionID,
	}
	return call[*domain.VersionRecord](ctx, c, "set current", http.MethodPut, versionsPath(req.Domain)+"/current", nil, body)
}

// ListEvents 分页查询审计事件
func (c *Client) ListEvents(ctx context.Context, filter *domain.EventFilter) ([]*domain.SyncEvent, int64, error) {
	q := url.Values{}
	if filter != nil {
		if filter.Domain != "" {
			q.Set("domain", string(filter.Domain))
		}
		if filter.TargetID != nil {
			q.Set("targetId", *filter.TargetID)
		}
		if filter.Action != "" {
			q.Set("action", string(filter.Action))
		}
		setTimeRange(q, filter.Since, filter.Until)
		setPage(q, filter.Page, filter.PageSize)
	}

	data, err := call[dto.ListData[*domain.SyncEvent]](ctx, c, "list events", http.MethodGet, apiPrefix+"/events", q, nil)
	if err != nil {
		return nil, 0, err
	}
	return data.List, int64(data.Pager.TotalRows), nil
}

func versionsPath(d domain.ContentDomain) string {
	return apiPrefix + "/versions/" + url.PathEscape(string(d))
}

func setTimeRange(q url.Values, since, until time.Time) {
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339Nano))
	}
	if !until.IsZero() {
		q.Set("until", until.UTC().Format(time.RFC3339Nano))
	}
}

func setPage(q url.Values, page, pageSize int) {
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		q.Set("pageSize", strconv.Itoa(pageSize))
	}
}

// call sends one request and decodes the data of the response envelope.
// Network failures, timeouts and 5xx are transient, other refusals are rejections.
// call 发送一次请求并解码响应包中的 data；网络失败、超时与 5xx 为瞬时错误，其余拒绝为远端拒绝
func call[T any](ctx context.Context, c *Client, op, method, path string, query url.Values, body any) (T, error) {
	var zero T

	var reader io.Reader
	if body != nil {
		raw, err := sonic.Marshal(body)
		if err != nil {
			return zero, errors.Wrapf(err, "%s: encode request", op)
		}
		reader = bytes.NewReader(raw)
	}

	u := c.base.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return zero, errors.Wrapf(err, "%s: build request", op)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return zero, domain.NewTransient(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return zero, domain.NewTransient(op, err)
	}

	c.logger.Debug("remote call",
		zap.String("op", op),
		zap.String("url", u.String()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode >= http.StatusInternalServerError ||
		resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode == http.StatusRequestTimeout {
		return zero, domain.NewTransient(op, fmt.Errorf("server answered %d: %s", resp.StatusCode, snippet(raw)))
	}

	var env dto.Envelope[T]
	if err := sonic.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return zero, &domain.RemoteRejectionError{Op: op, Status: resp.StatusCode, Message: snippet(raw)}
		}
		return zero, errors.Wrapf(err, "%s: decode response", op)
	}

	if resp.StatusCode >= http.StatusBadRequest || !env.Status {
		return zero, &domain.RemoteRejectionError{
			Op:      op,
			Status:  resp.StatusCode,
			Code:    env.Code,
			Message: rejectionMessage(env.Message, env.Details),
			Err:     sentinel(env.Code),
		}
	}
	return env.Data, nil
}

// sentinel maps a server error code back to the domain error it was produced from
// sentinel 将服务端错误码还原为对应的领域错误
func sentinel(c int) error {
	switch c {
	case code.ErrorInvalidDomain.Code():
		return domain.ErrInvalidDomain
	case code.ErrorInvalidTarget.Code():
		return domain.ErrInvalidTarget
	case code.ErrorInvalidPayload.Code():
		return domain.ErrInvalidPayload
	case code.ErrorVersionNotFound.Code():
		return domain.ErrNotFound
	case code.ErrorVersionConflict.Code():
		return domain.ErrVersionNotInGroup
	}
	return nil
}

func rejectionMessage(msg string, details any) string {
	switch d := details.(type) {
	case nil:
		return msg
	case string:
		if d == "" {
			return msg
		}
		return msg + ": " + d
	case []any:
		parts := make([]string, 0, len(d))
		for _, p := range d {
			parts = append(parts, fmt.Sprint(p))
		}
		return msg + ": " + strings.Join(parts, ", ")
	}
	return msg
}

func snippet(raw []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(raw))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
