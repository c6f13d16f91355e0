package domain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

// canonicalJSON sorts object keys and keeps numbers as json.Number so integers survive
var canonicalJSON = sonic.Config{
	SortMapKeys:    true,
	UseNumber:      true,
	CopyString:     true,
	ValidateString: true,
}.Froze()

// Payload canonical JSON of domain specific structured data
// Payload 领域结构化数据的规范化 JSON
type Payload []byte

// ParsePayload validates raw JSON and returns its canonical form
// ParsePayload 校验原始 JSON 并返回规范化形式
func ParsePayload(raw []byte) (Payload, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPayload)
	}
	var v any
	if err := canonicalJSON.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	out, err := canonicalJSON.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return Payload(out), nil
}

// NewPayload encodes v, raw JSON inputs are canonicalized as they are
// NewPayload 编码 v，原始 JSON 输入直接规范化
func NewPayload(v any) (Payload, error) {
	switch raw := v.(type) {
	case Payload:
		return ParsePayload(raw)
	case json.RawMessage:
		return ParsePayload(raw)
	case []byte:
		return ParsePayload(raw)
	}
	out, err := canonicalJSON.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return ParsePayload(out)
}

// MustPayload is NewPayload for literals known to be valid
// MustPayload 用于已知合法的字面量
func MustPayload(v any) Payload {
	p, err := NewPayload(v)
	if err != nil {
		panic(err)
	}
	return p
}

// Decode 解码到 v
func (p Payload) Decode(v any) error {
	if len(p) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidPayload)
	}
	return canonicalJSON.Unmarshal(p, v)
}

// Valid 是否为合法 JSON
func (p Payload) Valid() bool {
	if len(p) == 0 {
		return false
	}
	return canonicalJSON.Valid(p)
}

// Equal compares the canonical forms
// Equal 比较两者的规范化形式
func (p Payload) Equal(other Payload) bool {
	a, errA := ParsePayload(p)
	b, errB := ParsePayload(other)
	if errA != nil || errB != nil {
		return bytes.Equal(p, other)
	}
	return bytes.Equal(a, b)
}

// Pretty indented rendering used by diffs
// Pretty 用于差异比较的缩进渲染
func (p Payload) Pretty() string {
	var v any
	if err := p.Decode(&v); err != nil {
		return string(p)
	}
	out, err := canonicalJSON.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(p)
	}
	return string(out) + "\n"
}

func (p Payload) String() string {
	return string(p)
}

// MarshalJSON embeds the payload as raw JSON
// MarshalJSON 以原始 JSON 嵌入
func (p Payload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}

// UnmarshalJSON keeps the raw JSON, null leaves the payload empty
// UnmarshalJSON 保留原始 JSON，null 时为空
func (p *Payload) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = nil
		return nil
	}
	*p = append((*p)[:0], data...)
	return nil
}

// DefaultPayload rendered when neither the remote store nor the mirror has data
// DefaultPayload 远端与本地镜像均无数据时使用的默认内容
func DefaultPayload(d ContentDomain) Payload {
	switch d {
	case DomainImages:
		return Payload(`{"images":[]}`)
	default:
		return Payload(`{}`)
	}
}
