// Package domain 定义领域模型和接口
package domain

import (
	"fmt"
	"strings"
)

// ContentDomain 可编辑内容的分类
type ContentDomain string

const (
	DomainContent    ContentDomain = "content"
	DomainProperties ContentDomain = "properties"
	DomainImages     ContentDomain = "images"
	DomainDesign     ContentDomain = "design"
)

// Image categories, the targets of the images domain
// 图片分类，即 images 内容域的目标
const (
	ImageCategoryHero    = "hero"
	ImageCategoryConcept = "concept"
)

// Domains 按固定顺序返回所有内容域
func Domains() []ContentDomain {
	return []ContentDomain{DomainContent, DomainProperties, DomainImages, DomainDesign}
}

// ParseDomain 解析内容域名称
func ParseDomain(s string) (ContentDomain, error) {
	d := ContentDomain(strings.ToLower(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidDomain, s)
	}
	return d, nil
}

// Valid 是否为已知内容域
func (d ContentDomain) Valid() bool {
	switch d {
	case DomainContent, DomainProperties, DomainImages, DomainDesign:
		return true
	}
	return false
}

// Singleton 内容域是否只有一个分组（无目标）
func (d ContentDomain) Singleton() bool {
	switch d {
	case DomainContent, DomainDesign:
		return true
	case DomainProperties, DomainImages:
		return false
	}
	return false
}

// Topic EventBus topic announcing applied changes of the domain
// Topic 通知该内容域变更的 EventBus 主题
func (d ContentDomain) Topic() string {
	switch d {
	case DomainContent:
		return "content-updated"
	case DomainProperties:
		return "properties-updated"
	case DomainImages:
		return "images-updated"
	case DomainDesign:
		return "design-updated"
	}
	return ""
}

func (d ContentDomain) String() string {
	return string(d)
}

// ValidateTarget checks target against the domain's addressing rules
// ValidateTarget 按内容域的寻址规则校验目标
// content/design: target must be empty; images: hero or concept; properties: non empty property id
func ValidateTarget(d ContentDomain, target string) error {
	switch d {
	case DomainContent, DomainDesign:
		if target != "" {
			return fmt.Errorf("%w: %s takes no target, got %q", ErrInvalidTarget, d, target)
		}
		return nil
	case DomainImages:
		if target != ImageCategoryHero && target != ImageCategoryConcept {
			return fmt.Errorf("%w: image category must be %s or %s, got %q", ErrInvalidTarget, ImageCategoryHero, ImageCategoryConcept, target)
		}
		return nil
	case DomainProperties:
		if strings.TrimSpace(target) == "" || strings.Contains(target, "/") {
			return fmt.Errorf("%w: property id required", ErrInvalidTarget)
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidDomain, d)
}

// GroupKey identifies one version group, the unit of serialization
// GroupKey 标识一个版本分组，是串行化的单位
type GroupKey struct {
	Domain   ContentDomain
	TargetID string
}

// String 返回 "domain/target" 形式的分组键
func (k GroupKey) String() string {
	return string(k.Domain) + "/" + k.TargetID
}

// Validate 校验内容域与目标
func (k GroupKey) Validate() error {
	if !k.Domain.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidDomain, k.Domain)
	}
	return ValidateTarget(k.Domain, k.TargetID)
}
