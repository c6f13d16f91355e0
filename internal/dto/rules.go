package dto

import (
	"github.com/go-playground/validator/v10"
	"github.com/haierkeys/fast-content-sync-service/internal/domain"
)

// Rules custom binding rules used by the DTOs of this package
// Rules 本包 DTO 使用的自定义校验规则
var Rules = map[string]validator.Func{
	"content_domain": func(fl validator.FieldLevel) bool {
		return domain.ContentDomain(fl.Field().String()).Valid()
	},
}
