// Package validator gin binding validator with the custom rules of this service
// Package validator 带有本服务自定义规则的 gin 绑定校验器
package validator

import (
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	zh_translations "github.com/go-playground/validator/v10/translations/zh"
)

// CustomValidator implements gin's binding.StructValidator
// CustomValidator 实现 gin 的 binding.StructValidator
type CustomValidator struct {
	once     sync.Once
	validate *validator.Validate
	rules    map[string]validator.Func
}

// NewCustomValidator 创建校验器，rules 为附加的自定义规则
func NewCustomValidator(rules map[string]validator.Func) *CustomValidator {
	return &CustomValidator{rules: rules}
}

// ValidateStruct validates structs and pointers to structs, other kinds pass
// ValidateStruct 校验结构体或结构体指针，其他类型直接通过
func (v *CustomValidator) ValidateStruct(obj any) error {
	if obj == nil {
		return nil
	}
	value := reflect.ValueOf(obj)
	switch value.Kind() {
	case reflect.Ptr:
		if value.IsNil() || value.Elem().Kind() != reflect.Struct {
			return nil
		}
	case reflect.Struct:
	default:
		return nil
	}
	v.lazyinit()
	return v.validate.Struct(obj)
}

// Engine 返回底层的 *validator.Validate
func (v *CustomValidator) Engine() any {
	v.lazyinit()
	return v.validate
}

func (v *CustomValidator) lazyinit() {
	v.once.Do(func() {
		v.validate = validator.New()
		v.validate.SetTagName("binding")
		for tag, fn := range v.rules {
			// 规则名在编译期确定，注册失败属于编程错误
			if err := v.validate.RegisterValidation(tag, fn); err != nil {
				panic(err)
			}
		}
	})
}

// Install makes a CustomValidator with rules gin's binding validator and
// returns the en/zh translators of its messages. Field names come from json tags.
// Install 将带 rules 的 CustomValidator 设为 gin 的绑定校验器，并返回其消息的 en/zh 翻译器；字段名取自 json 标签
func Install(rules map[string]validator.Func) (*CustomValidator, *ut.UniversalTranslator, error) {
	customValidator := NewCustomValidator(rules)
	validate := customValidator.Engine().(*validator.Validate)
	binding.Validator = customValidator

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			name = strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
		}
		return name
	})

	uni := ut.New(en.New(), en.New(), zh.New())

	zhTran, _ := uni.GetTranslator("zh")
	enTran, _ := uni.GetTranslator("en")

	if err := zh_translations.RegisterDefaultTranslations(validate, zhTran); err != nil {
		return nil, nil, err
	}
	if err := en_translations.RegisterDefaultTranslations(validate, enTran); err != nil {
		return nil, nil, err
	}
	return customValidator, uni, nil
}

// Validate 返回底层的 *validator.Validate
func (v *CustomValidator) Validate() *validator.Validate {
	v.lazyinit()
	return v.validate
}
