package app

import (
	"strings"

	"github.com/gin-gonic/gin"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
)

type ValidError struct {
	Key     string
	Message string
}

type ValidErrors []*ValidError

func (v *ValidError) Error() string {
	return v.Message
}

func (v ValidErrors) Error() string {
	return strings.Join(v.Errors(), ",")
}

func (v ValidErrors) Errors() []string {
	var errs []string
	for _, err := range v {
		errs = append(errs, err.Error())
	}
	return errs
}

// BindAndValid binds request params and validates them, messages use the request translator
// BindAndValid 绑定请求参数并校验，错误信息使用请求的翻译器
func BindAndValid(c *gin.Context, params any) (bool, ValidErrors) {
	var errs ValidErrors
	if err := c.ShouldBind(params); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			errs = append(errs, &ValidError{Key: "body", Message: err.Error()})
			return false, errs
		}
		trans := translatorFromGin(c)
		for _, e := range verrs {
			msg := e.Error()
			if trans != nil {
				msg = e.Translate(trans)
			}
			errs = append(errs, &ValidError{Key: e.Field(), Message: msg})
		}
		return false, errs
	}
	return true, nil
}

func translatorFromGin(c *gin.Context) ut.Translator {
	v, ok := c.Get("trans")
	if !ok {
		return nil
	}
	trans, _ := v.(ut.Translator)
	return trans
}
