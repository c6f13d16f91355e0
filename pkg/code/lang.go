package code

import (
	"errors"
	"slices"
	"sync/atomic"
)

// lang stores English and Chinese text
// lang 类型，用来存储英文和中文文本
type lang struct {
	en    string // English // 英文
	zh_cn string // Chinese // 中文
}

// FALLBACK_LNG fallback language
// FALLBACK_LNG 回退语言
const FALLBACK_LNG = "en"

var supportedLanguages = []string{"en", "zh_cn"}

var lng atomic.Value

// GetMessage returns the message in the global language, falling back to English
// GetMessage 根据全局语言返回消息，缺失时回退英文
func (l lang) GetMessage() string {
	switch GetGlobalDefaultLang() {
	case "zh_cn":
		if l.zh_cn != "" {
			return l.zh_cn
		}
	}
	return l.en
}

// GetSupportedLanguages returns all supported languages
// GetSupportedLanguages 返回支持的所有语言
func GetSupportedLanguages() []string {
	return append([]string{}, supportedLanguages...)
}

// SetGlobalDefaultLang sets the global default language
// SetGlobalDefaultLang 设置全局默认语言
func SetGlobalDefaultLang(language string) error {
	if slices.Contains(supportedLanguages, language) {
		lng.Store(language)
		return nil
	}
	lng.Store(FALLBACK_LNG)
	return errors.New("unsupported language type, set defaulting to " + FALLBACK_LNG)
}

// GetGlobalDefaultLang gets the global default language
// GetGlobalDefaultLang 获取全局默认语言
func GetGlobalDefaultLang() string {
	if v, ok := lng.Load().(string); ok && v != "" {
		return v
	}
	return FALLBACK_LNG
}
