package rag

import (
	"strings"
	"sync"

	"github.com/pemistahl/lingua-go"
)

// 检测覆盖的语言集合，限定集合可显著提升短文本的判定准确率。
var supportedLanguages = []lingua.Language{
	lingua.English,
	lingua.Hindi,
	lingua.Gujarati,
	lingua.Marathi,
	lingua.Tamil,
	lingua.Telugu,
	lingua.Bengali,
	lingua.Punjabi,
	lingua.Urdu,
	lingua.French,
	lingua.German,
	lingua.Spanish,
	lingua.Chinese,
	lingua.Japanese,
	lingua.Korean,
	lingua.Arabic,
	lingua.Russian,
	lingua.Portuguese,
}

// languageNames ISO-639-1 代码到展示名的映射，用于提示词中的语言钉定。
var languageNames = map[string]string{
	"en": "English",
	"hi": "Hindi",
	"gu": "Gujarati",
	"mr": "Marathi",
	"ta": "Tamil",
	"te": "Telugu",
	"bn": "Bengali",
	"pa": "Punjabi",
	"ur": "Urdu",
	"fr": "French",
	"de": "German",
	"es": "Spanish",
	"zh": "Chinese",
	"ja": "Japanese",
	"ko": "Korean",
	"ar": "Arabic",
	"ru": "Russian",
	"pt": "Portuguese",
}

// LanguageClassifier 语言分类器。
// 同一输入必须得到同一结果：检测结果驱动存储打标和生成语言钉定，
// 检测器构建开销大，首次调用时惰性初始化并复用。
type LanguageClassifier struct {
	once     sync.Once
	detector lingua.LanguageDetector
}

// NewLanguageClassifier 创建语言分类器，检测器延迟到首次 Detect 时构建。
func NewLanguageClassifier() *LanguageClassifier {
	return &LanguageClassifier{}
}

// Detect 返回文本主导语言的 ISO-639-1 代码。
// 空白输入或无法判定时回退到 "en"。
func (c *LanguageClassifier) Detect(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return "en"
	}

	c.once.Do(func() {
		c.detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(supportedLanguages...).
			Build()
	})

	lang, ok := c.detector.DetectLanguageOf(text)
	if !ok {
		return "en"
	}
	return strings.ToLower(lang.IsoCode639_1().String())
}

// LanguageName 返回语言代码对应的英文展示名，未知代码原样返回。
func LanguageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return code
}
