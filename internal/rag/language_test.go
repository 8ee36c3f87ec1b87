package rag

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectLanguages(t *testing.T) {
	c := NewLanguageClassifier()

	cases := []struct {
		text string
		want string
	}{
		{"What is the refund policy described in this document?", "en"},
		{"इस दस्तावेज़ में वापसी नीति क्या है?", "hi"},
		{"本文档中描述的退款政策是什么？", "zh"},
		{"¿Cuál es la política de reembolso descrita en este documento?", "es"},
	}

	for _, tc := range cases {
		require.Equal(t, tc.want, c.Detect(tc.text), "text: %s", tc.text)
	}
}

func TestDetectDeterministic(t *testing.T) {
	c := NewLanguageClassifier()

	text := "The quarterly report shows steady growth in all regions."
	first := c.Detect(text)
	for i := 0; i < 5; i++ {
		require.Equal(t, first, c.Detect(text))
	}
}

func TestDetectFallbackToEnglish(t *testing.T) {
	c := NewLanguageClassifier()

	require.Equal(t, "en", c.Detect(""))
	require.Equal(t, "en", c.Detect("   \n  "))
}

func TestLanguageName(t *testing.T) {
	require.Equal(t, "Hindi", LanguageName("hi"))
	require.Equal(t, "English", LanguageName("en"))
	require.Equal(t, "Chinese", LanguageName("zh"))
	// 未知代码原样返回
	require.Equal(t, "xx", LanguageName("xx"))
}
