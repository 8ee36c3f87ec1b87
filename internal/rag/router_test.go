package rag

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoutePlainQuestionGoesToDocumentQA(t *testing.T) {
	r := NewIntentRouter(nil)

	d := r.Route("What is the refund policy?")
	require.Equal(t, RouteDocumentQA, d.Kind)
	require.Empty(t, d.Key)
}

func TestRouteKeywordWithHostname(t *testing.T) {
	r := NewIntentRouter(nil)

	cases := []struct {
		question string
		wantKey  string
	}{
		{"What is the IP of host server01?", "server01"},
		{"show me cmdb details for vm-prod-01", "vm-prod-01"},
		{"servicenow record for db-host-2?", "db-host-2"},
		{"Tell me about server app01.internal.local", "app01.internal.local"},
	}

	for _, tc := range cases {
		d := r.Route(tc.question)
		require.Equal(t, RouteStructuredLookup, d.Kind, "question: %s", tc.question)
		require.Equal(t, tc.wantKey, d.Key, "question: %s", tc.question)
	}
}

func TestRouteKeywordWithoutExtractableKeyFallsBack(t *testing.T) {
	r := NewIntentRouter(nil)

	// 命中关键词但提取不到主机名 → 回退文档问答而非报错
	d := r.Route("what does the document say about server rooms")
	require.Equal(t, RouteDocumentQA, d.Kind)
}

func TestRouteCaseAndPunctuationInsensitive(t *testing.T) {
	r := NewIntentRouter(nil)

	a := r.Route("HOST server01?")
	b := r.Route("host server01")
	require.Equal(t, a, b)
	require.Equal(t, RouteStructuredLookup, a.Kind)
	require.Equal(t, "server01", a.Key)
}

func TestRouteKeywordMidSentence(t *testing.T) {
	r := NewIntentRouter(nil)

	d := r.Route("could you check in cmdb what the status of web-03 is")
	require.Equal(t, RouteStructuredLookup, d.Kind)
	require.Equal(t, "web-03", d.Key)
}

func TestRouteCustomKeywords(t *testing.T) {
	r := NewIntentRouter([]string{"máquina"})

	d := r.Route("estado de la máquina srv-09")
	require.Equal(t, RouteStructuredLookup, d.Kind)
	require.Equal(t, "srv-09", d.Key)

	// 默认关键词不再生效
	d = r.Route("what about host server01")
	require.Equal(t, RouteDocumentQA, d.Kind)
}

func TestRouteDeterministic(t *testing.T) {
	r := NewIntentRouter(nil)

	q := "give me the cmdb entry for node-7"
	first := r.Route(q)
	for i := 0; i < 5; i++ {
		require.Equal(t, first, r.Route(q))
	}
}
