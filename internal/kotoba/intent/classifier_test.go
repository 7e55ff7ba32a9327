package intent

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	c, err := NewClassifier(DefaultRules())
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	return c
}

func TestDetect_FallbackToChat(t *testing.T) {
	c := newTestClassifier(t)

	for _, text := range []string{"hello there", "good morning!", "", "bye"} {
		got := c.Detect(text, nil)
		if len(got) != 1 {
			t.Fatalf("Detect(%q) returned %d intents, want 1", text, len(got))
		}
		if got[0].Type != Chat || got[0].Confidence != 1.0 || got[0].RawText != text {
			t.Errorf("Detect(%q) = %+v, want chat@1.0 with raw text", text, got[0])
		}
	}
}

func TestDetect_Ranking(t *testing.T) {
	c := newTestClassifier(t)

	tests := []struct {
		name      string
		text      string
		recent    []Turn
		wantTypes []string
		wantTop   float64
	}{
		{
			name:      "pattern beats keyword",
			text:      "什么是向量数据库",
			wantTypes: []string{"knowledge_search", "vector_search"},
			wantTop:   0.8,
		},
		{
			name:      "ties keep detector order",
			text:      "搜索 embedding",
			wantTypes: []string{"knowledge_search", "vector_search"},
			wantTop:   0.3,
		},
		{
			name:      "keyword confidence is capped",
			text:      "查询 搜索 知识库 文档",
			wantTypes: []string{"knowledge_search"},
			wantTop:   0.9,
		},
		{
			name: "context continuation in chinese",
			text: "那这个呢",
			recent: []Turn{
				{Role: "user", Content: "帮我查询知识库"},
				{Role: "assistant", Content: "好的"},
			},
			wantTypes: []string{"knowledge_search"},
			wantTop:   0.6,
		},
		{
			name: "context continuation in english",
			text: "and what about it?",
			recent: []Turn{
				{Role: "user", Content: "look up the knowledge base please"},
			},
			wantTypes: []string{"knowledge_search"},
			wantTop:   0.6,
		},
		{
			name: "continuation marker needs a word boundary",
			text: "with pleasure",
			recent: []Turn{
				{Role: "user", Content: "查询知识库"},
			},
			wantTypes: []string{"chat"},
			wantTop:   1.0,
		},
		{
			name: "only user turns set the topic",
			text: "this one",
			recent: []Turn{
				{Role: "assistant", Content: "I can look up the knowledge base"},
			},
			wantTypes: []string{"chat"},
			wantTop:   1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Detect(tt.text, tt.recent)
			if diff := cmp.Diff(tt.wantTypes, Types(got)); diff != "" {
				t.Fatalf("types mismatch (-want +got):\n%s", diff)
			}
			if math.Abs(got[0].Confidence-tt.wantTop) > 1e-9 {
				t.Errorf("top confidence = %v, want %v", got[0].Confidence, tt.wantTop)
			}
		})
	}
}

func TestDetect_ContextFlagged(t *testing.T) {
	c := newTestClassifier(t)
	got := c.Detect("那这个呢", []Turn{{Role: "user", Content: "帮我查询知识库"}})
	v, ok := got[0].Params.Get(ParamContextInferred)
	if !ok || v != true {
		t.Fatalf("context_inferred = %v (present %v), want true", v, ok)
	}
}

func TestDetect_ContextWindowIsThreeTurns(t *testing.T) {
	c := newTestClassifier(t)
	recent := []Turn{
		{Role: "user", Content: "查询知识库"},
		{Role: "assistant", Content: "ok"},
		{Role: "user", Content: "嗯"},
		{Role: "assistant", Content: "ok"},
	}
	got := c.Detect("这个呢", recent)
	if got[0].Type != Chat {
		t.Errorf("topic outside window still inferred: %v", Types(got))
	}
}

func TestDetect_MergedParamsAreSuperset(t *testing.T) {
	c := newTestClassifier(t)
	got := c.Detect("什么是向量数据库", nil)

	seen := map[Type]bool{}
	for _, in := range got {
		if seen[in.Type] {
			t.Fatalf("duplicate intent type %s", in.Type)
		}
		seen[in.Type] = true
	}

	k := got[0]
	for _, key := range []string{ParamKeywords, ParamPattern, ParamMatch} {
		if !k.Params.Has(key) {
			t.Errorf("knowledge intent missing param %q, has %v", key, k.Params.Keys())
		}
	}
}

func TestMerge(t *testing.T) {
	mk := func(typ Type, conf float64, kv ...any) Intent {
		in := Intent{Type: typ, Confidence: conf}
		for i := 0; i+1 < len(kv); i += 2 {
			in.Params.Set(kv[i].(string), kv[i+1])
		}
		return in
	}

	got := Merge([]Intent{
		mk(KnowledgeSearch, 0.3, "a", 1),
		mk(KnowledgeSearch, 0.8, "b", 2),
		mk(VectorSearch, 0.6),
		mk(KnowledgeSearch, 0.6, "a", 9, "c", 3),
	})

	if diff := cmp.Diff([]string{"knowledge_search", "vector_search"}, Types(got)); diff != "" {
		t.Fatalf("types mismatch (-want +got):\n%s", diff)
	}
	k := got[0]
	if k.Confidence != 0.8 {
		t.Errorf("kept confidence = %v, want 0.8", k.Confidence)
	}
	if diff := cmp.Diff([]string{"b", "a", "c"}, k.Params.Keys()); diff != "" {
		t.Errorf("param keys mismatch (-want +got):\n%s", diff)
	}
	if v, _ := k.Params.Get("a"); v != 1 {
		t.Errorf("param a = %v, want 1 (lower-confidence duplicates must not overwrite)", v)
	}
}

func TestMerge_DoesNotAliasInput(t *testing.T) {
	in := Intent{Type: ToolCall, Confidence: 0.3}
	in.Params.Set("x", 1)
	out := Merge([]Intent{in, {Type: ToolCall, Confidence: 0.1}})
	out[0].Params.Set("y", 2)
	if in.Params.Has("y") {
		t.Error("Merge output shares params with its input")
	}
}

func TestRules_ValidateRejectsBadPattern(t *testing.T) {
	r := DefaultRules()
	r.Patterns = map[Type][]string{ToolCall: {"(unclosed"}}
	if err := r.Validate(); err == nil {
		t.Fatal("Validate accepted an invalid regular expression")
	}

	r = DefaultRules()
	r.Keywords = map[Type][]string{"weather": {"rain"}}
	if err := r.Validate(); err == nil {
		t.Fatal("Validate accepted an unknown intent type")
	}
}

func TestParams_MarshalJSONKeepsOrder(t *testing.T) {
	var p Params
	p.Set("z", 1)
	p.Set("a", "x")
	p.Set("m", []string{"q"})
	b, err := p.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	if got, want := string(b), `{"z":1,"a":"x","m":["q"]}`; got != want {
		t.Errorf("MarshalJSON = %s, want %s", got, want)
	}
}
