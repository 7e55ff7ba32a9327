package intent

import (
	"fmt"
	"regexp"
	"strings"
)

// ContextRule infers an intent from conversation history: when a recent user
// turn mentioned one of TopicMarkers and the current message contains one of
// Continuations, Type is emitted.
type ContextRule struct {
	Type          Type     `yaml:"type"`
	TopicMarkers  []string `yaml:"topic_markers"`
	Continuations []string `yaml:"continuations"`
}

// Rules holds every table the classifier and extractor consult. Each section
// may be overridden independently from the YAML config.
type Rules struct {
	Keywords   map[Type][]string `yaml:"keywords"`
	Patterns   map[Type][]string `yaml:"patterns"`
	Context    []ContextRule     `yaml:"context"`
	StopWords  []string          `yaml:"stop_words"`
	Functions  map[string]string `yaml:"functions"`
	AgentNames []string          `yaml:"agent_names"`
}

// DefaultRules returns the built-in multilingual rule tables.
func DefaultRules() Rules {
	return Rules{
		Keywords: map[Type][]string{
			KnowledgeSearch: {"查询", "搜索", "找", "知识库", "资料", "文档", "检索", "了解", "是什么", "什么是", "告诉我",
				"search", "lookup", "knowledge", "document"},
			VectorSearch: {"向量", "相似", "相关", "类似", "embedding", "语义搜索", "相似度", "匹配",
				"similar", "semantic", "vector"},
			ToolCall: {"MCP", "调用", "执行", "运行", "使用工具", "工具", "API", "接口", "功能", "天气", "时间", "计算", "翻译",
				"weather", "calculate", "translate"},
			EmbodiedAgent: {"虚拟人", "数字人", "和他聊", "和她聊", "对话", "交流", "互动", "虚拟助手", "转圈", "旋转", "停止转圈",
				"avatar", "spin"},
		},
		Patterns: map[Type][]string{
			KnowledgeSearch: {
				`(查询|搜索|找).*(知识|资料|文档)`,
				`(帮我|请).*(查|找|搜索)`,
				`(什么是|是什么|了解).+`,
				`(?i)\b(what is|who is|tell me about)\b.+`,
			},
			VectorSearch: {
				`(向量|语义).*(搜索|检索|查找)`,
				`(相似|类似|相关).*(内容|文档|资料)`,
				`(?i)\b(similar|related) (to|content|documents?)\b`,
			},
			ToolCall: {
				`(调用|使用|执行).*(MCP|工具|功能)`,
				`MCP.*(调用|执行|运行)`,
				`(?i)\b(call|use|run) (the )?(tool|function)\b`,
			},
			EmbodiedAgent: {
				`(和|与|跟).*(虚拟人|数字人|他|她).*(聊|交流|对话)`,
				`虚拟人.*(互动|交流|聊天)`,
				`(转圈|旋转|转动|转起来|旋转起来)`,
				`(停止|停下|别转了|停止转圈|不要转了|站好)`,
				`(?i)\b(spin around|stop spinning)\b`,
			},
		},
		Context: []ContextRule{
			{
				Type:          KnowledgeSearch,
				TopicMarkers:  []string{"知识库", "查询", "knowledge base", "look up"},
				Continuations: []string{"这个", "它", "还有", "this", "it", "also"},
			},
			{
				Type:          EmbodiedAgent,
				TopicMarkers:  []string{"虚拟人", "virtual human", "avatar"},
				Continuations: []string{"继续", "再", "again", "continue"},
			},
		},
		StopWords: []string{"查询", "搜索", "找", "帮我", "请", "什么是", "是什么",
			"the", "a", "an", "of", "for", "about", "please", "search", "find"},
		Functions: map[string]string{
			"天气":        "get_weather",
			"weather":   "get_weather",
			"时间":        "get_time",
			"time":      "get_time",
			"计算":        "calculate",
			"calculate": "calculate",
			"翻译":        "translate",
			"translate": "translate",
		},
		AgentNames: []string{"小明", "小红", "助手", "数字人"},
	}
}

// Merge overlays every non-empty section of o onto r.
func (r Rules) Merge(o Rules) Rules {
	if len(o.Keywords) > 0 {
		r.Keywords = o.Keywords
	}
	if len(o.Patterns) > 0 {
		r.Patterns = o.Patterns
	}
	if len(o.Context) > 0 {
		r.Context = o.Context
	}
	if len(o.StopWords) > 0 {
		r.StopWords = o.StopWords
	}
	if len(o.Functions) > 0 {
		r.Functions = o.Functions
	}
	if len(o.AgentNames) > 0 {
		r.AgentNames = o.AgentNames
	}
	return r
}

// Validate compiles every pattern and checks the types referenced by the
// tables.
func (r Rules) Validate() error {
	_, err := compilePatterns(r.Patterns)
	if err != nil {
		return err
	}
	for t := range r.Keywords {
		if _, err := ParseType(string(t)); err != nil {
			return fmt.Errorf("keywords: %w", err)
		}
	}
	for _, c := range r.Context {
		if _, err := ParseType(string(c.Type)); err != nil {
			return fmt.Errorf("context: %w", err)
		}
	}
	return nil
}

func compilePatterns(in map[Type][]string) (map[Type][]*regexp.Regexp, error) {
	out := make(map[Type][]*regexp.Regexp, len(in))
	for t, exprs := range in {
		if _, err := ParseType(string(t)); err != nil {
			return nil, fmt.Errorf("patterns: %w", err)
		}
		for _, expr := range exprs {
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("intent: compile pattern %q for %s: %w", expr, t, err)
			}
			out[t] = append(out[t], re)
		}
	}
	return out, nil
}

// MatchTerm reports whether term occurs in text. Both must already be lower
// case. ASCII word terms must sit on word boundaries so that "it" does not
// fire inside "with"; everything else is a plain substring match.
func MatchTerm(text, term string) bool {
	if term == "" {
		return false
	}
	if !isASCIIWord(term) {
		return strings.Contains(text, term)
	}
	for from := 0; from < len(text); {
		i := strings.Index(text[from:], term)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(term)
		if (start == 0 || !isWordByte(text[start-1])) && (end == len(text) || !isWordByte(text[end])) {
			return true
		}
		from = start + 1
	}
	return false
}

func isASCIIWord(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isWordByte(s[i]) && s[i] != ' ' {
			return false
		}
	}
	return true
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '_'
}
