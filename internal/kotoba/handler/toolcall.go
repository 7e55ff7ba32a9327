package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/bdobrica/Kotoba/internal/kotoba/intent"
	"github.com/bdobrica/Kotoba/internal/kotoba/tools"
)

const (
	pickSystem = "你是一个专业的功能分析助手。你的任务是分析用户消息，确定用户想要使用哪个功能。"
	argsSystem = "你是一个专业的参数提取助手。你的任务是从用户消息中提取指定功能所需的参数。"
)

var (
	weatherZH   = regexp.MustCompile(`(\S+?)的?天气`)
	weatherEN   = regexp.MustCompile(`(?i)weather in (\w+)`)
	calculateZH = regexp.MustCompile(`计算\s*([\d+\-*/().\s]+)`)
	calculateEN = regexp.MustCompile(`(?i)calculate\s+([\d+\-*/().\s]+)`)
	englishAsk  = regexp.MustCompile(`(?i)翻译(成|为)英文|into english|to english`)
)

// leadingFiller are words that commonly precede a place name in a weather
// question and are not part of it.
var leadingFiller = []string{"请问", "帮我查一下", "帮我查", "查一下", "查询", "看看", "今天", "明天", "后天", "现在"}

// ToolCall invokes a function from the tool catalog.
type ToolCall struct {
	deps      Deps
	extractor *intent.Extractor
}

func NewToolCall(d Deps) *ToolCall {
	ex := d.Extractor
	if ex == nil {
		ex = intent.NewExtractor(nil, intent.DefaultRules(), d.Logger)
	}
	return &ToolCall{deps: d, extractor: ex}
}

func (*ToolCall) Name() string { return "tool_call" }

func (*ToolCall) CanHandle(in intent.Intent) bool { return in.Type == intent.ToolCall }

func (h *ToolCall) Handle(ctx context.Context, in intent.Intent, text string, _ Conversation) (Result, error) {
	if h.deps.Tools == nil {
		return notConfigured(in.Type, "tool service"), nil
	}
	fns, err := h.deps.Tools.ListFunctions(ctx)
	if err != nil {
		h.deps.logger().Warn("handler: list tool functions failed", "err", err)
	}
	if len(fns) == 0 {
		return notConfigured(in.Type, "tool service"), nil
	}

	data := map[string]any{"intent_type": string(in.Type), "available_functions": names(fns)}
	fn, ok := h.resolve(ctx, in, text, fns)
	if !ok {
		return Result{Success: true, Response: listFunctions(fns), Data: data, Decision: Stop}, nil
	}

	args := h.arguments(ctx, fn, text)
	res := h.deps.Tools.Call(ctx, fn.Name, args, tools.DefaultCallTimeout)
	data["function"] = fn.Name
	data["arguments"] = args
	data["status"] = string(res.Status)
	return Result{
		Success:  res.OK(),
		Response: formatCall(fn.Name, args, res),
		Data:     data,
		Decision: Stop,
	}, nil
}

// resolve picks the function from params, then the LLM, then keywords.
func (h *ToolCall) resolve(ctx context.Context, in intent.Intent, text string, fns []tools.Function) (tools.Function, bool) {
	if f, ok := find(fns, in.Params.String(intent.ParamFunction)); ok {
		return f, true
	}
	if h.deps.LLM != nil {
		if f, ok := h.pick(ctx, text, fns); ok {
			return f, true
		}
	}
	return find(fns, h.extractor.FunctionFor(text))
}

func (h *ToolCall) pick(ctx context.Context, text string, fns []tools.Function) (tools.Function, bool) {
	var sb strings.Builder
	sb.WriteString("根据用户消息，判断用户最可能想要使用的功能。可用的功能有:\n\n")
	for _, f := range fns {
		fmt.Fprintf(&sb, "- %s: %s (参数: %s)\n", f.Name, f.Description, strings.Join(properties(f.InputSchema), ", "))
	}
	fmt.Fprintf(&sb, "\n用户消息: '%s'\n\n请只返回最匹配的功能名称，不要有其他文字。如果无法确定，请返回null。", text)

	reply, err := ask(ctx, h.deps.LLM, pickSystem, sb.String())
	if err != nil {
		h.deps.logger().Debug("handler: tool selection failed", "err", err)
		return tools.Function{}, false
	}
	reply = strings.ToLower(strings.Trim(reply, " `'\"\n"))
	if reply == "" || reply == "null" {
		return tools.Function{}, false
	}
	if f, ok := find(fns, reply); ok {
		return f, true
	}
	for _, f := range fns {
		if strings.Contains(reply, f.Name) || strings.Contains(f.Name, reply) {
			return f, true
		}
	}
	return tools.Function{}, false
}

// arguments asks the LLM for JSON arguments and fills the gaps for known
// functions from the deterministic fallback.
func (h *ToolCall) arguments(ctx context.Context, fn tools.Function, text string) map[string]any {
	fallback := fallbackArgs(fn.Name, text)
	if h.deps.LLM == nil {
		return fallback
	}

	props := properties(fn.InputSchema)
	var sb strings.Builder
	fmt.Fprintf(&sb, "请从以下用户消息中提取\"%s\"功能所需的参数: %s\n\n用户消息: '%s'\n\n", fn.Name, strings.Join(props, ", "), text)
	sb.WriteString("请以JSON格式返回提取的参数，格式为: {\n")
	for _, p := range props {
		fmt.Fprintf(&sb, "  %q: \"提取的值\",\n", p)
	}
	sb.WriteString("}\n\n如果无法提取某个参数，请将其值设为null。")

	reply, err := ask(ctx, h.deps.LLM, argsSystem, sb.String())
	if err != nil {
		h.deps.logger().Debug("handler: argument extraction failed", "function", fn.Name, "err", err)
		return fallback
	}
	args, ok := parseLenientJSON(reply)
	if !ok {
		h.deps.logger().Debug("handler: argument reply is not json", "function", fn.Name)
		return fallback
	}
	if isKnownFunction(fn.Name) {
		for k, v := range fallback {
			if _, set := args[k]; !set {
				args[k] = v
			}
		}
	}
	return args
}

func isKnownFunction(name string) bool {
	switch name {
	case "get_weather", "get_time", "calculate", "translate":
		return true
	}
	return false
}

// fallbackArgs derives arguments without an LLM.
func fallbackArgs(fn, text string) map[string]any {
	switch fn {
	case "get_weather":
		loc := "北京"
		if m := weatherEN.FindStringSubmatch(text); m != nil {
			loc = m[1]
		} else if m := weatherZH.FindStringSubmatch(text); m != nil {
			if l := trimFiller(m[1]); l != "" {
				loc = l
			}
		}
		return map[string]any{"location": loc}
	case "get_time":
		return map[string]any{"timezone": "Asia/Shanghai"}
	case "calculate":
		expr := "1+1"
		for _, re := range []*regexp.Regexp{calculateZH, calculateEN} {
			if m := re.FindStringSubmatch(text); m != nil && strings.TrimSpace(m[1]) != "" {
				expr = strings.TrimSpace(m[1])
				break
			}
		}
		return map[string]any{"expression": expr}
	case "translate":
		target := "中文"
		if englishAsk.MatchString(text) {
			target = "英文"
		}
		return map[string]any{"text": text, "target_language": target}
	}
	return map[string]any{"message": text}
}

func trimFiller(s string) string {
	for changed := true; changed; {
		changed = false
		for _, w := range leadingFiller {
			if strings.HasPrefix(s, w) {
				s = strings.TrimPrefix(s, w)
				changed = true
			}
		}
	}
	return s
}

// parseLenientJSON extracts a JSON object from an LLM reply: the body of a
// ```json fence if present, otherwise the outermost {...} span. Null values
// are dropped.
func parseLenientJSON(reply string) (map[string]any, bool) {
	body := reply
	if i := strings.Index(body, "```"); i >= 0 {
		rest := body[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			body = rest[:j]
		}
	}
	start, end := strings.Index(body, "{"), strings.LastIndex(body, "}")
	if start < 0 || end < start {
		return nil, false
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(body[start:end+1]), &out); err != nil {
		return nil, false
	}
	for k, v := range out {
		if v == nil {
			delete(out, k)
		}
	}
	return out, true
}

// properties lists the top-level property names of a JSON Schema.
func properties(schema json.RawMessage) []string {
	var s struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if len(schema) == 0 || json.Unmarshal(schema, &s) != nil {
		return nil
	}
	out := make([]string, 0, len(s.Properties))
	for k := range s.Properties {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func find(fns []tools.Function, name string) (tools.Function, bool) {
	if name == "" {
		return tools.Function{}, false
	}
	i := slices.IndexFunc(fns, func(f tools.Function) bool { return f.Name == name })
	if i < 0 {
		return tools.Function{}, false
	}
	return fns[i], true
}

func names(fns []tools.Function) []string {
	out := make([]string, len(fns))
	for i, f := range fns {
		out[i] = f.Name
	}
	return out
}

func listFunctions(fns []tools.Function) string {
	var sb strings.Builder
	sb.WriteString("以下是可用的工具功能：\n\n")
	for _, f := range fns {
		params := strings.Join(properties(f.InputSchema), ", ")
		if params == "" {
			params = "无"
		}
		desc := f.Description
		if desc == "" {
			desc = "无描述"
		}
		fmt.Fprintf(&sb, "• **%s**: %s\n  参数: %s\n", f.Name, desc, params)
	}
	sb.WriteString("\n您可以说明要使用哪个功能，我会帮您调用。")
	return sb.String()
}

// formatCall renders a call result with a per-function template. Structured
// (JSON object) output fills the template fields; plain text is shown as is.
func formatCall(fn string, args map[string]any, res tools.CallResult) string {
	switch res.Status {
	case tools.StatusTimeout:
		return "工具调用超时：" + res.Error
	case tools.StatusError:
		return "工具调用失败：" + res.Error
	}

	var obj map[string]any
	_ = json.Unmarshal([]byte(res.Data), &obj)
	get := func(key, def string) string {
		if v, ok := obj[key]; ok && v != nil {
			return fmt.Sprint(v)
		}
		if v, ok := args[key]; ok && v != nil {
			return fmt.Sprint(v)
		}
		return def
	}
	raw := strings.TrimSpace(res.Data)

	switch fn {
	case "get_weather":
		if obj == nil {
			return fmt.Sprintf("🌤️ %s的天气：\n%s", get("location", "未知地点"), raw)
		}
		return fmt.Sprintf("🌤️ %s的天气：\n温度：%s\n天气：%s\n湿度：%s",
			get("location", "未知地点"), get("temperature", "未知"), get("weather", "未知"), get("humidity", "未知"))
	case "get_time":
		return fmt.Sprintf("🕐 %s的当前时间：\n%s", get("timezone", "未知时区"), get("time", raw))
	case "calculate":
		return fmt.Sprintf("🧮 计算结果：\n%s = %s", get("expression", "未知"), get("result", raw))
	case "translate":
		return fmt.Sprintf("🌐 翻译结果：\n原文：%s\n译文（%s）：%s", get("original", get("text", "未知")), get("target_language", "未知"), get("translated", raw))
	}
	return "工具调用成功：\n" + raw
}
