package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/bdobrica/Kotoba/internal/kotoba/intent"
	"github.com/bdobrica/Kotoba/internal/kotoba/knowledge"
)

// Knowledge search defaults.
const (
	knowledgeTopK      = 5
	knowledgeThreshold = 0.7
	knowledgeSnippet   = 200
)

const knowledgeSummarySystem = "你是一个专业的知识总结助手。你的任务是基于检索到的知识库内容，为用户提供准确、全面的回答。"

// KnowledgeSearch answers from the full-text knowledge base.
type KnowledgeSearch struct {
	deps Deps
}

func NewKnowledgeSearch(d Deps) *KnowledgeSearch { return &KnowledgeSearch{deps: d} }

func (*KnowledgeSearch) Name() string { return "knowledge_search" }

func (*KnowledgeSearch) CanHandle(in intent.Intent) bool { return in.Type == intent.KnowledgeSearch }

func (k *KnowledgeSearch) Handle(ctx context.Context, in intent.Intent, text string, _ Conversation) (Result, error) {
	if k.deps.Knowledge == nil {
		return notConfigured(in.Type, "knowledge base"), nil
	}
	q := query(in, text)
	corpora := in.Params.Strings("corpus_ids")
	if len(corpora) == 0 {
		corpora = []string{knowledge.DefaultCorpus}
	}
	topK := paramInt(in.Params, "top_k", knowledgeTopK)
	threshold := paramFloat(in.Params, "threshold", knowledgeThreshold)

	results, err := k.deps.Knowledge.Search(ctx, q, corpora, topK, threshold)
	if err != nil {
		return Result{}, fmt.Errorf("search knowledge base: %w", err)
	}
	data := map[string]any{
		"intent_type":  string(in.Type),
		"query":        q,
		"corpus_ids":   corpora,
		"result_count": len(results),
	}
	if len(results) == 0 {
		return Result{
			Success:  true,
			Response: fmt.Sprintf("抱歉，在知识库中没有找到关于 '%s' 的相关信息。", q),
			Data:     data,
			Decision: Defer,
		}, nil
	}
	data["results"] = results
	return Result{
		Success:  true,
		Response: k.summarise(ctx, q, results),
		Data:     data,
		Decision: Continue,
	}, nil
}

func (k *KnowledgeSearch) summarise(ctx context.Context, q string, results []knowledge.Result) string {
	if k.deps.LLM != nil {
		var sb strings.Builder
		sb.WriteString("基于以下知识库检索结果，请为用户提供一个全面、清晰的回答。请仅使用这些检索结果中的信息回答，不要添加未提及的内容。\n\n")
		fmt.Fprintf(&sb, "用户问题: %s\n\n检索结果:\n", q)
		for i, r := range results {
			fmt.Fprintf(&sb, "[%d] %s\n%s\n来源: %s\n\n", i+1, r.Title, r.Content, r.Source)
		}
		summary, err := ask(ctx, k.deps.LLM, knowledgeSummarySystem, sb.String())
		if err == nil {
			return summary
		}
		k.deps.logger().Debug("handler: knowledge summary failed, listing results", "err", err)
	}
	return listKnowledge(results)
}

func listKnowledge(results []knowledge.Result) string {
	var sb strings.Builder
	sb.WriteString("为您找到以下相关信息：\n\n")
	shown := min(len(results), knowledgeTopK)
	for i, r := range results[:shown] {
		title := r.Title
		if title == "" {
			title = r.ID
		}
		fmt.Fprintf(&sb, "%d. **%s** (相关度: %.2f)\n   来源: %s\n   %s\n", i+1, title, r.Score, r.Source, truncate(r.Content, knowledgeSnippet))
	}
	if rest := len(results) - shown; rest > 0 {
		fmt.Fprintf(&sb, "\n还有 %d 个相关结果未显示。", rest)
	}
	return strings.TrimRight(sb.String(), "\n")
}
