package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/bdobrica/Kotoba/internal/kotoba/intent"
	"github.com/bdobrica/Kotoba/internal/kotoba/vector"
)

// Vector search defaults.
const (
	DefaultCollection = "default_vectors"
	vectorTopK        = 5
	vectorThreshold   = 0.75
	vectorSnippet     = 300
)

const (
	rewriteSystem       = "你是一个专业的向量搜索优化助手。你的任务是重写用户的查询，使其更适合向量搜索。"
	rewritePrompt       = "请重写以下查询，使其更适合语义向量搜索。保留关键概念，删除不必要的词语，保持简洁：\n\n'%s'"
	vectorSummarySystem = "你是一个专业的语义搜索结果总结助手。你的任务是基于向量搜索检索到的内容，为用户提供准确、全面的回答。"
)

// VectorSearch answers by semantic similarity over embedded documents.
type VectorSearch struct {
	deps Deps
}

func NewVectorSearch(d Deps) *VectorSearch { return &VectorSearch{deps: d} }

func (*VectorSearch) Name() string { return "vector_search" }

func (*VectorSearch) CanHandle(in intent.Intent) bool { return in.Type == intent.VectorSearch }

func (v *VectorSearch) Handle(ctx context.Context, in intent.Intent, text string, _ Conversation) (Result, error) {
	switch {
	case v.deps.Vectors == nil:
		return notConfigured(in.Type, "vector store"), nil
	case v.deps.Embedder == nil:
		return notConfigured(in.Type, "embedding model"), nil
	}

	q := query(in, text)
	if paramBool(in.Params, "rewrite_query", true) {
		q = v.rewrite(ctx, q)
	}
	collection := in.Params.String("collection")
	if collection == "" {
		collection = DefaultCollection
	}

	vec, err := v.deps.Embedder.Embed(ctx, q)
	if err != nil {
		return Result{}, fmt.Errorf("embed query: %w", err)
	}
	results, err := v.deps.Vectors.Search(ctx, vec, collection,
		paramInt(in.Params, "top_k", vectorTopK),
		paramFloat(in.Params, "threshold", vectorThreshold))
	if err != nil {
		return Result{}, fmt.Errorf("search vectors: %w", err)
	}

	data := map[string]any{
		"intent_type":  string(in.Type),
		"query":        q,
		"collection":   collection,
		"result_count": len(results),
	}
	if len(results) == 0 {
		return Result{Success: true, Response: "未找到相似的内容。请尝试使用不同的描述。", Data: data, Decision: Defer}, nil
	}
	data["results"] = results
	return Result{Success: true, Response: v.summarise(ctx, results), Data: data, Decision: Continue}, nil
}

func (v *VectorSearch) rewrite(ctx context.Context, q string) string {
	if v.deps.LLM == nil {
		return q
	}
	out, err := ask(ctx, v.deps.LLM, rewriteSystem, fmt.Sprintf(rewritePrompt, q))
	if err != nil {
		v.deps.logger().Debug("handler: query rewrite failed", "err", err)
		return q
	}
	return strings.Trim(out, `'"`)
}

func (v *VectorSearch) summarise(ctx context.Context, results []vector.Result) string {
	if v.deps.LLM != nil {
		var sb strings.Builder
		sb.WriteString("基于以下语义向量搜索结果，请为用户提供一个综合的回答。请注意，这些结果是基于语义相似度排序的，而不仅仅是关键词匹配。\n\n搜索结果:\n")
		for i, r := range results {
			fmt.Fprintf(&sb, "[%d] %s\n\n", i+1, r.Content)
		}
		summary, err := ask(ctx, v.deps.LLM, vectorSummarySystem, sb.String())
		if err == nil {
			return summary
		}
		v.deps.logger().Debug("handler: vector summary failed, listing results", "err", err)
	}
	return listVectors(results)
}

func listVectors(results []vector.Result) string {
	var sb strings.Builder
	sb.WriteString("基于语义相似度，为您找到以下相关内容：\n\n")
	for i, r := range results[:min(len(results), vectorTopK)] {
		source := r.Metadata["source"]
		if source == "" {
			source = r.ID
		}
		fmt.Fprintf(&sb, "%d. 相似度: %.0f%%\n   来源: %s\n   内容: %s\n", i+1, r.Score*100, source, truncate(r.Content, vectorSnippet))
	}
	sb.WriteString("\n提示：向量搜索基于语义相似度，可能会找到表述不同但含义相近的内容。")
	return sb.String()
}
