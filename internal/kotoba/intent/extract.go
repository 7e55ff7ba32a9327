package intent

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bdobrica/Kotoba/internal/kotoba/llm"
)

const defaultExtractTimeout = 8 * time.Second

const termsSystemPrompt = "You extract search keywords. Reply with a comma-separated list of the most important keywords in the user's message and nothing else."

// Extractor fills in the parameters handlers need before execution. The LLM
// is optional; every parameter has a deterministic fallback.
type Extractor struct {
	llm        llm.Gateway
	stopWords  map[string]struct{}
	functions  map[string]string
	fnOrder    []string
	agentNames []string
	timeout    time.Duration
	logger     *slog.Logger
}

// NewExtractor returns an Extractor using r's stop words, function map and
// agent names. gw may be nil.
func NewExtractor(gw llm.Gateway, r Rules, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	stop := make(map[string]struct{}, len(r.StopWords))
	for _, w := range r.StopWords {
		stop[strings.ToLower(w)] = struct{}{}
	}
	fns := make(map[string]string, len(r.Functions))
	order := make([]string, 0, len(r.Functions))
	for kw, fn := range r.Functions {
		kw = strings.ToLower(kw)
		fns[kw] = fn
		order = append(order, kw)
	}
	// Longest keyword first, ties broken lexically, so lookups are deterministic.
	sortByLenDesc(order)
	return &Extractor{
		llm:        gw,
		stopWords:  stop,
		functions:  fns,
		fnOrder:    order,
		agentNames: r.AgentNames,
		timeout:    defaultExtractTimeout,
		logger:     logger,
	}
}

// Extract returns in's params enriched for its type. It never fails.
func (e *Extractor) Extract(ctx context.Context, in Intent, text string) Params {
	p := in.Params.Clone()
	switch in.Type {
	case KnowledgeSearch, VectorSearch:
		if p.Has(ParamSearchTerms) {
			break
		}
		terms := e.llmTerms(ctx, text)
		if len(terms) == 0 {
			terms = e.HeuristicTerms(text)
		}
		if len(terms) == 0 && strings.TrimSpace(text) != "" {
			terms = []string{strings.TrimSpace(text)}
		}
		if len(terms) > 0 {
			p.Set(ParamSearchTerms, terms)
		}
	case ToolCall:
		if fn := e.FunctionFor(text); fn != "" {
			p.SetDefault(ParamFunction, fn)
		}
	case EmbodiedAgent:
		if name := e.AgentName(text); name != "" {
			p.SetDefault(ParamAgentName, name)
		}
	}
	return p
}

// HeuristicTerms splits text on whitespace and drops stop words and tokens
// of a single rune.
func (e *Extractor) HeuristicTerms(text string) []string {
	var out []string
	for _, w := range strings.Fields(text) {
		if _, stop := e.stopWords[strings.ToLower(w)]; stop {
			continue
		}
		if utf8.RuneCountInString(w) <= 1 {
			continue
		}
		out = append(out, w)
	}
	return out
}

// FunctionFor maps text to a tool function name via the keyword table.
func (e *Extractor) FunctionFor(text string) string {
	lower := strings.ToLower(text)
	for _, kw := range e.fnOrder {
		if MatchTerm(lower, kw) {
			return e.functions[kw]
		}
	}
	return ""
}

// AgentName returns the first configured agent name present in text.
func (e *Extractor) AgentName(text string) string {
	for _, name := range e.agentNames {
		if name != "" && strings.Contains(text, name) {
			return name
		}
	}
	return ""
}

func (e *Extractor) llmTerms(ctx context.Context, text string) []string {
	if e.llm == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	reply, err := e.llm.Complete(ctx, llm.UserPrompt(termsSystemPrompt, text))
	if err != nil {
		e.logger.Debug("intent: llm term extraction failed, using heuristic", "err", err)
		return nil
	}
	return splitList(reply)
}

// splitList splits an LLM keyword reply on ASCII and CJK separators.
func splitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case ',', '，', '、', ';', '；', '\n':
			return true
		}
		return false
	})
	var out []string
	for _, f := range fields {
		if f = strings.Trim(strings.TrimSpace(f), `"'`); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func sortByLenDesc(s []string) {
	for i := 1; i < len(s); i++ {
		k := s[i]
		j := i - 1
		for j >= 0 && (len(s[j]) < len(k) || len(s[j]) == len(k) && s[j] > k) {
			s[j+1] = s[j]
			j--
		}
		s[j+1] = k
	}
}
