package intent

import (
	"regexp"
	"sort"
	"strings"
)

// Confidence constants used by the detectors.
const (
	keywordStep        = 0.3
	keywordCap         = 0.9
	patternConfidence  = 0.8
	contextConfidence  = 0.6
	fallbackConfidence = 1.0

	// contextWindow is how many recent turns the context detector inspects.
	contextWindow = 3
)

// Classifier runs the keyword, pattern and context detectors and merges
// their findings. It is immutable after construction and safe for
// concurrent use.
type Classifier struct {
	keywords map[Type][]string
	patterns map[Type][]*regexp.Regexp
	context  []ContextRule
}

// NewClassifier compiles r into a Classifier.
func NewClassifier(r Rules) (*Classifier, error) {
	patterns, err := compilePatterns(r.Patterns)
	if err != nil {
		return nil, err
	}
	keywords := make(map[Type][]string, len(r.Keywords))
	for t, kws := range r.Keywords {
		keywords[t] = lowerAll(kws)
	}
	ctxRules := make([]ContextRule, len(r.Context))
	for i, cr := range r.Context {
		ctxRules[i] = ContextRule{
			Type:          cr.Type,
			TopicMarkers:  lowerAll(cr.TopicMarkers),
			Continuations: lowerAll(cr.Continuations),
		}
	}
	return &Classifier{keywords: keywords, patterns: patterns, context: ctxRules}, nil
}

// Detect classifies text, optionally using the most recent conversation
// turns. The result is never empty and is sorted by descending confidence;
// equal confidences keep detector order (keyword, pattern, context).
func (c *Classifier) Detect(text string, recent []Turn) []Intent {
	lower := strings.ToLower(text)

	var pool []Intent
	pool = append(pool, c.byKeyword(text, lower)...)
	pool = append(pool, c.byPattern(text)...)
	pool = append(pool, c.byContext(text, lower, recent)...)

	merged := Merge(pool)
	if len(merged) == 0 {
		return []Intent{{Type: Chat, Confidence: fallbackConfidence, RawText: text}}
	}
	return merged
}

func (c *Classifier) byKeyword(text, lower string) []Intent {
	var out []Intent
	for _, t := range detectOrder {
		var matched []string
		for _, kw := range c.keywords[t] {
			if MatchTerm(lower, kw) {
				matched = append(matched, kw)
			}
		}
		if len(matched) == 0 {
			continue
		}
		in := Intent{
			Type:       t,
			Confidence: min(keywordStep*float64(len(matched)), keywordCap),
			RawText:    text,
		}
		in.Params.Set(ParamKeywords, matched)
		out = append(out, in)
	}
	return out
}

func (c *Classifier) byPattern(text string) []Intent {
	var out []Intent
	for _, t := range detectOrder {
		for _, re := range c.patterns[t] {
			m := re.FindString(text)
			if m == "" {
				continue
			}
			in := Intent{Type: t, Confidence: patternConfidence, RawText: text}
			in.Params.Set(ParamPattern, re.String())
			in.Params.Set(ParamMatch, m)
			out = append(out, in)
			break
		}
	}
	return out
}

func (c *Classifier) byContext(text, lower string, recent []Turn) []Intent {
	if len(recent) == 0 || len(c.context) == 0 {
		return nil
	}
	if len(recent) > contextWindow {
		recent = recent[len(recent)-contextWindow:]
	}

	var out []Intent
	for _, t := range detectOrder {
		for _, rule := range c.context {
			if rule.Type != t || !containsAny(lower, rule.Continuations) {
				continue
			}
			topic := recentTopic(recent, rule.TopicMarkers)
			if topic == "" {
				continue
			}
			in := Intent{Type: t, Confidence: contextConfidence, RawText: text}
			in.Params.Set(ParamContextInferred, true)
			in.Params.Set("topic", topic)
			out = append(out, in)
			break
		}
	}
	return out
}

// recentTopic returns the first topic marker mentioned by a user turn.
func recentTopic(turns []Turn, markers []string) string {
	for _, turn := range turns {
		if turn.Role != "user" {
			continue
		}
		content := strings.ToLower(turn.Content)
		for _, m := range markers {
			if MatchTerm(content, m) {
				return m
			}
		}
	}
	return ""
}

// Merge collapses intents of the same type. The kept instance carries the
// highest confidence in its group and the union of every member's params,
// with keys already present on the winner taking precedence. The result is
// stably sorted by descending confidence, each group positioned by its first
// appearance in pool.
func Merge(pool []Intent) []Intent {
	index := make(map[Type]int, len(pool))
	var out []Intent
	for _, in := range pool {
		i, seen := index[in.Type]
		if !seen {
			index[in.Type] = len(out)
			in.Params = in.Params.Clone()
			out = append(out, in)
			continue
		}
		kept := &out[i]
		if in.Confidence > kept.Confidence {
			params := in.Params.Clone()
			params.Union(kept.Params)
			kept.Confidence = in.Confidence
			kept.RawText = in.RawText
			kept.Params = params
			continue
		}
		kept.Params.Union(in.Params)
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Confidence > out[b].Confidence
	})
	return out
}

func containsAny(lower string, terms []string) bool {
	for _, t := range terms {
		if MatchTerm(lower, t) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
