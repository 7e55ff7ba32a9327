// Package dispatch classifies an utterance, runs the matching handlers in
// parallel or in sequence, and merges their replies into one.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bdobrica/Kotoba/common/trace"
	"github.com/bdobrica/Kotoba/internal/kotoba/handler"
	"github.com/bdobrica/Kotoba/internal/kotoba/intent"
)

// DefaultTimeout bounds one Process call.
const DefaultTimeout = 25 * time.Second

const (
	separator    = "\n\n---\n\n"
	failMarker   = "❌ "
	noResponse   = "Processing finished but produced no response."
	historyTurns = 3
)

// Outcome is the merged result of one utterance.
type Outcome struct {
	Success  bool            `json:"success"`
	Response string          `json:"response"`
	Intents  []intent.Intent `json:"intents"`
	Data     map[string]any  `json:"data,omitempty"`
}

// Options tune a Dispatcher. Zero values select defaults.
type Options struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

// Dispatcher is safe for concurrent use. Its rules may be replaced at
// runtime with SetRules.
type Dispatcher struct {
	classifier   atomic.Pointer[intent.Classifier]
	extractor    atomic.Pointer[intent.Extractor]
	newExtractor func(intent.Rules) *intent.Extractor
	registry     *handler.Registry
	timeout      time.Duration
	logger       *slog.Logger
}

// New returns a Dispatcher classifying with rules and executing through reg.
// newExtractor builds the parameter extractor for a rule set.
func New(rules intent.Rules, newExtractor func(intent.Rules) *intent.Extractor, reg *handler.Registry, opts Options) (*Dispatcher, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	d := &Dispatcher{registry: reg, newExtractor: newExtractor, timeout: opts.Timeout, logger: opts.Logger}
	if err := d.SetRules(rules); err != nil {
		return nil, err
	}
	return d, nil
}

// SetRules swaps the classification rules. On error the previous rules stay
// in effect.
func (d *Dispatcher) SetRules(rules intent.Rules) error {
	c, err := intent.NewClassifier(rules)
	if err != nil {
		return err
	}
	d.classifier.Store(c)
	d.extractor.Store(d.newExtractor(rules))
	return nil
}

// Classify runs only the classification pass.
func (d *Dispatcher) Classify(text string, conv handler.Conversation) []intent.Intent {
	return d.classifier.Load().Detect(text, conv.IntentTurns(historyTurns))
}

type task struct {
	in intent.Intent
	h  handler.Handler
}

// Process handles one utterance. It never fails outright; problems are
// reported through Outcome.Success and the response text.
func (d *Dispatcher) Process(ctx context.Context, text string, conv handler.Conversation, parallel bool) Outcome {
	start := time.Now()
	log := trace.Logger(ctx, d.logger)

	intents := d.Classify(text, conv)
	ex := d.extractor.Load()
	for i := range intents {
		intents[i].Params = ex.Extract(ctx, intents[i], text)
	}

	var tasks []task
	for _, in := range intents {
		if h, ok := d.registry.For(in); ok {
			tasks = append(tasks, task{in: in, h: h})
		}
	}
	if len(tasks) == 0 {
		types := intent.Types(intents)
		log.Warn("dispatch: no capable handler", "intents", types)
		return Outcome{
			Success:  false,
			Response: "no handler is able to process intents: " + strings.Join(types, ", "),
			Intents:  intents,
		}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	mode := "sequential"
	var results []handler.Result
	if parallel && len(tasks) > 1 {
		mode = "parallel"
		results = d.runParallel(ctx, tasks, text, conv)
	} else {
		results = d.runSequential(ctx, tasks, text, conv)
	}

	out := merge(tasks[:len(results)], results)
	out.Intents = intents
	log.Info("dispatch: processed",
		"intents", intent.Types(intents),
		"mode", mode,
		"executed", len(results),
		"success", out.Success,
		"elapsed", time.Since(start))
	return out
}

func (d *Dispatcher) runParallel(ctx context.Context, tasks []task, text string, conv handler.Conversation) []handler.Result {
	results := make([]handler.Result, len(tasks))
	var g errgroup.Group
	for i, t := range tasks {
		g.Go(func() error {
			results[i] = run(ctx, t, text, conv)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (d *Dispatcher) runSequential(ctx context.Context, tasks []task, text string, conv handler.Conversation) []handler.Result {
	var results []handler.Result
	for _, t := range tasks {
		res := run(ctx, t, text, conv)
		results = append(results, res)
		if !res.Decision.Continues() {
			break
		}
	}
	return results
}

// run executes one handler, giving up when ctx expires. A handler that
// ignores ctx keeps running on its own goroutine until it returns.
func run(ctx context.Context, t task, text string, conv handler.Conversation) handler.Result {
	done := make(chan handler.Result, 1)
	go func() { done <- handler.Execute(ctx, t.h, t.in, text, conv) }()
	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		return handler.Result{
			Success:  false,
			Response: fmt.Sprintf("%s timed out", t.h.Name()),
			Data:     map[string]any{"error": ctx.Err().Error()},
			Decision: handler.Stop,
		}
	}
}

// merge combines results in intent order.
func merge(tasks []task, results []handler.Result) Outcome {
	out := Outcome{Data: make(map[string]any, len(results))}
	var parts []string
	for i, res := range results {
		out.Data[fmt.Sprintf("intent_%d", i)] = map[string]any{
			"type":     string(tasks[i].in.Type),
			"success":  res.Success,
			"decision": res.Decision.String(),
			"data":     res.Data,
		}
		if res.Success {
			out.Success = true
		}
		if len(results) == 1 {
			parts = append(parts, res.Response)
			continue
		}
		body := res.Response
		if !res.Success {
			body = failMarker + body
		}
		parts = append(parts, fmt.Sprintf("【%s】\n%s", tasks[i].in.Type.Label(), body))
	}
	out.Response = strings.Join(parts, separator)
	if strings.TrimSpace(out.Response) == "" {
		out.Response = noResponse
	}
	return out
}
