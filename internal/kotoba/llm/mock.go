package llm

import (
	"context"
	"fmt"
	"hash/fnv"
)

var mockReplies = []string{
	"I hear you: %q. Tell me more!",
	"Interesting, you said %q. What makes you think of that?",
	"Got it: %q. Anything else on your mind?",
}

// Mock is a deterministic offline Gateway. It picks a canned reply keyed by a
// hash of the last user message, which keeps demos and tests reproducible.
type Mock struct {
	model string
}

// NewMock returns a Mock gateway reporting the given model name.
func NewMock(model string) *Mock {
	if model == "" {
		model = defaultModels[ProviderMock]
	}
	return &Mock{model: model}
}

func (m *Mock) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			last = req.Messages[i].Content
			break
		}
	}
	h := fnv.New32a()
	h.Write([]byte(last))
	return fmt.Sprintf(mockReplies[int(h.Sum32()%uint32(len(mockReplies)))], last), nil
}
