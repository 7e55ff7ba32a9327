package trace

import (
	"context"
	"strings"
	"testing"
)

func TestGenerateID(t *testing.T) {
	a, b := GenerateID(), GenerateID()
	if a == b {
		t.Fatal("two ids are equal")
	}
	if !strings.HasPrefix(a, "t_") || len(a) != 34 {
		t.Fatalf("unexpected id shape %q", a)
	}
}

func TestEnsure(t *testing.T) {
	ctx, id := Ensure(context.Background())
	if id == "" || FromContext(ctx) != id {
		t.Fatalf("Ensure did not attach an id: %q", id)
	}
	again, id2 := Ensure(ctx)
	if id2 != id || again != ctx {
		t.Fatalf("Ensure replaced an existing id: %q -> %q", id, id2)
	}
	if FromContext(context.Background()) != "" {
		t.Fatal("empty context reported an id")
	}
}
