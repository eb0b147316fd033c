package cronrunner

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestRunnerRunsJobWithBaseContext(t *testing.T) {
	type key struct{}
	base := context.WithValue(context.Background(), key{}, "base")
	r := New(zap.NewNop(), base)

	got := make(chan any, 4)
	if _, err := r.Add("tick", "@every 1s", func(ctx context.Context) {
		got <- ctx.Value(key{})
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if r.Entries() != 1 {
		t.Fatalf("entries=%d", r.Entries())
	}
	r.Start()
	defer r.Stop()

	select {
	case v := <-got:
		if v != "base" {
			t.Fatalf("ctx value=%v", v)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("job did not run")
	}
}

func TestRunnerRejectsBadSpec(t *testing.T) {
	r := New(nil, nil)
	if _, err := r.Add("bad", "not a spec", func(context.Context) {}); err == nil {
		t.Fatalf("expected parse error")
	}
}
