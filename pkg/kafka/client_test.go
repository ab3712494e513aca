package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"kbqa-go/internal/config"
	"kbqa-go/pkg/tasks"
)

// stubProcessor 依次返回 errs 中的错误，用完后返回 err。
type stubProcessor struct {
	errs  []error
	err   error
	calls int
}

func (p *stubProcessor) Process(ctx context.Context, task tasks.DocumentTask) error {
	p.calls++
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		return err
	}
	return p.err
}

type memAttempts struct {
	counts map[string]int64
	err    error
}

func (m *memAttempts) Incr(ctx context.Context, key string) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.counts[key]++
	return m.counts[key], nil
}

func (m *memAttempts) Reset(ctx context.Context, key string) error {
	delete(m.counts, key)
	return nil
}

func taskBytes(t *testing.T) []byte {
	b, err := json.Marshal(tasks.DocumentTask{DocID: 9, KBID: 1, FileName: "a.md"})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func newTestConsumer(maxAttempts int, p TaskProcessor, att AttemptCounter) *Consumer {
	c := NewConsumer(config.KafkaConfig{MaxAttempts: maxAttempts}, p, att)
	c.backoff = 0
	return c
}

func TestHandleCommitsOnSuccess(t *testing.T) {
	p := &stubProcessor{}
	c := newTestConsumer(0, p, &memAttempts{counts: map[string]int64{}})
	if !c.handle(context.Background(), taskBytes(t)) {
		t.Fatal("successful task should be committed")
	}
	if p.calls != 1 {
		t.Fatalf("calls = %d", p.calls)
	}
}

func TestHandleRetriesBeforeCommit(t *testing.T) {
	p := &stubProcessor{errs: []error{errors.New("tika down"), errors.New("tika down")}}
	att := &memAttempts{counts: map[string]int64{}}
	c := newTestConsumer(3, p, att)

	if !c.handle(context.Background(), taskBytes(t)) {
		t.Fatal("task should be committed once it succeeds")
	}
	if p.calls != 3 {
		t.Fatalf("calls = %d, want 3", p.calls)
	}
	if len(att.counts) != 0 {
		t.Fatalf("attempt counter not reset: %v", att.counts)
	}
}

func TestHandleGivesUpAfterMaxAttempts(t *testing.T) {
	p := &stubProcessor{err: errors.New("tika down")}
	att := &memAttempts{counts: map[string]int64{}}
	c := newTestConsumer(3, p, att)

	if !c.handle(context.Background(), taskBytes(t)) {
		t.Fatal("exhausted task should be committed")
	}
	if p.calls != 3 {
		t.Fatalf("calls = %d, want 3", p.calls)
	}
}

func TestHandleContinuesPersistedCount(t *testing.T) {
	p := &stubProcessor{err: errors.New("tika down")}
	att := &memAttempts{counts: map[string]int64{"kafka:attempts:doc:9": 2}}
	c := newTestConsumer(3, p, att)

	if !c.handle(context.Background(), taskBytes(t)) {
		t.Fatal("exhausted task should be committed")
	}
	if p.calls != 1 {
		t.Fatalf("calls = %d, want 1 after restart", p.calls)
	}
}

func TestHandleMalformedMessageCommits(t *testing.T) {
	p := &stubProcessor{}
	c := newTestConsumer(0, p, &memAttempts{counts: map[string]int64{}})
	if !c.handle(context.Background(), []byte("not json")) {
		t.Fatal("malformed message should be committed")
	}
	if p.calls != 0 {
		t.Fatal("processor should not run for malformed message")
	}
}

func TestHandleCounterFailureFallsBackToLocalCount(t *testing.T) {
	p := &stubProcessor{err: errors.New("boom")}
	c := newTestConsumer(3, p, &memAttempts{err: errors.New("redis down")})
	if !c.handle(context.Background(), taskBytes(t)) {
		t.Fatal("exhausted task should be committed")
	}
	if p.calls != 3 {
		t.Fatalf("calls = %d, want 3", p.calls)
	}
}

func TestHandleStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &stubProcessor{err: errors.New("boom")}
	c := newTestConsumer(3, p, &memAttempts{counts: map[string]int64{}})
	c.backoff = time.Hour
	if c.handle(ctx, taskBytes(t)) {
		t.Fatal("cancelled retry should not commit")
	}
	if p.calls != 1 {
		t.Fatalf("calls = %d", p.calls)
	}
}
