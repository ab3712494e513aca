package llm

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"kbqa-go/internal/config"
	"kbqa-go/pkg/errs"
)

type stubClient struct {
	text string
	err  error
}

func (s stubClient) Complete(ctx context.Context, messages []Message, gen GenerationParams) (string, error) {
	return s.text, s.err
}

func TestBuildMessages(t *testing.T) {
	history := []Message{{Role: RoleUser, Content: "q1"}, {Role: RoleAssistant, Content: "a1"}}

	msgs := BuildMessages("sys", "ctx", history, "q2")
	if len(msgs) != 5 {
		t.Fatalf("len = %d, want 5", len(msgs))
	}
	if msgs[0].Role != RoleSystem || msgs[0].Content != "sys" {
		t.Fatalf("msgs[0] = %+v", msgs[0])
	}
	if msgs[1].Role != RoleSystem || msgs[1].Content != ContextPrefix+"ctx" {
		t.Fatalf("msgs[1] = %+v", msgs[1])
	}
	if msgs[4].Role != RoleUser || msgs[4].Content != "q2" {
		t.Fatalf("last = %+v", msgs[4])
	}

	msgs = BuildMessages("sys", "", nil, "q")
	if len(msgs) != 2 {
		t.Fatalf("empty context should be omitted, got %+v", msgs)
	}
}

func TestFragmentsSplitsByRune(t *testing.T) {
	var got []string
	for frag, err := range Fragments(context.Background(), stubClient{text: "西湖ok"}, nil, GenerationParams{}) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, frag)
	}
	if strings.Join(got, "|") != "西|湖|o|k" {
		t.Fatalf("fragments = %v", got)
	}
}

func TestFragmentsStopsWhenConsumerStops(t *testing.T) {
	n := 0
	for range Fragments(context.Background(), stubClient{text: "abcdef"}, nil, GenerationParams{}) {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Fatalf("pulled %d fragments, want 2", n)
	}
}

func TestFragmentsYieldsError(t *testing.T) {
	boom := errors.New("boom")
	var errCount, fragCount int
	for _, err := range Fragments(context.Background(), stubClient{err: boom}, nil, GenerationParams{}) {
		if err != nil {
			errCount++
			continue
		}
		fragCount++
	}
	if errCount != 1 || fragCount != 0 {
		t.Fatalf("errors = %d, fragments = %d", errCount, fragCount)
	}
}

type streamingClient struct {
	stubClient
	parts []string
}

func (s streamingClient) Stream(ctx context.Context, messages []Message, gen GenerationParams) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, p := range s.parts {
			if !yield(p, nil) {
				return
			}
		}
	}
}

func TestFragmentsPrefersStreamer(t *testing.T) {
	c := streamingClient{stubClient: stubClient{text: "unused"}, parts: []string{"西湖", "十景"}}
	var got []string
	for frag, err := range Fragments(context.Background(), c, nil, GenerationParams{}) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, frag)
	}
	if strings.Join(got, "|") != "西湖|十景" {
		t.Fatalf("fragments = %q", got)
	}
}

func TestFragmentsHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var frags int
	var lastErr error
	for frag, err := range Fragments(ctx, stubClient{text: "abc"}, nil, GenerationParams{}) {
		if err != nil {
			lastErr = err
			break
		}
		frags++
		_ = frag
		cancel()
	}
	if frags != 1 || !errors.Is(lastErr, context.Canceled) {
		t.Fatalf("frags = %d, err = %v", frags, lastErr)
	}
}

func TestNewClientOffline(t *testing.T) {
	c := NewClient(config.LLMConfig{APIKey: "k"}, true)
	text, err := c.Complete(context.Background(), nil, GenerationParams{})
	if err != nil || text != OfflineAnswer {
		t.Fatalf("offline Complete = %q, %v", text, err)
	}
	if _, ok := NewClient(config.LLMConfig{}, false).(offlineClient); !ok {
		t.Fatalf("missing api key should produce the offline client")
	}
}

func TestOpenAIClientComplete(t *testing.T) {
	var gotReq struct {
		Model       string    `json:"model"`
		Messages    []Message `json:"messages"`
		Temperature float32   `json:"temperature"`
		MaxTokens   int       `json:"max_tokens"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"答案"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c := NewClient(config.LLMConfig{
		APIKey:     "k",
		BaseURL:    srv.URL + "/v1",
		Model:      "qwen-max",
		Generation: config.LLMGenerationConfig{Temperature: 0.8, TopP: 0.8, MaxTokens: 1024},
	}, false)
	maxTokens := 64
	text, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, GenerationParams{MaxTokens: &maxTokens})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "答案" {
		t.Fatalf("text = %q", text)
	}
	if gotReq.Model != "qwen-max" || gotReq.MaxTokens != 64 || len(gotReq.Messages) != 1 {
		t.Fatalf("request = %+v", gotReq)
	}
}

func TestOpenAIClientSendsExplicitZero(t *testing.T) {
	var raw map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&raw)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c := NewClient(config.LLMConfig{
		APIKey:     "k",
		BaseURL:    srv.URL + "/v1",
		Model:      "qwen-max",
		Generation: config.LLMGenerationConfig{Temperature: 0.8, TopP: 0.8, MaxTokens: 1024},
	}, false)
	zero := 0.0
	if _, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, GenerationParams{Temperature: &zero, TopP: &zero}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	for _, key := range []string{"temperature", "top_p"} {
		v, ok := raw[key]
		if !ok {
			t.Fatalf("request body has no %q: %v", key, raw)
		}
		var f float64
		if err := json.Unmarshal(v, &f); err != nil || f < 0 || f > 1e-6 {
			t.Fatalf("%s = %s, want a value close to 0", key, v)
		}
	}
}

func TestOpenAIClientBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"down"}}`))
	}))
	defer srv.Close()

	c := NewClient(config.LLMConfig{APIKey: "k", BaseURL: srv.URL, Model: "m"}, false)
	_, err := c.Complete(context.Background(), nil, GenerationParams{})
	if !errors.Is(err, errs.ErrBackendUnavailable) {
		t.Fatalf("err = %v, want ErrBackendUnavailable", err)
	}
}
