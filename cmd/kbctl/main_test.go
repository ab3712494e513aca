package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"kbqa-go/pkg/llm"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("kbctl %v: %v\n%s", args, err, out.String())
	}
	return out.String()
}

func TestIngestThenAsk(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "kb.db")
	doc := filepath.Join(dir, "west-lake.txt")
	if err := os.WriteFile(doc, []byte("西湖位于杭州市西部，以断桥残雪闻名。"), 0o644); err != nil {
		t.Fatal(err)
	}

	out := run(t, "--db", db, "ingest", "--kb", "travel", doc)
	if !strings.Contains(out, "west-lake.txt\tdone\t1 chunks") {
		t.Fatalf("ingest output = %q", out)
	}

	// 重复导入同名文件被跳过
	if out := run(t, "--db", db, "ingest", "--kb", "travel", doc); strings.Contains(out, "west-lake.txt") {
		t.Fatalf("second ingest output = %q", out)
	}

	out = run(t, "--db", db, "ask", "--kb", "travel", "--sources", "西湖在哪里")
	if !strings.Contains(out, llm.OfflineAnswer) {
		t.Fatalf("ask output = %q", out)
	}
	if !strings.Contains(out, "[source] kb=1 doc=1 chunk=0") {
		t.Fatalf("sources missing after reindex: %q", out)
	}
}

func TestAskUnknownKnowledgeBase(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--db", filepath.Join(t.TempDir(), "kb.db"), "ask", "--kb", "missing", "hi"})
	if err := root.ExecuteContext(context.Background()); err == nil {
		t.Fatal("expected error for unknown knowledge base")
	}
}
