package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"kbqa-go/internal/config"
	"kbqa-go/internal/model"
	"kbqa-go/internal/repository"
	"kbqa-go/pkg/database"
	"kbqa-go/pkg/embedding"
	"kbqa-go/pkg/errs"
	"kbqa-go/pkg/storage"
	"kbqa-go/pkg/tasks"
	"kbqa-go/pkg/vector"
)

func TestSplitText(t *testing.T) {
	cases := []struct {
		name          string
		text          string
		size, overlap int
		want          []string
	}{
		{"empty", "", 5, 1, nil},
		{"shorter than size", "abc", 5, 1, []string{"abc"}},
		{"exact size", "abcde", 5, 1, []string{"abcde"}},
		{"overlap", "abcdefghij", 4, 1, []string{"abcd", "defg", "ghij"}},
		{"no overlap", "abcdef", 3, 0, []string{"abc", "def"}},
		{"runes", "西湖十景断桥残雪", 3, 1, []string{"西湖十", "十景断", "断桥残", "残雪"}},
		{"overlap too large", "abcdef", 3, 3, []string{"abc", "def"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SplitText(tc.text, tc.size, tc.overlap)
			if strings.Join(got, "|") != strings.Join(tc.want, "|") || len(got) != len(tc.want) {
				t.Fatalf("SplitText(%q, %d, %d) = %q, want %q", tc.text, tc.size, tc.overlap, got, tc.want)
			}
		})
	}
}

type stubTika struct{ text string }

func (s stubTika) ExtractText(ctx context.Context, r io.Reader, fileName string) (string, error) {
	return s.text, nil
}

func TestExtractor(t *testing.T) {
	ctx := context.Background()
	e := NewExtractor(stubTika{text: "pdf text"})

	if got, _ := e.Extract(ctx, "notes.MD", []byte("# 标题")); got != "# 标题" {
		t.Fatalf("markdown = %q", got)
	}
	if got, _ := e.Extract(ctx, "map.png", nil); !strings.Contains(got, "map.png") {
		t.Fatalf("png placeholder = %q", got)
	}
	if got, _ := e.Extract(ctx, "guide.pdf", []byte("%PDF")); got != "pdf text" {
		t.Fatalf("pdf = %q", got)
	}
	if _, err := e.Extract(ctx, "run.exe", nil); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("exe err = %v", err)
	}
	if _, err := NewExtractor(nil).Extract(ctx, "a.docx", nil); err == nil {
		t.Fatal("docx without tika should fail")
	}
	if !IsSupported("A.PPTX") || IsSupported("a.zip") {
		t.Fatal("IsSupported mismatch")
	}
}

type failingIndex struct {
	*vector.MemoryIndex
}

func (f failingIndex) Insert(ctx context.Context, kbID, docID uint, chunkIndices []int, embeddings [][]float32) error {
	return errors.New("milvus unreachable: " + errs.ErrBackendUnavailable.Error())
}

type fixture struct {
	store     *storage.MemoryStore
	docRepo   repository.DocumentRepository
	chunkRepo repository.ChunkRepository
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Driver: "sqlite", SQLite: config.SQLiteConfig{Path: ":memory:"}})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	return fixture{
		store:     storage.NewMemoryStore(),
		docRepo:   repository.NewDocumentRepository(db),
		chunkRepo: repository.NewChunkRepository(db),
	}
}

func (f fixture) upload(t *testing.T, name, content string) tasks.DocumentTask {
	t.Helper()
	ctx := context.Background()
	obj := "kb/1/test/" + name
	_ = f.store.Put(ctx, obj, strings.NewReader(content), int64(len(content)), "text/plain")
	doc := &model.Document{KBID: 1, FileName: name, ObjectName: obj, Status: model.DocumentStatusProcessing}
	if err := f.docRepo.Create(ctx, doc); err != nil {
		t.Fatalf("create doc: %v", err)
	}
	return tasks.DocumentTask{DocID: doc.ID, KBID: 1, FileName: name, ObjectName: obj, ChunkSize: 4, ChunkOverlap: 0}
}

func TestProcessIndexesChunks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	idx := vector.NewMemoryIndex(64)
	p := NewProcessor(f.store, NewExtractor(nil), embedding.NewHashEmbedder(64), idx, f.docRepo, f.chunkRepo, config.RAGConfig{})

	task := f.upload(t, "a.txt", "aaaabbbbcccc")
	if err := NewInlineDispatcher(p).Dispatch(ctx, task); err != nil {
		t.Fatalf("Process: %v", err)
	}
	doc, _ := f.docRepo.FindByID(ctx, task.DocID)
	if doc.Status != model.DocumentStatusDone || doc.ChunkCount != 3 {
		t.Fatalf("doc = %+v", doc)
	}
	chunks, _ := f.chunkRepo.FindByDocument(ctx, task.DocID)
	if len(chunks) != 3 || chunks[1].Content != "bbbb" {
		t.Fatalf("chunks = %+v", chunks)
	}
	if idx.Len() != 3 {
		t.Fatalf("index has %d entries, want 3", idx.Len())
	}

	// 再次处理同一文档不会产生重复数据
	if err := p.Process(ctx, task); err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	if idx.Len() != 3 {
		t.Fatalf("after reprocess index has %d entries", idx.Len())
	}
}

func TestProcessFailureMarksDocumentFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	idx := failingIndex{vector.NewMemoryIndex(64)}
	p := NewProcessor(f.store, NewExtractor(nil), embedding.NewHashEmbedder(64), idx, f.docRepo, f.chunkRepo, config.RAGConfig{})

	task := f.upload(t, "a.md", "aaaabbbb")
	if err := p.Process(ctx, task); err == nil {
		t.Fatal("expected failure")
	}
	doc, _ := f.docRepo.FindByID(ctx, task.DocID)
	if doc.Status != model.DocumentStatusFailed || doc.ErrorMsg == "" {
		t.Fatalf("doc = %+v", doc)
	}
	chunks, _ := f.chunkRepo.FindByDocument(ctx, task.DocID)
	if len(chunks) != 0 {
		t.Fatalf("%d chunk rows left after failure", len(chunks))
	}
}

func TestProcessMissingObjectFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := NewProcessor(f.store, NewExtractor(nil), embedding.NewHashEmbedder(8), vector.NewMemoryIndex(8), f.docRepo, f.chunkRepo, config.RAGConfig{})

	doc := &model.Document{KBID: 1, FileName: "gone.txt", ObjectName: "kb/1/gone.txt", Status: model.DocumentStatusProcessing}
	_ = f.docRepo.Create(ctx, doc)
	err := p.Process(ctx, tasks.DocumentTask{DocID: doc.ID, KBID: 1, FileName: doc.FileName, ObjectName: doc.ObjectName})
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestProcessEmptyTextIsDoneWithoutChunks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	idx := vector.NewMemoryIndex(8)
	p := NewProcessor(f.store, NewExtractor(nil), embedding.NewHashEmbedder(8), idx, f.docRepo, f.chunkRepo, config.RAGConfig{ChunkSize: 500, ChunkOverlap: 100})

	task := f.upload(t, "empty.txt", "")
	if err := p.Process(ctx, task); err != nil {
		t.Fatalf("Process: %v", err)
	}
	doc, _ := f.docRepo.FindByID(ctx, task.DocID)
	if doc.Status != model.DocumentStatusDone || doc.ChunkCount != 0 || idx.Len() != 0 {
		t.Fatalf("doc = %+v, index len %d", doc, idx.Len())
	}
}
