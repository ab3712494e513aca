package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"gorm.io/gorm"

	"kbqa-go/internal/config"
	"kbqa-go/internal/model"
	"kbqa-go/pkg/database"
	"kbqa-go/pkg/errs"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Driver: "sqlite", SQLite: config.SQLiteConfig{Path: ":memory:"}})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func TestConversationRecentMessagesNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewConversationRepository(newTestDB(t))
	for i := 1; i <= 3; i++ {
		if err := repo.AppendRound(ctx, 1, fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i)); err != nil {
			t.Fatalf("AppendRound: %v", err)
		}
	}
	_ = repo.AppendRound(ctx, 2, "other", "session")

	msgs, err := repo.GetRecentMessages(ctx, 1, 4)
	if err != nil {
		t.Fatalf("GetRecentMessages: %v", err)
	}
	want := []string{"a3", "q3", "a2", "q2"}
	if len(msgs) != len(want) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(want))
	}
	for i, w := range want {
		if msgs[i].Content != w {
			t.Fatalf("msgs[%d] = %q, want %q", i, msgs[i].Content, w)
		}
	}

	all, _ := repo.ListMessages(ctx, 1)
	if len(all) != 6 || all[0].Content != "q1" || all[0].Role != "user" || all[1].Role != "assistant" {
		t.Fatalf("ListMessages = %+v", all)
	}
	none, _ := repo.GetRecentMessages(ctx, 1, 0)
	if len(none) != 0 {
		t.Fatalf("count=0 returned %d", len(none))
	}
}

func TestChunkFindByPairsExactMatch(t *testing.T) {
	ctx := context.Background()
	repo := NewChunkRepository(newTestDB(t))
	err := repo.BatchCreate(ctx, []model.DocumentChunk{
		{DocID: 1, KBID: 1, ChunkIndex: 0, Content: "d1c0"},
		{DocID: 1, KBID: 1, ChunkIndex: 1, Content: "d1c1"},
		{DocID: 2, KBID: 1, ChunkIndex: 0, Content: "d2c0"},
		{DocID: 2, KBID: 1, ChunkIndex: 1, Content: "d2c1"},
	})
	if err != nil {
		t.Fatalf("BatchCreate: %v", err)
	}

	got, err := repo.FindByPairs(ctx, []ChunkKey{{1, 0}, {2, 1}, {9, 9}})
	if err != nil {
		t.Fatalf("FindByPairs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d chunks, want 2 (cross product must be filtered): %+v", len(got), got)
	}
	seen := map[string]bool{}
	for _, c := range got {
		seen[c.Content] = true
	}
	if !seen["d1c0"] || !seen["d2c1"] {
		t.Fatalf("unexpected chunks %+v", got)
	}
}

func TestChunkDuplicateKeyRejected(t *testing.T) {
	ctx := context.Background()
	repo := NewChunkRepository(newTestDB(t))
	_ = repo.BatchCreate(ctx, []model.DocumentChunk{{DocID: 1, KBID: 1, ChunkIndex: 0, Content: "a"}})
	if err := repo.BatchCreate(ctx, []model.DocumentChunk{{DocID: 1, KBID: 1, ChunkIndex: 0, Content: "b"}}); err == nil {
		t.Fatal("duplicate (doc_id, chunk_index) accepted")
	}
}

func TestChunkPageAndEdit(t *testing.T) {
	ctx := context.Background()
	repo := NewChunkRepository(newTestDB(t))
	var chunks []model.DocumentChunk
	for i := 0; i < 5; i++ {
		content := fmt.Sprintf("chunk %d", i)
		if i%2 == 0 {
			content += " 门票"
		}
		chunks = append(chunks, model.DocumentChunk{DocID: 3, KBID: 1, ChunkIndex: i, Content: content})
	}
	_ = repo.BatchCreate(ctx, chunks)

	page, total, err := repo.Page(ctx, 3, 2, 2, "")
	if err != nil || total != 5 || len(page) != 2 || page[0].ChunkIndex != 2 {
		t.Fatalf("Page = %+v, total %d, err %v", page, total, err)
	}
	page, total, _ = repo.Page(ctx, 3, 1, 10, "门票")
	if total != 3 || len(page) != 3 {
		t.Fatalf("keyword page total = %d, len = %d", total, len(page))
	}

	if err := repo.UpdateContent(ctx, page[0].ID, "edited"); err != nil {
		t.Fatalf("UpdateContent: %v", err)
	}
	c, _ := repo.FindByID(ctx, page[0].ID)
	if c.Content != "edited" {
		t.Fatalf("content = %q", c.Content)
	}
	if err := repo.Delete(ctx, 9999); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("delete missing err = %v", err)
	}
}

func TestKnowledgeBaseDeleteCascades(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	kbRepo := NewKnowledgeBaseRepository(db)
	docRepo := NewDocumentRepository(db)
	chunkRepo := NewChunkRepository(db)

	kb := &model.KnowledgeBase{Name: "景区"}
	if err := kbRepo.Create(ctx, kb); err != nil {
		t.Fatalf("Create kb: %v", err)
	}
	doc := &model.Document{KBID: kb.ID, FileName: "a.md", Status: model.DocumentStatusProcessing}
	_ = docRepo.Create(ctx, doc)
	_ = chunkRepo.BatchCreate(ctx, []model.DocumentChunk{{DocID: doc.ID, KBID: kb.ID, ChunkIndex: 0, Content: "x"}})

	if err := kbRepo.Delete(ctx, kb.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := kbRepo.FindByID(ctx, kb.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("kb still present: %v", err)
	}
	if _, err := docRepo.FindByID(ctx, doc.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("document still present: %v", err)
	}
	left, _ := chunkRepo.FindByDocument(ctx, doc.ID)
	if len(left) != 0 {
		t.Fatalf("%d chunks left", len(left))
	}
}

func TestDocumentUpdateStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewDocumentRepository(newTestDB(t))
	doc := &model.Document{KBID: 1, FileName: "a.pdf", Status: model.DocumentStatusProcessing}
	_ = repo.Create(ctx, doc)
	if err := repo.UpdateStatus(ctx, doc.ID, model.DocumentStatusFailed, 0, "tika down"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	got, _ := repo.FindByID(ctx, doc.ID)
	if got.Status != model.DocumentStatusFailed || got.ErrorMsg != "tika down" {
		t.Fatalf("doc = %+v", got)
	}
}

func TestSessionDeleteRemovesMessages(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	sessions := NewChatSessionRepository(db)
	conv := NewConversationRepository(db)

	s := &model.ChatSession{UserID: 1, Name: "新会话"}
	_ = sessions.Create(ctx, s)
	_ = conv.AppendRound(ctx, s.ID, "q", "a")
	if err := sessions.Delete(ctx, s.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	msgs, _ := conv.ListMessages(ctx, s.ID)
	if len(msgs) != 0 {
		t.Fatalf("%d messages left", len(msgs))
	}
}
