package model

import "time"

// ChatSession 是用户的一个对话会话。
type ChatSession struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"index;not null" json:"userId"`
	Name      string    `gorm:"type:varchar(128);not null" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (ChatSession) TableName() string {
	return "chat_sessions"
}

// ChatMessage 是会话中的一条消息，按问答成对写入，写入后不再修改。
type ChatMessage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID uint      `gorm:"index;not null" json:"sessionId"`
	Role      string    `gorm:"type:varchar(16);not null" json:"role"` // "user" 或 "assistant"
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"createdAt"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}

// AllModels 返回需要自动迁移的全部模型。
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&KnowledgeBase{},
		&Document{},
		&DocumentChunk{},
		&ChatSession{},
		&ChatMessage{},
	}
}
