package llm

// ContextPrefix 是知识库上下文消息的前缀。
const ContextPrefix = "以下是与用户问题相关的知识库内容，请结合这些内容回答：\n"

// BuildMessages 组装发送给模型的消息：系统提示、知识库上下文（非空时）、历史消息、当前问题。
func BuildMessages(system, context string, history []Message, question string) []Message {
	msgs := make([]Message, 0, len(history)+3)
	msgs = append(msgs, Message{Role: RoleSystem, Content: system})
	if context != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: ContextPrefix + context})
	}
	msgs = append(msgs, history...)
	msgs = append(msgs, Message{Role: RoleUser, Content: question})
	return msgs
}
