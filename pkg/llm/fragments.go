package llm

import (
	"context"
	"iter"
)

// Streamer 是可选接口，实现它的客户端自行产出回答片段，Fragments 不再调用 Complete。
type Streamer interface {
	Stream(ctx context.Context, messages []Message, gen GenerationParams) iter.Seq2[string, error]
}

// Fragments 调用一次 Complete，再把回答按字符逐个产出。
// 消费方停止迭代或 ctx 被取消时立即结束；出错时产出一次错误后结束。
func Fragments(ctx context.Context, client Client, messages []Message, gen GenerationParams) iter.Seq2[string, error] {
	if s, ok := client.(Streamer); ok {
		return s.Stream(ctx, messages, gen)
	}
	return func(yield func(string, error) bool) {
		text, err := client.Complete(ctx, messages, gen)
		if err != nil {
			yield("", err)
			return
		}
		for _, r := range text {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(string(r), nil) {
				return
			}
		}
	}
}
