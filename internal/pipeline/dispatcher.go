package pipeline

import (
	"context"

	"kbqa-go/pkg/tasks"
)

// Dispatcher 投递文档处理任务。生产环境为 Kafka 生产者，testing 模式为同步执行。
type Dispatcher interface {
	Dispatch(ctx context.Context, task tasks.DocumentTask) error
}

// InlineDispatcher 在当前 goroutine 中同步执行任务。
type InlineDispatcher struct {
	processor *Processor
}

func NewInlineDispatcher(p *Processor) *InlineDispatcher {
	return &InlineDispatcher{processor: p}
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, task tasks.DocumentTask) error {
	return d.processor.Process(ctx, task)
}
