// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"kbqa-go/internal/config"
	"kbqa-go/pkg/log"
	"kbqa-go/pkg/tasks"
)

// TaskProcessor defines the interface for any service that can process a task.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.DocumentTask) error
}

// Producer 将文档任务写入 Kafka。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	log.Info("Kafka 生产者初始化成功")
	return &Producer{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(strings.Split(cfg.Brokers, ",")...),
			Topic:    cfg.Topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// Dispatch 发送一个文档处理任务，以文档 ID 作为消息 key。
func (p *Producer) Dispatch(ctx context.Context, task tasks.DocumentTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(fmt.Sprintf("%d", task.DocID)),
		Value: taskBytes,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// AttemptCounter 记录任务失败次数。
type AttemptCounter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// RedisAttempts 使用 Redis INCR 计数，计数键 24 小时后过期。
type RedisAttempts struct {
	rdb *redis.Client
}

func NewRedisAttempts(rdb *redis.Client) *RedisAttempts {
	return &RedisAttempts{rdb: rdb}
}

func (r *RedisAttempts) Incr(ctx context.Context, key string) (int64, error) {
	n, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	_ = r.rdb.Expire(ctx, key, 24*time.Hour).Err()
	return n, nil
}

func (r *RedisAttempts) Reset(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, key).Err()
}

// Consumer 消费文档任务。处理失败时在当前消息上重试，累计失败达到上限后提交 offset 放弃。
// 失败次数记录在 Redis 中，进程重启后重投的消息继续沿用之前的计数。
type Consumer struct {
	cfg         config.KafkaConfig
	processor   TaskProcessor
	attempts    AttemptCounter
	maxAttempts int64
	backoff     time.Duration
}

func NewConsumer(cfg config.KafkaConfig, processor TaskProcessor, attempts AttemptCounter) *Consumer {
	maxAttempts := int64(cfg.MaxAttempts)
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Consumer{cfg: cfg, processor: processor, attempts: attempts, maxAttempts: maxAttempts, backoff: 2 * time.Second}
}

// Run 阻塞消费直到 ctx 被取消。
func (c *Consumer) Run(ctx context.Context) error {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  strings.Split(c.cfg.Brokers, ","),
		Topic:    c.cfg.Topic,
		GroupID:  c.cfg.GroupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	defer r.Close()

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", c.cfg.Topic)
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("从 Kafka 读取消息失败: %w", err)
		}
		// FetchMessage 总是前进到下一条，未提交的消息不会在本进程内重投，
		// 所以 handle 只在 ctx 结束时返回 false
		if !c.handle(ctx, m.Value) {
			return nil
		}
		if err := r.CommitMessages(ctx, m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}
}

// handle 处理单条消息，失败时退避重试，返回是否应提交 offset。
func (c *Consumer) handle(ctx context.Context, value []byte) bool {
	var task tasks.DocumentTask
	if err := json.Unmarshal(value, &task); err != nil {
		// 消息格式错误，直接提交，避免阻塞队列
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(value))
		return true
	}

	attemptsKey := fmt.Sprintf("kafka:attempts:doc:%d", task.DocID)
	var local int64
	for {
		log.Infof("开始处理文档任务: doc_id=%d, file=%s", task.DocID, task.FileName)
		err := c.processor.Process(ctx, task)
		if err == nil {
			log.Infof("文档任务处理成功: doc_id=%d", task.DocID)
			_ = c.attempts.Reset(ctx, attemptsKey)
			return true
		}
		log.Errorf("处理文档任务失败: doc_id=%d, error: %v", task.DocID, err)

		local++
		attempts, incErr := c.attempts.Incr(ctx, attemptsKey)
		if incErr != nil {
			log.Warnf("记录失败次数失败，使用本地计数: %v", incErr)
			attempts = local
		}
		if attempts >= c.maxAttempts {
			log.Errorf("文档任务多次失败(>=%d)，提交 offset 终止重试: doc_id=%d", c.maxAttempts, task.DocID)
			_ = c.attempts.Reset(ctx, attemptsKey)
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.backoff * time.Duration(attempts)):
		}
	}
}
