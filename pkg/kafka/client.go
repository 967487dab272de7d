// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fitcoach-go/internal/config"
	"fitcoach-go/pkg/log"
	"fitcoach-go/pkg/tasks"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

const (
	// maxAttempts 是单条消息的最大处理次数，超过后提交 offset 放弃。
	maxAttempts = 3
	// retryBackoff 是原地重试的基础间隔，第 n 次重试等待 n 倍。
	retryBackoff = 500 * time.Millisecond
)

// TurnProcessor defines the interface for any service that can process a turn event.
// This decouples the Kafka consumer from the concrete archive implementation.
type TurnProcessor interface {
	Process(ctx context.Context, event tasks.TurnEvent) error
}

// Producer 将对话轮次事件写入 Kafka。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	p := &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(strings.Split(cfg.Brokers, ",")...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
			WriteTimeout: 5 * time.Second,
		},
	}
	log.Info("Kafka 生产者初始化成功")
	return p
}

// PublishTurn 发送一个轮次事件，以 scope key 作为消息 key 保证同一会话有序。
func (p *Producer) PublishTurn(ctx context.Context, event tasks.TurnEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal turn event: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.ScopeKey),
		Value: value,
	})
}

// Close 关闭底层 writer，刷新缓冲中的消息。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// messageReader 是消费循环用到的 kafka.Reader 方法子集。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// StartConsumer 启动一个 Kafka 消费者来归档轮次事件，ctx 取消时退出。
// 处理失败的消息在原地退避重试，失败次数记在 Redis 中，达到上限后提交 offset 放弃。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor TurnProcessor, rdb *redis.Client) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  strings.Split(cfg.Brokers, ","),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)
	consume(ctx, r, processor, rdb, retryBackoff)
}

// consume 逐条拉取消息。同一条消息处理完成（或放弃）并提交后才拉取下一条，
// 否则后续消息的提交会越过失败的 offset。
func consume(ctx context.Context, r messageReader, processor TurnProcessor, rdb *redis.Client, backoff time.Duration) {
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Info("Kafka 消费者收到退出信号")
				return
			}
			log.Error("从 Kafka 读取消息失败", err)
			return
		}

		for tried := 1; !handleMessage(ctx, m, processor, rdb, tried); tried++ {
			select {
			case <-ctx.Done():
				log.Info("Kafka 消费者在重试期间收到退出信号")
				return
			case <-time.After(backoff * time.Duration(tried)):
			}
		}
		if err := r.CommitMessages(ctx, m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}
}

// handleMessage 处理单条消息，返回是否应提交 offset。
// tried 是本进程内对该消息的第几次尝试，Redis 不可用时用它代替共享计数。
func handleMessage(ctx context.Context, m kafka.Message, processor TurnProcessor, rdb *redis.Client, tried int) bool {
	var event tasks.TurnEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		// 消息格式错误，直接提交，避免阻塞队列
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		return true
	}

	attemptsKey := fmt.Sprintf("kafka:attempts:%s", event.TurnID)
	if err := processor.Process(ctx, event); err != nil {
		log.Errorf("归档轮次失败: TurnID=%s, Error: %v", event.TurnID, err)
		attempts, incErr := rdb.Incr(ctx, attemptsKey).Result()
		if incErr != nil {
			log.Warnf("记录重试次数失败，改用本地计数: %v", incErr)
			attempts = int64(tried)
		} else {
			_ = rdb.Expire(ctx, attemptsKey, 24*time.Hour).Err()
		}
		if attempts >= maxAttempts {
			log.Errorf("轮次归档多次失败(>=%d)，提交 offset 终止重试: TurnID=%s", maxAttempts, event.TurnID)
			return true
		}
		return false
	}

	_ = rdb.Del(ctx, attemptsKey).Err()
	return true
}
