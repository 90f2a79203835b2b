package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/aihub/docqa-go/internal/logger"
)

// Producer Kafka生产者
type Producer struct {
	producer sarama.SyncProducer
	topic    string
}

// DocumentProcessEvent 文档处理事件
type DocumentProcessEvent struct {
	TenantID   uint `json:"tenant_id"`
	DocumentID uint `json:"document_id"`
	// Action 取值 process / delete
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// ParseDocumentProcessEvent 解析文档处理事件
func ParseDocumentProcessEvent(data []byte) (*DocumentProcessEvent, error) {
	var event DocumentProcessEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("解析消息失败: %w", err)
	}
	return &event, nil
}

var globalProducer *Producer

// InitProducer 初始化Kafka生产者
func InitProducer(brokers []string, topic string) error {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Timeout = 10 * time.Second

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return fmt.Errorf("创建Kafka生产者失败: %w", err)
	}

	globalProducer = &Producer{
		producer: producer,
		topic:    topic,
	}

	logger.Info("Kafka生产者初始化成功", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return nil
}

// GetProducer 获取全局生产者实例
func GetProducer() *Producer {
	return globalProducer
}

// SendDocumentEvent 发送文档处理事件
func (p *Producer) SendDocumentEvent(event *DocumentProcessEvent) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("Kafka生产者未初始化")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	// 同一文档的事件路由到同一分区,保证处理顺序
	kafkaMsg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(fmt.Sprintf("%d-%d", event.TenantID, event.DocumentID)),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("tenant_id"),
				Value: []byte(fmt.Sprintf("%d", event.TenantID)),
			},
			{
				Key:   []byte("action"),
				Value: []byte(event.Action),
			},
		},
	}

	partition, offset, err := p.producer.SendMessage(kafkaMsg)
	if err != nil {
		logger.Error("发送Kafka消息失败", zap.Error(err))
		return fmt.Errorf("发送消息失败: %w", err)
	}

	logger.Debug("Kafka消息发送成功",
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
		zap.Uint("document_id", event.DocumentID))

	return nil
}

// Close 关闭生产者
func (p *Producer) Close() error {
	if p != nil && p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// PublishDocumentProcess 发送文档处理事件（便捷方法）。
// Kafka未配置时返回错误,调用方决定是否走进程内兜底。
func PublishDocumentProcess(tenantID, documentID uint, action string) error {
	producer := GetProducer()
	if producer == nil {
		return fmt.Errorf("Kafka生产者未初始化")
	}

	return producer.SendDocumentEvent(&DocumentProcessEvent{
		TenantID:   tenantID,
		DocumentID: documentID,
		Action:     action,
		Timestamp:  time.Now(),
	})
}
