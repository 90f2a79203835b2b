package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendDocumentEvent_PartitionKeyPerDocument(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	defer mockProducer.Close()

	producer := &Producer{producer: mockProducer, topic: "document-process-events"}

	// 同一(租户,文档)的事件必须用相同的key,保证同分区有序
	checker := func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "7-42", string(key))

		value, err := msg.Value.Encode()
		require.NoError(t, err)
		var event DocumentProcessEvent
		require.NoError(t, json.Unmarshal(value, &event))
		assert.Equal(t, uint(7), event.TenantID)
		assert.Equal(t, uint(42), event.DocumentID)
		return nil
	}
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(checker)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(checker)

	first := &DocumentProcessEvent{TenantID: 7, DocumentID: 42, Action: "process", Timestamp: time.Now()}
	second := &DocumentProcessEvent{TenantID: 7, DocumentID: 42, Action: "delete", Timestamp: time.Now()}

	require.NoError(t, producer.SendDocumentEvent(first))
	require.NoError(t, producer.SendDocumentEvent(second))
}

func TestSendDocumentEvent_UninitializedProducer(t *testing.T) {
	var producer *Producer
	err := producer.SendDocumentEvent(&DocumentProcessEvent{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "未初始化")
}

func TestParseDocumentProcessEvent(t *testing.T) {
	event, err := ParseDocumentProcessEvent([]byte(`{"tenant_id":1,"document_id":2,"action":"process"}`))
	require.NoError(t, err)
	assert.Equal(t, uint(1), event.TenantID)
	assert.Equal(t, uint(2), event.DocumentID)
	assert.Equal(t, "process", event.Action)

	_, err = ParseDocumentProcessEvent([]byte("not json"))
	require.Error(t, err)
}
