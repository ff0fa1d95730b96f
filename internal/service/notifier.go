package service

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"creditengine/internal/model"
	"creditengine/internal/repository"

	"gorm.io/gorm"
)

// Notifier 把通知写进发件箱，由 NotificationSender 投递到 Kafka
// 写入失败只记日志，不影响结算结果
type Notifier struct {
	db         *gorm.DB
	outboxRepo *repository.OutboxRepository
	topic      string
}

func NewNotifier(db *gorm.DB, topic string) *Notifier {
	return &Notifier{
		db:         db,
		outboxRepo: repository.NewOutboxRepository(db),
		topic:      topic,
	}
}

// Enqueue 在调用方事务里用 savepoint 写入，失败回滚到 savepoint
func (n *Notifier) Enqueue(ctx context.Context, tx *gorm.DB, eventType, key string, payload map[string]interface{}) {
	if n == nil {
		return
	}
	if tx == nil {
		tx = n.db
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["event"] = eventType
	payload["occurred_at"] = time.Now().Format(time.RFC3339)

	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[Notifier] 序列化通知失败: event=%s, key=%s, err=%v", eventType, key, err)
		return
	}

	msg := &model.OutboxMessage{
		MessageKey: key,
		EventType:  eventType,
		Topic:      n.topic,
		Payload:    string(data),
		Status:     model.OutboxStatusPending,
	}
	err = tx.Transaction(func(sp *gorm.DB) error {
		return n.outboxRepo.Create(ctx, sp, msg)
	})
	if err != nil {
		log.Printf("[Notifier] 写入发件箱失败: event=%s, key=%s, err=%v", eventType, key, err)
	}
}
