package job

import (
	"context"
	"log"
	"time"

	"creditengine/internal/config"
	"creditengine/internal/infrastructure/metrics"
	"creditengine/internal/model"
	"creditengine/internal/repository"

	"gorm.io/gorm"
)

// Publisher 消息投递，生产环境是 Kafka 生产者
type Publisher interface {
	Publish(topic, key, value string) error
}

// NotificationSender 把发件箱里的通知投递到 Kafka
// 投递语义为至少一次，下游按 payload 里的 event + purchase_no 去重
type NotificationSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  Publisher
	metrics    *metrics.Metrics
	maxRetry   int
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewNotificationSender(db *gorm.DB, cfg *config.Config, publisher Publisher, m *metrics.Metrics) *NotificationSender {
	maxRetry := cfg.Billing.MaxRetryCount
	if maxRetry <= 0 {
		maxRetry = 5
	}
	return &NotificationSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		metrics:    m,
		maxRetry:   maxRetry,
		stopCh:     make(chan struct{}),
		interval:   500 * time.Millisecond,
		batchSize:  100,
	}
}

func (s *NotificationSender) Start(ctx context.Context) {
	log.Println("[NotificationSender] 通知投递任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[NotificationSender] 收到停止信号，任务退出")
			return
		case <-s.stopCh:
			log.Println("[NotificationSender] 任务停止")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *NotificationSender) Stop() {
	close(s.stopCh)
}

func (s *NotificationSender) processPendingMessages(ctx context.Context) {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		log.Printf("[NotificationSender] 查询消息失败: %v", err)
		return
	}

	for _, msg := range messages {
		s.sendMessage(ctx, msg)
	}
}

func (s *NotificationSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) {
	err := s.publisher.Publish(msg.Topic, msg.MessageKey, msg.Payload)

	if err == nil {
		s.metrics.Notification("sent")
		if updateErr := s.outboxRepo.MarkSent(ctx, msg.ID); updateErr != nil {
			log.Printf("[NotificationSender] 更新消息状态失败: id=%d, err=%v", msg.ID, updateErr)
		} else {
			log.Printf("[NotificationSender] 消息发送成功: id=%d, event=%s, key=%s", msg.ID, msg.EventType, msg.MessageKey)
		}
		return
	}

	s.metrics.Notification("error")
	log.Printf("[NotificationSender] 消息发送失败: id=%d, retry=%d, err=%v", msg.ID, msg.RetryCount, err)

	dropped, recordErr := s.outboxRepo.RecordFailure(ctx, msg, err.Error(), s.maxRetry)
	if recordErr != nil {
		log.Printf("[NotificationSender] 记录失败次数出错: id=%d, err=%v", msg.ID, recordErr)
		return
	}
	if dropped {
		s.metrics.Notification("dropped")
		log.Printf("[NotificationSender] 消息超过最大重试次数，标记为失败: id=%d", msg.ID)
	}
}
