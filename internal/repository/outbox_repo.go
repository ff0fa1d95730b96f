package repository

import (
	"context"

	"creditengine/internal/model"

	"gorm.io/gorm"
)

type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) Create(ctx context.Context, tx *gorm.DB, msg *model.OutboxMessage) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(msg).Error
}

// CountByEvent 按事件类型统计，用于测试与运维排查
func (r *OutboxRepository) CountByEvent(ctx context.Context, eventType, messageKey string) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&model.OutboxMessage{}).Where("event_type = ?", eventType)
	if messageKey != "" {
		query = query.Where("message_key = ?", messageKey)
	}
	err := query.Count(&count).Error
	return count, err
}

func (r *OutboxRepository) GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxStatusPending).
		Order("id ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

// MarkSent 只从 PENDING 流转，防止多实例重复投递后覆盖 FAILED
func (r *OutboxRepository) MarkSent(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ? AND status = ?", id, model.OutboxStatusPending).
		Update("status", model.OutboxStatusSent).Error
}

// RecordFailure 记录一次投递失败，重试次数达到 maxRetry 时标记 FAILED
// 以读到的 retry_count 作为条件，并发投递同一条消息只会计一次
func (r *OutboxRepository) RecordFailure(ctx context.Context, msg *model.OutboxMessage, lastError string, maxRetry int) (bool, error) {
	next := msg.RetryCount + 1
	status := model.OutboxStatusPending
	if next >= maxRetry {
		status = model.OutboxStatusFailed
	}
	if len(lastError) > 255 {
		lastError = lastError[:255]
	}

	result := r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ? AND retry_count = ?", msg.ID, msg.RetryCount).
		Updates(map[string]interface{}{
			"retry_count": next,
			"status":      status,
			"last_error":  lastError,
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	msg.RetryCount = next
	msg.Status = status
	msg.LastError = lastError
	return status == model.OutboxStatusFailed, nil
}
