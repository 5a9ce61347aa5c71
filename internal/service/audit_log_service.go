package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/report-gin/internal/auth"
	"github.com/mautops/report-gin/internal/model"
	"github.com/mautops/report-gin/internal/repository"
)

// systemUserID 后台流水线等无操作人场景使用的用户 ID
const systemUserID = "system"

// AuditLogService 审计日志服务
type AuditLogService interface {
	RecordAction(ctx context.Context, action string, resourceType string, resourceID string, details interface{}) error
	ListByResource(ctx context.Context, resourceType string, resourceID string) ([]*model.AuditLogModel, error)
}

// auditLogService 审计日志服务实现
type auditLogService struct {
	auditRepo repository.AuditLogRepository
}

// NewAuditLogService 创建审计日志服务
func NewAuditLogService(auditRepo repository.AuditLogRepository) AuditLogService {
	return &auditLogService{
		auditRepo: auditRepo,
	}
}

// RecordAction 记录操作审计日志,操作人和请求信息从 context 读取
func (s *auditLogService) RecordAction(
	ctx context.Context,
	action string,
	resourceType string,
	resourceID string,
	details interface{},
) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return err
	}

	userID := auth.UserIDFromContext(ctx)
	if userID == "" {
		userID = systemUserID
	}
	info := auth.RequestInfoFromContext(ctx)

	auditLog := &model.AuditLogModel{
		ID:           uuid.New().String(),
		UserID:       userID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		RequestID:    info.RequestID,
		IP:           info.IP,
		UserAgent:    info.UserAgent,
		Details:      detailsJSON,
		CreatedAt:    time.Now(),
	}

	return s.auditRepo.Save(ctx, auditLog)
}

// ListByResource 查询资源的审计日志
func (s *auditLogService) ListByResource(ctx context.Context, resourceType string, resourceID string) ([]*model.AuditLogModel, error) {
	return s.auditRepo.FindByResource(ctx, resourceType, resourceID)
}
