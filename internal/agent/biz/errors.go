package biz

import (
	apperrors "github.com/lk2023060901/agentchat-backend/internal/pkg/errors"
)

var (
	// ErrAgentNotFound 智能体不存在
	ErrAgentNotFound = apperrors.New(apperrors.ErrAgentNotFound)

	// ErrAgentUnauthorized 草稿智能体只有所有者可用
	ErrAgentUnauthorized = apperrors.New(apperrors.ErrAgentUnauthorized)

	// ErrPlanNotFound 用户没有订阅记录
	ErrPlanNotFound = apperrors.New(apperrors.ErrPlanNotFound)
)
