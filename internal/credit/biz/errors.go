package biz

import (
	apperrors "github.com/lk2023060901/agentchat-backend/internal/pkg/errors"
)

var (
	// ErrInsufficientCredits 四个桶合计不足以覆盖扣减
	ErrInsufficientCredits = apperrors.New(apperrors.ErrInsufficientCredits)

	// ErrConcurrentUpdateConflict 条件更新失败，余额已被并发修改
	ErrConcurrentUpdateConflict = apperrors.New(apperrors.ErrConcurrentUpdateConflict)

	// ErrTransferTooSmall 扣除手续费后净额不为正
	ErrTransferTooSmall = apperrors.New(apperrors.ErrTransferTooSmall)

	// ErrAccountNotFound 额度账户不存在
	ErrAccountNotFound = apperrors.New(apperrors.ErrAccountNotFound)

	// ErrModelNotFound 计费目录中没有该模型
	ErrModelNotFound = apperrors.New(apperrors.ErrModelNotFound)

	// ErrInvalidAmount 扣减量为负
	ErrInvalidAmount = apperrors.New(apperrors.ErrInvalidCreditAmount)
)
