package tools

import (
	apperrors "github.com/lk2023060901/agentchat-backend/internal/pkg/errors"
)

// ErrToolExecution 工具调用失败
var ErrToolExecution = apperrors.New(apperrors.ErrToolExecution)
