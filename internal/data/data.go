package data

import (
	"fmt"

	"go.uber.org/zap"

	agentmodels "github.com/lk2023060901/agentchat-backend/internal/agent/models"
	assistantmodels "github.com/lk2023060901/agentchat-backend/internal/assistant/models"
	"github.com/lk2023060901/agentchat-backend/internal/conf"
	creditmodels "github.com/lk2023060901/agentchat-backend/internal/credit/models"
	"github.com/lk2023060901/agentchat-backend/internal/pkg/database"
	"github.com/lk2023060901/agentchat-backend/internal/pkg/logger"
	"github.com/lk2023060901/agentchat-backend/internal/pkg/redis"
)

// Data 进程共享的存储连接
type Data struct {
	DB    *database.DB
	Redis *redis.Client
}

// NewData 连接 PostgreSQL 和 Redis，按配置执行迁移。返回的 cleanup 关闭所有连接
func NewData(config *conf.Config, log *logger.Logger) (*Data, func(), error) {
	db, err := database.New(&config.Database, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init database: %w", err)
	}
	if err := db.Migrate(AllModels()...); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	rdb, err := redis.New(&config.Redis, log)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to init redis: %w", err)
	}

	cleanup := func() {
		if err := rdb.Close(); err != nil {
			log.Error("failed to close redis", zap.Error(err))
		}
		if err := db.Close(); err != nil {
			log.Error("failed to close database", zap.Error(err))
		}
	}
	return &Data{DB: db, Redis: rdb}, cleanup, nil
}

// AllModels 所有需要迁移的表
func AllModels() []any {
	var all []any
	all = append(all, creditmodels.AllModels()...)
	all = append(all, agentmodels.AllModels()...)
	all = append(all, assistantmodels.AllModels()...)
	return all
}
