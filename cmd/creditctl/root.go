package main

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	agentbiz "github.com/lk2023060901/agentchat-backend/internal/agent/biz"
	agentdata "github.com/lk2023060901/agentchat-backend/internal/agent/data"
	"github.com/lk2023060901/agentchat-backend/internal/assistant/llm"
	"github.com/lk2023060901/agentchat-backend/internal/auth"
	"github.com/lk2023060901/agentchat-backend/internal/conf"
	creditbiz "github.com/lk2023060901/agentchat-backend/internal/credit/biz"
	creditdata "github.com/lk2023060901/agentchat-backend/internal/credit/data"
	"github.com/lk2023060901/agentchat-backend/internal/pkg/database"
	"github.com/lk2023060901/agentchat-backend/internal/pkg/logger"
)

// app 子命令共享的依赖
type app struct {
	credits *creditbiz.CreditUseCase
	jwt     *auth.JWTManager
	retry   creditbiz.RetryPolicy
	feeRate decimal.Decimal
}

// loader 按配置文件构建 app，返回的 cleanup 释放连接
type loader func(configPath string) (*app, func(), error)

var flagConfig string

func newRootCmd(load loader) *cobra.Command {
	root := &cobra.Command{
		Use:          "creditctl",
		Short:        "Operate the credit ledger",
		Long:         "Inspect balances, preview completion costs and apply manual deductions against the credit ledger.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "configs/config.yaml", "config file path")

	withApp := func(run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := load(flagConfig)
			if err != nil {
				return err
			}
			defer cleanup()
			return run(cmd, a, args)
		}
	}

	root.AddCommand(
		newBalanceCmd(withApp),
		newPreviewCmd(withApp),
		newDeductCmd(withApp),
		newTokenCmd(withApp),
	)
	return root
}

// loadApp 连接数据库，不使用 Redis 缓存
func loadApp(configPath string) (*app, func(), error) {
	cfg, err := conf.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	feeRate, err := cfg.Credit.FeeRate()
	if err != nil {
		return nil, nil, err
	}

	cfg.Log.Output = "console"
	cfg.Log.Level = "warn"
	log, err := logger.New(&cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	logger.SetGlobal(log)

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		return nil, nil, err
	}
	registry, err := llm.NewRegistry(cfg.Providers, cfg.Models)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	agents := agentbiz.NewAgentUseCase(agentdata.NewAgentRepo(db), agentdata.NewPlanRepo(db), nil)
	accounts := creditdata.NewAccountRepo(db)
	a := &app{
		credits: creditbiz.NewCreditUseCase(accounts, accounts, agents, agents, registry),
		jwt:     auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer),
		retry:   cfg.Credit.Retry,
		feeRate: feeRate,
	}
	cleanup := func() {
		_ = db.Close()
		_ = log.Sync()
	}
	return a, cleanup, nil
}
