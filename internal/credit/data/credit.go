package data

import (
	"context"
	"fmt"
	"time"

	"github.com/lk2023060901/agentchat-backend/internal/credit/biz"
	"github.com/lk2023060901/agentchat-backend/internal/credit/models"
	"github.com/lk2023060901/agentchat-backend/internal/credit/types"
	"github.com/lk2023060901/agentchat-backend/internal/pkg/database"
	"gorm.io/gorm"
)

// bucketColumns 桶名到列前缀
var bucketColumns = map[types.Bucket]string{
	types.BucketFree:     "free",
	types.BucketReferral: "referral",
	types.BucketPlan:     "plan",
	types.BucketTopUp:    "top_up",
}

// AccountRepo 基于 PostgreSQL 的额度仓储
type AccountRepo struct {
	db *database.DB
}

// NewAccountRepo 创建额度仓储
func NewAccountRepo(db *database.DB) *AccountRepo {
	return &AccountRepo{db: db}
}

var (
	_ biz.AccountRepo = (*AccountRepo)(nil)
	_ biz.Transactor  = (*AccountRepo)(nil)
)

// InTx 在数据库事务中执行，仓储方法通过 ctx 复用同一事务
func (r *AccountRepo) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.db.Transaction(ctx, func(ctx context.Context, _ *gorm.DB) error {
		return fn(ctx)
	})
}

// GetAccount 读取账户
func (r *AccountRepo) GetAccount(ctx context.Context, userID string) (*types.Account, error) {
	var po models.CreditAccount
	if err := r.db.Conn(ctx).Where("user_id = ?", userID).First(&po).Error; err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, biz.ErrAccountNotFound
		}
		return nil, fmt.Errorf("query credit account: %w", err)
	}
	return toAccount(&po), nil
}

// ApplyDebit 单条 UPDATE 完成四个桶的扣减，WHERE 子句即前置条件
func (r *AccountRepo) ApplyDebit(ctx context.Context, userID string, takes types.Takes) (bool, error) {
	updates := map[string]any{"last_updated": time.Now().UTC()}
	q := r.db.Conn(ctx).Model(&models.CreditAccount{}).Where("user_id = ?", userID)

	for _, b := range types.BucketOrder {
		take := takes.Get(b)
		if take == 0 {
			continue
		}
		col := bucketColumns[b]
		q = q.Where(col+"_remaining >= ?", take)
		updates[col+"_used"] = gorm.Expr(col+"_used + ?", take)
		updates[col+"_remaining"] = gorm.Expr(col+"_remaining - ?", take)
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("debit credit account: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ApplyCredit 以读取时的 remaining 作为前置条件入账
func (r *AccountRepo) ApplyCredit(ctx context.Context, userID string, bucket types.Bucket, amount, expectedRemaining int64) (bool, error) {
	col, ok := bucketColumns[bucket]
	if !ok {
		return false, fmt.Errorf("unknown bucket %q", bucket)
	}

	res := r.db.Conn(ctx).Model(&models.CreditAccount{}).
		Where("user_id = ? AND "+col+"_remaining = ?", userID, expectedRemaining).
		Updates(map[string]any{
			col + "_remaining": gorm.Expr(col+"_remaining + ?", amount),
			"last_updated":     time.Now().UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("credit account: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// AppendLogs 批量写入流水
func (r *AccountRepo) AppendLogs(ctx context.Context, entries []*types.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	pos := make([]*models.CreditLog, 0, len(entries))
	for _, e := range entries {
		pos = append(pos, toLogPO(e))
	}
	if err := r.db.Conn(ctx).Create(&pos).Error; err != nil {
		return fmt.Errorf("insert credit logs: %w", err)
	}
	return nil
}

// ListLogs 按时间倒序分页
func (r *AccountRepo) ListLogs(ctx context.Context, userID string, limit, offset int) ([]*types.LogEntry, int64, error) {
	var total int64
	base := r.db.Conn(ctx).Model(&models.CreditLog{}).Where("user_id = ?", userID)
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count credit logs: %w", err)
	}

	var pos []*models.CreditLog
	err := r.db.Conn(ctx).Where("user_id = ?", userID).
		Order("created_at DESC").
		Scopes(database.Paginate(limit, offset)).
		Find(&pos).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list credit logs: %w", err)
	}

	out := make([]*types.LogEntry, 0, len(pos))
	for _, po := range pos {
		out = append(out, toLogEntry(po))
	}
	return out, total, nil
}

func toAccount(po *models.CreditAccount) *types.Account {
	return &types.Account{
		UserID:      po.UserID,
		Free:        types.BucketBalance{Used: po.FreeUsed, Remaining: po.FreeRemaining},
		Referral:    types.BucketBalance{Used: po.ReferralUsed, Remaining: po.ReferralRemaining},
		Plan:        types.BucketBalance{Used: po.PlanUsed, Remaining: po.PlanRemaining},
		TopUp:       types.BucketBalance{Used: po.TopUpUsed, Remaining: po.TopUpRemaining},
		LastUpdated: po.LastUpdated,
	}
}

func toLogPO(e *types.LogEntry) *models.CreditLog {
	return &models.CreditLog{
		ID:            e.LogID,
		UserID:        e.UserID,
		Event:         string(e.Event),
		Source:        e.Source,
		CreditsDelta:  e.CreditsDelta,
		CreditsBefore: e.CreditsBefore,
		CreditsAfter:  e.CreditsAfter,
		Metadata:      models.JSONMap(e.Metadata),
		CreatedAt:     e.Timestamp,
	}
}

func toLogEntry(po *models.CreditLog) *types.LogEntry {
	return &types.LogEntry{
		LogID:         po.ID,
		UserID:        po.UserID,
		Event:         types.LogEvent(po.Event),
		Source:        po.Source,
		CreditsDelta:  po.CreditsDelta,
		CreditsBefore: po.CreditsBefore,
		CreditsAfter:  po.CreditsAfter,
		Metadata:      po.Metadata,
		Timestamp:     po.CreatedAt,
	}
}
