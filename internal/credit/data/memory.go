package data

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lk2023060901/agentchat-backend/internal/credit/biz"
	"github.com/lk2023060901/agentchat-backend/internal/credit/types"
)

// MemoryStore 进程内额度存储，用于本地开发和测试。
// InTx 失败时恢复执行前的快照，不提供跨事务隔离。
type MemoryStore struct {
	mu       sync.Mutex
	txMu     sync.Mutex
	accounts map[string]*types.Account
	logs     []*types.LogEntry
}

// NewMemoryStore 创建空存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]*types.Account)}
}

var (
	_ biz.AccountRepo = (*MemoryStore)(nil)
	_ biz.Transactor  = (*MemoryStore)(nil)
)

// PutAccount 写入或覆盖账户
func (s *MemoryStore) PutAccount(acc types.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := acc
	s.accounts[acc.UserID] = &cp
}

// Logs 返回全部流水副本
func (s *MemoryStore) Logs() []*types.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.LogEntry(nil), s.logs...)
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := make(map[string]types.Account, len(s.accounts))
	for id, acc := range s.accounts {
		snapshot[id] = *acc
	}
	logCount := len(s.logs)
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.accounts = make(map[string]*types.Account, len(snapshot))
		for id, acc := range snapshot {
			cp := acc
			s.accounts[id] = &cp
		}
		s.logs = s.logs[:logCount]
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, userID string) (*types.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[userID]
	if !ok {
		return nil, biz.ErrAccountNotFound
	}
	cp := *acc
	return &cp, nil
}

func (s *MemoryStore) ApplyDebit(_ context.Context, userID string, takes types.Takes) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[userID]
	if !ok {
		return false, nil
	}

	for _, b := range types.BucketOrder {
		if bucketRef(acc, b).Remaining < takes.Get(b) {
			return false, nil
		}
	}
	for _, b := range types.BucketOrder {
		bal := bucketRef(acc, b)
		bal.Used += takes.Get(b)
		bal.Remaining -= takes.Get(b)
	}
	acc.LastUpdated = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) ApplyCredit(_ context.Context, userID string, bucket types.Bucket, amount, expectedRemaining int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[userID]
	if !ok {
		return false, nil
	}
	bal := bucketRef(acc, bucket)
	if bal == nil {
		return false, fmt.Errorf("unknown bucket %q", bucket)
	}
	if bal.Remaining != expectedRemaining {
		return false, nil
	}
	bal.Remaining += amount
	acc.LastUpdated = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) AppendLogs(_ context.Context, entries []*types.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entries...)
	return nil
}

func (s *MemoryStore) ListLogs(_ context.Context, userID string, limit, offset int) ([]*types.LogEntry, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var mine []*types.LogEntry
	for _, e := range s.logs {
		if e.UserID == userID {
			mine = append(mine, e)
		}
	}
	sort.SliceStable(mine, func(i, j int) bool { return mine[i].Timestamp.After(mine[j].Timestamp) })

	total := int64(len(mine))
	if offset >= len(mine) {
		return nil, total, nil
	}
	end := len(mine)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return mine[offset:end], total, nil
}

func bucketRef(acc *types.Account, b types.Bucket) *types.BucketBalance {
	switch b {
	case types.BucketFree:
		return &acc.Free
	case types.BucketReferral:
		return &acc.Referral
	case types.BucketPlan:
		return &acc.Plan
	case types.BucketTopUp:
		return &acc.TopUp
	}
	return nil
}
