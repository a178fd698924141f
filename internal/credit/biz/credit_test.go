package biz_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	assistanttypes "github.com/lk2023060901/agentchat-backend/internal/assistant/types"
	"github.com/lk2023060901/agentchat-backend/internal/credit/biz"
	"github.com/lk2023060901/agentchat-backend/internal/credit/data"
	"github.com/lk2023060901/agentchat-backend/internal/credit/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAgents map[string]*types.AgentPricing

func (f fakeAgents) GetAgentPricing(_ context.Context, id string) (*types.AgentPricing, error) {
	if a, ok := f[id]; ok {
		return a, nil
	}
	return nil, errors.New("agent not found")
}

type fakePlans map[string]string

func (f fakePlans) GetPlan(_ context.Context, uid string) (string, error) {
	return f[uid], nil
}

type fakeCatalog map[string]types.ModelPricing

func (f fakeCatalog) Lookup(id string) (types.ModelPricing, bool) {
	p, ok := f[id]
	return p, ok
}

// conflictingStore 前 n 次 ApplyDebit 模拟并发修改
type conflictingStore struct {
	*data.MemoryStore
	conflicts int
	calls     int
}

func (s *conflictingStore) ApplyDebit(ctx context.Context, uid string, takes types.Takes) (bool, error) {
	s.calls++
	if s.calls <= s.conflicts {
		return false, nil
	}
	return s.MemoryStore.ApplyDebit(ctx, uid, takes)
}

func newUseCase(store biz.AccountRepo, tx biz.Transactor, agents fakeAgents, plans fakePlans) *biz.CreditUseCase {
	catalog := fakeCatalog{
		"model-x": {
			ID:                         "model-x",
			InputCreditsPer1000Tokens:  decimal.NewFromInt(5),
			OutputCreditsPer1000Tokens: decimal.NewFromInt(10),
		},
	}
	return biz.NewCreditUseCase(store, tx, agents, plans, catalog)
}

func TestDeductCredits_Scenario(t *testing.T) {
	ctx := context.Background()
	store := data.NewMemoryStore()
	store.PutAccount(types.Account{
		UserID: "u1",
		Free:   types.BucketBalance{Remaining: 100},
		Plan:   types.BucketBalance{Remaining: 100},
	})
	uc := newUseCase(store, store, nil, nil)

	res, err := uc.DeductCredits(ctx, "u1", 150, map[string]any{"chat_id": "c1"})
	require.NoError(t, err)
	assert.Equal(t, types.Takes{Free: 100, Plan: 50}, res.Takes)
	assert.Equal(t, types.Remaining{Free: 0, Plan: 50}, res.Remaining)

	logs := store.Logs()
	require.Len(t, logs, 2)
	assert.Equal(t, "free", logs[0].Source)
	assert.Equal(t, int64(-100), logs[0].CreditsDelta)
	assert.Equal(t, int64(100), *logs[0].CreditsBefore)
	assert.Equal(t, int64(0), *logs[0].CreditsAfter)
	assert.Equal(t, "plan", logs[1].Source)
	assert.Equal(t, int64(100), *logs[1].CreditsBefore)
	assert.Equal(t, int64(50), *logs[1].CreditsAfter)

	acc, err := uc.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, types.BucketBalance{Used: 100, Remaining: 0}, acc.Free)
	assert.Equal(t, types.BucketBalance{Used: 50, Remaining: 50}, acc.Plan)
}

func TestDeductCredits_Conservation(t *testing.T) {
	tests := []struct {
		name       string
		f, r, p, u int64
		credits    int64
		wantLogs   int
	}{
		{name: "exact total", f: 1, r: 2, p: 3, u: 4, credits: 10, wantLogs: 4},
		{name: "referral only", r: 7, p: 3, credits: 5, wantLogs: 1},
		{name: "skip empty free", f: 0, r: 0, p: 0, u: 9, credits: 9, wantLogs: 1},
		{name: "zero credits", f: 5, credits: 0, wantLogs: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := data.NewMemoryStore()
			store.PutAccount(types.Account{
				UserID:   "u",
				Free:     types.BucketBalance{Remaining: tt.f},
				Referral: types.BucketBalance{Remaining: tt.r},
				Plan:     types.BucketBalance{Remaining: tt.p},
				TopUp:    types.BucketBalance{Remaining: tt.u},
			})
			uc := newUseCase(store, store, nil, nil)

			res, err := uc.DeductCredits(context.Background(), "u", tt.credits, nil)
			require.NoError(t, err)

			rem := res.Remaining
			assert.Equal(t, tt.f+tt.r+tt.p+tt.u-tt.credits, rem.Free+rem.Referral+rem.Plan+rem.TopUp)
			assert.Len(t, store.Logs(), tt.wantLogs)
		})
	}
}

func TestDeductCredits_Insufficient(t *testing.T) {
	store := data.NewMemoryStore()
	store.PutAccount(types.Account{UserID: "u1", Free: types.BucketBalance{Remaining: 10}, TopUp: types.BucketBalance{Remaining: 5}})
	uc := newUseCase(store, store, nil, nil)

	_, err := uc.DeductCredits(context.Background(), "u1", 16, nil)
	assert.ErrorIs(t, err, biz.ErrInsufficientCredits)

	acc, _ := store.GetAccount(context.Background(), "u1")
	assert.Equal(t, int64(10), acc.Free.Remaining)
	assert.Equal(t, int64(0), acc.Free.Used)
	assert.Equal(t, int64(5), acc.TopUp.Remaining)
	assert.Empty(t, store.Logs())
}

func TestDeductCredits_Errors(t *testing.T) {
	store := data.NewMemoryStore()
	uc := newUseCase(store, store, nil, nil)

	_, err := uc.DeductCredits(context.Background(), "missing", 1, nil)
	assert.ErrorIs(t, err, biz.ErrAccountNotFound)

	_, err = uc.DeductCredits(context.Background(), "missing", -1, nil)
	assert.ErrorIs(t, err, biz.ErrInvalidAmount)
}

func TestDeductCredits_ConflictSurfacesWithoutRetry(t *testing.T) {
	mem := data.NewMemoryStore()
	mem.PutAccount(types.Account{UserID: "u1", Free: types.BucketBalance{Remaining: 10}})
	store := &conflictingStore{MemoryStore: mem, conflicts: 1}
	uc := newUseCase(store, mem, nil, nil)

	_, err := uc.DeductCredits(context.Background(), "u1", 3, nil)
	assert.ErrorIs(t, err, biz.ErrConcurrentUpdateConflict)
	assert.True(t, biz.IsConflict(err))
	assert.Equal(t, 1, store.calls)
	assert.Empty(t, mem.Logs())
}

func TestRetryOnConflict(t *testing.T) {
	mem := data.NewMemoryStore()
	mem.PutAccount(types.Account{UserID: "u1", Free: types.BucketBalance{Remaining: 10}})
	store := &conflictingStore{MemoryStore: mem, conflicts: 2}
	uc := newUseCase(store, mem, nil, nil)

	var res *types.DeductResult
	err := biz.RetryOnConflict(context.Background(), biz.DefaultRetryPolicy(), func(ctx context.Context) error {
		var err error
		res, err = uc.DeductCredits(ctx, "u1", 3, nil)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 3, store.calls)
	assert.Equal(t, int64(7), res.Remaining.Free)
	assert.Len(t, mem.Logs(), 1)
}

func TestRetryOnConflict_StopsOnOtherErrors(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := biz.RetryOnConflict(context.Background(), biz.DefaultRetryPolicy(), func(context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetryOnConflict_GivesUp(t *testing.T) {
	calls := 0
	policy := biz.RetryPolicy{MaxRetries: 2}
	err := biz.RetryOnConflict(context.Background(), policy, func(context.Context) error {
		calls++
		return biz.ErrConcurrentUpdateConflict
	})
	assert.ErrorIs(t, err, biz.ErrConcurrentUpdateConflict)
	assert.Equal(t, 3, calls)
}

func TestCalculateCredits(t *testing.T) {
	uc := newUseCase(data.NewMemoryStore(), data.NewMemoryStore(), nil, nil)

	input := []assistanttypes.Message{assistanttypes.NewTextMessage(assistanttypes.RoleUser, strings.Repeat("x", 4000))}
	p, err := uc.CalculateCredits("model-x", input, "reply", nil)
	require.NoError(t, err)
	assert.Equal(t, 1020, p.InputTokens)
	assert.Equal(t, int64(6), p.InputCreditsUsed)
	assert.Equal(t, 3, p.OutputTokens)
	assert.Equal(t, int64(1), p.OutputCreditsUsed)
	assert.Equal(t, int64(0), p.ToolCreditsUsed)
	assert.Equal(t, int64(7), p.TotalCredits)

	tools := []assistanttypes.Tool{assistanttypes.NewFunctionTool("web_search", "search the web", []byte(`{"type":"object"}`))}
	p, err = uc.CalculateCredits("model-x", input, "reply", tools)
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.ToolCreditsUsed)
	assert.Equal(t, int64(8), p.TotalCredits)

	_, err = uc.CalculateCredits("unknown", input, "", nil)
	assert.ErrorIs(t, err, biz.ErrModelNotFound)
}

func transferFixture(ownerPlan string, price int64) (*data.MemoryStore, *biz.CreditUseCase) {
	store := data.NewMemoryStore()
	store.PutAccount(types.Account{
		UserID:   "payer",
		Referral: types.BucketBalance{Remaining: 60},
		TopUp:    types.BucketBalance{Remaining: 100},
	})
	store.PutAccount(types.Account{UserID: "owner", Plan: types.BucketBalance{Remaining: 7}})
	agents := fakeAgents{"agent-1": {AgentID: "agent-1", OwnerID: "owner", Price: price}}
	plans := fakePlans{"owner": ownerPlan}
	return store, newUseCase(store, store, agents, plans)
}

func TestTransferCredits(t *testing.T) {
	ctx := context.Background()
	store, uc := transferFixture("free", 100)

	res, err := uc.TransferCredits(ctx, "payer", "agent-1", decimal.RequireFromString("0.1"), nil)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, int64(50), res.Fee)
	assert.Equal(t, int64(50), res.Net)
	assert.Equal(t, types.Takes{Referral: 60, TopUp: 40}, res.PayerTakes)

	owner, _ := store.GetAccount(ctx, "owner")
	assert.Equal(t, int64(57), owner.Plan.Remaining)
	payer, _ := store.GetAccount(ctx, "payer")
	assert.Equal(t, int64(60), payer.TopUp.Remaining)
	assert.Equal(t, int64(40), payer.TopUp.Used)

	logs := store.Logs()
	require.Len(t, logs, 4)
	events := []types.LogEvent{logs[0].Event, logs[1].Event, logs[2].Event, logs[3].Event}
	assert.Equal(t, []types.LogEvent{types.EventDeduct, types.EventDeduct, types.EventPlatformFee, types.EventCreditTransfer}, events)
	assert.Equal(t, int64(50), logs[2].CreditsDelta)
	assert.Equal(t, "owner", logs[3].UserID)
	assert.Equal(t, int64(7), *logs[3].CreditsBefore)
	assert.Equal(t, int64(57), *logs[3].CreditsAfter)
}

func TestTransferCredits_FeeTiers(t *testing.T) {
	tests := []struct {
		plan    string
		wantFee int64
	}{
		{plan: "free", wantFee: 50},
		{plan: "plus", wantFee: 30},
		{plan: "pro", wantFee: 25},
		{plan: "pro-plus", wantFee: 20},
		{plan: "enterprise", wantFee: 15},
	}

	for _, tt := range tests {
		t.Run(tt.plan, func(t *testing.T) {
			_, uc := transferFixture(tt.plan, 100)
			res, err := uc.TransferCredits(context.Background(), "payer", "agent-1", decimal.RequireFromString("0.15"), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFee, res.Fee)
			assert.Equal(t, 100-tt.wantFee, res.Net)
		})
	}
}

func TestTransferCredits_Skips(t *testing.T) {
	store, uc := transferFixture("free", 100)
	res, err := uc.TransferCredits(context.Background(), "owner", "agent-1", decimal.Zero, nil)
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	_, uc = transferFixture("free", 0)
	res, err = uc.TransferCredits(context.Background(), "payer", "agent-1", decimal.Zero, nil)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, store.Logs())
}

func TestTransferCredits_TooSmall(t *testing.T) {
	store, uc := transferFixture("free", 1)
	_, err := uc.TransferCredits(context.Background(), "payer", "agent-1", decimal.Zero, nil)
	assert.ErrorIs(t, err, biz.ErrTransferTooSmall)

	payer, _ := store.GetAccount(context.Background(), "payer")
	assert.Equal(t, int64(60), payer.Referral.Remaining)
	assert.Empty(t, store.Logs())
}

func TestTransferCredits_RollsBackWhenRecipientMissing(t *testing.T) {
	store := data.NewMemoryStore()
	store.PutAccount(types.Account{UserID: "payer", Free: types.BucketBalance{Remaining: 100}})
	agents := fakeAgents{"agent-1": {AgentID: "agent-1", OwnerID: "ghost", Price: 40}}
	uc := newUseCase(store, store, agents, fakePlans{})

	_, err := uc.TransferCredits(context.Background(), "payer", "agent-1", decimal.RequireFromString("0.5"), nil)
	assert.ErrorIs(t, err, biz.ErrAccountNotFound)

	payer, _ := store.GetAccount(context.Background(), "payer")
	assert.Equal(t, int64(100), payer.Free.Remaining)
	assert.Equal(t, int64(0), payer.Free.Used)
	assert.Empty(t, store.Logs())
}

func TestTransferCredits_InsufficientPayer(t *testing.T) {
	store, uc := transferFixture("pro", 500)
	_, err := uc.TransferCredits(context.Background(), "payer", "agent-1", decimal.Zero, nil)
	assert.ErrorIs(t, err, biz.ErrInsufficientCredits)
	assert.Empty(t, store.Logs())
}
