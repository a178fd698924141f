package data

import (
	"context"

	"github.com/lk2023060901/agentchat-backend/internal/agent/biz"
	"github.com/lk2023060901/agentchat-backend/internal/agent/models"
	"github.com/lk2023060901/agentchat-backend/internal/agent/types"
	"github.com/lk2023060901/agentchat-backend/internal/pkg/database"
)

// AgentRepo 智能体仓储实现
type AgentRepo struct {
	db *database.DB
}

// NewAgentRepo 创建智能体仓储
func NewAgentRepo(db *database.DB) *AgentRepo {
	return &AgentRepo{db: db}
}

// GetByID 根据ID获取智能体
func (r *AgentRepo) GetByID(ctx context.Context, id string) (*types.Agent, error) {
	var po models.Agent
	err := r.db.Conn(ctx).
		Where("id = ? AND deleted_at IS NULL", id).
		First(&po).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, biz.ErrAgentNotFound
		}
		return nil, err
	}
	return toAgent(&po), nil
}

// Save 创建或更新智能体
func (r *AgentRepo) Save(ctx context.Context, agent *types.Agent) error {
	po := &models.Agent{
		ID:        agent.ID,
		OwnerID:   agent.OwnerID,
		Name:      agent.Name,
		Emoji:     agent.Emoji,
		Persona:   agent.Persona,
		Price:     agent.Price,
		Status:    string(agent.Status),
		Tags:      agent.Tags,
		CreatedAt: agent.CreatedAt,
		UpdatedAt: agent.UpdatedAt,
	}
	return r.db.Conn(ctx).Save(po).Error
}

func toAgent(po *models.Agent) *types.Agent {
	return &types.Agent{
		ID:        po.ID,
		OwnerID:   po.OwnerID,
		Name:      po.Name,
		Emoji:     po.Emoji,
		Persona:   po.Persona,
		Price:     po.Price,
		Status:    types.Status(po.Status),
		Tags:      po.Tags,
		CreatedAt: po.CreatedAt,
		UpdatedAt: po.UpdatedAt,
	}
}

// PlanRepo 订阅计划仓储实现
type PlanRepo struct {
	db *database.DB
}

// NewPlanRepo 创建订阅计划仓储
func NewPlanRepo(db *database.DB) *PlanRepo {
	return &PlanRepo{db: db}
}

// GetByUserID 查询用户订阅
func (r *PlanRepo) GetByUserID(ctx context.Context, userID string) (*types.Plan, error) {
	var po models.UserPlan
	err := r.db.Conn(ctx).Where("user_id = ?", userID).First(&po).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, biz.ErrPlanNotFound
		}
		return nil, err
	}
	return &types.Plan{UserID: po.UserID, Plan: po.Plan, UpdatedAt: po.UpdatedAt}, nil
}
