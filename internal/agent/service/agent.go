package service

import (
	"github.com/gin-gonic/gin"
	"github.com/lk2023060901/agentchat-backend/internal/agent/biz"
	"github.com/lk2023060901/agentchat-backend/internal/agent/types"
	"github.com/lk2023060901/agentchat-backend/internal/pkg/response"
)

// AgentService 智能体 HTTP 服务
type AgentService struct {
	uc *biz.AgentUseCase
}

// NewAgentService 创建智能体服务
func NewAgentService(uc *biz.AgentUseCase) *AgentService {
	return &AgentService{uc: uc}
}

// AgentResponse 智能体响应，人设仅所有者可见
type AgentResponse struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Emoji   string       `json:"emoji"`
	Price   int64        `json:"price"`
	Status  types.Status `json:"status"`
	Tags    []string     `json:"tags"`
	OwnerID *string      `json:"owner_id,omitempty"`
	Persona *string      `json:"persona,omitempty"`
}

// RegisterRoutes 注册 /agents 路由
func (s *AgentService) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/agents/:id", s.GetAgent)
}

// GetAgent 获取智能体详情
func (s *AgentService) GetAgent(c *gin.Context) {
	userID := c.GetString("user_id")
	agent, err := s.uc.ResolveForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, toAgentResponse(agent, userID))
}

func toAgentResponse(a *types.Agent, userID string) *AgentResponse {
	resp := &AgentResponse{
		ID:     a.ID,
		Name:   a.Name,
		Emoji:  a.Emoji,
		Price:  a.Price,
		Status: a.Status,
		Tags:   a.Tags,
	}
	if userID != "" && userID == a.OwnerID {
		resp.OwnerID = &a.OwnerID
		resp.Persona = &a.Persona
	}
	return resp
}
