package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/campusrag/llm"
	"github.com/BaSui01/campusrag/rag"
	"github.com/BaSui01/campusrag/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

// Conversation 一轮问答记录
type Conversation struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     string    `gorm:"size:128;not null;index:idx_conversation_user_time" json:"user_id"`
	Query      string    `gorm:"type:text;not null" json:"query"`
	Answer     string    `gorm:"type:text" json:"answer"`
	Method     string    `gorm:"size:16" json:"method"`
	AgentType  string    `gorm:"size:32" json:"agent_type,omitempty"`
	Confidence float64   `gorm:"default:0" json:"confidence"`
	Sources    string    `gorm:"type:text" json:"-"` // []rag.SourceSummary 的 JSON
	CreatedAt  time.Time `gorm:"index:idx_conversation_user_time" json:"created_at"`
}

func (Conversation) TableName() string {
	return "campus_conversations"
}

// SourceList 解析 Sources 字段
func (c *Conversation) SourceList() ([]rag.SourceSummary, error) {
	if c.Sources == "" {
		return []rag.SourceSummary{}, nil
	}
	var out []rag.SourceSummary
	if err := json.Unmarshal([]byte(c.Sources), &out); err != nil {
		return nil, fmt.Errorf("decode sources of conversation %d: %w", c.ID, err)
	}
	return out, nil
}

// FromResult 由流水线结果构造记录
func FromResult(userID string, res *rag.Result, agentType string) (*Conversation, error) {
	if res == nil || res.Query == nil || res.Answer == nil {
		return nil, errors.New("incomplete result")
	}
	sources := res.Answer.Sources
	if sources == nil {
		sources = []rag.SourceSummary{}
	}
	raw, err := json.Marshal(sources)
	if err != nil {
		return nil, fmt.Errorf("encode sources: %w", err)
	}
	return &Conversation{
		UserID:     userID,
		Query:      res.Query.OriginalQuery,
		Answer:     res.Answer.Answer,
		Method:     string(res.Method),
		AgentType:  agentType,
		Confidence: res.Answer.Confidence,
		Sources:    string(raw),
	}, nil
}

// =============================================================================
// 🗄️ Store
// =============================================================================

// Store 基于 gorm 的会话历史存储，支持 sqlite / postgres / mysql
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewStore 创建存储
func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "history_store")),
		now:    time.Now,
	}
}

// Migrate 创建或更新表结构
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&Conversation{}); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}
	return nil
}

// HasSchema 对话表是否已存在
func (s *Store) HasSchema(ctx context.Context) bool {
	return s.db.WithContext(ctx).Migrator().HasTable(&Conversation{})
}

// Save 写入一条记录，CreatedAt 为空时取当前时间
func (s *Store) Save(ctx context.Context, c *Conversation) error {
	if c == nil || c.UserID == "" {
		return types.NewInvalidRequestError("user_id is required")
	}
	if c.Query == "" {
		return types.NewInvalidRequestError("query is required")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	s.logger.Debug("conversation saved",
		zap.Uint("id", c.ID),
		zap.String("user_id", c.UserID))
	return nil
}

// ListByUser 按时间倒序返回用户最近的记录。limit<=0 取默认值 20，上限 200。
func (s *Store) ListByUser(ctx context.Context, userID string, limit int) ([]Conversation, error) {
	if userID == "" {
		return nil, types.NewInvalidRequestError("user_id is required")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	var out []Conversation
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out, nil
}

// DeleteByUser 清空用户历史，返回删除条数
func (s *Store) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, types.NewInvalidRequestError("user_id is required")
	}
	res := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&Conversation{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete conversations: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// RecentMessages 取最近 turns 轮问答，按时间正序展开为对话消息
func (s *Store) RecentMessages(ctx context.Context, userID string, turns int) ([]llm.Message, error) {
	convs, err := s.ListByUser(ctx, userID, turns)
	if err != nil {
		return nil, err
	}
	messages := make([]llm.Message, 0, len(convs)*2)
	for i := len(convs) - 1; i >= 0; i-- {
		messages = append(messages,
			llm.Message{Role: llm.RoleUser, Content: convs[i].Query},
			llm.Message{Role: llm.RoleAssistant, Content: convs[i].Answer},
		)
	}
	return messages, nil
}
