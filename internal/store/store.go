package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"eduquest/internal/model"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("记录不存在")

const (
	requirementKeyPrefix = "requirement:"
	storyKeyPrefix       = "story:"
	latestStoryKey       = "story:latest"
)

// Store 需求/故事记录存储。Redis客户端在进程启动时显式构造后注入，
// 不做进程级懒加载单例。
type Store struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// SaveRequirement 保存需求记录，创建后不再修改
func (s *Store) SaveRequirement(ctx context.Context, req *model.Requirement) error {
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, requirementKeyPrefix+req.RequirementID, b, 0).Err()
}

func (s *Store) GetRequirement(ctx context.Context, id string) (*model.Requirement, error) {
	b, err := s.rdb.Get(ctx, requirementKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: requirement %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var req model.Requirement
	if err := json.Unmarshal(b, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// SaveStory 保存故事并更新最新指针
func (s *Store) SaveStory(ctx context.Context, story *model.Story) error {
	b, err := json.Marshal(story)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, storyKeyPrefix+story.StoryID, b, 0).Err(); err != nil {
		return err
	}
	return s.rdb.Set(ctx, latestStoryKey, story.StoryID, 0).Err()
}

func (s *Store) GetStory(ctx context.Context, id string) (*model.Story, error) {
	b, err := s.rdb.Get(ctx, storyKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: story %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var story model.Story
	if err := json.Unmarshal(b, &story); err != nil {
		return nil, err
	}
	return &story, nil
}

// LatestStory 取最近保存的故事
func (s *Store) LatestStory(ctx context.Context) (*model.Story, error) {
	id, err := s.rdb.Get(ctx, latestStoryKey).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: 尚未保存任何故事", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return s.GetStory(ctx, id)
}
