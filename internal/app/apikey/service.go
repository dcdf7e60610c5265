// Package apikey 管理调用方 API Key。明文只在创建时返回一次，库中仅保存 SHA-256 摘要。
package apikey

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"nodeforge/internal/domain/chatflow/port"
	"nodeforge/internal/platform/crypto"
	"nodeforge/internal/platform/errs"
	applog "nodeforge/internal/platform/log"
)

const (
	keyPrefix  = "nf-"
	tokenBytes = 32
	// 展示用前缀长度（含 nf-）
	displayPrefixLen = 11
)

// Created 新建结果，Key 为明文
type Created struct {
	*port.APIKey
	Key string `json:"apiKey"`
}

// Service API Key 服务
type Service struct {
	repo port.Repository
}

// NewService 创建服务
func NewService(repo port.Repository) *Service {
	return &Service{repo: repo}
}

// Create 生成新 key
func (s *Service) Create(ctx context.Context, name string) (*Created, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errs.BadRequest("keyName is required")
	}
	token, err := crypto.RandomToken(tokenBytes)
	if err != nil {
		return nil, errs.Wrap(http.StatusInternalServerError, err, "generate api key")
	}
	plain := keyPrefix + token

	k := &port.APIKey{
		KeyName:   name,
		KeyHash:   crypto.HashKey(plain),
		KeyPrefix: plain[:min(displayPrefixLen, len(plain))],
	}
	if err := s.repo.CreateAPIKey(ctx, k); err != nil {
		return nil, errs.Wrap(http.StatusInternalServerError, err, "create api key")
	}
	applog.Info("[APIKey] Created", "id", k.ID, "name", k.KeyName)
	return &Created{APIKey: k, Key: plain}, nil
}

// List 列出 key（不含明文）
func (s *Service) List(ctx context.Context) ([]*port.APIKey, error) {
	keys, err := s.repo.ListAPIKeys(ctx)
	if err != nil {
		return nil, errs.Wrap(http.StatusInternalServerError, err, "list api keys")
	}
	return keys, nil
}

// Delete 删除 key
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.repo.DeleteAPIKey(ctx, id)
	if errors.Is(err, port.ErrNotFound) {
		return errs.NotFound("API key %s not found", id)
	}
	if err != nil {
		return errs.Wrap(http.StatusInternalServerError, err, "delete api key")
	}
	return nil
}

// Verify 校验明文 key，失败返回 401
func (s *Service) Verify(ctx context.Context, plain string) (*port.APIKey, error) {
	plain = strings.TrimSpace(plain)
	if plain == "" {
		return nil, errs.Unauthorized("Unauthorized")
	}
	k, err := s.repo.FindAPIKeyByHash(ctx, crypto.HashKey(plain))
	if errors.Is(err, port.ErrNotFound) {
		return nil, errs.Unauthorized("Unauthorized")
	}
	if err != nil {
		return nil, errs.Wrap(http.StatusInternalServerError, err, "verify api key")
	}
	return k, nil
}

// VerifyForChatflow chatflow 绑定了 key 时要求请求携带同一个 key
func (s *Service) VerifyForChatflow(ctx context.Context, cf *port.ChatFlow, plain string) error {
	if cf.APIKeyID == "" {
		return nil
	}
	k, err := s.Verify(ctx, plain)
	if err != nil {
		return err
	}
	if k.ID != cf.APIKeyID {
		return errs.Unauthorized("Unauthorized")
	}
	return nil
}
