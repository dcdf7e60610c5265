// Package credential 管理加密保存的第三方凭据，并为节点初始化提供解密入口。
package credential

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"nodeforge/internal/domain/chatflow/node"
	"nodeforge/internal/domain/chatflow/port"
	"nodeforge/internal/platform/crypto"
	"nodeforge/internal/platform/errs"
	applog "nodeforge/internal/platform/log"
)

// RedactedValue password 字段回显时的占位值；更新时原样提交表示保留旧值
const RedactedValue = "_NODEFORGE_BLANK_07167752-1a71-47b7-a2f8-3d4c3b1f5e9a"

// CreateRequest POST /credentials
type CreateRequest struct {
	Name           string         `json:"name"`
	CredentialName string         `json:"credentialName"`
	PlainDataObj   map[string]any `json:"plainDataObj"`
}

// UpdateRequest PUT /credentials/{id}，字段缺省表示不修改
type UpdateRequest struct {
	Name         *string        `json:"name,omitempty"`
	PlainDataObj map[string]any `json:"plainDataObj,omitempty"`
}

// View 带解密数据的凭据
type View struct {
	*port.Credential
	PlainDataObj map[string]any `json:"plainDataObj"`
}

// Service 凭据服务
type Service struct {
	repo      port.Repository
	encryptor *crypto.Encryptor
	registry  *node.Registry
}

var _ node.CredentialResolver = (*Service)(nil)

// NewService 创建凭据服务。registry 为 nil 时使用全局节点注册表
func NewService(repo port.Repository, encryptor *crypto.Encryptor, registry *node.Registry) *Service {
	if registry == nil {
		registry = node.Default()
	}
	return &Service{repo: repo, encryptor: encryptor, registry: registry}
}

// Create 加密并保存凭据
func (s *Service) Create(ctx context.Context, req *CreateRequest) (*port.Credential, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, errs.BadRequest("name is required")
	}
	if _, ok := s.registry.Credential(req.CredentialName); !ok {
		return nil, errs.BadRequest("unknown credential type: %q", req.CredentialName)
	}
	encrypted, err := s.encryptor.EncryptJSON(nonNil(req.PlainDataObj))
	if err != nil {
		return nil, errs.Wrap(http.StatusInternalServerError, err, "encrypt credential")
	}

	c := &port.Credential{Name: req.Name, CredentialName: req.CredentialName, EncryptedData: encrypted}
	if err := s.repo.CreateCredential(ctx, c); err != nil {
		return nil, errs.Wrap(http.StatusInternalServerError, err, "create credential")
	}
	applog.Info("[Credential] Created", "id", c.ID, "credential_name", c.CredentialName)
	return c, nil
}

// List 按类型列出凭据，不含密文
func (s *Service) List(ctx context.Context, credentialNames ...string) ([]*port.Credential, error) {
	list, err := s.repo.ListCredentials(ctx, credentialNames...)
	if err != nil {
		return nil, errs.Wrap(http.StatusInternalServerError, err, "list credentials")
	}
	return list, nil
}

// Get 返回解密后的凭据，password 字段以占位值替代
func (s *Service) Get(ctx context.Context, id string) (*View, error) {
	c, data, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, field := range s.passwordFields(c.CredentialName) {
		if _, ok := data[field]; ok {
			data[field] = RedactedValue
		}
	}
	return &View{Credential: c, PlainDataObj: data}, nil
}

// Update 修改名称或数据。值为占位符的字段保留原值
func (s *Service) Update(ctx context.Context, id string, req *UpdateRequest) (*port.Credential, error) {
	c, stored, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, errs.BadRequest("name must not be empty")
		}
		c.Name = name
	}
	if req.PlainDataObj != nil {
		merged := make(map[string]any, len(req.PlainDataObj))
		for k, v := range req.PlainDataObj {
			if v == RedactedValue {
				if old, ok := stored[k]; ok {
					merged[k] = old
				}
				continue
			}
			merged[k] = v
		}
		if c.EncryptedData, err = s.encryptor.EncryptJSON(merged); err != nil {
			return nil, errs.Wrap(http.StatusInternalServerError, err, "encrypt credential")
		}
	}
	if err := s.repo.UpdateCredential(ctx, c); err != nil {
		return nil, errs.Wrap(http.StatusInternalServerError, err, "update credential")
	}
	return c, nil
}

// Delete 删除凭据
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.repo.DeleteCredential(ctx, id)
	if errors.Is(err, port.ErrNotFound) {
		return errs.NotFound("Credential %s not found", id)
	}
	if err != nil {
		return errs.Wrap(http.StatusInternalServerError, err, "delete credential")
	}
	return nil
}

// ResolveCredential 节点初始化时解密凭据（明文，仅服务端使用）
func (s *Service) ResolveCredential(ctx context.Context, id string) (map[string]any, error) {
	_, data, err := s.load(ctx, id)
	return data, err
}

// Schemas 已注册的凭据类型（components-credentials）
func (s *Service) Schemas() []*node.CredentialSchema {
	return s.registry.Credentials()
}

// Schema 单个凭据类型
func (s *Service) Schema(name string) (*node.CredentialSchema, error) {
	schema, ok := s.registry.Credential(name)
	if !ok {
		return nil, errs.NotFound("Credential type %s not found", name)
	}
	return schema, nil
}

func (s *Service) load(ctx context.Context, id string) (*port.Credential, map[string]any, error) {
	c, err := s.repo.GetCredential(ctx, id)
	if errors.Is(err, port.ErrNotFound) {
		return nil, nil, errs.NotFound("Credential %s not found", id)
	}
	if err != nil {
		return nil, nil, errs.Wrap(http.StatusInternalServerError, err, "get credential")
	}
	data := map[string]any{}
	if err := s.encryptor.DecryptJSON(c.EncryptedData, &data); err != nil {
		return nil, nil, errs.Wrap(http.StatusInternalServerError, err, "decrypt credential")
	}
	return c, data, nil
}

func (s *Service) passwordFields(credentialName string) []string {
	schema, ok := s.registry.Credential(credentialName)
	if !ok {
		return nil
	}
	return schema.PasswordFields()
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
