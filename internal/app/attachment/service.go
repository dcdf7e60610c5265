// Package attachment 保存会话附件并抽取文本，供聊天窗口把文件内容作为上下文。
package attachment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"

	"nodeforge/internal/adapter/storage"
	"nodeforge/internal/domain/chatflow/port"
	"nodeforge/internal/domain/rag"
	"nodeforge/internal/platform/errs"
	applog "nodeforge/internal/platform/log"
)

// File 待保存的上传文件
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// Result 单个附件的处理结果
type Result struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	Content  string `json:"content"`
}

// Service 附件服务
type Service struct {
	repo     port.Repository
	backend  storage.Backend
	parsers  *rag.ParserRegistry
	maxBytes int64
}

// NewService 创建附件服务。maxBytes <= 0 表示不限制单文件大小
func NewService(repo port.Repository, backend storage.Backend, parsers *rag.ParserRegistry, maxBytes int64) *Service {
	if parsers == nil {
		parsers = rag.NewParserRegistry()
	}
	return &Service{repo: repo, backend: backend, parsers: parsers, maxBytes: maxBytes}
}

// Create 保存文件到 <chatflowId>/<chatId>/<name> 并抽取文本。
// 不支持解析的类型保留空 content
func (s *Service) Create(ctx context.Context, chatflowID, chatID string, files []File) ([]Result, error) {
	if _, err := s.chatflow(ctx, chatflowID); err != nil {
		return nil, err
	}
	if chatID == "" {
		return nil, errs.BadRequest("chatId is required")
	}
	if len(files) == 0 {
		return nil, errs.BadRequest("no files uploaded")
	}

	out := make([]Result, 0, len(files))
	for _, f := range files {
		if s.maxBytes > 0 && int64(len(f.Data)) > s.maxBytes {
			return nil, errs.Newf(http.StatusRequestEntityTooLarge, "file %s exceeds the upload limit", f.Name)
		}
		name := filepath.Base(f.Name)
		if name == "." || name == "/" || name == "" {
			return nil, errs.BadRequest("file name is required")
		}
		mimeType := f.MimeType
		if mimeType == "" {
			mimeType = mime.TypeByExtension(filepath.Ext(name))
		}
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}

		key := storage.Key(chatflowID, chatID, name)
		size, err := s.backend.Put(ctx, key, bytes.NewReader(f.Data), mimeType)
		if err != nil {
			return nil, errs.Wrap(http.StatusInternalServerError, err, fmt.Sprintf("store file %s", name))
		}

		content := s.extract(name, f.Data)
		a := &port.Attachment{
			ChatflowID:  chatflowID,
			ChatID:      chatID,
			FileName:    name,
			MimeType:    mimeType,
			Size:        size,
			StoragePath: key,
			Content:     content,
		}
		if err := s.repo.CreateAttachment(ctx, a); err != nil {
			return nil, errs.Wrap(http.StatusInternalServerError, err, "save attachment")
		}
		out = append(out, Result{Name: name, MimeType: mimeType, Size: size, Content: content})
	}
	applog.Info("[Attachment] Stored", "chatflow_id", chatflowID, "chat_id", chatID, "files", len(out))
	return out, nil
}

func (s *Service) extract(name string, data []byte) string {
	if !s.parsers.Supports(name) {
		return ""
	}
	res, err := s.parsers.ParseBytes(name, data)
	if err != nil {
		applog.Warn("[Attachment] Extract text failed", "file", name, "error", err)
		return ""
	}
	return res.Content
}

// List 会话附件记录
func (s *Service) List(ctx context.Context, chatflowID, chatID string) ([]*port.Attachment, error) {
	if _, err := s.chatflow(ctx, chatflowID); err != nil {
		return nil, err
	}
	list, err := s.repo.ListAttachments(ctx, chatflowID, chatID)
	if err != nil {
		return nil, errs.Wrap(http.StatusInternalServerError, err, "list attachments")
	}
	return list, nil
}

// Open 读取已保存的文件，调用方关闭 Body
func (s *Service) Open(ctx context.Context, chatflowID, chatID, fileName string) (*storage.Object, error) {
	if chatflowID == "" || chatID == "" || fileName == "" {
		return nil, errs.BadRequest("chatflowId, chatId and fileName are required")
	}
	if _, err := s.chatflow(ctx, chatflowID); err != nil {
		return nil, err
	}
	obj, err := s.backend.Get(ctx, storage.Key(chatflowID, chatID, filepath.Base(fileName)))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errs.NotFound("File %s not found", fileName)
	}
	if err != nil {
		return nil, errs.Wrap(http.StatusInternalServerError, err, "read file")
	}
	return obj, nil
}

// DeleteAll 删除 chatflow 下的全部文件
func (s *Service) DeleteAll(ctx context.Context, chatflowID string) error {
	if chatflowID == "" {
		return nil
	}
	return s.backend.DeletePrefix(ctx, storage.Key(chatflowID))
}

func (s *Service) chatflow(ctx context.Context, id string) (*port.ChatFlow, error) {
	cf, err := s.repo.GetChatFlow(ctx, id)
	if errors.Is(err, port.ErrNotFound) {
		return nil, errs.NotFound("Chatflow %s not found", id)
	}
	if err != nil {
		return nil, errs.Wrap(http.StatusInternalServerError, err, "get chatflow")
	}
	return cf, nil
}
