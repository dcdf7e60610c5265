package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"nodeforge/internal/app/attachment"
	appchatflow "nodeforge/internal/app/chatflow"
	types "nodeforge/internal/domain/chatflow/model"
	"nodeforge/internal/platform/errs"
)

// DocumentHandler 向量写入与会话附件 API
type DocumentHandler struct {
	chatflows    *appchatflow.Service
	attachments  *attachment.Service
	maxBodyBytes int64
}

// NewDocumentHandler 创建处理器
func NewDocumentHandler(chatflows *appchatflow.Service, attachments *attachment.Service, maxBodyBytes int64) *DocumentHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 50 << 20
	}
	return &DocumentHandler{chatflows: chatflows, attachments: attachments, maxBodyBytes: maxBodyBytes}
}

// RegisterRoutes 注册路由
func (h *DocumentHandler) RegisterRoutes(r chi.Router) {
	r.Post("/vector/upsert/{id}", handle(h.Upsert))
	r.Get("/upsert-history/{id}", handle(h.UpsertHistory))
	r.Post("/attachments/{chatflowId}/{chatId}", handle(h.CreateAttachments))
	r.Get("/attachments/{chatflowId}/{chatId}", handle(h.ListAttachments))
	r.Get("/get-upload-file", handle(h.GetUploadFile))
}

// --- 向量写入 ---

func (h *DocumentHandler) Upsert(w http.ResponseWriter, r *http.Request) error {
	req := &appchatflow.UpsertRequest{}
	if isMultipart(r) {
		form, err := readMultipart(r, h.maxBodyBytes)
		if err != nil {
			return err
		}
		req.StopNodeID = form.value("stopNodeId")
		if err := form.jsonValue("overrideConfig", &req.OverrideConfig); err != nil {
			return err
		}
		req.Files = form.uploads()
	} else if err := decodeJSON(r, req); err != nil {
		return err
	}

	res, err := h.chatflows.Upsert(r.Context(), chi.URLParam(r, "id"), req, callerOf(r))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, res)
	return nil
}

func (h *DocumentHandler) UpsertHistory(w http.ResponseWriter, r *http.Request) error {
	list, err := h.chatflows.UpsertHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, list)
	return nil
}

// --- 附件 ---

func (h *DocumentHandler) CreateAttachments(w http.ResponseWriter, r *http.Request) error {
	if !isMultipart(r) {
		return errs.BadRequest("multipart form with files is required")
	}
	form, err := readMultipart(r, h.maxBodyBytes)
	if err != nil {
		return err
	}
	files := make([]attachment.File, 0, len(form.files))
	for _, f := range form.files {
		files = append(files, attachment.File{Name: f.Name, MimeType: f.Mime, Data: f.Data})
	}
	res, err := h.attachments.Create(r.Context(), chi.URLParam(r, "chatflowId"), chi.URLParam(r, "chatId"), files)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, res)
	return nil
}

func (h *DocumentHandler) ListAttachments(w http.ResponseWriter, r *http.Request) error {
	list, err := h.attachments.List(r.Context(), chi.URLParam(r, "chatflowId"), chi.URLParam(r, "chatId"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, list)
	return nil
}

func (h *DocumentHandler) GetUploadFile(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	fileName := q.Get("fileName")
	obj, err := h.attachments.Open(r.Context(), q.Get("chatflowId"), q.Get("chatId"), fileName)
	if err != nil {
		return err
	}
	defer obj.Body.Close()

	ct := obj.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": filepath.Base(fileName)}))
	if obj.Size > 0 {
		w.Header().Set("Content-Length", fmt.Sprint(obj.Size))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, obj.Body)
	return nil
}

// --- multipart ---

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

type multipartForm struct {
	values map[string][]string
	files  []types.FileUpload
}

// readMultipart 读取全部字段与 files 字段中的文件
func readMultipart(r *http.Request, maxBytes int64) (*multipartForm, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errs.Newf(http.StatusRequestEntityTooLarge, "request body exceeds limit (%dMB)", maxBytes>>20)
		}
		return nil, errs.BadRequest("failed to parse multipart form")
	}
	form := &multipartForm{values: r.MultipartForm.Value}
	for _, header := range r.MultipartForm.File["files"] {
		f, err := header.Open()
		if err != nil {
			return nil, errs.BadRequest("read file %s: %v", header.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, errs.BadRequest("read file %s: %v", header.Filename, err)
		}
		mimeType := header.Header.Get("Content-Type")
		if mimeType == "" || mimeType == "application/octet-stream" {
			if byExt := mime.TypeByExtension(filepath.Ext(header.Filename)); byExt != "" {
				mimeType = byExt
			}
		}
		up := types.FileUpload{Name: header.Filename, Mime: mimeType, Type: "file", Data: data}
		if strings.HasPrefix(mimeType, "audio/") {
			up.Type = "audio"
		}
		form.files = append(form.files, up)
	}
	return form, nil
}

func (f *multipartForm) value(key string) string {
	if v := f.values[key]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

// jsonValue 字段为 JSON 字符串时解析到 out
func (f *multipartForm) jsonValue(key string, out any) error {
	raw := f.value(key)
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return errs.BadRequest("invalid %s: %v", key, err)
	}
	return nil
}

func (f *multipartForm) uploads() []types.FileUpload {
	return f.files
}
