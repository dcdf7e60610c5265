package loader

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	types "nodeforge/internal/domain/chatflow/model"
	"nodeforge/internal/domain/chatflow/node"
	"nodeforge/internal/domain/rag"
	applog "nodeforge/internal/platform/log"
)

var parsers = rag.NewParserRegistry()

// Loader 文件或文本文档加载器，实现 node.DocumentLoader。
// 写入模式下上传的同类文件替换画布中保存的文件。
type Loader struct {
	nodeID   string
	files    []types.FileUpload
	text     string
	perPage  bool
	splitter node.TextSplitter
	metadata map[string]any
	omitKeys []string
}

// Load 并发解析全部文件，再依次切分、合并附加 metadata
func (l *Loader) Load(ctx context.Context) ([]types.Document, error) {
	parsed := make([][]types.Document, len(l.files))
	eg, _ := errgroup.WithContext(ctx)
	eg.SetLimit(4)
	for i, f := range l.files {
		eg.Go(func() error {
			if !parsers.Supports(f.Name) {
				return fmt.Errorf("node %s: unsupported file %q", l.nodeID, f.Name)
			}
			res, err := parsers.ParseBytes(f.Name, f.Data)
			if err != nil {
				return fmt.Errorf("node %s: parse %s: %w", l.nodeID, f.Name, err)
			}
			parsed[i] = res.ToDocuments(f.Name, l.perPage)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var docs []types.Document
	for _, d := range parsed {
		docs = append(docs, d...)
	}
	if strings.TrimSpace(l.text) != "" {
		docs = append(docs, types.Document{PageContent: l.text, Metadata: map[string]any{}})
	}
	if l.splitter != nil {
		docs = l.splitter.SplitDocuments(docs)
	}

	for i := range docs {
		if docs[i].Metadata == nil {
			docs[i].Metadata = map[string]any{}
		}
		for k, v := range l.metadata {
			docs[i].Metadata[k] = v
		}
		for _, k := range l.omitKeys {
			delete(docs[i].Metadata, k)
		}
	}
	applog.Debug("[Loader] Documents loaded", "node_id", l.nodeID, "files", len(l.files), "documents", len(docs))
	return docs, nil
}

// common 所有加载器共有的输入：切分器、附加 metadata、剔除的 metadata key
func common(l *Loader, data *node.NodeData) error {
	if s, ok := node.GetOptionalInstance[node.TextSplitter](data, "textSplitter"); ok {
		l.splitter = s
	}
	md, err := node.GetJSON(data, "metadata")
	if err != nil {
		return err
	}
	l.metadata = md
	for _, k := range strings.Split(node.GetString(data, "omitMetadataKeys"), ",") {
		if k = strings.TrimSpace(k); k != "" {
			l.omitKeys = append(l.omitKeys, k)
		}
	}
	return nil
}

var commonInputs = []node.InputParam{
	{Label: "Text Splitter", Name: "textSplitter", Type: "TextSplitter", Optional: true},
	{Label: "Additional Metadata", Name: "metadata", Type: "json", Optional: true, Additional: true,
		Description: "Additional metadata to be added to the extracted documents"},
	{Label: "Omit Metadata Keys", Name: "omitMetadataKeys", Type: "string", Optional: true, Additional: true,
		Description: "Comma separated metadata keys to omit from the extracted documents"},
}

func withCommon(inputs ...node.InputParam) []node.InputParam {
	return append(inputs, commonInputs...)
}
