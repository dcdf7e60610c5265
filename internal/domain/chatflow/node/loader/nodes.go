package loader

import (
	"context"
	"fmt"

	types "nodeforge/internal/domain/chatflow/model"
	"nodeforge/internal/domain/chatflow/node"
)

var loaderClasses = []string{"Document"}

func init() {
	node.Register(&plainTextPlugin{})
	node.Register(&filePlugin{
		def: &node.Definition{
			Name:        "pdfFile",
			Label:       "Pdf File",
			Version:     1,
			Type:        "Document",
			Icon:        "pdf.svg",
			Category:    string(types.CategoryDocumentLoaders),
			Description: "Load data from PDF files",
			BaseClasses: loaderClasses,
			Inputs: withCommon(
				node.InputParam{Label: "Pdf File", Name: "pdfFile", Type: "file", FileType: ".pdf"},
				node.InputParam{Label: "Usage", Name: "usage", Type: "options", Default: "perPage", Options: []node.InputOption{
					{Label: "One document per page", Name: "perPage"},
					{Label: "One document per file", Name: "perFile"},
				}},
			),
		},
		fileInput: "pdfFile",
		exts:      []string{".pdf"},
	})
	node.Register(&filePlugin{
		def: &node.Definition{
			Name:        "docxFile",
			Label:       "Docx File",
			Version:     1,
			Type:        "Document",
			Icon:        "docx.svg",
			Category:    string(types.CategoryDocumentLoaders),
			Description: "Load data from DOCX files",
			BaseClasses: loaderClasses,
			Inputs: withCommon(
				node.InputParam{Label: "Docx File", Name: "docxFile", Type: "file", FileType: ".docx"},
			),
		},
		fileInput: "docxFile",
		exts:      []string{".docx"},
	})
}

// filePlugin pdfFile / docxFile：画布中的 base64 文件，或写入请求上传的同类文件
type filePlugin struct {
	def       *node.Definition
	fileInput string
	exts      []string
}

func (p *filePlugin) Definition() *node.Definition { return p.def }

func (p *filePlugin) Init(_ context.Context, data *node.NodeData, opts *node.InitOptions) (any, error) {
	l := &Loader{nodeID: data.ID, perPage: node.GetString(data, "usage") != "perFile"}
	if opts != nil {
		l.files = node.UploadsWithExt(opts.Uploads, p.exts...)
	}
	if len(l.files) == 0 {
		files, err := node.DecodeFileInput(node.GetString(data, p.fileInput))
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", data.ID, err)
		}
		l.files = files
	}
	if err := common(l, data); err != nil {
		return nil, fmt.Errorf("node %s: %w", data.ID, err)
	}
	return l, nil
}

var textExts = []string{".txt", ".text", ".md", ".markdown", ".csv", ".json", ".log", ".xml", ".yaml", ".yml"}

// plainTextPlugin 直接输入的文本；写入请求上传的文本类文件也由它加载
type plainTextPlugin struct{}

func (p *plainTextPlugin) Definition() *node.Definition {
	return &node.Definition{
		Name:        "plainText",
		Label:       "Plain Text",
		Version:     1,
		Type:        "Document",
		Icon:        "plaintext.svg",
		Category:    string(types.CategoryDocumentLoaders),
		Description: "Load data from plain text",
		BaseClasses: loaderClasses,
		Inputs: withCommon(
			node.InputParam{Label: "Text", Name: "text", Type: "string", Rows: 4},
		),
	}
}

func (p *plainTextPlugin) Init(_ context.Context, data *node.NodeData, opts *node.InitOptions) (any, error) {
	l := &Loader{nodeID: data.ID, text: node.GetString(data, "text")}
	if opts != nil {
		if files := node.UploadsWithExt(opts.Uploads, textExts...); len(files) > 0 {
			l.files = files
			l.text = ""
		}
	}
	if err := common(l, data); err != nil {
		return nil, fmt.Errorf("node %s: %w", data.ID, err)
	}
	return l, nil
}
