package loader

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFLoader 抽取 PDF 纯文本，整个文件为一个 Document
type PDFLoader struct{}

// NewPDFLoader 创建 PDF 加载器
func NewPDFLoader() *PDFLoader {
	return &PDFLoader{}
}

// Load 读取 PDF 文件。没有可抽取文本（如扫描件）时返回空切片。
func (l *PDFLoader) Load(ctx context.Context, source string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, r, err := pdf.Open(source)
	if err != nil {
		return nil, fmt.Errorf("pdf loader: %w", err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("pdf loader: extracting %s: %w", source, err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return nil, fmt.Errorf("pdf loader: reading %s: %w", source, err)
	}
	text := strings.TrimSpace(buf.String())
	if text == "" {
		return []Document{}, nil
	}

	meta := baseMetadata(source, "application/pdf", "pdf")
	meta["pages"] = r.NumPage()
	return []Document{{
		ID:           source,
		Source:       source,
		Title:        fileTitle(source),
		Text:         text,
		DocumentType: "pdf",
		Metadata:     meta,
	}}, nil
}

// SupportedTypes .pdf
func (l *PDFLoader) SupportedTypes() []string {
	return []string{".pdf"}
}
