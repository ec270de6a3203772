package loader

import (
	"context"
	"fmt"
	"os"
)

// TextLoader 纯文本文件，整个文件为一个 Document
type TextLoader struct{}

// NewTextLoader 创建纯文本加载器
func NewTextLoader() *TextLoader {
	return &TextLoader{}
}

// Load 读取文本文件
func (l *TextLoader) Load(ctx context.Context, source string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("text loader: %w", err)
	}
	return []Document{{
		ID:           source,
		Source:       source,
		Title:        fileTitle(source),
		Text:         string(data),
		DocumentType: "text",
		Metadata:     baseMetadata(source, "text/plain", "text"),
	}}, nil
}

// SupportedTypes .txt
func (l *TextLoader) SupportedTypes() []string {
	return []string{".txt"}
}
