package loader

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
)

// MarkdownLoader Markdown 文件整体作为一个 Document，首个标题作为标题。
// 按标题分段交给分块器的 markdown 策略完成。
type MarkdownLoader struct{}

// NewMarkdownLoader 创建 Markdown 加载器
func NewMarkdownLoader() *MarkdownLoader {
	return &MarkdownLoader{}
}

// Load 读取 Markdown 文件，空文件返回空切片
func (l *MarkdownLoader) Load(ctx context.Context, source string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("markdown loader: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return []Document{}, nil
	}

	meta := baseMetadata(source, "text/markdown", "markdown")
	title := fileTitle(source)
	headings := 0
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		heading, _ := parseHeading(scanner.Text())
		if heading == "" {
			continue
		}
		if headings == 0 {
			title = heading
		}
		headings++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("markdown loader: reading %s: %w", source, err)
	}
	meta["headings"] = headings

	return []Document{{
		ID:           source,
		Source:       source,
		Title:        title,
		Text:         text,
		DocumentType: "markdown",
		Metadata:     meta,
	}}, nil
}

// parseHeading 识别 ATX 标题（# Heading），返回标题文本与级别 1-6，非标题返回 ("", 0)
func parseHeading(line string) (heading string, level int) {
	trimmed := strings.TrimSpace(line)
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	if level < 1 || level > 6 {
		return "", 0
	}
	rest := trimmed[level:]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return "", 0
	}
	heading = strings.TrimSpace(rest)
	if heading == "" {
		return "", 0
	}
	return heading, level
}

// SupportedTypes .md / .markdown
func (l *MarkdownLoader) SupportedTypes() []string {
	return []string{".md", ".markdown"}
}
