package loader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// JSONLoaderConfig JSON / JSONL 加载配置
type JSONLoaderConfig struct {
	// TextField 正文字段，默认 "text"。字段缺失时整个对象序列化为正文。
	TextField string
	// TitleField 标题字段，默认 "title"
	TitleField string
	// IDField 作为 Document.ID 的字段，默认 "id"，缺失时使用 路径#序号
	IDField string
}

// JSONLoader 读取单个对象、对象数组（.json）或每行一个对象（.jsonl）。
// 其余标量字段写入 metadata。
type JSONLoader struct {
	config JSONLoaderConfig
}

// NewJSONLoader 创建 JSON 加载器
func NewJSONLoader(config JSONLoaderConfig) *JSONLoader {
	if config.TextField == "" {
		config.TextField = "text"
	}
	if config.TitleField == "" {
		config.TitleField = "title"
	}
	if config.IDField == "" {
		config.IDField = "id"
	}
	return &JSONLoader{config: config}
}

// Load 读取 JSON 或 JSONL 文件
func (l *JSONLoader) Load(ctx context.Context, source string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("json loader: %w", err)
	}

	var items []map[string]any
	if strings.EqualFold(filepath.Ext(source), ".jsonl") {
		items, err = parseJSONL(data)
	} else {
		items, err = parseJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("json loader: parsing %s: %w", source, err)
	}

	docs := make([]Document, 0, len(items))
	for i, obj := range items {
		docs = append(docs, l.toDocument(source, i, obj))
	}
	return docs, nil
}

func parseJSON(data []byte) ([]map[string]any, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == '[' {
		var items []map[string]any
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return []map[string]any{obj}, nil
}

func parseJSONL(data []byte) ([]map[string]any, error) {
	var items []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal(text, &obj); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		items = append(items, obj)
	}
	return items, scanner.Err()
}

func (l *JSONLoader) toDocument(source string, index int, obj map[string]any) Document {
	meta := baseMetadata(source, "application/json", "json")
	meta["index"] = index

	doc := Document{
		ID:           fmt.Sprintf("%s#%d", source, index),
		Source:       source,
		Title:        fileTitle(source),
		DocumentType: "json",
		Metadata:     meta,
	}
	for key, val := range obj {
		switch key {
		case l.config.TextField:
			doc.Text = fmt.Sprint(val)
		case l.config.TitleField:
			doc.Title = fmt.Sprint(val)
		case l.config.IDField:
			doc.ID = fmt.Sprint(val)
		default:
			switch val.(type) {
			case string, float64, bool:
				meta[key] = val
			}
		}
	}
	if _, ok := obj[l.config.TextField]; !ok {
		if raw, err := json.Marshal(obj); err == nil {
			doc.Text = string(raw)
		}
	}
	return doc
}

// SupportedTypes .json / .jsonl
func (l *JSONLoader) SupportedTypes() []string {
	return []string{".json", ".jsonl"}
}
