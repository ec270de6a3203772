package loader

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BaSui01/campusrag/rag"
)

// Document 加载结果，一个文件可产生多个 Document（CSV 行、JSON 元素）
type Document struct {
	ID           string         `json:"id"`     // 路径或 路径#序号
	Source       string         `json:"source"` // 源文件路径
	Title        string         `json:"title,omitempty"`
	Text         string         `json:"text"`
	DocumentType string         `json:"document_type"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// IndexRequest 转换为知识库索引请求，source_id 为源文件路径，便于按文件重建索引
func (d Document) IndexRequest() rag.IndexRequest {
	return rag.IndexRequest{
		Text:         d.Text,
		Title:        d.Title,
		Source:       "file",
		SourceID:     d.Source,
		DocumentType: d.DocumentType,
		Metadata:     d.Metadata,
	}
}

// IndexRequests 批量转换，跳过空文本
func IndexRequests(docs []Document) []rag.IndexRequest {
	out := make([]rag.IndexRequest, 0, len(docs))
	for _, d := range docs {
		if strings.TrimSpace(d.Text) == "" {
			continue
		}
		out = append(out, d.IndexRequest())
	}
	return out
}

// DocumentLoader 按格式读取文件
type DocumentLoader interface {
	Load(ctx context.Context, source string) ([]Document, error)

	// SupportedTypes 小写带点的扩展名，如 ".txt"
	SupportedTypes() []string
}

// =============================================================================
// 🗂️ Registry
// =============================================================================

// Registry 按扩展名分派到对应的 DocumentLoader
type Registry struct {
	mu      sync.RWMutex
	loaders map[string]DocumentLoader
}

// NewRegistry 创建注册表并注册内置加载器
func NewRegistry() *Registry {
	r := &Registry{loaders: make(map[string]DocumentLoader)}
	for _, l := range []DocumentLoader{
		NewTextLoader(),
		NewMarkdownLoader(),
		NewCSVLoader(CSVLoaderConfig{}),
		NewJSONLoader(JSONLoaderConfig{}),
		NewHTMLLoader(),
		NewPDFLoader(),
	} {
		for _, ext := range l.SupportedTypes() {
			r.loaders[ext] = l
		}
	}
	return r
}

// Register 添加或替换某个扩展名的加载器
func (r *Registry) Register(ext string, l DocumentLoader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[strings.ToLower(ext)] = l
}

// Supports 扩展名是否有对应加载器
func (r *Registry) Supports(path string) bool {
	_, ok := r.lookup(path)
	return ok
}

// Load 根据扩展名加载单个文件
func (r *Registry) Load(ctx context.Context, source string) ([]Document, error) {
	ext := strings.ToLower(filepath.Ext(source))
	if ext == "" {
		return nil, fmt.Errorf("loader: cannot determine file type for %q (no extension)", source)
	}
	l, ok := r.lookup(source)
	if !ok {
		return nil, fmt.Errorf("loader: no loader registered for extension %q", ext)
	}
	return l.Load(ctx, source)
}

// LoadDir 递归加载目录下所有受支持的文件，按路径字典序，不支持的文件跳过
func (r *Registry) LoadDir(ctx context.Context, root string) ([]Document, error) {
	var docs []Document
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !r.Supports(path) {
			return nil
		}
		loaded, err := r.Load(ctx, path)
		if err != nil {
			return err
		}
		docs = append(docs, loaded...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// SupportedTypes 已注册的扩展名，排序后返回
func (r *Registry) SupportedTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.loaders))
	for ext := range r.loaders {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

func (r *Registry) lookup(path string) (DocumentLoader, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.loaders[strings.ToLower(filepath.Ext(path))]
	return l, ok
}

// baseMetadata 所有加载器共有的 metadata
func baseMetadata(source, contentType, loader string) map[string]any {
	return map[string]any{
		"source_file":  filepath.Base(source),
		"source_path":  source,
		"content_type": contentType,
		"loader":       loader,
	}
}

// fileTitle 去掉扩展名的文件名
func fileTitle(source string) string {
	base := filepath.Base(source)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
