package mocks

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
)

// CountingEmbedder 是 rag.Embedder 的模拟实现，记录底层调用次数。
//
// 未通过 WithVector 固定的文本按词袋哈希生成确定性向量并做 L2 归一化，
// 共享词越多余弦相似度越高。
type CountingEmbedder struct {
	mu sync.Mutex

	name    string
	dims    int
	vectors map[string][]float64
	err     error

	queryCalls    int
	documentCalls int
	embeddedTexts int
}

// NewCountingEmbedder 创建指定名称与维度的 CountingEmbedder
func NewCountingEmbedder(name string, dims int) *CountingEmbedder {
	if dims <= 0 {
		dims = 16
	}
	return &CountingEmbedder{name: name, dims: dims, vectors: make(map[string][]float64)}
}

// WithVector 为指定文本固定向量
func (e *CountingEmbedder) WithVector(text string, vec []float64) *CountingEmbedder {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vectors[text] = vec
	return e
}

// WithError 设置返回错误
func (e *CountingEmbedder) WithError(err error) *CountingEmbedder {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
	return e
}

func (e *CountingEmbedder) Name() string    { return e.name }
func (e *CountingEmbedder) Dimensions() int { return e.dims }

// EmbedQuery 嵌入单个查询
func (e *CountingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queryCalls++
	if e.err != nil {
		return nil, e.err
	}
	e.embeddedTexts++
	return e.vector(text), nil
}

// EmbedDocuments 批量嵌入
func (e *CountingEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.documentCalls++
	if e.err != nil {
		return nil, e.err
	}
	e.embeddedTexts += len(texts)
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

// Calls 返回底层调用总次数
func (e *CountingEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queryCalls + e.documentCalls
}

// QueryCalls 返回 EmbedQuery 调用次数
func (e *CountingEmbedder) QueryCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queryCalls
}

// DocumentCalls 返回 EmbedDocuments 调用次数
func (e *CountingEmbedder) DocumentCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.documentCalls
}

// EmbeddedTexts 返回累计嵌入的文本数
func (e *CountingEmbedder) EmbeddedTexts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.embeddedTexts
}

func (e *CountingEmbedder) vector(text string) []float64 {
	if v, ok := e.vectors[text]; ok {
		return append([]float64(nil), v...)
	}
	vec := make([]float64, e.dims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[int(h.Sum32())%e.dims]++
	}
	var norm float64
	for _, x := range vec {
		norm += x * x
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
