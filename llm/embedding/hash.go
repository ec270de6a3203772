package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"time"
	"unicode"
)

// HashProvider 是本地确定性嵌入：对词和字符 n-gram 做特征哈希，结果 L2 归一化.
// 不依赖网络，用于离线开发与测试. 共享词汇越多的文本余弦相似度越高.
type HashProvider struct {
	dims  int
	ngram int
}

// NewHashProvider 创建本地哈希嵌入提供者.
func NewHashProvider(cfg HashConfig) *HashProvider {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 1024
	}
	if cfg.NGram <= 0 {
		cfg.NGram = 3
	}
	return &HashProvider{dims: cfg.Dimensions, ngram: cfg.NGram}
}

func (p *HashProvider) Name() string      { return "hash" }
func (p *HashProvider) Dimensions() int   { return p.dims }
func (p *HashProvider) MaxBatchSize() int { return 4096 }

// Embed 生成嵌入.
func (p *HashProvider) Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	embeddings := make([]EmbeddingData, len(req.Input))
	tokens := 0
	for i, text := range req.Input {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, n := p.vector(text)
		embeddings[i] = EmbeddingData{Index: i, Embedding: vec}
		tokens += n
	}
	return &EmbeddingResponse{
		Provider:   p.Name(),
		Model:      "hash",
		Embeddings: embeddings,
		Usage:      EmbeddingUsage{PromptTokens: tokens, TotalTokens: tokens},
		CreatedAt:  time.Now(),
	}, nil
}

func (p *HashProvider) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	resp, err := p.Embed(ctx, &EmbeddingRequest{Input: []string{query}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0].Embedding, nil
}

func (p *HashProvider) EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error) {
	resp, err := p.Embed(ctx, &EmbeddingRequest{Input: documents})
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		out[i] = e.Embedding
	}
	return out, nil
}

func (p *HashProvider) vector(text string) ([]float64, int) {
	vec := make([]float64, p.dims)
	words := hashTokens(text)
	for _, w := range words {
		p.add(vec, "w:"+w, 1.0)
		runes := []rune(w)
		if len(runes) <= p.ngram {
			continue
		}
		for i := 0; i+p.ngram <= len(runes); i++ {
			p.add(vec, "c:"+string(runes[i:i+p.ngram]), 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, len(words)
}

// add 用哈希的最高位作为符号，降低桶冲突带来的偏差.
func (p *HashProvider) add(vec []float64, feature string, weight float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(p.dims))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

// hashTokens 小写后按非字母数字切分，汉字逐字成词.
func hashTokens(text string) []string {
	var tokens []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}
