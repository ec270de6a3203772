package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/BaSui01/campusrag/types"
)

// Distance 向量距离度量
type Distance string

const (
	DistanceCosine Distance = "cosine"
	DistanceDot    Distance = "dot"
	DistanceEuclid Distance = "euclid"
)

// ParseDistance 解析距离名称，空字符串为 cosine
func ParseDistance(s string) (Distance, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cosine":
		return DistanceCosine, nil
	case "dot":
		return DistanceDot, nil
	case "euclid", "euclidean":
		return DistanceEuclid, nil
	default:
		return "", types.NewConfigurationError(fmt.Sprintf("unsupported distance %q", s))
	}
}

// SearchOptions 向量检索参数
type SearchOptions struct {
	Limit          int     `json:"limit"`
	Filters        Filters `json:"filters,omitempty"`
	ScoreThreshold float64 `json:"score_threshold,omitempty"`
}

// HybridOptions 混合检索参数，两个权重都为 0 时使用 0.7 / 0.3
type HybridOptions struct {
	Limit        int     `json:"limit"`
	Filters      Filters `json:"filters,omitempty"`
	VectorWeight float64 `json:"vector_weight"`
	TextWeight   float64 `json:"text_weight"`
}

func (o HybridOptions) withDefaults() HybridOptions {
	if o.VectorWeight == 0 && o.TextWeight == 0 {
		o.VectorWeight = 0.7
		o.TextWeight = 0.3
	}
	if o.Limit <= 0 {
		o.Limit = 10
	}
	return o
}

// CollectionStats 集合统计
type CollectionStats struct {
	Count     int      `json:"count"`
	Dimension int      `json:"dimension"`
	Distance  Distance `json:"distance"`
}

// VectorIndex 向量索引。内存、Qdrant 与 pgvector 三种后端实现同一契约。
type VectorIndex interface {
	// CreateCollection 创建集合，已存在时视为成功
	CreateCollection(ctx context.Context, name string, vectorSize int, distance Distance) error

	// Upsert 写入或覆盖，ID 为空时生成 UUID，返回最终 ID（与输入对齐）
	Upsert(ctx context.Context, docs []IndexedDocument) ([]string, error)

	// Search 按向量相似度检索，分数降序
	Search(ctx context.Context, vector []float64, opts SearchOptions) ([]SearchHit, error)

	// HybridSearch 向量分数与关键词分数加权合并
	HybridSearch(ctx context.Context, vector []float64, queryText string, opts HybridOptions) ([]SearchHit, error)

	// Delete 按 ID 删除，不存在的 ID 忽略
	Delete(ctx context.Context, ids []string) error

	// Scroll 分页遍历，next 为空表示没有下一页
	Scroll(ctx context.Context, limit int, offset string, filters Filters) ([]IndexedDocument, string, error)

	// Stats 集合统计
	Stats(ctx context.Context) (CollectionStats, error)
}

// =============================================================================
// 📐 相似度
// =============================================================================

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func dotProduct(a, b []float64) float64 {
	n := min(len(a), len(b))
	var sum float64
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

func euclideanDistance(a, b []float64) float64 {
	n := min(len(a), len(b))
	var sum float64
	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// similarity 分数越大越相似；euclid 换算为 1/(1+d)
func similarity(d Distance, a, b []float64) float64 {
	switch d {
	case DistanceDot:
		return dotProduct(a, b)
	case DistanceEuclid:
		return 1 / (1 + euclideanDistance(a, b))
	default:
		return cosineSimilarity(a, b)
	}
}

// =============================================================================
// 🔀 混合打分
// =============================================================================

// queryKeywords 小写后按空白切分
func queryKeywords(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// maxLexicalTerms 关键词召回时最多使用的查询词数
const maxLexicalTerms = 8

// lexicalTerms 关键词召回用的查询词：按 tokenize 切分，去停用词与重复，保持原顺序
func lexicalTerms(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, tok := range tokenize(text) {
		if _, stop := stopWords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
		if len(out) == maxLexicalTerms {
			break
		}
	}
	return out
}

// keywordScore 命中关键词（出现在正文或标题中）占全部关键词的比例
func keywordScore(keywords []string, p Payload) float64 {
	if len(keywords) == 0 {
		return 0
	}
	text := strings.ToLower(p.Text)
	title := strings.ToLower(p.Title)
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) || strings.Contains(title, kw) {
			hits++
		}
	}
	return float64(hits) / float64(len(keywords))
}

// combineHybrid 合并向量候选与关键词候选。
// 同一 ID 的贡献相加；关键词得分为 0 的候选不参与。
// 结果按分数降序、ID 升序排列并截断到 limit。
func combineHybrid(vectorHits, lexical []SearchHit, queryText string, opts HybridOptions) []SearchHit {
	keywords := queryKeywords(queryText)
	merged := make(map[string]*SearchHit, len(vectorHits)+len(lexical))

	for _, h := range vectorHits {
		hit := h
		hit.Score = h.Score * opts.VectorWeight
		hit.Source = SourceVector
		merged[h.ID] = &hit
	}
	for _, h := range lexical {
		ts := keywordScore(keywords, h.Payload)
		if ts == 0 {
			continue
		}
		if existing, ok := merged[h.ID]; ok {
			existing.Score += ts * opts.TextWeight
			existing.Source = SourceHybrid
			continue
		}
		hit := h
		hit.Score = ts * opts.TextWeight
		hit.Source = SourceKeyword
		merged[h.ID] = &hit
	}

	out := make([]SearchHit, 0, len(merged))
	for _, h := range merged {
		out = append(out, *h)
	}
	sortHits(out)
	if len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

// sortHits 分数降序，同分按 ID 升序
func sortHits(hits []SearchHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
}

// =============================================================================
// 🔎 过滤
// =============================================================================

// filterField 将过滤键解析为负载字段名或 metadata 键
func filterField(key string) (field string, inMetadata bool) {
	if rest, ok := strings.CutPrefix(key, "metadata."); ok {
		return rest, true
	}
	switch key {
	case "document_type", "source", "source_id", "title":
		return key, false
	default:
		return key, true
	}
}

// matchesFilters 所有条件均相等时返回 true
func matchesFilters(p Payload, filters Filters) bool {
	for key, want := range filters {
		field, inMeta := filterField(key)
		var got any
		if inMeta {
			v, ok := p.Metadata[field]
			if !ok {
				return false
			}
			got = v
		} else {
			switch field {
			case "document_type":
				got = p.DocumentType
			case "source":
				got = p.Source
			case "source_id":
				got = p.SourceID
			case "title":
				got = p.Title
			}
		}
		if !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// valuesEqual 数值按 float64 比较（JSON 往返后 int 变为 float64），其余按字符串形式比较
func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// =============================================================================
// 🧾 负载转换
// =============================================================================

// payloadFields 负载的扁平 map 形式，供 Qdrant / pgvector 存储
func payloadFields(id string, p Payload) map[string]any {
	m := map[string]any{
		"doc_id":        id,
		"text":          p.Text,
		"title":         p.Title,
		"source":        p.Source,
		"source_id":     p.SourceID,
		"document_type": p.DocumentType,
		"chunk_index":   p.ChunkIndex,
		"total_chunks":  p.TotalChunks,
		"timestamp":     p.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if len(p.Metadata) > 0 {
		m["metadata"] = p.Metadata
	}
	return m
}

// payloadFromFields 从 map 还原负载，返回原始文档 ID
func payloadFromFields(m map[string]any) (string, Payload) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", Payload{}
	}
	var p Payload
	_ = json.Unmarshal(raw, &p)
	id, _ := m["doc_id"].(string)
	return id, p
}

// hitToDocument 命中转为检索结果
func hitToDocument(h SearchHit) RetrievedDocument {
	meta := make(map[string]any, len(h.Payload.Metadata)+6)
	for k, v := range h.Payload.Metadata {
		meta[k] = v
	}
	setIfNotEmpty(meta, "title", h.Payload.Title)
	setIfNotEmpty(meta, "source", h.Payload.Source)
	setIfNotEmpty(meta, "source_id", h.Payload.SourceID)
	setIfNotEmpty(meta, "document_type", h.Payload.DocumentType)
	meta["chunk_index"] = h.Payload.ChunkIndex
	meta["total_chunks"] = h.Payload.TotalChunks
	return RetrievedDocument{
		ID:       h.ID,
		Text:     h.Payload.Text,
		Score:    h.Score,
		Metadata: meta,
		Source:   h.Source,
	}
}

func setIfNotEmpty(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}
