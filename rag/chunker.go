package rag

import (
	"maps"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// defaultSeparators 分隔符优先级：段落 > 换行 > 句子 > 子句 > 空白 > 字符窗口
var defaultSeparators = []string{
	"\n\n\n", "\n\n", "\n",
	". ", "。", "! ", "！", "? ", "？",
	"; ", "；", ", ", "，",
	" ",
	"",
}

var (
	markdownHeading  = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)
	sentenceBoundary = regexp.MustCompile(`[.!?。！？]+\s*`)
)

// ChunkerConfig 分块配置，单位为字符（rune），作为 token 的近似
type ChunkerConfig struct {
	ChunkSize    int `json:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap"`
}

// DefaultChunkerConfig 默认分块配置
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{ChunkSize: 512, ChunkOverlap: 50}
}

// Chunker 递归分隔符分块器
type Chunker struct {
	size       int
	overlap    int
	separators []string
	now        func() time.Time
	logger     *zap.Logger
}

// NewChunker 创建分块器。overlap 不小于 size 时退化为 size/10。
func NewChunker(cfg ChunkerConfig, logger *zap.Logger) *Chunker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 512
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 10
	}
	return &Chunker{
		size:       cfg.ChunkSize,
		overlap:    cfg.ChunkOverlap,
		separators: defaultSeparators,
		now:        time.Now,
		logger:     logger.With(zap.String("component", "chunker")),
	}
}

// span 源文本中的 rune 区间 [start, end)
type span struct {
	start, end int
}

func (s span) len() int { return s.end - s.start }

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Chunk 递归分块。空输入返回空切片。
func (c *Chunker) Chunk(text string, metadata map[string]any) []DocumentChunk {
	runes := []rune(text)
	spans := c.split(runes, span{0, len(runes)}, c.separators)
	chunks := c.build(runes, spans, metadata, nil)

	c.logger.Debug("recursive chunking completed",
		zap.Int("chunks", len(chunks)),
		zap.Int("chunk_size", c.size),
		zap.Int("overlap", c.overlap))
	return chunks
}

// ChunkMarkdown 按标题切分章节后再递归分块，标题写入每个块的 metadata
func (c *Chunker) ChunkMarkdown(text string, metadata map[string]any) []DocumentChunk {
	runes := []rune(text)
	type section struct {
		span
		heading string
		level   int
	}

	var sections []section
	matches := markdownHeading.FindAllStringSubmatchIndex(text, -1)
	prev := section{}
	for _, m := range matches {
		start := utf8.RuneCountInString(text[:m[0]])
		if start > prev.start || prev.heading != "" {
			prev.end = start
			sections = append(sections, prev)
		}
		prev = section{
			span:    span{start: start},
			heading: strings.TrimSpace(text[m[4]:m[5]]),
			level:   m[3] - m[2],
		}
	}
	prev.end = len(runes)
	sections = append(sections, prev)

	var (
		spans    []span
		headings []map[string]any
	)
	for _, s := range sections {
		if s.len() == 0 {
			continue
		}
		for _, sp := range c.split(runes, s.span, c.separators) {
			spans = append(spans, sp)
			extra := map[string]any{}
			if s.heading != "" {
				extra["heading"] = s.heading
				extra["heading_level"] = s.level
			}
			headings = append(headings, extra)
		}
	}

	chunks := c.build(runes, spans, metadata, headings)
	c.logger.Debug("markdown chunking completed",
		zap.Int("sections", len(sections)),
		zap.Int("chunks", len(chunks)))
	return chunks
}

// ChunkSentences 按句子打包，不在句中切分，单句超长时独占一块
func (c *Chunker) ChunkSentences(text string, metadata map[string]any) []DocumentChunk {
	runes := []rune(text)
	var sentences []span
	last := 0
	for _, m := range sentenceBoundary.FindAllStringIndex(text, -1) {
		end := utf8.RuneCountInString(text[:m[1]])
		sentences = append(sentences, span{last, end})
		last = end
	}
	if last < len(runes) {
		sentences = append(sentences, span{last, len(runes)})
	}

	var spans []span
	cur := span{}
	for i, s := range sentences {
		if i == 0 {
			cur = s
			continue
		}
		if cur.len()+s.len() <= c.size {
			cur.end = s.end
			continue
		}
		spans = append(spans, cur)
		cur = s
	}
	if cur.len() > 0 {
		spans = append(spans, cur)
	}

	return c.build(runes, spans, metadata, nil)
}

// ProcessDocument 按文档类型选择策略，并写入 document_type 与 processed_at
func (c *Chunker) ProcessDocument(text, documentType string, metadata map[string]any) []DocumentChunk {
	meta := maps.Clone(metadata)
	if meta == nil {
		meta = make(map[string]any, 2)
	}
	meta["document_type"] = documentType
	meta["processed_at"] = c.now().UTC().Format(time.RFC3339)

	switch strings.ToLower(documentType) {
	case "markdown", "md":
		return c.ChunkMarkdown(text, meta)
	default:
		return c.Chunk(text, meta)
	}
}

// =============================================================================
// 🔧 内部实现
// =============================================================================

// split 在 s 区间内递归切分，返回按位置排序且覆盖整个区间的块
func (c *Chunker) split(runes []rune, s span, separators []string) []span {
	if s.len() == 0 {
		return nil
	}
	if s.len() <= c.size {
		return []span{s}
	}

	level := len(separators) - 1
	for i, sep := range separators {
		if sep == "" || strings.Contains(string(runes[s.start:s.end]), sep) {
			level = i
			break
		}
	}
	sep := separators[level]
	if sep == "" {
		return c.windows(s)
	}

	var (
		out []span
		cur = span{s.start, s.start}
	)
	for _, p := range splitKeep(runes, s, []rune(sep)) {
		if p.len() > c.size {
			if cur.len() > 0 {
				out = append(out, cur)
			}
			out = append(out, c.split(runes, p, separators[level+1:])...)
			cur = span{p.end, p.end}
			continue
		}
		if cur.len()+p.len() <= c.size {
			cur.end = p.end
			continue
		}

		out = append(out, cur)
		// 以上一块的末尾 overlap 个字符作为下一块的开头
		cur = span{max(cur.end-c.overlap, cur.start), cur.end}
		if cur.len()+p.len() > c.size {
			cur = span{p.start, p.start}
		}
		cur.end = p.end
	}
	if cur.len() > 0 {
		out = append(out, cur)
	}
	return out
}

// windows 字符窗口切分，步长 size-overlap
func (c *Chunker) windows(s span) []span {
	step := c.size - c.overlap
	var out []span
	for start := s.start; ; start += step {
		end := min(start+c.size, s.end)
		out = append(out, span{start, end})
		if end == s.end {
			return out
		}
	}
}

// splitKeep 按分隔符切分，分隔符保留在前一段末尾
func splitKeep(runes []rune, s span, sep []rune) []span {
	var out []span
	start := s.start
	for i := s.start; i+len(sep) <= s.end; {
		if hasRunePrefix(runes[i:s.end], sep) {
			i += len(sep)
			out = append(out, span{start, i})
			start = i
			continue
		}
		i++
	}
	if start < s.end {
		out = append(out, span{start, s.end})
	}
	return out
}

func hasRunePrefix(r, prefix []rune) bool {
	if len(r) < len(prefix) {
		return false
	}
	for i := range prefix {
		if r[i] != prefix[i] {
			return false
		}
	}
	return true
}

// build 组装 DocumentChunk，丢弃纯空白块
func (c *Chunker) build(runes []rune, spans []span, metadata map[string]any, extra []map[string]any) []DocumentChunk {
	chunks := make([]DocumentChunk, 0, len(spans))
	for i, s := range spans {
		text := string(runes[s.start:s.end])
		if strings.TrimSpace(text) == "" {
			continue
		}
		meta := maps.Clone(metadata)
		if meta == nil {
			meta = make(map[string]any)
		}
		if extra != nil {
			maps.Copy(meta, extra[i])
		}
		chunks = append(chunks, DocumentChunk{
			Text:       text,
			Metadata:   meta,
			ChunkIndex: len(chunks),
			CharStart:  s.start,
			CharEnd:    s.end,
		})
	}
	for i := range chunks {
		chunks[i].TotalChunks = len(chunks)
	}
	return chunks
}
