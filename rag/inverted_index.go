package rag

import (
	"sort"
	"strings"
	"unicode"
)

// InvertedIndex 词项到文档 ID 集合的倒排表。
// 非并发安全，由持有者加锁。
type InvertedIndex struct {
	postings map[string]map[string]struct{}
	docTerms map[string][]string
}

// NewInvertedIndex 创建空倒排表
func NewInvertedIndex() *InvertedIndex {
	return &InvertedIndex{
		postings: make(map[string]map[string]struct{}),
		docTerms: make(map[string][]string),
	}
}

// Add 索引文档文本，已存在的 ID 先移除
func (ix *InvertedIndex) Add(id, text string) {
	ix.Remove(id)
	terms := uniqueTerms(text)
	for _, term := range terms {
		set, ok := ix.postings[term]
		if !ok {
			set = make(map[string]struct{})
			ix.postings[term] = set
		}
		set[id] = struct{}{}
	}
	ix.docTerms[id] = terms
}

// Remove 移除文档
func (ix *InvertedIndex) Remove(id string) {
	for _, term := range ix.docTerms[id] {
		set := ix.postings[term]
		delete(set, id)
		if len(set) == 0 {
			delete(ix.postings, term)
		}
	}
	delete(ix.docTerms, id)
}

// Candidates 返回包含任一查询词项的文档 ID（升序）
func (ix *InvertedIndex) Candidates(query string) []string {
	seen := make(map[string]struct{})
	for _, term := range uniqueTerms(query) {
		for id := range ix.postings[term] {
			seen[id] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len 已索引文档数
func (ix *InvertedIndex) Len() int { return len(ix.docTerms) }

// Terms 词项数
func (ix *InvertedIndex) Terms() int { return len(ix.postings) }

// tokenize 小写切词：字母数字连续段为一个词，汉字单字成词
func tokenize(text string) []string {
	var (
		tokens []string
		cur    strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

func uniqueTerms(text string) []string {
	tokens := tokenize(text)
	seen := make(map[string]struct{}, len(tokens))
	out := tokens[:0]
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
