package rag

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// intentPattern 意图与对应的双语触发词
type intentPattern struct {
	intent   QueryIntent
	patterns []string
}

// intentPatterns 按枚举顺序匹配，首个命中即返回
var intentPatterns = []intentPattern{
	{IntentFactual, []string{"what is", "what are", "什么是", "define", "explain", "介绍"}},
	{IntentProcedural, []string{"how to", "how do", "怎么", "如何", "步骤", "方法"}},
	{IntentNavigational, []string{"where is", "where are", "哪里", "在哪", "地点", "位置"}},
	{IntentTemporal, []string{"when is", "when are", "什么时候", "何时", "时间", "deadline", "due", "截止"}},
	{IntentComparison, []string{"compare", "difference between", "比较", "区别", "vs"}},
	{IntentRecommendation, []string{"recommend", "suggest", "推荐", "建议", "应该"}},
}

// temporalKeyword 时间关键词表项
type temporalKeyword struct {
	keyword     string
	granularity TemporalGranularity
	offset      int
}

// temporalKeywords 按表顺序匹配
var temporalKeywords = []temporalKeyword{
	{"today", GranularityDay, 0},
	{"今天", GranularityDay, 0},
	{"tomorrow", GranularityDay, 1},
	{"明天", GranularityDay, 1},
	{"yesterday", GranularityDay, -1},
	{"昨天", GranularityDay, -1},
	{"this week", GranularityWeek, 0},
	{"本周", GranularityWeek, 0},
	{"next week", GranularityWeek, 1},
	{"下周", GranularityWeek, 1},
	{"last week", GranularityWeek, -1},
	{"上周", GranularityWeek, -1},
	{"this month", GranularityMonth, 0},
	{"本月", GranularityMonth, 0},
	{"next month", GranularityMonth, 1},
	{"下月", GranularityMonth, 1},
}

// DefaultCampusLocations 默认识别的校园建筑
var DefaultCampusLocations = []string{
	"UCL", "Roberts Building", "Cruciform", "IOE", "SSEES",
	"Archaeology", "Bloomsbury", "Main Library", "Science Library",
}

var activityTypes = []string{"lecture", "讲座", "workshop", "研讨会", "seminar", "活动", "event"}

// synonyms 同义词替换顺序固定，保证扩展结果确定
var synonyms = []struct {
	word         string
	replacements []string
}{
	{"course", []string{"class", "module", "subject"}},
	{"lecture", []string{"class", "lesson", "session"}},
	{"assignment", []string{"homework", "coursework", "task"}},
}

var stopWords = map[string]struct{}{
	"the": {}, "is": {}, "at": {}, "which": {}, "on": {}, "a": {}, "an": {},
	"and": {}, "are": {}, "for": {}, "was": {}, "what": {}, "how": {}, "does": {},
	"的": {}, "了": {}, "在": {}, "是": {}, "和": {}, "与": {}, "或": {},
}

var (
	specialChars  = regexp.MustCompile(`[^\p{L}\p{N}\s\p{Han}]`)
	whitespace    = regexp.MustCompile(`\s+`)
	coursePattern = regexp.MustCompile(`\b[A-Z]{4}\d{4}\b`)
	peoplePattern = regexp.MustCompile(`\b(?:Dr|Prof)\.?\s+[A-Z][a-zA-Z'-]+(?:\s+[A-Z][a-zA-Z'-]+)?`)
	datePatterns  = []*regexp.Regexp{
		regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
		regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{4}\b`),
		regexp.MustCompile(`\b\d{1,2}-\d{1,2}-\d{4}\b`),
	}
)

// QueryProcessorOption 查询处理器选项
type QueryProcessorOption func(*QueryProcessor)

// WithClock 注入时钟，用于解析 today / tomorrow 等相对日期
func WithClock(now func() time.Time) QueryProcessorOption {
	return func(p *QueryProcessor) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLocations 替换建筑名称表
func WithLocations(locations []string) QueryProcessorOption {
	return func(p *QueryProcessor) {
		p.locations = locations
	}
}

// QueryProcessor 意图识别、实体抽取、时间解析、查询扩展。
// 纯函数式处理，除时钟外无外部依赖，可并发使用。
type QueryProcessor struct {
	now       func() time.Time
	locations []string
	logger    *zap.Logger
}

// NewQueryProcessor 创建查询处理器
func NewQueryProcessor(logger *zap.Logger, opts ...QueryProcessorOption) *QueryProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &QueryProcessor{
		now:       time.Now,
		locations: DefaultCampusLocations,
		logger:    logger.With(zap.String("component", "query_processor")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process 分析查询。ctx 仅用于取消检查。
func (p *QueryProcessor) Process(ctx context.Context, query string) (*ProcessedQuery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cleaned := CleanQuery(query)
	temporal := p.temporalContext(cleaned)
	intent := detectIntent(cleaned)
	if intent == IntentGeneral && temporal != nil {
		intent = IntentTemporal
	}
	entities := p.extractEntities(query, cleaned)

	pq := &ProcessedQuery{
		OriginalQuery:   query,
		CleanedQuery:    cleaned,
		Intent:          intent,
		Entities:        entities,
		TemporalContext: temporal,
		ExpandedQueries: expandQuery(cleaned, intent),
		Keywords:        extractKeywords(cleaned),
		Filters:         buildFilters(entities, temporal),
	}

	p.logger.Debug("query processed",
		zap.String("intent", string(pq.Intent)),
		zap.Int("expansions", len(pq.ExpandedQueries)),
		zap.Int("keywords", len(pq.Keywords)),
		zap.Any("filters", pq.Filters))
	return pq, nil
}

// CleanQuery 小写，特殊字符替换为空格，合并空白
func CleanQuery(query string) string {
	q := strings.ToLower(query)
	q = specialChars.ReplaceAllString(q, " ")
	q = whitespace.ReplaceAllString(q, " ")
	return strings.TrimSpace(q)
}

func detectIntent(cleaned string) QueryIntent {
	for _, ip := range intentPatterns {
		for _, pattern := range ip.patterns {
			if strings.Contains(cleaned, pattern) {
				return ip.intent
			}
		}
	}
	return IntentGeneral
}

// extractEntities 日期与人名从原始查询抽取，避免清洗去掉分隔符与大小写
func (p *QueryProcessor) extractEntities(original, cleaned string) map[string][]string {
	entities := map[string][]string{
		EntityCourses:    {},
		EntityLocations:  {},
		EntityPeople:     {},
		EntityDates:      {},
		EntityActivities: {},
	}

	seen := make(map[string]struct{})
	for _, code := range coursePattern.FindAllString(strings.ToUpper(original), -1) {
		if _, dup := seen[code]; !dup {
			seen[code] = struct{}{}
			entities[EntityCourses] = append(entities[EntityCourses], code)
		}
	}

	for _, loc := range p.locations {
		if strings.Contains(cleaned, strings.ToLower(loc)) {
			entities[EntityLocations] = append(entities[EntityLocations], loc)
		}
	}

	entities[EntityPeople] = append(entities[EntityPeople], peoplePattern.FindAllString(original, -1)...)

	for _, re := range datePatterns {
		entities[EntityDates] = append(entities[EntityDates], re.FindAllString(original, -1)...)
	}

	for _, activity := range activityTypes {
		if strings.Contains(cleaned, activity) {
			entities[EntityActivities] = append(entities[EntityActivities], activity)
		}
	}
	return entities
}

// temporalContext 按表顺序匹配首个时间关键词，日粒度解析为绝对日期
func (p *QueryProcessor) temporalContext(cleaned string) *TemporalContext {
	for _, tk := range temporalKeywords {
		if !strings.Contains(cleaned, tk.keyword) {
			continue
		}
		tc := &TemporalContext{Granularity: tk.granularity, Keyword: tk.keyword, Offset: tk.offset}
		if tk.granularity == GranularityDay {
			tc.Date = p.now().AddDate(0, 0, tk.offset).Format(time.DateOnly)
		}
		return tc
	}
	return nil
}

// expandQuery 原查询在首位，其后为意图模板与同义词替换，去重后最多 5 条
func expandQuery(cleaned string, intent QueryIntent) []string {
	out := []string{cleaned}
	add := func(q string) {
		for _, existing := range out {
			if existing == q {
				return
			}
		}
		out = append(out, q)
	}

	switch intent {
	case IntentFactual:
		add("definition of " + cleaned)
		add(cleaned + " meaning")
	case IntentProcedural:
		add("steps to " + cleaned)
		add("guide to " + cleaned)
	case IntentNavigational:
		add("location of " + cleaned)
		add("where to find " + cleaned)
	}

	for _, s := range synonyms {
		if !strings.Contains(cleaned, s.word) {
			continue
		}
		for _, r := range s.replacements {
			add(strings.ReplaceAll(cleaned, s.word, r))
		}
	}

	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

// extractKeywords 不少于 3 个字符且不在停用词表中的词
func extractKeywords(cleaned string) []string {
	keywords := []string{}
	for _, word := range strings.Fields(cleaned) {
		if utf8.RuneCountInString(word) < 3 {
			continue
		}
		if _, stop := stopWords[word]; stop {
			continue
		}
		keywords = append(keywords, word)
	}
	return keywords
}

func buildFilters(entities map[string][]string, temporal *TemporalContext) Filters {
	filters := Filters{}
	if courses := entities[EntityCourses]; len(courses) > 0 {
		filters["course_code"] = courses[0]
	}
	if locations := entities[EntityLocations]; len(locations) > 0 {
		filters["location"] = locations[0]
	}
	if temporal != nil && temporal.Granularity == GranularityDay {
		filters["date"] = temporal.Date
	}
	return filters
}
