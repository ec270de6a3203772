package tokenizer

import "unicode"

// 估算参数：CJK 约 1.5 字符/token，其余约 4 字符/token；
// 每条消息额外 4 个 token（角色与分隔符），整段对话额外 3 个 token。
const (
	cjkCharsPerToken   = 1.5
	otherCharsPerToken = 4.0
	perMessageOverhead = 4
	replyPriming       = 3
	defaultMaxTokens   = 4096
)

var cjkTables = []*unicode.RangeTable{unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul}

// EstimatorTokenizer 按字符数估算 token，BPE 不可用时兜底
type EstimatorTokenizer struct {
	model     string
	maxTokens int
}

func NewEstimatorTokenizer(model string, maxTokens int) *EstimatorTokenizer {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &EstimatorTokenizer{model: model, maxTokens: maxTokens}
}

func (e *EstimatorTokenizer) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	var cjk, other int
	for _, r := range text {
		if unicode.IsOneOf(cjkTables, r) {
			cjk++
		} else {
			other++
		}
	}
	n := int(float64(cjk)/cjkCharsPerToken + float64(other)/otherCharsPerToken)
	return max(n, 1), nil
}

func (e *EstimatorTokenizer) CountMessages(messages []Message) (int, error) {
	total := replyPriming
	for _, msg := range messages {
		n, err := e.CountTokens(msg.Content)
		if err != nil {
			return 0, err
		}
		total += n + perMessageOverhead
	}
	return total, nil
}

func (e *EstimatorTokenizer) MaxTokens() int { return e.maxTokens }

func (e *EstimatorTokenizer) Name() string { return "estimator" }
