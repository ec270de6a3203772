package rag

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"

	"github.com/BaSui01/campusrag/types"
)

var citationPattern = regexp.MustCompile(`\[Source (\d+)\]`)

// CitationReport 答案中 [Source N] 引用的检查结果
type CitationReport struct {
	Cited   []int `json:"cited"`   // 出现过的编号，升序去重
	Invalid []int `json:"invalid"` // 超出 1..n 的编号
	Valid   bool  `json:"valid"`
}

// ValidateCitations 提取 answer 中的引用并检查是否都落在 1..numSources 内
func ValidateCitations(answer string, numSources int) CitationReport {
	report := CitationReport{Cited: []int{}, Invalid: []int{}, Valid: true}
	for _, m := range citationPattern.FindAllStringSubmatch(answer, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			// 超长数字同样视为无效
			n = -1
		}
		if !slices.Contains(report.Cited, n) {
			report.Cited = append(report.Cited, n)
		}
		if (n < 1 || n > numSources) && !slices.Contains(report.Invalid, n) {
			report.Invalid = append(report.Invalid, n)
		}
	}
	slices.Sort(report.Cited)
	slices.Sort(report.Invalid)
	report.Valid = len(report.Invalid) == 0
	return report
}

// Err 存在无效引用时返回 ErrInvalidCitation，仅作信号使用
func (r CitationReport) Err() error {
	if r.Valid {
		return nil
	}
	return types.NewError(types.ErrInvalidCitation, fmt.Sprintf("citations out of range: %v", r.Invalid))
}
