package loader

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"slices"
	"strings"
)

// CSVLoaderConfig CSV 加载配置
type CSVLoaderConfig struct {
	// Delimiter 字段分隔符，默认 ','
	Delimiter rune
	// ContentColumns 组成正文的列名（按表头，不区分大小写）。为空时全部列以 "列名: 值" 组成正文。
	ContentColumns []string
	// TitleColumn 作为标题的列名
	TitleColumn string
}

// CSVLoader 首行为表头，每个数据行一个 Document。
// 指定 ContentColumns 时，其余列写入 metadata（如 course_code），可直接用于检索过滤。
type CSVLoader struct {
	config CSVLoaderConfig
}

// NewCSVLoader 创建 CSV 加载器
func NewCSVLoader(config CSVLoaderConfig) *CSVLoader {
	if config.Delimiter == 0 {
		config.Delimiter = ','
	}
	return &CSVLoader{config: config}
}

// Load 读取 CSV 文件，只有表头时返回空切片
func (l *CSVLoader) Load(ctx context.Context, source string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("csv loader: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = l.config.Delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csv loader: parsing %s: %w", source, err)
	}
	if len(records) < 2 {
		return []Document{}, nil
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(h)
	}
	content := l.contentColumns(header)
	titleIdx := indexFold(header, l.config.TitleColumn)

	docs := make([]Document, 0, len(records)-1)
	for row, record := range records[1:] {
		meta := baseMetadata(source, "text/csv", "csv")
		meta["row"] = row

		var parts []string
		for i, value := range record {
			if i >= len(header) {
				break
			}
			value = strings.TrimSpace(value)
			switch {
			case !slices.Contains(content, i):
				if value != "" {
					meta[strings.ToLower(header[i])] = value
				}
			case len(l.config.ContentColumns) == 0:
				parts = append(parts, header[i]+": "+value)
			default:
				parts = append(parts, value)
			}
		}

		doc := Document{
			ID:           fmt.Sprintf("%s#row%d", source, row),
			Source:       source,
			Title:        fileTitle(source),
			Text:         strings.Join(parts, "\n"),
			DocumentType: "csv",
			Metadata:     meta,
		}
		if titleIdx >= 0 && titleIdx < len(record) {
			doc.Title = strings.TrimSpace(record[titleIdx])
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// contentColumns 正文列下标；未配置或无一匹配时使用全部列
func (l *CSVLoader) contentColumns(header []string) []int {
	var indices []int
	for _, col := range l.config.ContentColumns {
		if i := indexFold(header, col); i >= 0 {
			indices = append(indices, i)
		}
	}
	if len(indices) > 0 {
		slices.Sort(indices)
		return indices
	}
	indices = make([]int, len(header))
	for i := range header {
		indices[i] = i
	}
	return indices
}

func indexFold(header []string, name string) int {
	if name == "" {
		return -1
	}
	return slices.IndexFunc(header, func(h string) bool { return strings.EqualFold(h, name) })
}

// SupportedTypes .csv
func (l *CSVLoader) SupportedTypes() []string {
	return []string{".csv"}
}
