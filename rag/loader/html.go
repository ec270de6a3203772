package loader

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// HTMLLoader 抽取网页正文：跳过 script / style / noscript，<title> 作为标题，块级元素换行
type HTMLLoader struct{}

// NewHTMLLoader 创建 HTML 加载器
func NewHTMLLoader() *HTMLLoader {
	return &HTMLLoader{}
}

// Load 读取并解析 HTML 文件
func (l *HTMLLoader) Load(ctx context.Context, source string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("html loader: %w", err)
	}
	defer f.Close()

	root, err := html.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("html loader: parsing %s: %w", source, err)
	}

	title, text := ExtractHTMLText(root)
	if title == "" {
		title = fileTitle(source)
	}
	if text == "" {
		return []Document{}, nil
	}
	return []Document{{
		ID:           source,
		Source:       source,
		Title:        title,
		Text:         text,
		DocumentType: "html",
		Metadata:     baseMetadata(source, "text/html", "html"),
	}}, nil
}

// ExtractHTMLText 返回 <title> 与正文。正文按块级元素分行，行内空白折叠，空行去除。
func ExtractHTMLText(root *html.Node) (title, text string) {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			case atom.Title:
				if title == "" && n.FirstChild != nil {
					title = strings.Join(strings.Fields(n.FirstChild.Data), " ")
				}
				return
			}
		case html.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && isBlock(n.DataAtom) {
			b.WriteByte('\n')
		}
	}
	walk(root)

	var lines []string
	for _, line := range strings.Split(b.String(), "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return title, strings.Join(lines, "\n")
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Br, atom.Li, atom.Tr, atom.Section, atom.Article,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Table, atom.Ul, atom.Ol, atom.Header, atom.Footer, atom.Blockquote, atom.Pre:
		return true
	}
	return false
}

// SupportedTypes .html / .htm
func (l *HTMLLoader) SupportedTypes() []string {
	return []string{".html", ".htm"}
}
