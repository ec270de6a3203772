// Package loader 将本地文件读取为可索引的 Document。
//
// 内置格式：.txt、.md、.csv、.json / .jsonl、.html / .htm、.pdf。
// Registry 按扩展名分派，LoadDir 递归加载整个目录：
//
//	registry := loader.NewRegistry()
//	docs, err := registry.LoadDir(ctx, "./handbook")
//	ids, err := kb.IndexBatch(ctx, loader.IndexRequests(docs))
package loader
