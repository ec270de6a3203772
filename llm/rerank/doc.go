// Copyright (c) CampusRAG Authors.
// Licensed under the MIT License.

/*
包 rerank 提供统一的文档重排序接入层.

Provider 屏蔽 Cohere、Jina、Voyage 在请求字段与响应结构上的差异，
Scores 把结果还原为与输入顺序一致的得分切片，供检索阶段的成对重排使用。

	p := rerank.NewCohereProvider(rerank.Config{APIKey: key})
	scores, err := rerank.Scores(ctx, p, "COMP0066 deadline", texts)
*/
package rerank
