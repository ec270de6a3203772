package rag

import "sort"

// DefaultRRFK 倒数排名融合常数
const DefaultRRFK = 60

// ReciprocalRankFusion 融合多路排序结果：score(d) = Σ 1/(k + rank)，rank 从 1 开始。
// 同分按 id 升序；融合后的文档 Source 为 hybrid，文本与元数据取首次出现的版本。
func ReciprocalRankFusion(lists [][]RetrievedDocument, k, topK int) []RetrievedDocument {
	if k <= 0 {
		k = DefaultRRFK
	}

	scores := make(map[string]float64)
	docs := make(map[string]RetrievedDocument)
	for _, list := range lists {
		for rank, doc := range list {
			scores[doc.ID] += 1.0 / float64(k+rank+1)
			if _, ok := docs[doc.ID]; !ok {
				docs[doc.ID] = doc
			}
		}
	}

	fused := make([]RetrievedDocument, 0, len(scores))
	for id, score := range scores {
		doc := docs[id]
		doc.Score = score
		doc.Source = SourceHybrid
		fused = append(fused, doc)
	}
	sortDocuments(fused)

	if topK > 0 && len(fused) > topK {
		fused = fused[:topK]
	}
	return fused
}

// sortDocuments 分数降序，同分按 id 升序
func sortDocuments(docs []RetrievedDocument) {
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].Score != docs[j].Score {
			return docs[i].Score > docs[j].Score
		}
		return docs[i].ID < docs[j].ID
	})
}
