package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// vision 对每张图片做向量检索，合并结果后按分数排序去重
func (n *nodes) vision(ctx context.Context, st State) (Update, Event, error) {
	up := Update{RanVision: true, ImageHits: []Hit{}}

	if len(st.Images) == 0 {
		return up, newEvent("vision_pipeline", EventInfo, map[string]any{
			"image_count":   0,
			"results_count": 0,
		}), nil
	}
	if n.deps.ImageEmbedder == nil || n.deps.ImageIndex == nil {
		return up, errorEvent("vision_pipeline", fmt.Errorf("image retrieval: %w", errNotConfigured), map[string]any{
			"image_count":   len(st.Images),
			"results_count": 0,
		}), nil
	}

	topK := n.cfg.ImageTopK
	var (
		all  []Hit
		errs []error
	)
	for _, ref := range st.Images {
		hits, err := n.queryImage(ctx, ref, topK)
		if err != nil {
			n.log(ctx, NodeVision, st).Warn("image retrieval failed", "image", ref, "error", err)
			errs = append(errs, err)
			continue
		}
		all = append(all, hits...)
	}

	limit := max(topK, len(st.Images)*topK)
	if limit > n.cfg.MaxMergedHits {
		limit = n.cfg.MaxMergedHits
	}
	up.ImageHits = MergeHits(all, limit)

	details := map[string]any{
		"image_count":   len(st.Images),
		"results_count": len(up.ImageHits),
		"failed_images": len(errs),
	}
	if len(errs) == len(st.Images) {
		return up, errorEvent("vision_pipeline", errors.Join(errs...), details), nil
	}
	return up, newEvent("vision_pipeline", EventSuccess, details), nil
}

func (n *nodes) queryImage(ctx context.Context, ref string, topK int) ([]Hit, error) {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.RetrievalTimeout)
	defer cancel()

	vec, err := n.deps.ImageEmbedder.EmbedImage(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("embed image: %w", err)
	}
	if len(vec) == 0 {
		return nil, nil
	}
	hits, err := n.deps.ImageIndex.Query(ctx, vec, topK, nil)
	if err != nil {
		return nil, fmt.Errorf("query image index: %w", err)
	}
	return hits, nil
}

// textRetrieval 检索产品文档
func (n *nodes) textRetrieval(ctx context.Context, st State) (Update, Event, error) {
	up := Update{RanTextRetrieval: true, TextHits: []Hit{}}
	query := st.QueryText()

	if query == "" {
		return up, newEvent("text_rag_pipeline", EventInfo, map[string]any{"results_count": 0, "reason": "no_text"}), nil
	}

	hits, err := n.searchText(ctx, n.deps.DocIndex, query, n.cfg.TextTopK, nil)
	if err != nil {
		n.log(ctx, NodeTextRetrieval, st).Warn("text retrieval failed", "error", err)
		return up, errorEvent("text_rag_pipeline", err, map[string]any{"results_count": 0}), nil
	}

	up.TextHits = MergeHits(hits, n.cfg.TextTopK)
	return up, newEvent("text_rag_pipeline", EventSuccess, map[string]any{
		"query_len":     len(query),
		"results_count": len(up.TextHits),
		"top_score":     topScore(up.TextHits),
	}), nil
}

// pastTickets 检索相似的历史工单，排除当前工单本身
func (n *nodes) pastTickets(ctx context.Context, st State) (Update, Event, error) {
	up := Update{RanPastTickets: true, PastTicketHits: []Hit{}}
	query := st.QueryText()

	if query == "" {
		return up, newEvent("past_tickets", EventInfo, map[string]any{"results_count": 0, "reason": "no_text"}), nil
	}

	filter := map[string]any{"ticket_id": map[string]any{"$ne": st.TicketID}}
	hits, err := n.searchText(ctx, n.deps.TicketIndex, query, n.cfg.PastTopK, filter)
	if err != nil {
		n.log(ctx, NodePastTickets, st).Warn("past ticket retrieval failed", "error", err)
		return up, errorEvent("past_tickets", err, map[string]any{"results_count": 0}), nil
	}

	kept := hits[:0:0]
	for _, h := range hits {
		if h.MetaString("ticket_id", "") == st.TicketID {
			continue
		}
		kept = append(kept, h)
	}
	up.PastTicketHits = MergeHits(kept, n.cfg.PastTopK)
	return up, newEvent("past_tickets", EventSuccess, map[string]any{
		"results_count": len(up.PastTicketHits),
		"top_score":     topScore(up.PastTicketHits),
	}), nil
}

func (n *nodes) searchText(ctx context.Context, index VectorIndex, query string, topK int, filter map[string]any) ([]Hit, error) {
	if n.deps.TextEmbedder == nil || index == nil {
		return nil, fmt.Errorf("text retrieval: %w", errNotConfigured)
	}

	ctx, cancel := context.WithTimeout(ctx, n.cfg.RetrievalTimeout)
	defer cancel()

	vectors, err := n.deps.TextEmbedder.EmbedStrings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed text: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, errors.New("embed text: empty vector")
	}

	hits, err := index.Query(ctx, vectors[0], topK, filter)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	return hits, nil
}

// MergeHits 按分数降序排列，同一 ID 只保留分数最高的一条，最多保留 limit 条
func MergeHits(hits []Hit, limit int) []Hit {
	best := make(map[string]Hit, len(hits))
	order := make([]string, 0, len(hits))
	for _, h := range hits {
		prev, ok := best[h.ID]
		if !ok {
			order = append(order, h.ID)
			best[h.ID] = h
			continue
		}
		if h.Score > prev.Score {
			best[h.ID] = h
		}
	}

	out := make([]Hit, 0, len(order))
	for _, id := range order {
		out = append(out, best[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func topScore(hits []Hit) float64 {
	if len(hits) == 0 {
		return 0
	}
	return hits[0].Score
}
