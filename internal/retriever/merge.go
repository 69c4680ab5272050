package retriever

// mergeBranches implements Stage B: union by unit_id. A unit present in
// both branches gets a +30% cross-branch boost from its keyword score; a
// unit present in only one branch keeps that branch's score, tagged with
// its source (spec.md §4.6 Stage B).
func mergeBranches(semantic, keyword []Result) []Result {
	bySemantic := make(map[string]Result, len(semantic))
	for _, r := range semantic {
		bySemantic[r.Unit.UnitID] = r
	}
	byKeyword := make(map[string]Result, len(keyword))
	for _, r := range keyword {
		byKeyword[r.Unit.UnitID] = r
	}

	merged := make([]Result, 0, len(semantic)+len(keyword))
	seen := make(map[string]struct{}, len(semantic)+len(keyword))

	for id, s := range bySemantic {
		if k, ok := byKeyword[id]; ok {
			merged = append(merged, Result{
				Unit:   s.Unit,
				Score:  s.Score + crossBranchBoost*k.Score,
				Source: SourceHybrid,
			})
		} else {
			merged = append(merged, s)
		}
		seen[id] = struct{}{}
	}
	for id, k := range byKeyword {
		if _, ok := seen[id]; ok {
			continue
		}
		merged = append(merged, k)
	}

	return merged
}
