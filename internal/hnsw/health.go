package hnsw

// HealthReport enumerates the index-consistency findings a health check
// can surface: ids missing expected map entries, and any size mismatches
// among the three parallel maps the index maintains.
type HealthReport struct {
	Healthy                bool
	VectorsWithoutMetadata []int64
	AdjacencyWithoutVector []int64
	NodeCount              int
	VectorCount            int
	MetadataCount          int
	SizeMismatch           bool
}

// HealthCheck inspects the index for the invariant violations spec'd for
// its recovery path: ids present in vectors without metadata, ids present
// in adjacency without a vector or metadata entry, and size mismatches
// among (nodeCount, |vectors|, |metadata|).
func (idx *Index) HealthCheck() HealthReport {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	report := HealthReport{Healthy: true}
	report.NodeCount, report.VectorCount, report.MetadataCount = idx.snapshotSizes()

	for id := range idx.vectors {
		if _, ok := idx.metadata[id]; !ok {
			report.VectorsWithoutMetadata = append(report.VectorsWithoutMetadata, id)
		}
	}

	seen := make(map[int64]struct{})
	for _, layer := range idx.layers {
		for id := range layer {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			_, hasVec := idx.vectors[id]
			_, hasMeta := idx.metadata[id]
			if !hasVec || !hasMeta {
				report.AdjacencyWithoutVector = append(report.AdjacencyWithoutVector, id)
			}
		}
	}

	if report.NodeCount != report.VectorCount || report.VectorCount != report.MetadataCount {
		report.SizeMismatch = true
	}

	if len(report.VectorsWithoutMetadata) > 0 || len(report.AdjacencyWithoutVector) > 0 || report.SizeMismatch {
		report.Healthy = false
	}
	return report
}
