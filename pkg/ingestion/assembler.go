package ingestion

import (
	"sort"

	"github.com/mlife-core/platform/pkg/common/models"
)

// Assemble concatenates parser outputs in the given order, drops records
// without a timestamp, sorts stably by time and removes exact duplicates on
// timestamp, source type, category, parameter and value. The first
// occurrence of a duplicate wins, so assembling an assembled series is a
// no-op.
func Assemble(parts ...[]models.CanonicalRecord) models.Series {
	n := 0
	for _, p := range parts {
		n += len(p)
	}

	out := make(models.Series, 0, n)
	for _, p := range parts {
		for _, r := range p {
			if r.Timestamp.IsZero() {
				continue
			}
			out = append(out, r)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})

	seen := make(map[models.Identity]struct{}, len(out))
	dedup := out[:0]
	for _, r := range out {
		key := r.Identity()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		dedup = append(dedup, r)
	}
	return dedup
}
