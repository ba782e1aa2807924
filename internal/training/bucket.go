package training

import (
	"sort"

	"github.com/ferrycast/ferrycast/internal/priors"
)

// BucketStats reports pre- and post-cap record counts for one route.
type BucketStats struct {
	TotalRecords   int
	SampledRecords int
}

// RouteBucket groups the feature records for one route, capped to the most
// recent samples.
type RouteBucket struct {
	RouteKey priors.RouteKey
	Records  []FeatureRecord
	Stats    BucketStats
}

// RouteBucketer groups feature records by route with a recency-biased cap.
type RouteBucketer struct {
	maxSamples int
}

// NewRouteBucketer creates a bucketer retaining at most maxSamplesPerRoute
// records per route.
func NewRouteBucketer(maxSamplesPerRoute int) *RouteBucketer {
	return &RouteBucketer{maxSamples: maxSamplesPerRoute}
}

// Bucket groups records by route. Within each route, records are sorted by
// scheduled departure descending and the oldest excess is dropped. Buckets
// come back sorted by route key so output order is deterministic.
func (b *RouteBucketer) Bucket(records []FeatureRecord) []RouteBucket {
	grouped := make(map[priors.RouteKey][]FeatureRecord)
	for _, r := range records {
		grouped[r.RouteKey] = append(grouped[r.RouteKey], r)
	}

	buckets := make([]RouteBucket, 0, len(grouped))
	for key, group := range grouped {
		sort.Slice(group, func(i, j int) bool {
			return group[i].ScheduledDepart.After(group[j].ScheduledDepart)
		})

		total := len(group)
		if b.maxSamples > 0 && len(group) > b.maxSamples {
			group = group[:b.maxSamples]
		}

		buckets = append(buckets, RouteBucket{
			RouteKey: key,
			Records:  group,
			Stats:    BucketStats{TotalRecords: total, SampledRecords: len(group)},
		})
	}

	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].RouteKey < buckets[j].RouteKey
	})
	return buckets
}
