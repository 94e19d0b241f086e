// Package catalog defines the fixed topic taxonomy and the weighted
// distribution used to pick topics for generated posts.
package catalog

import "math/rand"

// Topic identifies a content topic. The set of topics is compiled in and
// not reloadable at runtime.
type Topic string

const (
	TopicCoding       Topic = "coding"
	TopicAI           Topic = "ai"
	TopicProductivity Topic = "productivity"
	TopicCareer       Topic = "career"
	TopicOpenSource   Topic = "opensource"
	TopicWellness     Topic = "wellness"
)

// weightedTopic pairs a topic with its selection weight. Order matters: the
// weighted picker walks this slice in declaration order, and the first entry
// is the fallback when a draw lands past the cumulative sum.
type weightedTopic struct {
	topic  Topic
	weight float64
}

// Weights are static configuration. They do not need to sum to exactly 1;
// the picker falls back to the first topic for draws in the uncovered tail.
var weightedTopics = []weightedTopic{
	{TopicCoding, 0.25},
	{TopicAI, 0.20},
	{TopicProductivity, 0.18},
	{TopicCareer, 0.14},
	{TopicOpenSource, 0.12},
	{TopicWellness, 0.08},
}

// Topics returns every topic in declaration order.
func Topics() []Topic {
	out := make([]Topic, 0, len(weightedTopics))
	for _, wt := range weightedTopics {
		out = append(out, wt.topic)
	}
	return out
}

// Valid reports whether t is a known topic.
func Valid(t Topic) bool {
	for _, wt := range weightedTopics {
		if wt.topic == t {
			return true
		}
	}
	return false
}

// Weight returns the configured weight for t, or 0 for unknown topics.
func Weight(t Topic) float64 {
	for _, wt := range weightedTopics {
		if wt.topic == t {
			return wt.weight
		}
	}
	return 0
}

// PickWeighted draws a topic according to the weight table. The draw is a
// uniform value in [0,1); the first topic whose cumulative weight reaches
// the draw wins. If the weights sum to less than 1 and the draw lands in
// the uncovered tail, the first topic is returned rather than an error.
func PickWeighted(rng *rand.Rand) Topic {
	return pick(rng.Float64())
}

// pick is the deterministic core of PickWeighted, split out for tests.
func pick(draw float64) Topic {
	var cum float64
	for _, wt := range weightedTopics {
		cum += wt.weight
		if cum >= draw {
			return wt.topic
		}
	}
	return weightedTopics[0].topic
}
