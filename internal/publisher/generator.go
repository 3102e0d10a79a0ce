package publisher

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/BarkinBalci/log-aggregator/internal/domain"
)

// GeneratorConfig shapes the synthetic event stream
type GeneratorConfig struct {
	Topics []string
	Source string
	// DuplicateRatio is the share of events that re-send an earlier event, in [0, 1]
	DuplicateRatio float64
}

// Generator produces events for load tests. Duplicates are exact re-sends of
// earlier events, so the aggregator must drop them.
type Generator struct {
	config GeneratorConfig
	rng    *rand.Rand
	now    func() time.Time
	encode func(v any) ([]byte, error)
	sent   []domain.RawEvent
	seq    int
}

// NewGenerator validates the configuration. A nil rng uses a time-seeded source.
func NewGenerator(config GeneratorConfig, rng *rand.Rand) (*Generator, error) {
	if len(config.Topics) == 0 {
		return nil, fmt.Errorf("at least one topic is required")
	}
	if config.DuplicateRatio < 0 || config.DuplicateRatio > 1 {
		return nil, fmt.Errorf("duplicate ratio must be within [0, 1], got %v", config.DuplicateRatio)
	}
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1))
	}

	return &Generator{
		config: config,
		rng:    rng,
		now:    time.Now,
		encode: json.Marshal,
	}, nil
}

// Next returns the next event and whether it repeats an earlier one
func (g *Generator) Next() (domain.RawEvent, bool, error) {
	if len(g.sent) > 0 && g.rng.Float64() < g.config.DuplicateRatio {
		return g.sent[g.rng.IntN(len(g.sent))], true, nil
	}

	seq := g.seq + 1
	topic := g.config.Topics[g.rng.IntN(len(g.config.Topics))]
	payload, err := g.encode(map[string]any{
		"seq":     seq,
		"level":   levels[g.rng.IntN(len(levels))],
		"message": fmt.Sprintf("synthetic event %d", seq),
	})
	if err != nil {
		return domain.RawEvent{}, false, fmt.Errorf("failed to encode payload for event %d: %w", seq, err)
	}
	g.seq = seq

	event := domain.RawEvent{
		Topic:     topic,
		EventID:   uuid.NewString(),
		Timestamp: g.now().UTC().Format(time.RFC3339Nano),
		Source:    g.config.Source,
		Payload:   payload,
	}
	g.sent = append(g.sent, event)

	return event, false, nil
}

// Unique is the number of distinct events generated so far
func (g *Generator) Unique() int {
	return len(g.sent)
}

var levels = []string{"debug", "info", "warn", "error"}
