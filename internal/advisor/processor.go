package advisor

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"strings"
	"time"

	"github.com/ashureev/sidekick/internal/domain"
)

// Processor defines the interface to the reasoning service.
// This interface is implemented by the gRPC client.
type Processor interface {
	// Advise streams advice chunks for a batch.
	Advise(ctx context.Context, req Request) iter.Seq2[*Advice, error]

	// Health reports whether the service can take requests.
	Health(ctx context.Context) error

	// Close releases resources.
	Close()
}

// Ensure implementations satisfy Processor.
var (
	_ Processor = (*GrpcClient)(nil)
	_ Processor = SummaryProcessor{}
)

// SummaryProcessor describes each batch without calling a model. It is used
// when no advisor address is configured.
type SummaryProcessor struct{}

// Advise yields one summary chunk per batch.
func (SummaryProcessor) Advise(_ context.Context, req Request) iter.Seq2[*Advice, error] {
	return func(yield func(*Advice, error) bool) {
		if len(req.Batch.Events) == 0 {
			return
		}
		counts := make(map[domain.TriggerType]int)
		for _, ev := range req.Batch.Events {
			counts[ev.Type]++
		}
		parts := make([]string, 0, len(counts))
		for typ, n := range counts {
			parts = append(parts, fmt.Sprintf("%s x%d", typ, n))
		}
		sort.Strings(parts)

		content := fmt.Sprintf("[%s] act %d, scene %q: %s",
			req.State.AssistantState, req.State.Act, req.State.Scene, strings.Join(parts, ", "))
		yield(&Advice{
			BatchID:   req.Batch.ID,
			Kind:      AdviceSummary,
			Content:   content,
			Priority:  req.Batch.HighestPriority(),
			CreatedAt: time.Now(),
		}, nil)
	}
}

// Health always succeeds.
func (SummaryProcessor) Health(context.Context) error { return nil }

// Close is a no-op.
func (SummaryProcessor) Close() {}
