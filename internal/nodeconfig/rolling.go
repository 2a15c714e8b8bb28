package nodeconfig

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dan246/mtx-toolkit/internal/models"
)

// RollingOptions tunes a rolling update across an environment.
type RollingOptions struct {
	// Environment filters which nodes receive the document. Empty means
	// every active node.
	Environment string
	// BatchSize is how many nodes are updated concurrently per wave.
	BatchSize int
	// BatchDelay is the pause between waves.
	BatchDelay time.Duration
	// AppliedBy is recorded on each snapshot.
	AppliedBy string
}

// RollingResult summarizes a rolling update.
type RollingResult struct {
	Environment string            `json:"environment,omitempty"`
	Applied     []string          `json:"applied"`
	Failed      map[string]string `json:"failed,omitempty"`
	Aborted     bool              `json:"aborted"`
	Batches     int               `json:"batches"`
}

// RollingUpdate applies one document across an environment in batches. Any
// failure in a batch aborts before the next batch starts; nodes already
// updated stay updated.
func (m *Manager) RollingUpdate(ctx context.Context, rawYAML string, opts RollingOptions) (*RollingResult, error) {
	doc, err := Parse(rawYAML)
	if err != nil {
		return nil, err
	}
	if validation := Validate(doc); !validation.Valid {
		return nil, fmt.Errorf("config validation failed: %v", validation.Errors)
	}

	var nodes []*models.Node
	if opts.Environment != "" {
		nodes, err = m.store.Nodes.ListActiveByEnvironment(ctx, opts.Environment)
	} else {
		nodes, err = m.store.Nodes.ListActive(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}

	result := &RollingResult{
		Environment: opts.Environment,
		Failed:      map[string]string{},
	}

	for start := 0; start < len(nodes); start += batchSize {
		if start > 0 && opts.BatchDelay > 0 {
			select {
			case <-ctx.Done():
				result.Aborted = true
				return result, ctx.Err()
			case <-time.After(opts.BatchDelay):
			}
		}

		end := start + batchSize
		if end > len(nodes) {
			end = len(nodes)
		}
		batch := nodes[start:end]
		result.Batches++

		var (
			mu sync.Mutex
			wg sync.WaitGroup
		)
		for _, node := range batch {
			wg.Add(1)
			go func(node *models.Node) {
				defer wg.Done()
				applied, applyErr := m.Apply(ctx, node, rawYAML, opts.AppliedBy)

				mu.Lock()
				defer mu.Unlock()
				switch {
				case applyErr != nil:
					result.Failed[node.Name] = applyErr.Error()
				case !applied.Success:
					result.Failed[node.Name] = applied.Error
				default:
					result.Applied = append(result.Applied, node.Name)
				}
			}(node)
		}
		wg.Wait()

		if len(result.Failed) > 0 {
			result.Aborted = end < len(nodes)
			m.logger.Error("rolling update halted on batch failure",
				slog.String("environment", opts.Environment),
				slog.Int("batch", result.Batches),
				slog.Int("failed", len(result.Failed)),
			)
			return result, nil
		}
	}

	return result, nil
}
