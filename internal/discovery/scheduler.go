package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/projectdiscovery/gologger"
	mapsutil "github.com/projectdiscovery/utils/maps"
	syncutil "github.com/projectdiscovery/utils/sync"
)

// BatchReport is emitted once a batch has fully settled.
type BatchReport struct {
	Index      int
	Batches    int
	Processed  int
	Total      int
	Percent    int
	NewDevices []Device
	Devices    []Device
}

// Scheduler walks an address sequence batch by batch.
type Scheduler struct {
	Prober    Prober
	BatchSize int
	Yield     time.Duration
	// Gate is consulted before each batch; a non-nil error stops the run.
	Gate func(ctx context.Context) error
	// Now stamps discovered devices; defaults to time.Now.
	Now func() time.Time
}

// Batches splits addresses into contiguous groups of size, preserving order.
func Batches(addresses []string, size int) [][]string {
	if size <= 0 || len(addresses) == 0 {
		return nil
	}
	batches := make([][]string, 0, (len(addresses)+size-1)/size)
	for start := 0; start < len(addresses); start += size {
		end := min(start+size, len(addresses))
		batches = append(batches, addresses[start:end])
	}
	return batches
}

// Percent returns min(100, 100*processed/total).
func Percent(processed, total int) int {
	if total <= 0 {
		return 100
	}
	return min(100, 100*processed/total)
}

// Run probes every batch in order. It returns ctx.Err() or the gate's error
// when stopped early, and the aggregator's error if a result cannot be mapped.
// Probe failures are never returned. A batch already in flight when ctx ends
// is drained and reported before Run returns ctx.Err().
func (s *Scheduler) Run(ctx context.Context, addresses []string, agg *Aggregator, onBatch func(BatchReport)) error {
	if s.Prober == nil {
		return fmt.Errorf("scheduler has no prober")
	}
	now := s.Now
	if now == nil {
		now = time.Now
	}

	batches := Batches(addresses, s.BatchSize)
	processed := 0

	for idx, batch := range batches {
		if s.Gate != nil {
			if err := s.Gate(ctx); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		results, err := s.probeBatch(ctx, batch)
		if err != nil {
			return err
		}

		var fresh []Device
		seenAt := now()
		for _, address := range batch {
			result, ok := results.Get(address)
			if !ok {
				continue
			}
			device, changed, err := agg.Add(result, seenAt)
			if err != nil {
				return err
			}
			if changed {
				fresh = append(fresh, device)
			}
		}

		processed += len(batch)
		report := BatchReport{
			Index:      idx,
			Batches:    len(batches),
			Processed:  processed,
			Total:      len(addresses),
			Percent:    Percent(processed, len(addresses)),
			NewDevices: fresh,
			Devices:    agg.Publish(),
		}
		gologger.Verbose().Msgf("batch %d/%d settled: %d addresses, %d new devices", idx+1, len(batches), len(batch), len(fresh))
		if onBatch != nil {
			onBatch(report)
		}

		if s.Yield > 0 && idx < len(batches)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.Yield):
			}
		}
	}
	return ctx.Err()
}

// probeBatch launches one probe per address and waits for all of them.
// Probes run detached from ctx cancellation and rely on their own deadline.
func (s *Scheduler) probeBatch(ctx context.Context, batch []string) (*mapsutil.SyncLockMap[string, ProbeResult], error) {
	ctx = context.WithoutCancel(ctx)
	results := mapsutil.NewSyncLockMap[string, ProbeResult]()

	awg, err := syncutil.New(syncutil.WithSize(min(s.BatchSize, len(batch))))
	if err != nil {
		return nil, fmt.Errorf("failed to create adaptive waitgroup: %w", err)
	}

	for _, address := range batch {
		if results.Has(address) {
			continue
		}
		// reserve the slot so duplicates within a batch are probed once
		_ = results.Set(address, ProbeResult{Address: address})

		awg.Add()
		go func(target string) {
			defer awg.Done()
			_ = results.Set(target, s.Prober.Probe(ctx, target))
		}(address)
	}
	awg.Wait()
	return results, nil
}
