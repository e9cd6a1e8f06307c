package rebalance

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/keva-io/keva/pkg/index"
	"github.com/keva-io/keva/pkg/keylock"
	"github.com/keva-io/keva/pkg/log"
	"github.com/keva-io/keva/pkg/metrics"
	"github.com/keva-io/keva/pkg/placement"
	"github.com/keva-io/keva/pkg/types"
	"github.com/keva-io/keva/pkg/volume"
)

// defaultWorkers bounds the bulk rebalance fan-out
const defaultWorkers = 16

// Rebalancer moves replicas so a record's volume list matches its placement.
// Used both for the single-key REBALANCE verb and the bulk CLI mode.
type Rebalancer struct {
	cfg     *types.Config
	idx     *index.Index
	locks   *keylock.Table
	volumes *volume.Client
	logger  zerolog.Logger
	Workers int
}

// New creates a rebalancer sharing the server's index and lock table
func New(cfg *types.Config, idx *index.Index, locks *keylock.Table, client *volume.Client) *Rebalancer {
	return &Rebalancer{
		cfg:     cfg,
		idx:     idx,
		locks:   locks,
		volumes: client,
		logger:  log.WithComponent("rebalance"),
		Workers: defaultWorkers,
	}
}

// RebalanceKey reconciles one key's replicas with its target placement. The
// caller must hold the key lock. The record's hash is preserved and the
// record stays live throughout.
func (r *Rebalancer) RebalanceKey(key string, rec types.Record) bool {
	kp := placement.KeyToPath(key)
	target := placement.KeyToVolumes(key, r.cfg.Volumes, r.cfg.Replicas, r.cfg.Subvolumes)

	// Only volumes that still answer count as holding a replica.
	survivors := make([]string, 0, len(rec.RVolumes))
	for _, rvol := range rec.RVolumes {
		if r.volumes.Head(volume.RemoteURL(rvol, kp)) {
			survivors = append(survivors, rvol)
		}
	}
	if len(survivors) == 0 {
		r.logger.Error().Str("key", key).Msg("No replica holds the value, possible data loss")
		return false
	}

	if !placement.NeedsRebalance(survivors, target) {
		return true
	}

	body, err := r.fetchAny(survivors, kp)
	if err != nil {
		r.logger.Error().Err(err).Str("key", key).Msg("Failed to fetch value from survivors")
		return false
	}

	for _, vol := range target {
		if contains(survivors, vol) {
			continue
		}
		if err := r.volumes.Put(volume.RemoteURL(vol, kp), body); err != nil {
			r.logger.Error().Err(err).Str("key", key).Str("volume", vol).Msg("Replica write failed")
			metrics.ReplicaOpsTotal.WithLabelValues("put", "error").Inc()
			return false
		}
		metrics.ReplicaOpsTotal.WithLabelValues("put", "ok").Inc()
	}

	moved := types.Record{RVolumes: target, Deleted: types.DeleteStateLive, Hash: rec.Hash}
	value, err := moved.Encode()
	if err != nil {
		return false
	}
	if err := r.idx.Put(key, value); err != nil {
		r.logger.Error().Err(err).Str("key", key).Msg("Failed to update record")
		return false
	}

	// Old copies are garbage once the record points at the target set;
	// a failed delete leaves an orphan file, not an inconsistent index.
	for _, vol := range survivors {
		if contains(target, vol) {
			continue
		}
		if err := r.volumes.Delete(volume.RemoteURL(vol, kp)); err != nil {
			r.logger.Warn().Err(err).Str("key", key).Str("volume", vol).Msg("Failed to delete old replica")
			metrics.ReplicaOpsTotal.WithLabelValues("delete", "error").Inc()
			continue
		}
		metrics.ReplicaOpsTotal.WithLabelValues("delete", "ok").Inc()
	}

	return true
}

// fetchAny returns the value bytes from the first survivor that serves them
func (r *Rebalancer) fetchAny(survivors []string, kp string) ([]byte, error) {
	var lastErr error
	for _, vol := range survivors {
		body, err := r.volumes.Get(volume.RemoteURL(vol, kp))
		if err == nil {
			return body, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no surviving replica served the value: %w", lastErr)
}

type task struct {
	key string
	rec types.Record
}

// Run scans the whole index and rebalances every live key whose replica list
// drifted from its placement, with a bounded worker pool.
func (r *Rebalancer) Run() error {
	var tasks []task
	err := r.idx.Scan("", func(key, value string) error {
		rec := types.DecodeRecord(value)
		if rec.Deleted != types.DeleteStateLive {
			return nil
		}
		target := placement.KeyToVolumes(key, r.cfg.Volumes, r.cfg.Replicas, r.cfg.Subvolumes)
		if !placement.NeedsRebalance(rec.RVolumes, target) {
			return nil
		}
		tasks = append(tasks, task{key: key, rec: rec})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan index: %w", err)
	}

	r.logger.Info().Int("keys", len(tasks)).Msg("Rebalance starting")

	taskCh := make(chan task)
	var wg sync.WaitGroup
	for i := 0; i < r.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range taskCh {
				r.runOne(t)
			}
		}()
	}
	for _, t := range tasks {
		taskCh <- t
	}
	close(taskCh)
	wg.Wait()

	r.logger.Info().Msg("Rebalance finished")
	return nil
}

func (r *Rebalancer) runOne(t task) {
	if !r.locks.TryLock(t.key) {
		r.logger.Warn().Str("key", t.key).Msg("Key locked, skipping")
		metrics.RebalancedKeysTotal.WithLabelValues("skipped").Inc()
		return
	}
	defer r.locks.Unlock(t.key)

	if r.RebalanceKey(t.key, t.rec) {
		metrics.RebalancedKeysTotal.WithLabelValues("ok").Inc()
		return
	}
	metrics.RebalancedKeysTotal.WithLabelValues("error").Inc()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
