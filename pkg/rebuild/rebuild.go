package rebuild

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/keva-io/keva/pkg/index"
	"github.com/keva-io/keva/pkg/keylock"
	"github.com/keva-io/keva/pkg/log"
	"github.com/keva-io/keva/pkg/metrics"
	"github.com/keva-io/keva/pkg/placement"
	"github.com/keva-io/keva/pkg/types"
	"github.com/keva-io/keva/pkg/volume"
)

// defaultWorkers bounds the per-leaf-directory fan-out
const defaultWorkers = 128

// Rebuilder reconstructs the index from the ground truth on the volumes
type Rebuilder struct {
	cfg     *types.Config
	idx     *index.Index
	locks   *keylock.Table
	volumes *volume.Client
	logger  zerolog.Logger
	Workers int
}

// New creates a rebuilder
func New(cfg *types.Config, idx *index.Index, locks *keylock.Table, client *volume.Client) *Rebuilder {
	return &Rebuilder{
		cfg:     cfg,
		idx:     idx,
		locks:   locks,
		volumes: client,
		logger:  log.WithComponent("rebuild"),
		Workers: defaultWorkers,
	}
}

// leafDir is one second-level directory to walk: vol is the replica
// identifier recorded in merged records (including any /svNN suffix), url the
// listing URL of the directory.
type leafDir struct {
	vol string
	url string
}

// Run clears the index and repopulates it by walking every volume
func (r *Rebuilder) Run() error {
	if err := r.idx.Reset(); err != nil {
		return fmt.Errorf("failed to clear index: %w", err)
	}

	var dirs []leafDir
	for _, vol := range r.cfg.Volumes {
		files, err := r.volumes.List(fmt.Sprintf("http://%s/", vol))
		if err != nil {
			r.logger.Error().Err(err).Str("volume", vol).Msg("Failed to list volume root")
			continue
		}

		hasSubvolumes := false
		for _, f := range files {
			if isSubvolumeDir(f) {
				dirs = append(dirs, r.walkVolume(vol+"/"+f.Name)...)
				hasSubvolumes = true
			}
		}
		if !hasSubvolumes {
			dirs = append(dirs, r.walkVolume(vol)...)
		}
	}

	r.logger.Info().Int("directories", len(dirs)).Msg("Rebuild starting")

	dirCh := make(chan leafDir)
	var wg sync.WaitGroup
	for i := 0; i < r.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range dirCh {
				r.rebuildDir(d)
			}
		}()
	}
	for _, d := range dirs {
		dirCh <- d
	}
	close(dirCh)
	wg.Wait()

	r.logger.Info().Msg("Rebuild finished")
	return nil
}

// walkVolume enumerates every second-level byte directory of one volume (or
// subvolume). Layout is /<digest[0]>/<digest[1]>/<leaf>.
func (r *Rebuilder) walkVolume(vol string) []leafDir {
	var dirs []leafDir

	first, err := r.volumes.List(fmt.Sprintf("http://%s/", vol))
	if err != nil {
		r.logger.Error().Err(err).Str("volume", vol).Msg("Failed to list volume")
		return nil
	}
	for _, f := range first {
		if !isByteDir(f) {
			continue
		}
		second, err := r.volumes.List(fmt.Sprintf("http://%s/%s/", vol, f.Name))
		if err != nil {
			r.logger.Error().Err(err).Str("volume", vol).Str("dir", f.Name).Msg("Failed to list byte directory")
			continue
		}
		for _, g := range second {
			if !isByteDir(g) {
				continue
			}
			dirs = append(dirs, leafDir{
				vol: vol,
				url: fmt.Sprintf("http://%s/%s/%s/", vol, f.Name, g.Name),
			})
		}
	}
	return dirs
}

// rebuildDir merges every leaf of one directory into the index
func (r *Rebuilder) rebuildDir(d leafDir) {
	files, err := r.volumes.List(d.url)
	if err != nil {
		r.logger.Error().Err(err).Str("url", d.url).Msg("Failed to list leaf directory")
		return
	}
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		if err := r.mergeLeaf(d.vol, f.Name); err != nil {
			r.logger.Error().Err(err).Str("volume", d.vol).Str("name", f.Name).Msg("Failed to merge leaf")
			continue
		}
		metrics.RebuiltKeysTotal.Inc()
	}
}

// mergeLeaf records that vol holds a copy of the key named by a leaf file.
// The filename is the base64 of the key's digest, so the digest bytes are the
// identity the rebuilt record is stored under; content hashes cannot be
// recovered and are left empty for later verification.
func (r *Rebuilder) mergeLeaf(vol, name string) error {
	decoded, err := base64.StdEncoding.DecodeString(name)
	if err != nil {
		return fmt.Errorf("failed to decode leaf name %q: %w", name, err)
	}
	key := string(decoded)

	target := placement.KeyToVolumes(key, r.cfg.Volumes, r.cfg.Replicas, r.cfg.Subvolumes)

	// Workers can discover the same key on different volumes at once; wait
	// for the lock so every discovered replica is merged.
	for !r.locks.TryLock(key) {
		time.Sleep(time.Millisecond)
	}
	defer r.locks.Unlock(key)

	value, found, err := r.idx.Get(key)
	if err != nil {
		return err
	}

	rec := types.Record{RVolumes: []string{vol}, Deleted: types.DeleteStateLive}
	if found {
		rec = types.DecodeRecord(value)
		rec.RVolumes = mergeVolumes(target, rec.RVolumes, vol)
		rec.Deleted = types.DeleteStateLive
	}

	encoded, err := rec.Encode()
	if err != nil {
		return err
	}
	return r.idx.Put(key, encoded)
}

// mergeVolumes unions vol into current, ordered target placement first and
// historical replicas after
func mergeVolumes(target, current []string, vol string) []string {
	all := make(map[string]struct{}, len(current)+1)
	for _, v := range current {
		all[v] = struct{}{}
	}
	all[vol] = struct{}{}

	merged := make([]string, 0, len(all))
	seen := make(map[string]struct{}, len(all))
	for _, v := range target {
		if _, ok := all[v]; ok {
			merged = append(merged, v)
			seen[v] = struct{}{}
		}
	}
	for _, v := range append(current, vol) {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		merged = append(merged, v)
	}
	return merged
}

// isSubvolumeDir matches svNN subvolume directories at a volume root
func isSubvolumeDir(f types.VolumeFile) bool {
	if len(f.Name) != 4 || !strings.HasPrefix(f.Name, "sv") || !f.IsDir() {
		return false
	}
	return f.Name[2] >= '0' && f.Name[2] <= '9' && f.Name[3] >= '0' && f.Name[3] <= '9'
}

// isByteDir matches the two-hex-character directories of the on-volume layout
func isByteDir(f types.VolumeFile) bool {
	if len(f.Name) != 2 || !f.IsDir() {
		return false
	}
	decoded, err := hex.DecodeString(f.Name)
	return err == nil && len(decoded) == 1
}
