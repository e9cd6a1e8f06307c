package placement

import (
	"bytes"
	"crypto/md5"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"sort"
)

// KeyToPath maps a key to its path on every volume server:
// /<digest[0]>/<digest[1]>/<base64(digest)> with the two leading bytes
// rendered in decimal. The path doubles as the key's identity during rebuild.
func KeyToPath(key string) string {
	digest := md5.Sum([]byte(key))
	encoded := base64.StdEncoding.EncodeToString(digest[:])
	return fmt.Sprintf("/%d/%d/%s", digest[0], digest[1], encoded)
}

type scoredVolume struct {
	score  []byte
	volume string
}

// KeyToVolumes returns the ordered replica placement for a key: the replicas
// volumes with the lowest MD5(key||volume) digest, rendezvous-hashing style.
// When subvolumes > 1 each selected volume gets a /svNN suffix derived from
// the digest so keys spread across the disks of one host.
func KeyToVolumes(key string, volumes []string, replicas, subvolumes int) []string {
	scored := make([]scoredVolume, 0, len(volumes))
	for _, v := range volumes {
		digest := md5.Sum([]byte(key + v))
		scored = append(scored, scoredVolume{score: digest[:], volume: v})
	}

	// Stable so equal digests keep volume-list order.
	sort.SliceStable(scored, func(i, j int) bool {
		return bytes.Compare(scored[i].score, scored[j].score) < 0
	})

	if replicas < len(scored) {
		scored = scored[:replicas]
	}

	ret := make([]string, 0, len(scored))
	for _, sv := range scored {
		if subvolumes == 1 {
			ret = append(ret, sv.volume)
			continue
		}
		ret = append(ret, fmt.Sprintf("%s/sv%02d", sv.volume, subvolumeHash(sv.score)%uint32(subvolumes)))
	}
	return ret
}

// subvolumeHash folds digest bytes 12..16 into a big-endian uint32
func subvolumeHash(digest []byte) uint32 {
	return binary.BigEndian.Uint32(digest[12:16])
}

// NeedsRebalance reports whether a record's current replica list differs from
// its target placement, in length or in any position.
func NeedsRebalance(current, target []string) bool {
	if len(current) != len(target) {
		return true
	}
	for i := range current {
		if current[i] != target[i] {
			return true
		}
	}
	return false
}
