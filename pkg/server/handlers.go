package server

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/keva-io/keva/pkg/metrics"
	"github.com/keva-io/keva/pkg/placement"
	"github.com/keva-io/keva/pkg/types"
	"github.com/keva-io/keva/pkg/volume"
)

// scanCap bounds how many index entries a single list query may touch
const scanCap = 1000000

// handleRead serves GET and HEAD: look the key up and redirect the client to
// a replica that answers. Readers take no lock.
func (s *Server) handleRead(w http.ResponseWriter, key string, reqLog zerolog.Logger) {
	rec, err := s.getRecord(key)
	if err != nil {
		reqLog.Error().Err(err).Msg("Index lookup failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if rec.Hash != "" {
		w.Header().Set("Content-Md5", rec.Hash)
	}

	if rec.Deleted != types.DeleteStateLive {
		if s.cfg.Fallback == "" {
			// Content-Length must be set by hand so HEAD responses carry it.
			w.Header().Set("Content-Length", "0")
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Location", fmt.Sprintf("http://%s/%s", s.cfg.Fallback, key))
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusFound)
		return
	}

	target := placement.KeyToVolumes(key, s.cfg.Volumes, s.cfg.Replicas, s.cfg.Subvolumes)
	if placement.NeedsRebalance(rec.RVolumes, target) {
		reqLog.Warn().Strs("current", rec.RVolumes).Msg("On wrong volumes, needs rebalance")
	}

	kp := placement.KeyToPath(key)
	for _, rvol := range rec.RVolumes {
		remote := volume.RemoteURL(rvol, kp)
		if s.volumes.Head(remote) {
			metrics.ReplicaOpsTotal.WithLabelValues("head", "ok").Inc()
			w.Header().Set("Location", remote)
			w.Header().Set("Content-Length", "0")
			w.WriteHeader(http.StatusFound)
			return
		}
		metrics.ReplicaOpsTotal.WithLabelValues("head", "miss").Inc()
	}

	reqLog.Warn().Strs("rvolumes", rec.RVolumes).Msg("No replica answered")
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusNotFound)
}

// handlePut writes a value: tombstone the record, fan the body out to every
// target replica, then commit the live record with the content hash.
func (s *Server) handlePut(w http.ResponseWriter, r *http.Request, key string, reqLog zerolog.Logger) {
	if r.ContentLength <= 0 {
		w.WriteHeader(http.StatusLengthRequired)
		return
	}

	if !s.locks.TryLock(key) {
		w.WriteHeader(http.StatusConflict)
		return
	}
	defer s.locks.Unlock(key)

	rec, err := s.getRecord(key)
	if err != nil {
		reqLog.Error().Err(err).Msg("Index lookup failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if rec.Deleted == types.DeleteStateLive {
		// Keys are immutable; the client must UNLINK or DELETE first.
		w.WriteHeader(http.StatusForbidden)
		return
	}

	target := placement.KeyToVolumes(key, s.cfg.Volumes, s.cfg.Replicas, s.cfg.Subvolumes)

	// Tombstone first: if the fan-out dies half-way the record stays soft
	// deleted and remains visible to rebuild and a retrying client.
	inProgress := types.Record{RVolumes: target, Deleted: types.DeleteStateSoft}
	if err := s.putRecord(key, inProgress); err != nil {
		reqLog.Error().Err(err).Msg("Failed to write in-progress record")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		reqLog.Error().Err(err).Msg("Failed to read request body")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if !s.fanOutPut(key, target, body, reqLog) {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	sum := md5.Sum(body)
	live := types.Record{
		RVolumes: target,
		Deleted:  types.DeleteStateLive,
		Hash:     hex.EncodeToString(sum[:]),
	}
	if err := s.putRecord(key, live); err != nil {
		reqLog.Error().Err(err).Msg("Failed to commit record")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

// fanOutPut writes body to every target volume concurrently and waits for
// all of them. Any failure fails the write as a whole.
func (s *Server) fanOutPut(key string, target []string, body []byte, reqLog zerolog.Logger) bool {
	kp := placement.KeyToPath(key)

	var wg sync.WaitGroup
	errs := make([]error, len(target))
	for i, vol := range target {
		wg.Add(1)
		go func(i int, vol string) {
			defer wg.Done()
			errs[i] = s.volumes.Put(volume.RemoteURL(vol, kp), body)
		}(i, vol)
	}
	wg.Wait()

	ok := true
	for i, err := range errs {
		if err != nil {
			reqLog.Error().Err(err).Str("volume", target[i]).Msg("Replica write failed")
			metrics.ReplicaOpsTotal.WithLabelValues("put", "error").Inc()
			ok = false
			continue
		}
		metrics.ReplicaOpsTotal.WithLabelValues("put", "ok").Inc()
	}
	return ok
}

// handleDelete hard-deletes a key: tombstone, delete every replica, then
// drop the record. A replica failure leaves the tombstone for a retry.
func (s *Server) handleDelete(w http.ResponseWriter, key string, reqLog zerolog.Logger) {
	if !s.locks.TryLock(key) {
		w.WriteHeader(http.StatusConflict)
		return
	}
	defer s.locks.Unlock(key)

	rec, err := s.getRecord(key)
	if err != nil {
		reqLog.Error().Err(err).Msg("Index lookup failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if rec.Deleted == types.DeleteStateHard {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if s.cfg.Protect && rec.Deleted == types.DeleteStateLive {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	rec.Deleted = types.DeleteStateSoft
	if err := s.putRecord(key, rec); err != nil {
		reqLog.Error().Err(err).Msg("Failed to tombstone record")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	kp := placement.KeyToPath(key)
	deleteError := false
	for _, vol := range rec.RVolumes {
		if err := s.volumes.Delete(volume.RemoteURL(vol, kp)); err != nil {
			reqLog.Error().Err(err).Str("volume", vol).Msg("Replica delete failed")
			metrics.ReplicaOpsTotal.WithLabelValues("delete", "error").Inc()
			deleteError = true
			continue
		}
		metrics.ReplicaOpsTotal.WithLabelValues("delete", "ok").Inc()
	}
	if deleteError {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if err := s.idx.Delete(key); err != nil {
		reqLog.Error().Err(err).Msg("Failed to remove record")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUnlink soft-deletes a key in the index only; replica bytes stay put
// until a DELETE comes along.
func (s *Server) handleUnlink(w http.ResponseWriter, key string) {
	if !s.locks.TryLock(key) {
		w.WriteHeader(http.StatusConflict)
		return
	}
	defer s.locks.Unlock(key)

	rec, err := s.getRecord(key)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if rec.Deleted == types.DeleteStateHard || rec.Deleted == types.DeleteStateSoft {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	rec.Deleted = types.DeleteStateSoft
	if err := s.putRecord(key, rec); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRebalance reconciles a single key's replicas with its placement
func (s *Server) handleRebalance(w http.ResponseWriter, key string) {
	if !s.locks.TryLock(key) {
		w.WriteHeader(http.StatusConflict)
		return
	}
	defer s.locks.Unlock(key)

	rec, err := s.getRecord(key)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if rec.Deleted != types.DeleteStateLive {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if !s.rebalancer.RebalanceKey(key, rec) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleList answers ?list and ?unlinked queries: scan the index for keys
// under the request-path prefix, filtered by deletion state.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request, prefix string) {
	query, err := url.ParseQuery(r.URL.RawQuery)
	if err != nil {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	var wantState types.DeleteState
	switch {
	case query.Has("list"):
		wantState = types.DeleteStateLive
	case query.Has("unlinked"):
		wantState = types.DeleteStateSoft
	default:
		w.WriteHeader(http.StatusForbidden)
		return
	}
	for k := range query {
		if k != "list" && k != "unlinked" && k != "limit" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
	}

	limit := 0
	if ql := query.Get("limit"); ql != "" {
		limit, err = strconv.Atoi(ql)
		if err != nil || limit <= 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	}

	resp := types.ListResponse{Keys: []string{}}
	scanned := 0
	err = s.idx.Scan(prefix, func(key, value string) error {
		scanned++
		if scanned > scanCap {
			return errScanTooLarge
		}
		rec := types.DecodeRecord(value)
		if rec.Deleted != wantState {
			return nil
		}
		if limit > 0 && len(resp.Keys) == limit {
			resp.Next = key
			return errStopList
		}
		resp.Keys = append(resp.Keys, key)
		return nil
	})
	if err == errScanTooLarge {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if err == errStopList {
		err = nil
	}
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	body, err := json.Marshal(resp)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

var (
	errScanTooLarge = fmt.Errorf("scan too large")
	errStopList     = fmt.Errorf("list limit reached")
)
