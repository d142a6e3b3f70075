package store

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/cockroachdb/pebble"

	"dialogd/pkg/models"
)

// PurgeTruncated physically deletes messages hidden by the user's
// truncation pointer that were written before the cutoff. Only a
// contiguous prefix is removed so the pointer arithmetic stays valid; the
// truncation index is decremented by the number of deleted messages in
// the same batch. Returns how many messages were (or would be, in dry
// runs) purged.
func (s *Store) PurgeTruncated(userID string, cutoff time.Time, batchSize int, dryRun bool) (int, error) {
	rec, err := s.getRecord(userID)
	if err != nil {
		return 0, err
	}
	if rec.TruncationIndex == 0 {
		return 0, nil
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	prefix := msgPrefix(userID)
	type doomed struct {
		key []byte
		id  string
	}
	var victims []doomed
	pos := 0
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		k := iter.Key()
		if !bytes.HasPrefix(k, prefix) {
			break
		}
		if pos >= rec.TruncationIndex {
			break
		}
		ts, ok := msgKeyTime(k[len(prefix):])
		if !ok || !ts.Before(cutoff) {
			break
		}
		var m models.Message
		id := ""
		if err := json.Unmarshal(iter.Value(), &m); err == nil {
			id = m.ID
		}
		victims = append(victims, doomed{key: append([]byte(nil), k...), id: id})
		pos++
		if batchSize > 0 && len(victims) >= batchSize {
			break
		}
	}
	ierr := iter.Error()
	iter.Close()
	if ierr != nil {
		return 0, ierr
	}
	if len(victims) == 0 || dryRun {
		return len(victims), nil
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	for _, v := range victims {
		if err := batch.Delete(v.key, nil); err != nil {
			return 0, err
		}
		if v.id != "" {
			if err := batch.Delete(idxKey(userID, v.id), nil); err != nil {
				return 0, err
			}
		}
	}
	rec.TruncationIndex -= len(victims)
	if rec.TruncationIndex < 0 {
		rec.TruncationIndex = 0
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return 0, err
	}
	if err := batch.Set(userKey(userID), b, nil); err != nil {
		return 0, err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, err
	}
	observeOp("purge_truncated", "ok")
	return len(victims), nil
}

// msgKeyTime parses the timestamp half of a message key suffix
// (<unix_nano_padded>-<seq>).
func msgKeyTime(suffix []byte) (time.Time, bool) {
	i := bytes.IndexByte(suffix, '-')
	if i <= 0 {
		return time.Time{}, false
	}
	ns, err := strconv.ParseInt(string(suffix[:i]), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, ns).UTC(), true
}
