package progress

import (
	"github.com/prathamssaraf/mouse-video-compressor/internal/models"
)

// entryKey identifies a ProgressEntry: one per (namespace, entity).
type entryKey struct {
	ns models.Namespace
	id string
}

// correlator is the bidirectional index between server-assigned job ids and
// client-tracked entries. Both directions are hash lookups so resolution
// stays O(1) as job count grows. It is only touched from the store's run
// loop, so it needs no locking of its own.
type correlator struct {
	byJob map[string]entryKey
	byKey map[entryKey]string
}

func newCorrelator() *correlator {
	return &correlator{
		byJob: make(map[string]entryKey),
		byKey: make(map[entryKey]string),
	}
}

// register creates the jobID <-> key mapping, replacing any stale mapping
// either side may still hold.
func (c *correlator) register(jobID string, key entryKey) {
	if old, ok := c.byKey[key]; ok {
		delete(c.byJob, old)
	}
	if old, ok := c.byJob[jobID]; ok {
		delete(c.byKey, old)
	}
	c.byJob[jobID] = key
	c.byKey[key] = jobID
}

// resolve maps a server job id to its entry key.
func (c *correlator) resolve(jobID string) (entryKey, bool) {
	key, ok := c.byJob[jobID]
	return key, ok
}

// releaseJob removes the mapping by job id.
func (c *correlator) releaseJob(jobID string) {
	if key, ok := c.byJob[jobID]; ok {
		delete(c.byKey, key)
		delete(c.byJob, jobID)
	}
}

// releaseKey removes the mapping by entry key.
func (c *correlator) releaseKey(key entryKey) {
	if jobID, ok := c.byKey[key]; ok {
		delete(c.byJob, jobID)
		delete(c.byKey, key)
	}
}
