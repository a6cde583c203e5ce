package engine

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 64

// runLocks serializes work on the same run id across Execute and Resume.
type runLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *runLocks) lock(runID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(runID))

	mu := &l.stripes[h.Sum32()%lockStripes]
	mu.Lock()

	return mu.Unlock
}
