package alert

import "sync"

// keyedMutex hands out one mutex per alert key. Mutexes are never
// removed; the key space is bounded by sensors x alert types x directions.
type keyedMutex struct {
	locks sync.Map // Key -> *sync.Mutex
}

func (k *keyedMutex) lock(key Key) func() {
	v, ok := k.locks.Load(key)
	if !ok {
		v, _ = k.locks.LoadOrStore(key, &sync.Mutex{})
	}
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
