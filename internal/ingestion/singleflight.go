package ingestion

import "sync"

// singleFlight collapses concurrent ingestion attempts for the same
// (project, raw_hash) pair onto one in-flight job, guarded by a mutex. A
// Redis-backed variant (singleflight_redis.go) exists for multi-process
// deployments; this one is the default for the single-process orchestrator.
type singleFlight struct {
	mu sync.Mutex
	m  map[string]JobID
}

func newSingleFlight() *singleFlight {
	return &singleFlight{m: make(map[string]JobID)}
}

func singleFlightKey(project, hash string) string { return project + ":" + hash }

// claim returns (existingJobID, true) if another job already owns this key,
// otherwise it registers id as the owner and returns ("", false).
func (s *singleFlight) claim(project, hash string, id JobID) (JobID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := singleFlightKey(project, hash)
	if existing, ok := s.m[key]; ok {
		return existing, true
	}
	s.m[key] = id
	return "", false
}

func (s *singleFlight) release(project, hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, singleFlightKey(project, hash))
}
