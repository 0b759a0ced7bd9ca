package logging

import (
	"strings"
	"sync"
)

// ProgressSampler suppresses repetitive file_progress logs. A line is emitted
// the first time a file is seen and whenever its percent crosses into a new
// bucket.
type ProgressSampler struct {
	mu         sync.Mutex
	bucketSize float64
	lastBucket map[string]int
}

// NewProgressSampler constructs a sampler with the given bucket width in
// percent (default 10).
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 10
	}
	return &ProgressSampler{bucketSize: bucketSize, lastBucket: make(map[string]int)}
}

// ShouldLog reports whether a progress update for file should be logged.
// Percent values below zero are treated as unknown and never advance the bucket.
func (s *ProgressSampler) ShouldLog(file string, percent float64) bool {
	if s == nil {
		return true
	}
	file = strings.TrimSpace(file)
	s.mu.Lock()
	defer s.mu.Unlock()

	last, seen := s.lastBucket[file]
	if !seen {
		last = -1
	}
	emit := !seen
	if percent >= 0 {
		bucket := int(percent / s.bucketSize)
		if percent >= 100 {
			bucket = int(100 / s.bucketSize)
		}
		if bucket > last {
			last = bucket
			emit = true
		}
	}
	s.lastBucket[file] = last
	return emit
}

// Forget drops the state for file, typically after it finished.
func (s *ProgressSampler) Forget(file string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.lastBucket, strings.TrimSpace(file))
	s.mu.Unlock()
}

// Reset clears the sampler state (e.g. when a new run starts).
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.lastBucket = make(map[string]int)
	s.mu.Unlock()
}
