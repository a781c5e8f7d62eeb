package dedup

import (
	"context"
	"sync"

	"github.com/source-vetting/internal/models"
)

// MemoryCorpus is an in-process, append-only corpus indexed by the comparison keys
type MemoryCorpus struct {
	mu      sync.RWMutex
	records []*models.Opportunity
	byURL   map[string][]int
	byHash  map[string][]int
	byDom   map[string][]int
	byOrg   map[string][]int
}

// NewMemoryCorpus creates an empty corpus
func NewMemoryCorpus() *MemoryCorpus {
	return &MemoryCorpus{
		byURL:  make(map[string][]int),
		byHash: make(map[string][]int),
		byDom:  make(map[string][]int),
		byOrg:  make(map[string][]int),
	}
}

// Add prepares and indexes a record
func (c *MemoryCorpus) Add(rec *models.Opportunity) {
	Prepare(rec)

	c.mu.Lock()
	defer c.mu.Unlock()

	idx := len(c.records)
	c.records = append(c.records, rec)
	if rec.NormalizedURL != "" {
		c.byURL[rec.NormalizedURL] = append(c.byURL[rec.NormalizedURL], idx)
	}
	if rec.ContentHash != "" {
		c.byHash[rec.ContentHash] = append(c.byHash[rec.ContentHash], idx)
	}
	if rec.Domain != "" {
		c.byDom[rec.Domain] = append(c.byDom[rec.Domain], idx)
	}
	if rec.OrganizationKey != "" {
		c.byOrg[rec.OrganizationKey] = append(c.byOrg[rec.OrganizationKey], idx)
	}
}

// Len returns the number of records
func (c *MemoryCorpus) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Candidates returns records sharing a key with the probe, exact url and hash matches first
func (c *MemoryCorpus) Candidates(_ context.Context, probe Probe, limit int) ([]*models.Opportunity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[int]bool)
	var out []*models.Opportunity
	collect := func(indexes []int) bool {
		for _, idx := range indexes {
			if seen[idx] {
				continue
			}
			seen[idx] = true
			out = append(out, c.records[idx])
			if limit > 0 && len(out) >= limit {
				return false
			}
		}
		return true
	}

	groups := [][]int{
		c.byURL[probe.NormalizedURL],
		c.byHash[probe.ContentHash],
		c.byDom[probe.Domain],
		c.byOrg[probe.OrganizationKey],
	}
	for _, group := range groups {
		if !collect(group) {
			break
		}
	}
	return out, nil
}
