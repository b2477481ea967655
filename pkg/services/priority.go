package services

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/concord-io/concord/pkg/models"
)

// priorityKeywords raise an item's score when present in its title.
var priorityKeywords = []string{
	"urgent", "critical", "emergency", "board", "deadline", "launch",
}

// PriorityScorer assigns each item a deterministic importance score in
// [0, 10]. The score depends only on the item's declared attendees and
// title, never on wall-clock time or prior scoring calls, so repeated
// scoring of the same item always agrees.
type PriorityScorer struct {
	cache *lru.Cache[string, int]
}

// NewPriorityScorer creates a scorer with a bounded memo cache.
func NewPriorityScorer(cacheSize int) (*PriorityScorer, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New[string, int](cacheSize)
	if err != nil {
		return nil, err
	}
	return &PriorityScorer{cache: cache}, nil
}

// Score computes the item's priority score.
func (s *PriorityScorer) Score(item *models.ScheduledItem) int {
	key := scoreKey(item)
	if v, ok := s.cache.Get(key); ok {
		return v
	}

	score := 0

	vips := 0
	for _, a := range item.Attendees {
		if a.VIP {
			vips++
		}
	}
	if vips > 0 {
		score += 3
		if vips > 1 {
			score += vips - 1
		}
	}

	// Headcount weight: one point per five attendees, capped.
	headcount := len(item.Attendees) / 5
	if headcount > 2 {
		headcount = 2
	}
	score += headcount

	title := strings.ToLower(item.Title)
	for _, kw := range priorityKeywords {
		if strings.Contains(title, kw) {
			score += 2
		}
	}

	if score > 10 {
		score = 10
	}

	s.cache.Add(key, score)
	return score
}

// scoreKey hashes the inputs the score is a pure function of.
func scoreKey(item *models.ScheduledItem) string {
	parts := make([]string, 0, len(item.Attendees)+1)
	for _, a := range item.Attendees {
		if a.VIP {
			parts = append(parts, a.ID+"!")
		} else {
			parts = append(parts, a.ID)
		}
	}
	sort.Strings(parts)
	h := sha256.Sum256([]byte(strings.ToLower(item.Title) + "|" + strings.Join(parts, ",")))
	return hex.EncodeToString(h[:16])
}
