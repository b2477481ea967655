package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concord-io/concord/pkg/models"
)

func TestPriorityScoreIsPure(t *testing.T) {
	scorer, err := NewPriorityScorer(16)
	require.NoError(t, err)

	item := itemAt("ops", "Quarterly board review", 10, time.Hour)
	item.Attendees = models.AttendeeList{
		{ID: "a"}, {ID: "b", VIP: true}, {ID: "c"},
	}

	first := scorer.Score(item)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, scorer.Score(item))
	}

	// Fields outside attendees/title never influence the score.
	moved := *item
	moved.StartTime = moved.StartTime.Add(48 * time.Hour)
	moved.Location = "somewhere else"
	assert.Equal(t, first, scorer.Score(&moved))
}

func TestPriorityScoreOrdering(t *testing.T) {
	scorer, err := NewPriorityScorer(16)
	require.NoError(t, err)

	plain := itemAt("eng", "weekly sync", 10, time.Hour)
	vip := withVIP(itemAt("eng", "weekly sync", 10, time.Hour), "cto")
	urgent := itemAt("eng", "urgent incident review", 10, time.Hour)

	assert.Greater(t, scorer.Score(vip), scorer.Score(plain))
	assert.Greater(t, scorer.Score(urgent), scorer.Score(plain))
}

func TestPriorityScoreBounded(t *testing.T) {
	scorer, err := NewPriorityScorer(16)
	require.NoError(t, err)

	item := itemAt("exec", "urgent critical emergency board deadline launch", 9, time.Hour)
	for i := 0; i < 30; i++ {
		item.Attendees = append(item.Attendees, models.Attendee{ID: string(rune('a' + i)), VIP: i%2 == 0})
	}

	score := scorer.Score(item)
	assert.GreaterOrEqual(t, score, 0)
	assert.LessOrEqual(t, score, 10)
}
