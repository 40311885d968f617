package usecase

import (
	"sort"
	"time"

	"github.com/nguyentranbao-ct/chat-relay/internal/models"
)

type operatorActivity struct {
	conversations int64
	messages      int64
	latencyTotal  float64
	latencyCount  int64
}

func (a operatorActivity) avgResponse() float64 {
	if a.latencyCount == 0 {
		return 0
	}
	return a.latencyTotal / float64(a.latencyCount)
}

// ComputeScores builds the busyness table for pool from the conversations
// started inside the window. The result is ranked: operators without any
// activity first, then ascending score, then ascending id.
func ComputeScores(pool []*models.Operator, convs []models.WindowConversation, windowStart, now time.Time) []models.OperatorScore {
	activity := make(map[string]*operatorActivity, len(pool))
	for _, op := range pool {
		activity[op.ID] = &operatorActivity{}
	}
	for _, conv := range convs {
		a, ok := activity[conv.OperatorID]
		if !ok {
			continue
		}
		a.conversations++
		a.messages += int64(len(conv.Messages))

		// An operator message answers the message right before it when
		// that one came from the user.
		for i := 1; i < len(conv.Messages); i++ {
			prev, m := conv.Messages[i-1], conv.Messages[i]
			if m.IsFromUser || !prev.IsFromUser {
				continue
			}
			a.latencyTotal += m.CreatedAt.Sub(prev.CreatedAt).Seconds()
			a.latencyCount++
		}
	}

	var maxConvs, maxMsgs, maxLatency, maxBusy float64
	for _, op := range pool {
		a := activity[op.ID]
		maxConvs = max(maxConvs, float64(a.conversations))
		maxMsgs = max(maxMsgs, float64(a.messages))
		maxLatency = max(maxLatency, a.avgResponse())
		maxBusy = max(maxBusy, op.PerceivedBusyness)
	}

	scores := make([]models.OperatorScore, 0, len(pool))
	for _, op := range pool {
		a := activity[op.ID]
		score := normalize(float64(a.conversations), maxConvs) +
			normalize(float64(a.messages), maxMsgs) +
			normalize(a.avgResponse(), maxLatency) +
			normalize(op.PerceivedBusyness, maxBusy)
		scores = append(scores, models.OperatorScore{
			OperatorID:         op.ID,
			Conversations:      a.conversations,
			Messages:           a.messages,
			AvgResponseSeconds: a.avgResponse(),
			PerceivedBusyness:  op.PerceivedBusyness,
			Score:              score,
			WindowStart:        windowStart,
			ComputedAt:         now,
		})
	}

	sort.SliceStable(scores, func(i, j int) bool {
		ri, rj := hasRecord(scores[i]), hasRecord(scores[j])
		if ri != rj {
			return !ri
		}
		if scores[i].Score != scores[j].Score {
			return scores[i].Score < scores[j].Score
		}
		return scores[i].OperatorID < scores[j].OperatorID
	})
	return scores
}

func normalize(v, maxValue float64) float64 {
	if maxValue == 0 {
		return v
	}
	return v / maxValue
}

func hasRecord(s models.OperatorScore) bool {
	return s.Conversations > 0 || s.PerceivedBusyness > 0
}
