package evaluation

import (
	"sort"
	"strings"
)

// Score is derived data: always recomputed from the full hypothesis and the
// fixed reference, never updated in place.
type Score struct {
	ProviderID string  `json:"providerId"`
	CER        float64 `json:"cer"`
	WER        float64 `json:"wer"`
	Similarity float64 `json:"similarity"`
	Grade      string  `json:"grade"`
}

// CER is the character error rate over normalized text.
func CER(ref, hyp string) float64 {
	return errorRate([]rune(Normalize(ref)), []rune(Normalize(hyp)))
}

// WER is the word error rate over whitespace-delimited normalized tokens.
func WER(ref, hyp string) float64 {
	return errorRate(strings.Fields(Normalize(ref)), strings.Fields(Normalize(hyp)))
}

// Similarity is (1 - CER) as a percentage, floored at zero.
func Similarity(ref, hyp string) float64 {
	return similarityFromCER(CER(ref, hyp))
}

func similarityFromCER(cer float64) float64 {
	return max(0, (1-cer)*100)
}

type gradeBand struct {
	min   float64
	grade string
}

var gradeLadder = []gradeBand{
	{95, "S"},
	{90, "A"},
	{80, "B"},
	{70, "C"},
	{60, "D"},
}

// Grade maps a similarity percentage to a letter. Each band includes its lower bound.
func Grade(similarity float64) string {
	for _, band := range gradeLadder {
		if similarity >= band.min {
			return band.grade
		}
	}
	return "F"
}

// ScoreOne computes the full score for one provider's accumulated hypothesis.
func ScoreOne(providerID, ref, hyp string) Score {
	cer := CER(ref, hyp)
	sim := similarityFromCER(cer)
	return Score{
		ProviderID: providerID,
		CER:        cer,
		WER:        WER(ref, hyp),
		Similarity: sim,
		Grade:      Grade(sim),
	}
}

// Evaluate scores every hypothesis against ref, ordered by provider id.
func Evaluate(ref string, hypotheses map[string]string) []Score {
	scores := make([]Score, 0, len(hypotheses))
	for id, hyp := range hypotheses {
		scores = append(scores, ScoreOne(id, ref, hyp))
	}
	sort.Slice(scores, func(i, j int) bool {
		return scores[i].ProviderID < scores[j].ProviderID
	})
	return scores
}

// Rank orders scores best first; ties keep provider id order.
func Rank(scores []Score) []Score {
	ranked := make([]Score, len(scores))
	copy(ranked, scores)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Similarity != ranked[j].Similarity {
			return ranked[i].Similarity > ranked[j].Similarity
		}
		return ranked[i].ProviderID < ranked[j].ProviderID
	})
	return ranked
}
