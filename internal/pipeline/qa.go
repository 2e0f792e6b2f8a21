package pipeline

// QAScore annotates a task outcome for the human reviewer. Scores are not an
// error path: a task that completes with a poor score still merges normally.
type QAScore struct {
	Value    float64 `json:"value"` // 0 (unusable) .. 1 (clean)
	Shortmsg string  `json:"shortmsg,omitempty"`
	Longmsg  string  `json:"longmsg,omitempty"`
}

// ScorePool accumulates the QA scores of one Results.
type ScorePool struct {
	Scores []QAScore `json:"scores,omitempty"`
}

// Add appends scores to the pool.
func (p *ScorePool) Add(scores ...QAScore) {
	p.Scores = append(p.Scores, scores...)
}

// Representative returns the pool's worst score, which is what the stage
// summary surfaces. ok is false for an empty pool.
func (p ScorePool) Representative() (QAScore, bool) {
	if len(p.Scores) == 0 {
		return QAScore{}, false
	}
	min := p.Scores[0]
	for _, s := range p.Scores[1:] {
		if s.Value < min.Value {
			min = s
		}
	}
	return min, true
}
