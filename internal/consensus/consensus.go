// Package consensus aggregates validated agent votes into a single
// consensus score, action, and conflict measure.
package consensus

import (
	"errors"
	"math"
	"time"

	"github.com/danielpatrickdp/swarm-conductor/internal/vote"
)

// ErrEmptyInput is returned when aggregation is attempted with zero votes.
var ErrEmptyInput = errors.New("consensus: no votes to aggregate")

// #region result

// Result is the derived consensus for one run. Immutable once computed.
type Result struct {
	Score          float64 // confidence-weighted aggregate, 0-100
	Action         vote.Action
	Emoji          string
	Conflict       float64 // population stddev of raw scores, unweighted
	Votes          []vote.Vote // contributing votes in submission order
	Distribution   map[vote.Action]int
	AgreementLevel float64 // fraction of votes sharing the majority action
	Timestamp      time.Time
}

// #endregion result

// #region aggregate

// Aggregate combines a non-empty ordered vote sequence into a Result.
// Pure: the same inputs always yield a bit-identical result; the caller
// supplies the timestamp.
func Aggregate(votes []vote.Vote, bands Bands, at time.Time) (Result, error) {
	if len(votes) == 0 {
		return Result{}, ErrEmptyInput
	}

	// Confidence-weighted mean. All-zero confidence degrades to the plain
	// arithmetic mean rather than dropping input or dividing by zero.
	var weighted, totalWeight, sum float64
	for _, v := range votes {
		weighted += v.Score * v.Confidence
		totalWeight += v.Confidence
		sum += v.Score
	}
	score := sum / float64(len(votes))
	if totalWeight > 0 {
		score = weighted / totalWeight
	}

	band := bands.ActionFor(score)

	contributing := make([]vote.Vote, len(votes))
	copy(contributing, votes)

	dist := make(map[vote.Action]int, 3)
	for _, v := range votes {
		dist[v.Action]++
	}
	majority := 0
	for _, n := range dist {
		if n > majority {
			majority = n
		}
	}

	return Result{
		Score:          score,
		Action:         band.Action,
		Emoji:          band.Emoji,
		Conflict:       populationStddev(votes),
		Votes:          contributing,
		Distribution:   dist,
		AgreementLevel: float64(majority) / float64(len(votes)),
		Timestamp:      at,
	}, nil
}

// #endregion aggregate

// #region conflict

// populationStddev measures disagreement across raw scores, deliberately
// ignoring confidence so low-confidence outliers still register as conflict.
func populationStddev(votes []vote.Vote) float64 {
	var sum float64
	for _, v := range votes {
		sum += v.Score
	}
	mean := sum / float64(len(votes))

	var sq float64
	for _, v := range votes {
		d := v.Score - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(votes)))
}

// #endregion conflict
