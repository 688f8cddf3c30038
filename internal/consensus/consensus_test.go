package consensus

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/danielpatrickdp/swarm-conductor/internal/vote"
)

func mkVote(id string, score, conf float64) vote.Vote {
	return vote.Vote{
		AgentID:    id,
		Action:     DefaultBands().ActionFor(score).Action,
		Score:      score,
		Confidence: conf,
	}
}

var at = time.Date(2026, 3, 14, 13, 0, 0, 0, time.UTC)

func TestAggregateEmptyInput(t *testing.T) {
	_, err := Aggregate(nil, DefaultBands(), at)
	if !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}

func TestAggregateWeightedMean(t *testing.T) {
	votes := []vote.Vote{
		mkVote("a", 80, 0.9),
		mkVote("b", 82, 0.8),
	}

	res, err := Aggregate(votes, DefaultBands(), at)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(res.Score-80.941176) > 0.001 {
		t.Errorf("score: got %.4f, want ≈80.9412", res.Score)
	}
	if res.Action != vote.ActionBuy {
		t.Errorf("action: got %q, want buy", res.Action)
	}
	if math.Abs(res.Conflict-1.0) > 0.0001 {
		t.Errorf("conflict: got %.4f, want 1.0", res.Conflict)
	}
}

func TestAggregateZeroConfidenceFallsBackToMean(t *testing.T) {
	votes := []vote.Vote{
		mkVote("a", 20, 0),
		mkVote("b", 80, 0),
	}

	res, err := Aggregate(votes, DefaultBands(), at)
	if err != nil {
		t.Fatal(err)
	}
	if res.Score != 50 {
		t.Errorf("score: got %.2f, want unweighted mean 50", res.Score)
	}
}

func TestAggregateDeterministic(t *testing.T) {
	votes := []vote.Vote{
		mkVote("a", 33, 0.4),
		mkVote("b", 61, 0.9),
		mkVote("c", 55, 0.7),
	}

	first, err := Aggregate(votes, DefaultBands(), at)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, err := Aggregate(votes, DefaultBands(), at)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("aggregation not deterministic: %+v vs %+v", first, again)
		}
	}
}

func TestAggregatePreservesSubmissionOrder(t *testing.T) {
	votes := []vote.Vote{mkVote("z", 10, 0.5), mkVote("a", 90, 0.5), mkVote("m", 50, 0.5)}

	res, err := Aggregate(votes, DefaultBands(), at)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range res.Votes {
		if v.AgentID != votes[i].AgentID {
			t.Fatalf("contributing vote order changed: %v", res.Votes)
		}
	}
}

func TestAggregateDistribution(t *testing.T) {
	votes := []vote.Vote{
		mkVote("a", 70, 0.5), // buy
		mkVote("b", 65, 0.5), // buy
		mkVote("c", 30, 0.5), // de-risk
	}

	res, err := Aggregate(votes, DefaultBands(), at)
	if err != nil {
		t.Fatal(err)
	}
	if res.Distribution[vote.ActionBuy] != 2 || res.Distribution[vote.ActionDeRisk] != 1 {
		t.Errorf("distribution: got %v", res.Distribution)
	}
	if math.Abs(res.AgreementLevel-2.0/3.0) > 0.0001 {
		t.Errorf("agreement: got %.4f", res.AgreementLevel)
	}
}

func TestActionForBoundaryHigherBandWins(t *testing.T) {
	bands := DefaultBands()

	tests := []struct {
		score float64
		want  vote.Action
	}{
		{0, vote.ActionDeRisk},
		{39.999, vote.ActionDeRisk},
		{40, vote.ActionHold}, // exact boundary → higher band
		{59.999, vote.ActionHold},
		{60, vote.ActionBuy}, // exact boundary → higher band
		{100, vote.ActionBuy},
	}
	for _, tt := range tests {
		if got := bands.ActionFor(tt.score).Action; got != tt.want {
			t.Errorf("ActionFor(%.3f): got %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestActionForExhaustive(t *testing.T) {
	bands := DefaultBands()
	// Every score in [0,100] maps to exactly one recognized action.
	for s := 0.0; s <= 100.0; s += 0.25 {
		band := bands.ActionFor(s)
		if !band.Action.Valid() {
			t.Fatalf("score %.2f mapped to invalid action %q", s, band.Action)
		}
	}
}

func TestBandsValidate(t *testing.T) {
	tests := []struct {
		name    string
		bands   Bands
		wantErr bool
	}{
		{"default", DefaultBands(), false},
		{"empty", Bands{}, true},
		{"gap-at-zero", Bands{{Min: 10, Action: vote.ActionHold}}, true},
		{"unsorted", Bands{{Min: 0, Action: vote.ActionHold}, {Min: 60, Action: vote.ActionBuy}, {Min: 40, Action: vote.ActionDeRisk}}, true},
		{"duplicate", Bands{{Min: 0, Action: vote.ActionHold}, {Min: 0, Action: vote.ActionBuy}}, true},
		{"out-of-range", Bands{{Min: 0, Action: vote.ActionHold}, {Min: 120, Action: vote.ActionBuy}}, true},
		{"bad-action", Bands{{Min: 0, Action: "moon"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.bands.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
