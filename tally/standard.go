// Package tally derives results from cast ballots. It is the only place
// tallies are computed; controllers persist what it returns and never derive
// results on their own.
package tally

import "quorum/models"

// StandardResult summarizes yes/no/abstain ballots for one standard question.
type StandardResult struct {
	Yes       int `json:"yes"`
	No        int `json:"no"`
	Abstain   int `json:"abstain"`
	TotalCast int `json:"total_cast"`
	Required  int `json:"required_votes"`

	// Outcome is the live comparison: yes>no approved, no>yes rejected,
	// tie (including no ballots at all) no_majority. Abstain never takes
	// part in the comparison, only in TotalCast.
	Outcome string `json:"outcome"`

	// Decisive is true once the outcome can no longer flip with the ballots
	// still outstanding (|yes-no| exceeds required-cast). The lifecycle only
	// persists DecidedResult early when this holds.
	Decisive bool `json:"decisive"`
}

// Standard reduces ballots of a standard question. Ballot order is
// irrelevant; malformed entries (no value, or a value outside
// yes/no/abstain) are skipped.
func Standard(ballots []models.Vote, required int) StandardResult {
	res := StandardResult{Required: required}
	for _, b := range ballots {
		if b.Value == nil {
			continue
		}
		switch *b.Value {
		case models.VoteYes:
			res.Yes++
		case models.VoteNo:
			res.No++
		case models.VoteAbstain:
			res.Abstain++
		}
	}
	res.TotalCast = res.Yes + res.No + res.Abstain

	switch {
	case res.Yes > res.No:
		res.Outcome = models.ResultApproved
	case res.No > res.Yes:
		res.Outcome = models.ResultRejected
	default:
		res.Outcome = models.ResultNoMajority
	}

	outstanding := required - res.TotalCast
	if outstanding < 0 {
		outstanding = 0
	}
	lead := res.Yes - res.No
	if lead < 0 {
		lead = -lead
	}
	res.Decisive = lead > outstanding || (outstanding == 0 && res.TotalCast > 0)

	return res
}
