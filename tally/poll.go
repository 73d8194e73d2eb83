package tally

import (
	"math"
	"sort"

	"quorum/models"
)

// OptionCount is one row of a poll tally, in rank order.
type OptionCount struct {
	OptionID uint   `json:"option_id"`
	Label    string `json:"label"`
	Votes    int    `json:"votes"`
	Percent  int    `json:"percent"`
	Rank     int    `json:"rank"`
}

// PollResult summarizes option-ballots for one poll.
type PollResult struct {
	// Options are ranked by vote count descending; ties keep declaration
	// order (sort_order), so the first-declared option wins a tie.
	Options []OptionCount `json:"options"`

	// TotalVotes counts ballots; TotalVoters counts distinct voters. The two
	// differ for multi-select polls.
	TotalVotes  int `json:"total_votes"`
	TotalVoters int `json:"total_voters"`
	Required    int `json:"required_votes"`

	// WinnerID is the top-ranked option, nil while no ballots exist.
	WinnerID *uint `json:"winning_option_id,omitempty"`
}

// Poll reduces option-ballots against the poll's declared options. Ballots
// referencing no option or an option the poll does not declare are skipped.
//
// Percentages use round half away from zero (4/6 -> 67, 2/6 -> 33) and are 0
// when no ballots exist.
func Poll(options []models.PollOption, ballots []models.Vote, required int) PollResult {
	res := PollResult{Required: required}

	counts := make(map[uint]int, len(options))
	for _, opt := range options {
		counts[opt.ID] = 0
	}

	voters := make(map[uint]struct{})
	for _, b := range ballots {
		if b.PollOptionID == nil {
			continue
		}
		if _, ok := counts[*b.PollOptionID]; !ok {
			continue
		}
		counts[*b.PollOptionID]++
		res.TotalVotes++
		voters[b.UserID] = struct{}{}
	}
	res.TotalVoters = len(voters)

	ordered := make([]models.PollOption, len(options))
	copy(ordered, options)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].SortOrder < ordered[j].SortOrder
	})
	// Stable sort on top of declaration order implements the tie-break.
	sort.SliceStable(ordered, func(i, j int) bool {
		return counts[ordered[i].ID] > counts[ordered[j].ID]
	})

	res.Options = make([]OptionCount, 0, len(ordered))
	for i, opt := range ordered {
		row := OptionCount{
			OptionID: opt.ID,
			Label:    opt.Label,
			Votes:    counts[opt.ID],
			Rank:     i + 1,
		}
		if res.TotalVotes > 0 {
			row.Percent = int(math.Round(float64(row.Votes) / float64(res.TotalVotes) * 100))
		}
		res.Options = append(res.Options, row)
	}

	if res.TotalVotes > 0 && len(res.Options) > 0 {
		id := res.Options[0].OptionID
		res.WinnerID = &id
	}

	return res
}
