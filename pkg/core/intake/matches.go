package intake

import (
	"context"
	"strings"

	"deal_intake/pkg/models"
)

// matchLimit is the number of suggestions per extracted operator.
const matchLimit = 5

// OperatorMatches looks up existing operators whose name contains each
// extracted operator name. The result is a suggestion list for the reviewer,
// with the candidate's primary operator first; nothing is merged.
func (s *Service) OperatorMatches(ctx context.Context, cand *models.ExtractionCandidate) ([]models.OperatorMatch, error) {
	if cand == nil {
		return nil, nil
	}
	out := make([]models.OperatorMatch, 0, len(cand.Operators))
	for _, op := range cand.Operators {
		name := strings.TrimSpace(op.Name)
		if name == "" {
			continue
		}
		found, err := s.store.SearchOperatorsByName(ctx, name, matchLimit)
		if err != nil {
			return out, err
		}
		m := models.OperatorMatch{
			ExtractedName: name,
			IsPrimary:     op.IsPrimary,
			Matches:       make([]models.OperatorMatchEntry, 0, len(found)),
		}
		for _, f := range found {
			m.Matches = append(m.Matches, models.OperatorMatchEntry{
				ID:        f.ID,
				Name:      f.Name,
				LegalName: f.LegalName,
				HQCity:    f.HQCity,
				HQState:   f.HQState,
			})
		}
		if m.IsPrimary {
			// The first confirmed operator becomes the deal's primary.
			out = append([]models.OperatorMatch{m}, out...)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
