package enrich

import (
	"context"
	"fmt"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/models"
)

// savedTexts fetches and decrypts the selected saved texts. Missing
// rows and broken envelopes degrade per id.
func (s *Service) savedTexts(ctx context.Context, owner string, ids []uint) ([]Knowledge, []BranchError, error) {
	const op = "enrich.savedTexts"

	if len(ids) == 0 {
		return nil, nil, nil
	}
	if s.crypt == nil {
		return nil, []BranchError{{
			Branch:  branchSavedTexts,
			Message: "encryption service not configured",
		}}, nil
	}

	rows, err := models.GetSavedTextsForOwner(s.db.WithContext(ctx), owner, ids)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, apperr.Wrap(op, apperr.Cancelled, err)
		}
		return nil, []BranchError{{
			Branch:  branchSavedTexts,
			Message: err.Error(),
		}}, nil
	}

	found := make(map[uint]struct{}, len(rows))
	var (
		out  []Knowledge
		errs []BranchError
	)
	for _, row := range rows {
		found[row.ID] = struct{}{}
		text, err := s.crypt.DecryptField(row.Content.Envelope())
		if err != nil {
			errs = append(errs, BranchError{
				Branch:  branchSavedTexts,
				Message: fmt.Sprintf("saved text %d: %s", row.ID, err),
			})
			continue
		}
		out = append(out, Knowledge{ID: row.ID, Title: row.Title, Text: text})
	}
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			errs = append(errs, BranchError{
				Branch:  branchSavedTexts,
				Message: fmt.Sprintf("saved text %d: not found", id),
			})
		}
	}
	return out, errs, nil
}
