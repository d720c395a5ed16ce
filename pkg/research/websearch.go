package research

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/metasearch"
)

// webSearch fans the sub-queries out to the meta-search aggregator.
// Each sub-query fails on its own; the node only aborts when the run
// is cancelled.
func (s *Service) webSearch(ctx context.Context, st State) (*State, error) {
	const op = "research.webSearch"

	if len(st.SubQueries) == 0 {
		return nil, apperr.New(op, apperr.InvalidInput, "no sub-queries to search")
	}

	results := make([]SubQuerySearch, len(st.SubQueries))
	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(maxSearchWorkers)
	for i, q := range st.SubQueries {
		grp.Go(func() error {
			hits, err := s.search.Search(gctx, s.searchQuery(q, st))
			if err != nil {
				if apperr.Aborts(err) {
					return err
				}
				results[i] = SubQuerySearch{SubQuery: q, Error: err.Error()}
				return nil
			}
			results[i] = SubQuerySearch{SubQuery: q, Results: hits}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	delta := &State{WebResults: results}
	for _, r := range results {
		if r.Error != "" {
			delta.Errors = append(delta.Errors, NodeError{
				Node:    nodeWebSearch,
				Message: fmt.Sprintf("%q: %s", r.SubQuery, r.Error),
			})
		}
	}
	return delta, nil
}

// searchQuery applies the policy's routing rules to one sub-query:
// date cues route to the news category with a tight time range,
// otherwise category hints apply.
func (s *Service) searchQuery(q string, st State) metasearch.Query {
	mq := metasearch.Query{
		Query:      q,
		Language:   st.Language,
		MaxResults: st.MaxResults,
	}
	if s.policy.WantsNews(q) {
		mq.Categories = []string{metasearch.CategoryNews}
		mq.TimeRange = s.policy.NewsTimeRange()
	} else if cat := s.policy.CategoryFor(q); cat != "" {
		mq.Categories = []string{cat}
	}
	return mq
}
