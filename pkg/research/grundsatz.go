package research

import (
	"context"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/search"
)

// grundsatzSearch pulls the best chunks from the shared
// official-documents collection. The branch is advisory: without a
// retriever it is skipped, and a failed search only degrades the run.
// Cancellation still aborts.
func (s *Service) grundsatzSearch(ctx context.Context, st State) (*State, error) {
	if s.retriever == nil {
		return &State{}, nil
	}

	resp, err := s.retriever.Search(ctx, search.Query{
		Text:       st.Query,
		Owner:      s.grundsatzOwner,
		Collection: s.grundsatzCollection,
		Mode:       search.ModeHybrid,
		Limit:      grundsatzLimit,
	})
	if err != nil {
		if apperr.Aborts(err) {
			return nil, err
		}
		return &State{
			Errors: []NodeError{{Node: nodeGrundsatz, Message: err.Error()}},
		}, nil
	}
	return &State{GrundsatzResults: resp.Results}, nil
}
