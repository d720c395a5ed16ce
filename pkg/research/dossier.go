package research

import (
	"context"
	"fmt"
	"strings"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/citations"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/llm"
)

// Reference budget of the dossier prompt. The per-document cap keeps
// one long official document from crowding out the web sources.
const (
	dossierPerDocLimit = 4
	dossierTotalLimit  = 12
	dossierMaxTokens   = 1500
)

// writeDossier drafts the sectioned long-form answer of a deep run
// over the aggregated sources and official-document chunks, validates
// its citations, and appends a methodology section assembled from the
// run's real counts, never from the model.
func (s *Service) writeDossier(ctx context.Context, st State) (*State, error) {
	candidates := dossierCandidates(st)
	if len(candidates) == 0 {
		return &State{}, nil
	}
	refs := citations.BuildReferenceMap(candidates, citations.Limits{
		PerDocument: dossierPerDocLimit,
		Total:       dossierTotalLimit,
	})

	res, err := s.llm.Complete(ctx, s.dossierPrompt(st.Query, refs), llm.Options{
		Model:       s.model,
		Temperature: 0.4,
		MaxTokens:   dossierMaxTokens,
	})
	if err != nil {
		if apperr.Aborts(err) {
			return nil, err
		}
		return &State{
			ReferenceMap: refs,
			Errors: []NodeError{{
				Node:    nodeDossier,
				Message: fmt.Sprintf("dossier not generated: %v", err),
			}},
		}, nil
	}

	v := citations.ValidateAndInject(strings.TrimSpace(res.Content), refs)
	method := methodology(st, v.Sources)

	delta := &State{
		ReferenceMap: refs,
		Dossier: &Dossier{
			Text:        v.CleanDraft + "\n\n" + method,
			Methodology: method,
		},
		Citations:       v.Citations,
		CitationSources: v.Sources,
	}
	for _, msg := range v.Errors {
		delta.Errors = append(delta.Errors, NodeError{Node: nodeDossier, Message: msg})
	}
	return delta, nil
}

// dossierCandidates offers the aggregated web sources plus the
// official-document chunks for numbering. Full-content pages are
// primary and get numbered first.
func dossierCandidates(st State) []citations.Candidate {
	var candidates []citations.Candidate
	for _, src := range st.AggregatedResults {
		c := citations.Candidate{
			Title:   src.Title,
			URL:     src.URL,
			Kind:    citations.SourceWeb,
			Primary: src.FullContent,
			Score:   src.Score,
		}
		if src.FullContent {
			c.Snippets = relevantParagraphs(src.Content, st.Query)
		} else if src.Snippet != "" {
			c.Snippets = []string{src.Snippet}
		}
		candidates = append(candidates, c)
	}
	for _, gr := range st.GrundsatzResults {
		idx := gr.ChunkIndex
		title := gr.Title
		if title == "" {
			title = gr.Filename
		}
		candidates = append(candidates, citations.Candidate{
			Title:      title,
			DocumentID: gr.DocumentID,
			Kind:       citations.SourceGrundsatz,
			Snippets:   []string{clip(gr.ChunkText, paragraphMaxChars)},
			Score:      gr.Score,
			ChunkIndex: &idx,
		})
	}
	return candidates
}

func (s *Service) dossierPrompt(query string, refs citations.ReferenceMap) []llm.Message {
	system := "Du bist ein Rechercheassistent für Kommunalpolitik. Du schreibst fundierte, quellengestützte Dossiers auf Deutsch."
	user := fmt.Sprintf(`Erstelle ein strukturiertes Recherche-Dossier zur Frage.

Frage: %s

%s

Gliederung (Markdown-Überschriften):
## Überblick
## Aktuelle Entwicklungen
## Auswirkungen
## Positionen und Kontroversen
## Fazit

Regeln:
- Belege Aussagen mit Quellenverweisen [n] direkt hinter der Aussage.
- Verwende nur die nummerierten Quellen; erfinde keine Verweise.
- Nutze die Grundsatz-Quellen für programmatische Positionen.`, query, citations.FormatForPrompt(refs))
	return llm.SystemAndUser(system, user)
}

// methodology reports what the run actually did.
func methodology(st State, cited []citations.Reference) string {
	return fmt.Sprintf(`## Methodik

Für dieses Dossier wurden %d Teilfragen recherchiert und %d Webtreffer gesichtet. %d Seiten wurden vollständig ausgewertet, %d Auszüge aus den Grundsatzdokumenten einbezogen. Im Text zitiert: %d Quellen.`,
		len(st.SubQueries),
		st.webResultCount(),
		st.crawledPages(),
		len(st.GrundsatzResults),
		len(cited),
	)
}
