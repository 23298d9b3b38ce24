package knowledge

import (
	"context"
	"sort"
	"strings"
	"unicode"
)

// SearchOptions limit a search.
type SearchOptions struct {
	MaxResults      int
	IncludeSnippets bool
}

// Result is one scored search hit.
type Result struct {
	Item
	Score   float64 `json:"score"`
	Snippet string  `json:"snippet,omitempty"`
}

const (
	nameWeight      = 3.0
	tagWeight       = 2.0
	descWeight      = 1.0
	connectedBonus  = 0.5
	minTokenLen     = 3
	snippetRadius   = 60
	defaultMaxItems = 10
)

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "that": true, "this": true, "with": true,
	"you": true, "are": true, "was": true, "but": true, "have": true, "not": true,
	"what": true, "all": true, "can": true, "had": true, "her": true, "his": true,
	"they": true, "from": true, "just": true, "like": true, "yeah": true, "about": true,
	"there": true, "would": true, "know": true, "think": true, "really": true,
}

// Tokens returns the distinct lowercase search terms of a query.
func Tokens(query string) []string {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]bool)
	var out []string
	for _, w := range words {
		if len([]rune(w)) < minTokenLen || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// Search scores every non-partner item against the query. Name hits weigh
// more than tag hits, which weigh more than description hits. An item's
// weight scales its score and items already connected to the partner get a
// small bonus.
func (s *Store) Search(ctx context.Context, query, partnerID string, opts SearchOptions) ([]Result, error) {
	tokens := Tokens(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	items, err := s.List(ctx, "")
	if err != nil {
		return nil, err
	}

	connected := map[string]bool{}
	if partnerID != "" {
		ids, err := s.Connections(ctx, partnerID)
		if err != nil {
			s.log.Warn("connections_unavailable", map[string]interface{}{"partner": partnerID}, err)
		}
		for _, id := range ids {
			connected[id] = true
		}
	}

	results := Rank(items, tokens, partnerID, connected, opts)
	s.log.Debug("search", map[string]interface{}{
		"tokens":  len(tokens),
		"results": len(results),
	})
	return results, nil
}

// Rank scores items against tokens. It is the pure core of Search.
func Rank(items []Item, tokens []string, partnerID string, connected map[string]bool, opts SearchOptions) []Result {
	limit := opts.MaxResults
	if limit <= 0 {
		limit = defaultMaxItems
	}

	var results []Result
	for _, item := range items {
		if item.ID == partnerID || item.IsPerson() {
			continue
		}

		name := strings.ToLower(item.Name)
		desc := strings.ToLower(item.Description)

		var score float64
		firstDesc := -1
		for _, tok := range tokens {
			if strings.Contains(name, tok) {
				score += nameWeight
			}
			if tagged(item.Tags, tok) {
				score += tagWeight
			}
			if i := strings.Index(desc, tok); i >= 0 {
				score += descWeight
				if firstDesc < 0 || i < firstDesc {
					firstDesc = i
				}
			}
		}
		if score == 0 {
			continue
		}
		if item.Weight > 0 {
			score *= item.Weight
		}
		if connected[item.ID] {
			score += connectedBonus
		}

		r := Result{Item: item, Score: score}
		if opts.IncludeSnippets && firstDesc >= 0 {
			r.Snippet = snippet(item.Description, firstDesc)
		}
		results = append(results, r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Name < results[j].Name
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

func tagged(tags []string, tok string) bool {
	for _, t := range tags {
		if strings.Contains(strings.ToLower(t), tok) {
			return true
		}
	}
	return false
}

// snippet cuts a window around a byte offset found in the lowercased text.
// Lowercasing can change byte lengths, so offsets are clamped and aligned to
// rune boundaries.
func snippet(text string, at int) string {
	if at > len(text) {
		at = len(text)
	}
	start := at - snippetRadius
	if start < 0 {
		start = 0
	}
	end := at + snippetRadius
	if end > len(text) {
		end = len(text)
	}
	for start > 0 && !isRuneStart(text[start]) {
		start--
	}
	for end < len(text) && !isRuneStart(text[end]) {
		end++
	}

	out := strings.TrimSpace(text[start:end])
	if start > 0 {
		out = "…" + out
	}
	if end < len(text) {
		out += "…"
	}
	return out
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
