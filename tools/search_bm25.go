package tools

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode"
)

const (
	DefaultSearchLimit = 8

	bm25K1 = 1.2
	bm25B  = 0.75
)

type SearchToolArgs struct {
	Query string `json:"query" jsonschema_description:"Words describing the capability you need"`
	Limit int    `json:"limit,omitempty" jsonschema_description:"Maximum results; defaults to 8"`
}

// SearchHit is one ranked tool.
type SearchHit struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

// SearchResult is the JSON body of search_tool_bm25.
type SearchResult struct {
	Query   string      `json:"query"`
	Results []SearchHit `json:"results"`
}

// SearchToolSpec describes search_tool_bm25.
func SearchToolSpec() ToolSpec {
	return ToolSpec{
		Name:        "search_tool_bm25",
		Description: "Searches the available tools by name and description and returns the best matches.",
		Parameters:  SchemaFor[SearchToolArgs](),
	}
}

// SearchToolHandler ranks the registry's tools against a query with BM25.
type SearchToolHandler struct {
	functionHandler
	Registry *Registry
}

func (h SearchToolHandler) Handle(_ context.Context, inv ToolInvocation) (ToolOutput, error) {
	args, err := parseArguments[SearchToolArgs](inv)
	if err != nil {
		return ToolOutput{}, err
	}
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return ToolOutput{}, RespondToModel(inv.Turn.T("search_tool.error.query_empty"))
	}
	limit := args.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	var specs []ToolSpec
	if h.Registry != nil {
		specs = h.Registry.Specs()
	}
	return jsonOutput(SearchResult{Query: query, Results: rankTools(specs, query, limit)}, boolPtr(true))
}

// rankTools scores each spec's name and description against query. Only
// tools sharing at least one term with the query are returned, best first
// and by name on ties.
func rankTools(specs []ToolSpec, query string, limit int) []SearchHit {
	terms := tokenize(query)
	if len(terms) == 0 || len(specs) == 0 {
		return []SearchHit{}
	}

	docs := make([][]string, len(specs))
	df := make(map[string]int)
	totalLen := 0
	for i, s := range specs {
		docs[i] = tokenize(s.Name + " " + s.Description)
		totalLen += len(docs[i])
		seen := make(map[string]bool)
		for _, t := range docs[i] {
			if !seen[t] {
				seen[t] = true
				df[t]++
			}
		}
	}
	n := float64(len(specs))
	avgLen := float64(totalLen) / n

	hits := make([]SearchHit, 0, len(specs))
	for i, s := range specs {
		tf := make(map[string]int, len(docs[i]))
		for _, t := range docs[i] {
			tf[t]++
		}
		docLen := float64(len(docs[i]))
		score := 0.0
		for _, q := range terms {
			f := float64(tf[q])
			if f == 0 {
				continue
			}
			idf := math.Log((n-float64(df[q])+0.5)/(float64(df[q])+0.5) + 1)
			score += idf * f * (bm25K1 + 1) / (f + bm25K1*(1-bm25B+bm25B*docLen/avgLen))
		}
		if score > 0 {
			hits = append(hits, SearchHit{Name: s.Name, Description: s.Description, Score: math.Round(score*1000) / 1000})
		}
	}
	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].Score != hits[b].Score {
			return hits[a].Score > hits[b].Score
		}
		return hits[a].Name < hits[b].Name
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// tokenize lowercases s and splits it on anything that is not a letter or
// digit, so snake_case tool names contribute each word.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
