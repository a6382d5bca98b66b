package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/vecrag/internal/domain"
	"github.com/kailas-cloud/vecrag/internal/usecase/retrieval"
)

type queryOptions struct {
	context    []string
	maxResults int
	minScore   float64
	asJSON     bool
}

func newQueryCmd(c *cli) *cobra.Command {
	opts := queryOptions{}
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Retrieve the chunks most relevant to a query",
		Long: `Embed the query, search every provider collection and print the ranked chunks.

Highlighted passages passed with --context are searched as well and merged
into the result; a chunk found by both searches is reported once.

Example:
  vecrag query "how do I rotate api keys"
  vecrag query "what does this mean" --context "tokens expire after 24h" --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := retrieval.Request{
				Query:      args[0],
				Context:    opts.context,
				MaxResults: opts.maxResults,
			}
			if cmd.Flags().Changed("min-score") {
				req.MinScore = &opts.minScore
			}
			return c.query(cmd.Context(), cmd.OutOrStdout(), req, opts.asJSON)
		},
	}
	cmd.Flags().StringArrayVar(&opts.context, "context", nil, "Highlighted passage to search alongside the query (repeatable)")
	cmd.Flags().IntVarP(&opts.maxResults, "max-results", "k", 0, "Maximum number of results (default from retrieval.max_results)")
	cmd.Flags().Float64Var(&opts.minScore, "min-score", 0, "Drop results scoring below this value")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print results as JSON")
	return cmd
}

func (c *cli) query(ctx context.Context, out io.Writer, req retrieval.Request, asJSON bool) error {
	a, log, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	defer a.Close()

	results, err := a.Retrieval.Retrieve(ctx, req)
	if err != nil {
		return err
	}
	if asJSON {
		return writeResultsJSON(out, results)
	}
	printResults(out, results)
	return nil
}

type resultJSON struct {
	ChunkID        string            `json:"chunk_id"`
	Text           string            `json:"text"`
	SourceFile     string            `json:"source_file"`
	SourceLocation string            `json:"source_location,omitempty"`
	ChunkType      string            `json:"chunk_type"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Score          float64           `json:"score"`
	MatchedVia     string            `json:"matched_via"`
	Collection     string            `json:"collection"`
}

func writeResultsJSON(out io.Writer, results []domain.RetrievalResult) error {
	items := make([]resultJSON, 0, len(results))
	for _, r := range results {
		items = append(items, resultJSON{
			ChunkID:        r.ChunkID,
			Text:           r.Text,
			SourceFile:     r.SourceFile,
			SourceLocation: r.SourceLocation,
			ChunkType:      string(r.ChunkType),
			Metadata:       r.Metadata,
			Score:          r.Score,
			MatchedVia:     string(r.MatchedVia),
			Collection:     r.Collection,
		})
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(items)
}

const previewLen = 160

func printResults(out io.Writer, results []domain.RetrievalResult) {
	if len(results) == 0 {
		fmt.Fprintln(out, "No results found.")
		return
	}
	for i, r := range results {
		loc := r.SourceFile
		if r.SourceLocation != "" {
			loc += " (" + r.SourceLocation + ")"
		}
		fmt.Fprintf(out, "#%d  score %.4f  %s  [%s via %s]\n", i+1, r.Score, loc, r.Collection, r.MatchedVia)

		preview := strings.Join(strings.Fields(r.Text), " ")
		if len(preview) > previewLen {
			preview = preview[:previewLen-3] + "..."
		}
		fmt.Fprintf(out, "    %s\n\n", preview)
	}
}
