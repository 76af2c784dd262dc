package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chenziqing0111/agent-core-2/internal/core/citation"
	"github.com/chenziqing0111/agent-core-2/internal/core/domain"
)

func newDimensionsCommand(load Loader) *cobra.Command {
	var ef entityFlags
	cmd := &cobra.Command{
		Use:   "dimensions",
		Short: "Show the search dimensions planned for an entity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entity, err := ef.entity()
			if err != nil {
				return err
			}
			svc, release, err := loadServices(cmd, load)
			if err != nil {
				return err
			}
			defer release()

			key, dims := svc.Evidence.Plan(entity)
			return printJSON(cmd, map[string]any{
				"combination_key": key,
				"dimensions":      dims,
			})
		},
	}
	ef.bind(cmd)
	return cmd
}

func newRetrieveCommand(load Loader) *cobra.Command {
	var (
		ef        entityFlags
		docsPath  string
		topK      int
		threshold float64
		maxPerDoc int
		asJSON    bool
		remote    bool
	)
	cmd := &cobra.Command{
		Use:   "retrieve",
		Short: "Assemble an evidence bundle from a file of PubMed records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entity, err := ef.entity()
			if err != nil {
				return err
			}
			docs, err := readDocuments(docsPath)
			if err != nil {
				return err
			}
			svc, release, err := loadServices(cmd, load)
			if err != nil {
				return err
			}
			defer release()

			opts := svc.Evidence.DefaultOptions()
			flags := cmd.Flags()
			if flags.Changed("top-k") {
				opts.TopK = topK
			}
			if flags.Changed("threshold") {
				opts.ScoreThreshold = threshold
			}
			if flags.Changed("max-per-doc") {
				opts.MaxPerDocument = maxPerDoc
			}
			req := domain.EvidenceRequest{Entity: entity, Documents: docs, Options: opts}

			var bundle *domain.EvidenceBundle
			if remote {
				if svc.Remote == nil {
					return errors.New("remote retrieval needs NATS_URL")
				}
				bundle, err = svc.Remote(cmd.Context(), req)
			} else {
				bundle, err = svc.Evidence.Assemble(cmd.Context(), req)
			}
			if err != nil {
				return fmt.Errorf("assemble evidence: %w", err)
			}

			if asJSON {
				return printJSON(cmd, bundle)
			}
			printBundle(cmd, bundle)
			return nil
		},
	}
	ef.bind(cmd)
	flags := cmd.Flags()
	flags.StringVar(&docsPath, "docs", "", "JSON file with PubMed records")
	flags.IntVar(&topK, "top-k", 15, "chunks retrieved per dimension")
	flags.Float64Var(&threshold, "threshold", 0.3, "minimum similarity score")
	flags.IntVar(&maxPerDoc, "max-per-doc", 3, "chunks kept per document within a dimension")
	flags.BoolVar(&asJSON, "json", false, "print the full bundle as JSON")
	flags.BoolVar(&remote, "remote", false, "send the request to a worker over NATS")
	_ = cmd.MarkFlagRequired("docs")
	return cmd
}

func printBundle(cmd *cobra.Command, bundle *domain.EvidenceBundle) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Combination: %s  Evidence level: %s  Session: %s\n\n", bundle.CombinationKey, bundle.EvidenceLevel, bundle.SessionID)
	for _, dim := range bundle.Dimensions {
		status := fmt.Sprintf("%d chunks", len(dim.Chunks))
		if dim.Failed() {
			status = "failed: " + dim.Error
		}
		fmt.Fprintf(out, "- %s (%s)\n", dim.Name, status)
	}
	fmt.Fprintf(out, "\n%s\n", bundle.Context)

	if len(bundle.References) == 0 {
		return
	}
	fmt.Fprintln(out, "\nReferences:")
	for _, ref := range bundle.References {
		fmt.Fprintln(out, citation.FormatReference(ref))
	}
}

func newCacheKeyCommand(load Loader) *cobra.Command {
	var docsPath string
	cmd := &cobra.Command{
		Use:   "cache-key",
		Short: "Print the index cache key for a file of PubMed records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			docs, err := readDocuments(docsPath)
			if err != nil {
				return err
			}
			svc, release, err := loadServices(cmd, load)
			if err != nil {
				return err
			}
			defer release()
			if svc.CacheKey == nil {
				return errors.New("index cache not configured")
			}
			fmt.Fprintln(cmd.OutOrStdout(), svc.CacheKey(docs))
			return nil
		},
	}
	cmd.Flags().StringVar(&docsPath, "docs", "", "JSON file with PubMed records")
	_ = cmd.MarkFlagRequired("docs")
	return cmd
}

func newRenderCommand(load Loader) *cobra.Command {
	var refsPath, text string
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Rewrite [PMID: ...] and [REF: ...] markers as reference numbers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var refs []domain.Reference
			if err := readJSONFile(refsPath, &refs); err != nil {
				return err
			}
			svc, release, err := loadServices(cmd, load)
			if err != nil {
				return err
			}
			defer release()

			out, err := svc.Citations.RenderCitations(refs, text)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&refsPath, "refs", "", "JSON file with the reference table")
	cmd.Flags().StringVar(&text, "text", "", "text containing citation markers")
	_ = cmd.MarkFlagRequired("refs")
	return cmd
}
