package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chenziqing0111/agent-core-2/internal/core/domain"
	"github.com/chenziqing0111/agent-core-2/internal/core/ports"
)

// Services is what the commands run against.
type Services struct {
	Evidence  ports.EvidenceService
	Citations ports.CitationRenderer
	CacheKey  func(docs []domain.Document) string
	// Remote sends a request to a worker instead of assembling locally; nil
	// when no broker is configured.
	Remote func(ctx context.Context, req domain.EvidenceRequest) (*domain.EvidenceBundle, error)
}

// Loader builds services on first use and returns a release func.
type Loader func(ctx context.Context) (*Services, func(), error)

// NewRootCommand assembles the evidencectl command tree.
func NewRootCommand(load Loader) *cobra.Command {
	root := &cobra.Command{
		Use:   "evidencectl",
		Short: "Plan, retrieve and cite biomedical literature evidence",
		Long: `evidencectl drives the evidence engine from the command line.
It plans search dimensions for an entity, assembles evidence bundles from
PubMed records and renders citation markers against a reference table.`,
		SilenceUsage: true,
	}
	root.AddCommand(
		newDimensionsCommand(load),
		newRetrieveCommand(load),
		newCacheKeyCommand(load),
		newRenderCommand(load),
	)
	return root
}

// entityFlags binds the per-field entity flags shared by several commands.
type entityFlags struct {
	target, disease, therapy, drug string
	targetAliases                  []string
	diseaseAliases                 []string
	therapyAliases                 []string
	drugAliases                    []string
	file                           string
}

func (f *entityFlags) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.target, "target", "", "target name, e.g. EGFR")
	flags.StringVar(&f.disease, "disease", "", "disease name")
	flags.StringVar(&f.therapy, "therapy", "", "therapy name")
	flags.StringVar(&f.drug, "drug", "", "drug name")
	flags.StringSliceVar(&f.targetAliases, "target-alias", nil, "target aliases")
	flags.StringSliceVar(&f.diseaseAliases, "disease-alias", nil, "disease aliases")
	flags.StringSliceVar(&f.therapyAliases, "therapy-alias", nil, "therapy aliases")
	flags.StringSliceVar(&f.drugAliases, "drug-alias", nil, "drug aliases")
	flags.StringVar(&f.file, "entity-file", "", "JSON file holding the entity; overrides field flags")
}

func (f *entityFlags) entity() (domain.Entity, error) {
	if f.file != "" {
		var e domain.Entity
		if err := readJSONFile(f.file, &e); err != nil {
			return domain.Entity{}, err
		}
		return e, nil
	}
	return domain.Entity{
		Target:  domain.Term{Name: f.target, Aliases: f.targetAliases},
		Disease: domain.Term{Name: f.disease, Aliases: f.diseaseAliases},
		Therapy: domain.Term{Name: f.therapy, Aliases: f.therapyAliases},
		Drug:    domain.Term{Name: f.drug, Aliases: f.drugAliases},
	}, nil
}

func readJSONFile(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "decode "+path, err)
	}
	return nil
}

// readDocuments accepts either a JSON array of records or an object with a
// "documents" array.
func readDocuments(path string) ([]domain.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var docs []domain.Document
	if err := json.Unmarshal(data, &docs); err == nil {
		return docs, nil
	}
	var wrapped struct {
		Documents []domain.Document `json:"documents"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "decode "+path, err)
	}
	return wrapped.Documents, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func loadServices(cmd *cobra.Command, load Loader) (*Services, func(), error) {
	svc, release, err := load(cmd.Context())
	if err != nil {
		return nil, nil, fmt.Errorf("init services: %w", err)
	}
	if release == nil {
		release = func() {}
	}
	return svc, release, nil
}
