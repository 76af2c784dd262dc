package query

import (
	"strings"

	"github.com/chenziqing0111/agent-core-2/internal/core/domain"
)

const (
	DefaultMaxAliases = 2
	overviewQuery     = "biomedical research clinical therapeutic"
)

// segment is one piece of a dimension query: an entity field or literal words.
type segment struct {
	field   domain.Field
	aliases int
	quoted  bool
	text    string
}

func quoted(f domain.Field, aliases int) segment {
	return segment{field: f, aliases: aliases, quoted: true}
}

func raw(f domain.Field) segment {
	return segment{field: f}
}

func words(text string) segment {
	return segment{text: text}
}

type template struct {
	name     string
	segments []segment
}

const (
	ft = domain.FieldTarget
	fd = domain.FieldDisease
	fr = domain.FieldTherapy
	fm = domain.FieldDrug
)

func key(fields ...domain.Field) domain.CombinationKey {
	var k domain.CombinationKey
	for _, f := range fields {
		k = k.With(f)
	}
	return k
}

// plain renders every field unquoted, followed by the literal suffix.
func plain(name, suffix string, fields ...domain.Field) template {
	segs := make([]segment, 0, len(fields)+1)
	for _, f := range fields {
		segs = append(segs, raw(f))
	}
	return template{name: name, segments: append(segs, words(suffix))}
}

var dimensionTable = map[domain.CombinationKey][]template{
	key(ft): {
		{"structure_function", []segment{quoted(ft, 2), words("structure function pathway mechanism")}},
		{"disease_association", []segment{quoted(ft, 2), words("disease association pathology")}},
		{"druggability", []segment{quoted(ft, 2), words("drug target therapeutic potential")}},
	},
	key(fd): {
		{"pathogenesis", []segment{quoted(fd, 2), words("pathogenesis mechanism etiology")}},
		{"therapeutic_targets", []segment{quoted(fd, 2), words("therapeutic targets biomarkers")}},
		{"epidemiology", []segment{quoted(fd, 2), words("epidemiology prevalence incidence")}},
	},
	key(fr): {
		{"mechanism", []segment{quoted(fr, 1), words("mechanism action principle")}},
		{"clinical_application", []segment{quoted(fr, 1), words("clinical application efficacy")}},
		{"advances", []segment{quoted(fr, 1), words("advances development innovation")}},
	},
	key(fm): {
		{"pharmacology", []segment{quoted(fm, 2), words("pharmacology pharmacokinetics ADME")}},
		{"efficacy_safety", []segment{quoted(fm, 2), words("efficacy safety adverse events")}},
		{"resistance", []segment{quoted(fm, 2), words("resistance mechanism combination")}},
	},

	key(ft, fd): {
		{"association", []segment{quoted(ft, 2), quoted(fd, 1), words("association genetic GWAS")}},
		plain("mechanism", "mechanism pathway pathogenesis", ft, fd),
		plain("therapeutic_potential", "therapeutic target drug potential", ft, fd),
	},
	key(ft, fr): {
		{"targeting_approach", []segment{quoted(ft, 2), raw(fr), words("targeting approach strategy")}},
		plain("modulation_effects", "modulation inhibition activation", ft, fr),
		plain("clinical_outcomes", "clinical outcome efficacy", ft, fr),
	},
	key(ft, fm): {
		{"binding_interaction", []segment{quoted(ft, 2), quoted(fm, 2), words("binding interaction affinity")}},
		plain("selectivity", "selectivity specificity off-target", ft, fm),
		plain("therapeutic_window", "therapeutic window dose response", ft, fm),
	},
	key(fd, fr): {
		{"treatment_rationale", []segment{quoted(fd, 1), raw(fr), words("rationale mechanism")}},
		plain("clinical_efficacy", "efficacy outcome survival", fd, fr),
		plain("patient_selection", "patient selection biomarker", fd, fr),
	},
	key(fd, fm): {
		{"drug_indication", []segment{quoted(fd, 1), quoted(fm, 2), words("indication approval")}},
		plain("clinical_trials", "clinical trial phase efficacy", fd, fm),
		plain("real_world", "real world evidence outcome", fd, fm),
	},
	key(fr, fm): {
		{"delivery_method", []segment{raw(fr), quoted(fm, 2), words("delivery administration")}},
		plain("drug_compatibility", "compatibility interaction", fr, fm),
		plain("synergy", "synergy combination enhancement", fr, fm),
	},

	key(ft, fd, fr): {
		plain("precision_targeting", "precision biomarker-guided", ft, fd, fr),
		plain("clinical_validation", "clinical validation efficacy", ft, fd, fr),
		plain("future_directions", "future development optimization", ft, fd, fr),
	},
	key(ft, fd, fm): {
		plain("mechanistic_efficacy", "mechanism efficacy", ft, fd, fm),
		plain("biomarker_stratification", "biomarker patient stratification", ft, fd, fm),
		plain("resistance_management", "resistance overcome combination", ft, fd, fm),
	},
	key(ft, fr, fm): {
		plain("target_modulation", "modulation mechanism", ft, fr, fm),
		plain("drug_optimization", "optimization improvement", ft, fr, fm),
		plain("delivery_innovation", "delivery innovation", ft, fr, fm),
	},
	key(fd, fr, fm): {
		plain("treatment_paradigm", "treatment paradigm", fd, fr, fm),
		plain("clinical_implementation", "clinical implementation", fd, fr, fm),
		plain("outcome_optimization", "outcome optimization", fd, fr, fm),
	},

	// Four-field queries stay alias-free to keep them short.
	key(ft, fd, fr, fm): {
		plain("comprehensive_mechanism", "mechanism comprehensive", ft, fd, fr, fm),
		plain("clinical_implementation", "clinical implementation", ft, fd, fr, fm),
		plain("personalized_strategy", "personalized precision", ft, fd, fr, fm),
	},

	0: {
		{"general_overview", []segment{words(overviewQuery)}},
	},
}

// Builder maps an entity to its ordered retrieval dimensions.
type Builder struct {
	maxAliases    int
	maxDimensions int
}

// NewBuilder caps alias fan-out at maxAliases (0 disables aliases) and the
// dimension list at maxDimensions (0 keeps every dimension).
func NewBuilder(maxAliases, maxDimensions int) *Builder {
	if maxAliases < 0 {
		maxAliases = DefaultMaxAliases
	}
	if maxDimensions < 0 {
		maxDimensions = 0
	}
	return &Builder{maxAliases: maxAliases, maxDimensions: maxDimensions}
}

// Plan returns the combination key and the dimensions for entity.
func (b *Builder) Plan(entity domain.Entity) (domain.CombinationKey, []domain.Dimension) {
	k := entity.Key()
	return k, b.Dimensions(entity)
}

func (b *Builder) Dimensions(entity domain.Entity) []domain.Dimension {
	templates, ok := dimensionTable[entity.Key()]
	if !ok {
		templates = dimensionTable[0]
	}
	if b.maxDimensions > 0 && len(templates) > b.maxDimensions {
		templates = templates[:b.maxDimensions]
	}

	out := make([]domain.Dimension, 0, len(templates))
	for _, tpl := range templates {
		out = append(out, domain.Dimension{
			Name:  tpl.name,
			Query: b.render(tpl, entity),
		})
	}
	return out
}

// Names lists dimension names for a combination key in table order.
func Names(k domain.CombinationKey) []string {
	templates := dimensionTable[k]
	out := make([]string, 0, len(templates))
	for _, tpl := range templates {
		out = append(out, tpl.name)
	}
	return out
}

func (b *Builder) render(tpl template, entity domain.Entity) string {
	parts := make([]string, 0, len(tpl.segments))
	for _, seg := range tpl.segments {
		if seg.text != "" {
			parts = append(parts, seg.text)
			continue
		}
		term := entity.Term(seg.field)
		name := strings.TrimSpace(term.Name)
		if !seg.quoted {
			parts = append(parts, name)
			continue
		}
		limit := seg.aliases
		if limit > b.maxAliases {
			limit = b.maxAliases
		}
		parts = append(parts, WithAliases(name, term.CleanAliases(), limit))
	}
	return strings.Join(parts, " ")
}

// WithAliases quotes primary and, when aliases exist, ORs up to max of them.
func WithAliases(primary string, aliases []string, max int) string {
	if max > len(aliases) {
		max = len(aliases)
	}
	if max <= 0 {
		return `"` + primary + `"`
	}
	terms := make([]string, 0, max+1)
	terms = append(terms, `"`+primary+`"`)
	for _, alias := range aliases[:max] {
		terms = append(terms, `"`+alias+`"`)
	}
	return "(" + strings.Join(terms, " OR ") + ")"
}
