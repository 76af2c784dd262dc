package domain

import "time"

// RetrievalOptions tunes per-dimension retrieval.
type RetrievalOptions struct {
	TopK                     int           `json:"top_k" yaml:"top_k"`
	ScoreThreshold           float64       `json:"score_threshold" yaml:"score_threshold"`
	MaxPerDocument           int           `json:"max_per_document" yaml:"max_per_document"`
	MaxDimensions            int           `json:"max_dimensions" yaml:"max_dimensions"`
	ExpansionTrigger         int           `json:"expansion_trigger" yaml:"expansion_trigger"`
	ExpansionTopK            int           `json:"expansion_top_k" yaml:"expansion_top_k"`
	ExpansionThresholdFactor float64       `json:"expansion_threshold_factor" yaml:"expansion_threshold_factor"`
	DimensionTimeout         time.Duration `json:"-" yaml:"-"`
}

func DefaultRetrievalOptions() RetrievalOptions {
	return RetrievalOptions{
		TopK:                     15,
		ScoreThreshold:           0.3,
		MaxPerDocument:           3,
		MaxDimensions:            3,
		ExpansionTrigger:         3,
		ExpansionTopK:            5,
		ExpansionThresholdFactor: 0.8,
		DimensionTimeout:         30 * time.Second,
	}
}

// Normalize fills zero or out-of-range values from DefaultRetrievalOptions.
func (o RetrievalOptions) Normalize() RetrievalOptions {
	return o.WithDefaults(DefaultRetrievalOptions())
}

// WithDefaults fills every zero or out-of-range field of o from def. A zero
// ScoreThreshold or ExpansionTrigger counts as unset; pass a small negative
// threshold to disable score filtering.
func (o RetrievalOptions) WithDefaults(def RetrievalOptions) RetrievalOptions {
	out := o

	if out.TopK <= 0 {
		out.TopK = def.TopK
	}
	if out.ScoreThreshold == 0 || out.ScoreThreshold < -1 || out.ScoreThreshold >= 1 {
		out.ScoreThreshold = def.ScoreThreshold
	}
	if out.MaxPerDocument <= 0 {
		out.MaxPerDocument = def.MaxPerDocument
	}
	if out.MaxDimensions <= 0 {
		out.MaxDimensions = def.MaxDimensions
	}
	if out.ExpansionTrigger <= 0 {
		out.ExpansionTrigger = def.ExpansionTrigger
	}
	if out.ExpansionTopK <= 0 {
		out.ExpansionTopK = def.ExpansionTopK
	}
	if out.ExpansionThresholdFactor <= 0 || out.ExpansionThresholdFactor > 1 {
		out.ExpansionThresholdFactor = def.ExpansionThresholdFactor
	}
	if out.DimensionTimeout <= 0 {
		out.DimensionTimeout = def.DimensionTimeout
	}
	return out
}

// Dimension is one named retrieval facet and its query text.
type Dimension struct {
	Name  string `json:"name"`
	Query string `json:"query"`
}

// DimensionResult is the retrieval outcome for a single dimension. A failed
// dimension carries Error and no chunks.
type DimensionResult struct {
	Name          string           `json:"name"`
	Query         string           `json:"query"`
	ExpandedQuery string           `json:"expanded_query,omitempty"`
	Expanded      bool             `json:"expanded"`
	Chunks        []RetrievedChunk `json:"chunks"`
	Context       string           `json:"context"`
	Error         string           `json:"error,omitempty"`
}

func (r DimensionResult) Failed() bool {
	return r.Error != ""
}
