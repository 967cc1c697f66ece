package domain

// DomainBoostProfile drives the domain-aware reranker for one taxonomy
// domain. EntityPatterns are regex sources compiled once by the reranker.
type DomainBoostProfile struct {
	BaseBoost       float64            `json:"base_boost" yaml:"base_boost"`
	Keywords        []string           `json:"keywords" yaml:"keywords"`
	EntityPatterns  []string           `json:"entity_patterns" yaml:"entity_patterns"`
	ChunkTypePriors map[string]float64 `json:"chunk_type_priors" yaml:"chunk_type_priors"`
}
