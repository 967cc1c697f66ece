// Package rules implements the first-pass domain classifier as a rule
// engine over an embedded keyword and entity-pattern table.
package rules

import (
	"context"
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/docqa-assistant/internal/core/domain"
)

//go:embed patterns.yaml
var defaultPatterns []byte

type patternTable struct {
	Normalizer     float64                              `yaml:"normalizer"`
	MinConfidence  float64                              `yaml:"min_confidence"`
	QueryWeight    float64                              `yaml:"query_weight"`
	DocumentWeight float64                              `yaml:"document_weight"`
	Domains        map[string]domain.DomainBoostProfile `yaml:"domains"`
}

type compiledDomain struct {
	name     string
	keywords []string
	entities []*regexp.Regexp
}

// Detector scores a query (and the active document names) against every
// configured domain and returns the best match. Confidence below the floor
// falls back to the general domain at full confidence, which keeps the
// downstream reranker an identity pass for everyday queries.
type Detector struct {
	table   patternTable
	domains []compiledDomain
}

func NewDetector() (*Detector, error) {
	return NewDetectorFromYAML(defaultPatterns)
}

func NewDetectorFromYAML(raw []byte) (*Detector, error) {
	var table patternTable
	if err := yaml.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("parse pattern table: %w", err)
	}
	if table.Normalizer <= 0 {
		table.Normalizer = 10.0
	}
	if table.MinConfidence <= 0 {
		table.MinConfidence = 0.25
	}
	if table.QueryWeight <= 0 && table.DocumentWeight <= 0 {
		table.QueryWeight = 0.6
		table.DocumentWeight = 0.4
	}

	d := &Detector{table: table}
	names := make([]string, 0, len(table.Domains))
	for name := range table.Domains {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		profile := table.Domains[name]
		cd := compiledDomain{name: name}
		for _, kw := range profile.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				cd.keywords = append(cd.keywords, kw)
			}
		}
		for _, src := range profile.EntityPatterns {
			re, err := regexp.Compile("(?i)" + src)
			if err != nil {
				return nil, fmt.Errorf("compile entity pattern %q for domain %s: %w", src, name, err)
			}
			cd.entities = append(cd.entities, re)
		}
		d.domains = append(d.domains, cd)
	}
	return d, nil
}

// BoostProfiles exposes the same table to the reranker so detection and
// boosting never disagree on what a domain looks like.
func (d *Detector) BoostProfiles() map[string]domain.DomainBoostProfile {
	out := make(map[string]domain.DomainBoostProfile, len(d.table.Domains))
	for name, profile := range d.table.Domains {
		out[name] = profile
	}
	return out
}

func (d *Detector) Classify(ctx context.Context, queryText string, documentNames []string) (domain.DomainDetection, error) {
	if err := ctx.Err(); err != nil {
		return domain.DomainDetection{}, err
	}

	type scoredDomain struct {
		name    string
		score   float64
		signals []string
	}

	scores := make([]scoredDomain, 0, len(d.domains))
	for _, cd := range d.domains {
		queryScore, querySignals := d.scoreText(queryText, cd)
		docScore, docSignals := d.scoreDocuments(documentNames, cd)
		combined := d.table.QueryWeight*queryScore + d.table.DocumentWeight*docScore
		if combined <= 0 {
			continue
		}
		scores = append(scores, scoredDomain{
			name:    cd.name,
			score:   combined,
			signals: append(querySignals, docSignals...),
		})
	}

	if len(scores) == 0 {
		return domain.DomainDetection{Domain: domain.DomainGeneral, Confidence: 1.0}, nil
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].name < scores[j].name
	})

	best := scores[0]
	if best.score < d.table.MinConfidence {
		return domain.DomainDetection{Domain: domain.DomainGeneral, Confidence: 1.0}, nil
	}

	detection := domain.DomainDetection{
		Domain:     best.name,
		Confidence: best.score,
		Signals:    dedupeSignals(best.signals),
	}
	if len(scores) > 1 && scores[1].score >= d.table.MinConfidence {
		detection.SecondaryDomain = scores[1].name
	}
	return detection, nil
}

// scoreText counts keyword and entity hits, weights entities double, and
// normalizes into [0, 1].
func (d *Detector) scoreText(text string, cd compiledDomain) (float64, []string) {
	if strings.TrimSpace(text) == "" {
		return 0, nil
	}
	lower := strings.ToLower(text)

	var signals []string
	hits := 0.0
	for _, kw := range cd.keywords {
		if n := strings.Count(lower, kw); n > 0 {
			hits += float64(n)
			signals = append(signals, "kw:"+kw)
		}
	}
	for _, re := range cd.entities {
		if n := len(re.FindAllStringIndex(text, -1)); n > 0 {
			hits += 2 * float64(n)
			signals = append(signals, "entity:"+re.String())
		}
	}

	score := hits / d.table.Normalizer
	if score > 1 {
		score = 1
	}
	return score, signals
}

// scoreDocuments scores each document name on its own and averages, so the
// document share of the confidence is split across documents and a single
// signal-dense name cannot saturate it.
func (d *Detector) scoreDocuments(names []string, cd compiledDomain) (float64, []string) {
	if len(names) == 0 {
		return 0, nil
	}
	total := 0.0
	var signals []string
	for _, name := range names {
		score, nameSignals := d.scoreText(name, cd)
		total += score
		signals = append(signals, nameSignals...)
	}
	return total / float64(len(names)), signals
}

func dedupeSignals(signals []string) []string {
	seen := make(map[string]struct{}, len(signals))
	out := make([]string, 0, len(signals))
	for _, s := range signals {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
