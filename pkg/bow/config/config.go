// Package config loads session-level YAML configuration (smoothing
// method selection, split/tag rule specs, class-event-model selection,
// SMART-triple strings) and resolves it into the concrete values the
// smoothing, tagging, and classbarrel packages expect.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/bow/pkg/bow/barrel"
	"github.com/cognicore/bow/pkg/bow/classbarrel"
	"github.com/cognicore/bow/pkg/bow/dict"
	"github.com/cognicore/bow/pkg/bow/smoothing"
	"github.com/cognicore/bow/pkg/bow/tagging"
)

// Session is the top-level YAML document: one bow run's tunable
// parameters. Data paths and lexer choice stay on the command line
// instead, since they vary per invocation rather than per tuning run.
type Session struct {
	Smoothing  SmoothingConfig `yaml:"smoothing"`
	EventModel string          `yaml:"event_model"` // "word", "document", "document_then_word"
	Rules      []RuleConfig    `yaml:"rules"`
	SMARTDoc   string          `yaml:"smart_doc"`   // e.g. "ltc"
	SMARTQuery string          `yaml:"smart_query"` // e.g. "ltc"
	RandomSeed int64           `yaml:"random_seed"`
}

// SmoothingConfig selects a smoothing method and its parameters.
type SmoothingConfig struct {
	Method         string  `yaml:"method"` // "laplace","m_estimate","witten_bell","good_turing","dirichlet","shrinkage"
	MEstimateM     float64 `yaml:"m_estimate_m"`
	MEstimatePW    float64 `yaml:"m_estimate_pw"`
	DirichletAlpha string  `yaml:"dirichlet_alpha_file"` // plain whitespace `<alpha> <term>` file, not YAML
}

// RuleConfig is one split/tag rule in YAML form, mirroring
// tagging.Rule but using the tag's name instead of its numeric value.
type RuleConfig struct {
	Tag           string         `yaml:"tag"`
	Kind          string         `yaml:"kind"` // "file_list","per_class_count","fancy_count","fraction","remaining"
	FileList      []string       `yaml:"file_list,omitempty"`
	PerClassCount int            `yaml:"per_class_count,omitempty"`
	FancyCounts   map[string]int `yaml:"fancy_counts,omitempty"`
	Count         int            `yaml:"count,omitempty"`
	Fraction      float64        `yaml:"fraction,omitempty"`
	FromTrainPool bool           `yaml:"from_train_pool,omitempty"`
	// FromUntaggedPool is the "r" suffix: fraction-rule proportions
	// from the currently-untagged pool instead of the non-ignore
	// corpus.
	FromUntaggedPool bool `yaml:"from_untagged_pool,omitempty"`
}

// Load reads and parses a Session config from a YAML file.
func Load(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := yaml.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

var tagByName = map[string]barrel.Tag{
	"untagged":   barrel.Untagged,
	"train":      barrel.Train,
	"test":       barrel.Test,
	"unlabeled":  barrel.Unlabeled,
	"validation": barrel.Validation,
	"ignore":     barrel.Ignore,
	"pool":       barrel.Pool,
	"waiting":    barrel.Waiting,
}

func parseTag(name string) (barrel.Tag, error) {
	tag, ok := tagByName[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("config: unknown tag %q", name)
	}
	return tag, nil
}

var ruleKindByName = map[string]tagging.RuleKind{
	"file_list":       tagging.RuleFileList,
	"per_class_count": tagging.RulePerClassCount,
	"fancy_count":     tagging.RuleFancyCount,
	"fraction":        tagging.RuleFraction,
	"remaining":       tagging.RuleRemaining,
}

// ResolveRules resolves the YAML rule list into tagging.Rule values.
func (s *Session) ResolveRules() ([]tagging.Rule, error) {
	out := make([]tagging.Rule, 0, len(s.Rules))
	for _, rc := range s.Rules {
		tag, err := parseTag(rc.Tag)
		if err != nil {
			return nil, err
		}
		kind, ok := ruleKindByName[strings.ToLower(rc.Kind)]
		if !ok {
			return nil, fmt.Errorf("config: unknown rule kind %q", rc.Kind)
		}
		out = append(out, tagging.Rule{
			Tag:              tag,
			Kind:             kind,
			FileList:         rc.FileList,
			PerClassCount:    rc.PerClassCount,
			FancyCounts:      rc.FancyCounts,
			Count:            rc.Count,
			Fraction:         rc.Fraction,
			FromTrainPool:    rc.FromTrainPool,
			FromUntaggedPool: rc.FromUntaggedPool,
		})
	}
	return out, nil
}

var eventModelByName = map[string]classbarrel.EventModel{
	"word":               classbarrel.Word,
	"document":           classbarrel.Document,
	"document_then_word": classbarrel.DocumentThenWord,
}

func (s *Session) eventModel() (classbarrel.EventModel, error) {
	if s.EventModel == "" {
		return classbarrel.Word, nil
	}
	m, ok := eventModelByName[strings.ToLower(s.EventModel)]
	if !ok {
		return 0, fmt.Errorf("config: unknown event model %q", s.EventModel)
	}
	return m, nil
}

var smoothingMethodByName = map[string]smoothing.Method{
	"laplace":     smoothing.Laplace,
	"m_estimate":  smoothing.MEstimate,
	"witten_bell": smoothing.WittenBell,
	"good_turing": smoothing.GoodTuring,
	"dirichlet":   smoothing.Dirichlet,
	"shrinkage":   smoothing.Shrinkage,
}

// Components holds every value Resolve derives from the raw YAML
// fields, ready for the caller to wire into a run.
type Components struct {
	EventModel classbarrel.EventModel
	Rules      []tagging.Rule
	Method     smoothing.Method
	Estimator  *smoothing.Estimator
}

// Resolve turns the raw YAML config into concrete values: an
// EventModel, a tagging.Rule slice, and a *smoothing.Estimator.
// Dirichlet alphas need the term dictionary to resolve term names, so
// callers load them separately via LoadDirichletAlphas. vocabSize
// sizes the estimator the way smoothing.New requires.
func (s *Session) Resolve(vocabSize int64) (*Components, error) {
	model, err := s.eventModel()
	if err != nil {
		return nil, err
	}
	rules, err := s.ResolveRules()
	if err != nil {
		return nil, err
	}
	method, ok := smoothingMethodByName[strings.ToLower(s.Smoothing.Method)]
	if !ok {
		return nil, fmt.Errorf("config: unknown smoothing method %q", s.Smoothing.Method)
	}
	est := smoothing.New(method, vocabSize)
	if s.Smoothing.MEstimateM > 0 {
		est.MEstimate.M = s.Smoothing.MEstimateM
	}
	if s.Smoothing.MEstimatePW > 0 {
		est.MEstimate.PW = s.Smoothing.MEstimatePW
	}
	return &Components{EventModel: model, Rules: rules, Method: method, Estimator: est}, nil
}

// LoadDirichletAlphas opens path and feeds it through
// smoothing.Estimator.LoadDirichletAlphas, the dedicated
// `<alpha> <term>` line-oriented parser (a plain whitespace-separated
// text format, not YAML — config stays split across a structured
// session document and plain data files, the way a stoplist or
// dictionary file stays separate from its own config).
func LoadDirichletAlphas(est *smoothing.Estimator, path string, d *dict.Dict) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return est.LoadDirichletAlphas(f, d)
}
