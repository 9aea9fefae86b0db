package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cognicore/bow/pkg/bow/barrel"
	"github.com/cognicore/bow/pkg/bow/classbarrel"
	"github.com/cognicore/bow/pkg/bow/dict"
	"github.com/cognicore/bow/pkg/bow/smoothing"
	"github.com/cognicore/bow/pkg/bow/tagging"
)

const sampleYAML = `
smoothing:
  method: m_estimate
  m_estimate_m: 2.0
  m_estimate_pw: 0.1
event_model: document_then_word
random_seed: 7
rules:
  - tag: train
    kind: fraction
    fraction: 0.8
  - tag: test
    kind: remaining
`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "session.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadParsesSampleConfig(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	sess, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if sess.Smoothing.Method != "m_estimate" {
		t.Errorf("expected method m_estimate, got %q", sess.Smoothing.Method)
	}
	if sess.EventModel != "document_then_word" {
		t.Errorf("expected event model document_then_word, got %q", sess.EventModel)
	}
	if len(sess.Rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(sess.Rules))
	}
}

func TestResolveRules(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	sess, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	rules, err := sess.ResolveRules()
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected 2 resolved rules, got %d", len(rules))
	}
	if rules[0].Tag != barrel.Train || rules[0].Kind != tagging.RuleFraction {
		t.Errorf("unexpected first rule: %+v", rules[0])
	}
	if rules[1].Tag != barrel.Test || rules[1].Kind != tagging.RuleRemaining {
		t.Errorf("unexpected second rule: %+v", rules[1])
	}
}

func TestResolveBuildsComponents(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	sess, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	comp, err := sess.Resolve(100)
	if err != nil {
		t.Fatal(err)
	}
	if comp.EventModel != classbarrel.DocumentThenWord {
		t.Errorf("expected DocumentThenWord event model, got %v", comp.EventModel)
	}
	if comp.Estimator.Method != smoothing.MEstimate {
		t.Errorf("expected MEstimate method, got %v", comp.Estimator.Method)
	}
	if comp.Estimator.MEstimate.M != 2.0 || comp.Estimator.MEstimate.PW != 0.1 {
		t.Errorf("expected m-estimate params overridden, got %+v", comp.Estimator.MEstimate)
	}
}

func TestResolveUnknownSmoothingMethodErrors(t *testing.T) {
	path := writeTempConfig(t, "smoothing:\n  method: not_a_method\n")
	sess, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sess.Resolve(10); err == nil {
		t.Fatal("expected error for unknown smoothing method")
	}
}

func TestLoadDirichletAlphasFromFile(t *testing.T) {
	dir := t.TempDir()
	alphaPath := filepath.Join(dir, "alphas.txt")
	if err := os.WriteFile(alphaPath, []byte("2.0 apple\n3.5 banana\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	d := dict.New(false)
	d.Intern("apple")
	d.Intern("banana")

	est := smoothing.New(smoothing.Dirichlet, 2)
	n, err := LoadDirichletAlphas(est, alphaPath, d)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expected no ignored lines, got %d", n)
	}
}
