package core

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"capturekit/models"

	"gopkg.in/yaml.v3"
)

// DefaultRuleTable mirrors the capture rules configured in the browser
// extension and the API paths of the web client.
func DefaultRuleTable() models.RuleTable {
	return models.RuleTable{
		Labels: map[string]models.DataKind{
			"评论接口":   models.KindComment,
			"通知接口":   models.KindNotification,
			"笔记内容接口": models.KindNote,
			"用户信息接口": models.KindUser,
			"搜索接口":   models.KindSearch,
			"热门推荐接口": models.KindRecommendation,
		},
		URLRules: []models.URLRule{
			{Kind: models.KindComment, Patterns: []string{`/api/sns/web/v[12]/comment/`}},
			{Kind: models.KindNotification, Patterns: []string{`/api/sns/web/v1/you/`, `/api/sns/web/v1/notify/`}},
			{Kind: models.KindNote, Patterns: []string{`/api/sns/web/v1/feed`, `/api/sns/web/v1/note/`}},
			{Kind: models.KindUser, Patterns: []string{`/api/sns/web/v[12]/user/`}},
			{Kind: models.KindSearch, Patterns: []string{`/api/sns/web/v1/search/`}},
			{Kind: models.KindRecommendation, Patterns: []string{`/api/sns/web/v1/homefeed`}},
		},
	}
}

// LoadRuleTable reads a YAML rule file:
//
//	labels:
//	  评论接口: comment
//	url_rules:
//	  - kind: comment
//	    patterns: ['/api/sns/web/v[12]/comment/']
func LoadRuleTable(path string) (models.RuleTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return models.RuleTable{}, fmt.Errorf("reading rule file %s: %w", path, err)
	}
	var table models.RuleTable
	if err := yaml.Unmarshal(raw, &table); err != nil {
		return models.RuleTable{}, fmt.Errorf("parsing rule file %s: %w", path, err)
	}
	return table, nil
}

type compiledRule struct {
	kind     models.DataKind
	patterns []*regexp.Regexp
}

// Classifier maps an exchange to a data kind: first by its capture rule
// label, then by the first URL rule whose pattern matches. It holds no
// mutable state and is safe for concurrent use.
type Classifier struct {
	table  models.RuleTable
	labels map[string]models.DataKind
	rules  []compiledRule
}

func NewClassifier(table models.RuleTable) (*Classifier, error) {
	c := &Classifier{table: table, labels: make(map[string]models.DataKind, len(table.Labels))}
	for label, kind := range table.Labels {
		if !kind.Valid() {
			return nil, fmt.Errorf("label %q maps to unknown kind %q", label, kind)
		}
		c.labels[strings.TrimSpace(label)] = kind
	}
	for i, r := range table.URLRules {
		if !r.Kind.Valid() {
			return nil, fmt.Errorf("url rule %d has unknown kind %q", i, r.Kind)
		}
		cr := compiledRule{kind: r.Kind}
		for _, p := range r.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("url rule %d pattern %q: %w", i, p, err)
			}
			cr.patterns = append(cr.patterns, re)
		}
		c.rules = append(c.rules, cr)
	}
	return c, nil
}

func DefaultClassifier() *Classifier {
	c, err := NewClassifier(DefaultRuleTable())
	if err != nil {
		panic(err)
	}
	return c
}

// ClassifierFromFile loads the rule file at path, or the built-in table
// when path is empty.
func ClassifierFromFile(path string) (*Classifier, error) {
	if path == "" {
		return DefaultClassifier(), nil
	}
	table, err := LoadRuleTable(path)
	if err != nil {
		return nil, err
	}
	return NewClassifier(table)
}

// Classify returns ErrUnclassifiable when neither the label nor the URL
// matches a rule.
func (c *Classifier) Classify(ruleLabel, url string) (models.DataKind, error) {
	if kind, ok := c.labels[strings.TrimSpace(ruleLabel)]; ok {
		return kind, nil
	}
	for _, r := range c.rules {
		for _, re := range r.patterns {
			if re.MatchString(url) {
				return r.kind, nil
			}
		}
	}
	return "", fmt.Errorf("label %q, url %q: %w", ruleLabel, url, ErrUnclassifiable)
}

// Rules returns the table the classifier was built from.
func (c *Classifier) Rules() models.RuleTable {
	return c.table
}
