// Package permission provides the config-backed permission provider and
// component classifier consumed by the staging core.
package permission

import (
	"github.com/lokalhub/translation-stage-api/config"
	"github.com/lokalhub/translation-stage-api/trans"
)

// wildcard matches any language or component class in a committer grant.
const wildcard = "*"

type grant struct {
	langs   map[string]bool
	classes map[trans.ComponentClass]bool
}

func (g grant) allows(lang string, class trans.ComponentClass) bool {
	if !g.langs[lang] && !g.langs[wildcard] {
		return false
	}
	return g.classes[class] || g.classes[trans.ComponentClass(wildcard)]
}

// Provider implements trans.Permissions from static configuration. The
// grant tables are built once and never mutated, so lookups need no locking.
type Provider struct {
	managers map[string]bool
	grants   map[string][]grant
}

// NewProvider builds a provider from the permissions config. A committer
// entry with no classes listed is granted all classes; one with no
// languages listed grants nothing.
func NewProvider(c config.PermissionsConfig) *Provider {
	p := &Provider{
		managers: make(map[string]bool, len(c.Managers)),
		grants:   make(map[string][]grant),
	}
	for _, m := range c.Managers {
		p.managers[m] = true
	}
	for _, com := range c.Committers {
		g := grant{
			langs:   make(map[string]bool, len(com.Langs)),
			classes: make(map[trans.ComponentClass]bool, len(com.Classes)),
		}
		for _, l := range com.Langs {
			g.langs[l] = true
		}
		if len(com.Classes) == 0 {
			g.classes[trans.ComponentClass(wildcard)] = true
		}
		for _, cl := range com.Classes {
			g.classes[trans.ComponentClass(cl)] = true
		}
		p.grants[com.User] = append(p.grants[com.User], g)
	}

	return p
}

func (p *Provider) CanCommit(userID, lang string, class trans.ComponentClass) bool {
	for _, g := range p.grants[userID] {
		if g.allows(lang, class) {
			return true
		}
	}
	return false
}

func (p *Provider) CanManage(userID string) bool {
	return p.managers[userID]
}

// AllowAll grants everything to everybody. Intended for tests and
// single-user deployments.
type AllowAll struct{}

func (AllowAll) CanCommit(userID, lang string, class trans.ComponentClass) bool { return true }
func (AllowAll) CanManage(userID string) bool                                   { return true }

// Classifier assigns components to their class from the configured lists.
// Unlisted components are non-standard plugins.
type Classifier struct {
	core     map[string]bool
	standard map[string]bool
}

func NewClassifier(c config.ComponentsConfig) *Classifier {
	cl := &Classifier{
		core:     make(map[string]bool, len(c.Core)),
		standard: make(map[string]bool, len(c.Standard)),
	}
	for _, name := range c.Core {
		cl.core[name] = true
	}
	for _, name := range c.Standard {
		cl.standard[name] = true
	}

	return cl
}

func (c *Classifier) Classify(component string) trans.ComponentClass {
	switch {
	case c.core[component]:
		return trans.ClassCore
	case c.standard[component]:
		return trans.ClassStandard
	default:
		return trans.ClassContrib
	}
}
