package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lokalhub/translation-stage-api/config"
	"github.com/lokalhub/translation-stage-api/trans"
)

func TestProviderGrants(t *testing.T) {
	p := NewProvider(config.PermissionsConfig{
		Managers: []string{"maja"},
		Committers: []config.Committer{
			{User: "anna", Langs: []string{"de"}, Classes: []string{"core"}},
			{User: "anna", Langs: []string{"fr"}, Classes: []string{"contrib"}},
			{User: "ben", Langs: []string{"*"}},
			{User: "carl", Langs: []string{"nl"}, Classes: []string{"*"}},
		},
	})

	// Grants combine per user
	assert.True(t, p.CanCommit("anna", "de", trans.ClassCore))
	assert.True(t, p.CanCommit("anna", "fr", trans.ClassContrib))
	assert.False(t, p.CanCommit("anna", "de", trans.ClassContrib))
	assert.False(t, p.CanCommit("anna", "fr", trans.ClassCore))
	assert.False(t, p.CanCommit("anna", "nl", trans.ClassCore))

	// No classes listed grants all classes
	assert.True(t, p.CanCommit("ben", "de", trans.ClassCore))
	assert.True(t, p.CanCommit("ben", "xx", trans.ClassContrib))

	// Wildcard class
	assert.True(t, p.CanCommit("carl", "nl", trans.ClassStandard))
	assert.False(t, p.CanCommit("carl", "de", trans.ClassStandard))

	// Unknown users get nothing
	assert.False(t, p.CanCommit("mallory", "de", trans.ClassContrib))

	assert.True(t, p.CanManage("maja"))
	assert.False(t, p.CanManage("anna"))
}

func TestProviderNoLangsGrantsNothing(t *testing.T) {
	p := NewProvider(config.PermissionsConfig{
		Committers: []config.Committer{{User: "anna"}},
	})

	assert.False(t, p.CanCommit("anna", "de", trans.ClassCore))
}

func TestAllowAll(t *testing.T) {
	var p AllowAll
	assert.True(t, p.CanCommit("anyone", "xx", trans.ClassCore))
	assert.True(t, p.CanManage("anyone"))
}

func TestClassifier(t *testing.T) {
	c := NewClassifier(config.ComponentsConfig{
		Core:     []string{"core", "auth"},
		Standard: []string{"forum"},
	})

	assert.Equal(t, trans.ClassCore, c.Classify("core"))
	assert.Equal(t, trans.ClassCore, c.Classify("auth"))
	assert.Equal(t, trans.ClassStandard, c.Classify("forum"))
	assert.Equal(t, trans.ClassContrib, c.Classify("somethirdpartyplugin"))
}
