package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUtil_ShellQuote(t *testing.T) {
	cases := map[string]string{
		"":                 "''",
		"main":             "main",
		"feature/x-1":      "feature/x-1",
		"two words":        "'two words'",
		"it's":             `'it'"'"'s'`,
		"$HOME":            "'$HOME'",
		"a;rm -rf /":       "'a;rm -rf /'",
		"git@github.com:x": "git@github.com:x",
	}
	for input, expected := range cases {
		assert.Equal(t, expected, ShellQuote(input), input)
	}
}

func TestUtil_Slugify(t *testing.T) {
	assert.Equal(t, "build-and-test", Slugify("Build and Test"))
	assert.Equal(t, "deploy-prod", Slugify("deploy_prod!"))
}

func TestUtil_RepoDirName(t *testing.T) {
	assert.Equal(t, "simple-cd", RepoDirName("git@github.com:haatos/simple-cd.git"))
	assert.Equal(t, "simple-cd", RepoDirName("https://github.com/haatos/simple-cd"))
	assert.Equal(t, "repo", RepoDirName("."))
	assert.Equal(t, "app", RepoDirName("/srv/git/app.git/"))
}
