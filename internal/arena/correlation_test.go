package arena

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFamiliesMatchDefaults(t *testing.T) {
	f := NewFamilies(nil)

	assert.Equal(t, []string{"btc"}, f.Match("Will Bitcoin close above $100k on Friday?"))
	assert.Equal(t, []string{"btc"}, f.Match("BTC above 100000 by June?"))
	assert.Equal(t, []string{"eth"}, f.Match("Ethereum to flip Solana this year?"))
	assert.Equal(t, []string{"trump"}, f.Match("Will Trump post on Truth Social today?"))
	assert.Nil(t, f.Match("Will it rain in London tomorrow?"))
}

func TestFamiliesMatchIsCaseInsensitive(t *testing.T) {
	f := NewFamilies(nil)
	assert.Equal(t, []string{"btc"}, f.Match("WILL BITCOIN HIT 100K?"))
}

func TestFamiliesMultipleHitsSorted(t *testing.T) {
	f := NewFamilies(map[string][]string{
		"rates": {"fed", "rate cut"},
		"ai":    {"openai", "gpt"},
	})

	got := f.Match("Will the Fed cut rates after the OpenAI announcement?")
	assert.Equal(t, []string{"ai", "rates"}, got)
}

func TestFamiliesCustomTableReplacesDefaults(t *testing.T) {
	f := NewFamilies(map[string][]string{"oil": {"brent", "wti"}})

	assert.Equal(t, []string{"oil"}, f.Match("Brent above $90?"))
	assert.Nil(t, f.Match("Will Bitcoin hit 100k?"), "defaults do not apply once a table is configured")
}

func TestFamiliesIgnoresBlankKeywords(t *testing.T) {
	f := NewFamilies(map[string][]string{"x": {"  ", ""}})
	assert.Nil(t, f.Match("anything at all"))
}
