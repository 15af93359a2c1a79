package deepgram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rediai/broker/pkg/provider/stt"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("test-key")
	require.NoError(t, err)
	assert.Equal(t, defaultModel, p.model)
	assert.Equal(t, defaultLanguage, p.language)
	assert.Equal(t, defaultSampleRate, p.sampleRate)
}

func TestBuildURL_DefaultsAndOverrides(t *testing.T) {
	p, err := New("test-key", WithModel("base"), WithLanguage("fr"), WithSampleRate(8000))
	require.NoError(t, err)

	wsURL, err := p.buildURL(stt.StreamConfig{})
	require.NoError(t, err)
	assert.Contains(t, wsURL, "model=base")
	assert.Contains(t, wsURL, "language=fr")
	assert.Contains(t, wsURL, "sample_rate=8000")
	assert.Contains(t, wsURL, "punctuate=true")
	assert.Contains(t, wsURL, "interim_results=true")
}

func TestBuildURL_ConfigOverridesProviderDefaults(t *testing.T) {
	p, err := New("test-key")
	require.NoError(t, err)

	wsURL, err := p.buildURL(stt.StreamConfig{
		Language:   "es",
		SampleRate: 16000,
		Channels:   2,
		Keywords:   []stt.KeywordBoost{{Keyword: "redi", Boost: 2.5}},
	})
	require.NoError(t, err)
	assert.Contains(t, wsURL, "language=es")
	assert.Contains(t, wsURL, "channels=2")
	assert.Contains(t, wsURL, "keywords=redi%3A2.5")
}

func TestParseDeepgramResponse_IgnoresNonResultsEvents(t *testing.T) {
	_, ok := parseDeepgramResponse([]byte(`{"type":"Metadata"}`))
	assert.False(t, ok)
}

func TestParseDeepgramResponse_ExtractsTranscriptAndWords(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": true,
		"channel": {
			"alternatives": [{
				"transcript": "hey redi",
				"confidence": 0.95,
				"words": [
					{"word":"hey","start":0.0,"end":0.2,"confidence":0.9},
					{"word":"redi","start":0.2,"end":0.5,"confidence":0.99}
				]
			}]
		}
	}`)

	tr, ok := parseDeepgramResponse(raw)
	require.True(t, ok)
	assert.Equal(t, "hey redi", tr.Text)
	assert.True(t, tr.IsFinal)
	assert.InDelta(t, 0.95, tr.Confidence, 0.0001)
	require.Len(t, tr.Words, 2)
	assert.Equal(t, "redi", tr.Words[1].Word)
}

func TestParseDeepgramResponse_NoAlternatives(t *testing.T) {
	_, ok := parseDeepgramResponse([]byte(`{"type":"Results","channel":{"alternatives":[]}}`))
	assert.False(t, ok)
}

func TestParseDeepgramResponse_MalformedJSON(t *testing.T) {
	_, ok := parseDeepgramResponse([]byte(`not json`))
	assert.False(t, ok)
}
