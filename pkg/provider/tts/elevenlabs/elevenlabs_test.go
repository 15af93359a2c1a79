package elevenlabs

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("test-key")
	require.NoError(t, err)
	assert.Equal(t, defaultModel, p.model)
	assert.Equal(t, defaultOutputFormat, p.outputFormat)
}

func TestNew_OptionsOverrideDefaults(t *testing.T) {
	p, err := New("test-key", WithModel("eleven_turbo_v2"), WithOutputFormat("pcm_24000"))
	require.NoError(t, err)
	assert.Equal(t, "eleven_turbo_v2", p.model)
	assert.Equal(t, "pcm_24000", p.outputFormat)
}

func TestStreamURLFormat(t *testing.T) {
	p, err := New("test-key")
	require.NoError(t, err)
	url := fmt.Sprintf(streamURLFormat, "voice123", p.model, p.outputFormat)
	assert.True(t, strings.HasPrefix(url, "wss://api.elevenlabs.io/v1/text-to-speech/voice123/stream-input"))
	assert.Contains(t, url, "model_id=eleven_flash_v2_5")
	assert.Contains(t, url, "output_format=pcm_16000")
}

func TestParseVoicesResponse(t *testing.T) {
	body := strings.NewReader(`{"voices":[{"voice_id":"v1","name":"Santa"},{"voice_id":"v2","name":"Narrator"}]}`)
	voices, err := parseVoicesResponse(body)
	require.NoError(t, err)
	require.Len(t, voices, 2)
	assert.Equal(t, "v1", voices[0].ID)
	assert.Equal(t, "Santa", voices[0].Name)
	assert.Equal(t, "elevenlabs", voices[0].Provider)
}

func TestParseVoicesResponse_MalformedJSON(t *testing.T) {
	body := strings.NewReader(`not json`)
	_, err := parseVoicesResponse(body)
	require.Error(t, err)
}
