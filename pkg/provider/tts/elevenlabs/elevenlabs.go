// Package elevenlabs implements tts.Provider against ElevenLabs' streaming
// text-to-speech WebSocket API. Adapted from MrWong99-glyphoxa's
// pkg/provider/tts/elevenlabs (BOI handshake message, flush-on-empty-text
// protocol, base64 PCM frames), swapping coder/websocket for
// gorilla/websocket.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/rediai/broker/pkg/provider/tts"
)

const (
	streamURLFormat = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=%s"
	voicesURL       = "https://api.elevenlabs.io/v1/voices"

	defaultModel        = "eleven_flash_v2_5"
	defaultOutputFormat = "pcm_16000"

	defaultStability       = 0.5
	defaultSimilarityBoost = 0.75
)

// Provider implements tts.Provider over the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	dialer       *websocket.Dialer
	httpClient   *http.Client
}

// Option configures Provider construction.
type Option func(*Provider)

// WithModel overrides the default ElevenLabs model id.
func WithModel(model string) Option { return func(p *Provider) { p.model = model } }

// WithOutputFormat overrides the default PCM output format.
func WithOutputFormat(format string) Option {
	return func(p *Provider) { p.outputFormat = format }
}

// New constructs a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFormat,
		dialer:       websocket.DefaultDialer,
		httpClient:   http.DefaultClient,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type boiMessage struct {
	Text          string        `json:"text"`
	VoiceSettings voiceSettings `json:"voice_settings"`
	XIAPIKey      string        `json:"xi_api_key"`
	OutputFormat  string        `json:"output_format"`
}

type chunkMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

type flushMessage struct {
	Text string `json:"text"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type ttsResponse struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message"`
}

// SynthesizeStream opens a streaming synthesis session, feeding text chunks
// in as they arrive on textCh and emitting raw PCM audio chunks.
func (p *Provider) SynthesizeStream(ctx context.Context, textCh <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	wsURL := fmt.Sprintf(streamURLFormat, voice.ID, p.model, p.outputFormat)

	conn, _, err := p.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}

	boi := boiMessage{
		Text: " ",
		VoiceSettings: voiceSettings{
			Stability:       defaultStability,
			SimilarityBoost: defaultSimilarityBoost,
		},
		XIAPIKey:     p.apiKey,
		OutputFormat: p.outputFormat,
	}
	if err := conn.WriteJSON(boi); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("elevenlabs: handshake: %w", err)
	}

	audio := make(chan []byte, 32)

	go p.writeLoop(ctx, conn, textCh)
	go readLoop(conn, audio)

	return audio, nil
}

func (p *Provider) writeLoop(ctx context.Context, conn *websocket.Conn, textCh <-chan string) {
	first := true
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteJSON(flushMessage{Text: ""})
			return
		case text, ok := <-textCh:
			if !ok {
				_ = conn.WriteJSON(flushMessage{Text: ""})
				return
			}

			msg := chunkMessage{Text: text}
			if first {
				settings := voiceSettings{Stability: defaultStability, SimilarityBoost: defaultSimilarityBoost}
				msg.VoiceSettings = &settings
				first = false
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

func readLoop(conn *websocket.Conn, audio chan<- []byte) {
	defer close(audio)
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var resp ttsResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			continue
		}

		if resp.Audio != "" {
			decoded, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err == nil {
				audio <- decoded
			}
		}
		if resp.IsFinal {
			return
		}
	}
}

// listVoicesResponse mirrors ElevenLabs' GET /v1/voices payload shape.
type listVoicesResponse struct {
	Voices []struct {
		VoiceID string `json:"voice_id"`
		Name    string `json:"name"`
	} `json:"voices"`
}

// ListVoices fetches the available voice catalogue for this account.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, voicesURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: unexpected status %d", resp.StatusCode)
	}

	return parseVoicesResponse(resp.Body)
}

func parseVoicesResponse(body interface {
	Read(p []byte) (n int, err error)
}) ([]tts.VoiceProfile, error) {
	var parsed listVoicesResponse
	if err := json.NewDecoder(body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("elevenlabs: decode voices: %w", err)
	}

	voices := make([]tts.VoiceProfile, 0, len(parsed.Voices))
	for _, v := range parsed.Voices {
		voices = append(voices, tts.VoiceProfile{ID: v.VoiceID, Name: v.Name, Provider: "elevenlabs"})
	}
	return voices, nil
}
