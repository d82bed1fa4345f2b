package speech

import (
	"context"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dpup/crosswalk/server/internal/audio"
	"github.com/dpup/crosswalk/server/internal/lib/alerts"
	"github.com/dpup/crosswalk/server/internal/lib/failure"
)

// OpenAISynthesizer synthesizes speech with the OpenAI audio API
type OpenAISynthesizer struct {
	client *openai.Client
	model  openai.SpeechModel
	voice  openai.SpeechVoice
}

// NewOpenAISynthesizer creates a synthesizer using the given API key
func NewOpenAISynthesizer(apiKey, model, voice string) *OpenAISynthesizer {
	return NewOpenAISynthesizerWithClient(openai.NewClient(apiKey), model, voice)
}

// NewOpenAISynthesizerWithClient creates a synthesizer with a preconfigured client
func NewOpenAISynthesizerWithClient(client *openai.Client, model, voice string) *OpenAISynthesizer {
	s := &OpenAISynthesizer{
		client: client,
		model:  openai.TTSModel1,
		voice:  openai.VoiceAlloy,
	}
	if model != "" {
		s.model = openai.SpeechModel(model)
	}
	if voice != "" {
		s.voice = openai.SpeechVoice(voice)
	}
	return s
}

// Synthesize requests an MP3 rendition of text
func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text string) (audio.Clip, error) {
	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          s.model,
		Input:          text,
		Voice:          s.voice,
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return audio.Clip{}, fmt.Errorf("%w: OpenAI speech request failed: %v", failure.ErrTransient, err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return audio.Clip{}, failure.Transient("failed to read speech response: %v", err)
	}
	if len(data) == 0 {
		return audio.Clip{}, failure.Malformed("empty audio", fmt.Errorf("no bytes for %q", text))
	}

	return audio.Clip{
		ID:          alerts.HashText(text),
		Text:        text,
		Data:        data,
		ContentType: "audio/mpeg",
	}, nil
}
