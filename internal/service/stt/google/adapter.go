// Package google provides a Google Cloud Speech-to-Text backend.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ai-lecture-transcriber/internal/service/audio"
	"ai-lecture-transcriber/internal/service/stt"
)

// BackendName is the name reported in results and metrics.
const BackendName = "google"

// maxSyncAudio is the longest audio accepted by synchronous Recognize.
const maxSyncAudio = 60 * time.Second

// Config holds Google STT configuration.
type Config struct {
	LanguageCode      string
	SampleRateHz      int32
	AudioEncoding     string
	Model             string
	EnablePunctuation bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		LanguageCode:      "en-US",
		SampleRateHz:      audio.SampleRate,
		AudioEncoding:     "LINEAR16",
		Model:             "latest_long",
		EnablePunctuation: true,
	}
}

// recognizer is the subset of speech.Client used here.
type recognizer interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)
	Close() error
}

type clientRecognizer struct {
	client *speech.Client
}

func (c clientRecognizer) Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
	return c.client.Recognize(ctx, req)
}

func (c clientRecognizer) Close() error { return c.client.Close() }

// Backend implements stt.Backend using synchronous recognition.
type Backend struct {
	cfg    Config
	client recognizer
	logger zerolog.Logger
}

var _ stt.Backend = (*Backend)(nil)

// New creates a Google backend.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*Backend, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, stt.NewError(BackendName, stt.ErrNotConfigured, err)
	}
	return newWithRecognizer(cfg, clientRecognizer{client: c}, logger), nil
}

func newWithRecognizer(cfg Config, r recognizer, logger zerolog.Logger) *Backend {
	if cfg.SampleRateHz == 0 {
		cfg.SampleRateHz = audio.SampleRate
	}
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = DefaultConfig().LanguageCode
	}
	return &Backend{
		cfg:    cfg,
		client: r,
		logger: logger.With().Str("component", "stt_google").Logger(),
	}
}

// Name implements stt.Backend.
func (b *Backend) Name() string { return BackendName }

// Kind implements stt.Backend.
func (b *Backend) Kind() stt.Kind { return stt.KindRemote }

// Close releases the underlying client.
func (b *Backend) Close() error { return b.client.Close() }

// Transcribe implements stt.Backend.
func (b *Backend) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	length := time.Duration(len(req.Samples)) * time.Second / time.Duration(b.cfg.SampleRateHz)
	if length > maxSyncAudio {
		return stt.Result{}, stt.NewError(BackendName, stt.ErrRejected,
			fmt.Errorf("audio length %s exceeds synchronous limit %s", length, maxSyncAudio))
	}

	start := time.Now()
	resp, err := b.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   parseAudioEncoding(b.cfg.AudioEncoding),
			SampleRateHertz:            b.cfg.SampleRateHz,
			LanguageCode:               languageCode(req.Params.Language, b.cfg.LanguageCode),
			Model:                      b.cfg.Model,
			EnableAutomaticPunctuation: b.cfg.EnablePunctuation,
			EnableWordTimeOffsets:      req.Params.WordTimestamps,
			MaxAlternatives:            1,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio.EncodePCM16(req.Samples)},
		},
	})
	if err != nil {
		return stt.Result{}, classify(err)
	}

	res := toResult(resp)
	res.ProcessingTime = time.Since(start)
	return res, nil
}

func toResult(resp *speechpb.RecognizeResponse) stt.Result {
	res := stt.Result{Backend: BackendName}
	var texts []string
	var confSum float64
	var prevEnd int64
	for _, r := range resp.GetResults() {
		if len(r.GetAlternatives()) == 0 {
			continue
		}
		alt := r.GetAlternatives()[0]
		text := strings.TrimSpace(alt.GetTranscript())
		if text == "" {
			continue
		}
		end := prevEnd
		if d := r.GetResultEndTime(); d != nil {
			end = d.AsDuration().Milliseconds()
		}
		// Zero is the API's "not set" value.
		conf := float64(alt.GetConfidence())
		if conf <= 0 {
			conf = stt.DefaultConfidence
		}
		res.Segments = append(res.Segments, stt.Segment{
			StartMs:    prevEnd,
			EndMs:      end,
			Text:       text,
			Confidence: conf,
		})
		prevEnd = end
		texts = append(texts, text)
		confSum += conf
		if res.Language == "" {
			res.Language = r.GetLanguageCode()
		}
	}
	res.Text = strings.Join(texts, " ")
	res.SegmentCount = len(res.Segments)
	if res.SegmentCount > 0 {
		res.Confidence = confSum / float64(res.SegmentCount)
	}
	return res
}

// classify maps gRPC status codes to backend error kinds.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return stt.Classify(BackendName, err)
	}
	switch status.Code(err) {
	case codes.InvalidArgument, codes.PermissionDenied, codes.Unauthenticated, codes.FailedPrecondition:
		return stt.NewError(BackendName, stt.ErrRejected, err)
	case codes.DeadlineExceeded:
		return stt.NewError(BackendName, stt.ErrTimeout, err)
	default:
		return stt.NewError(BackendName, stt.ErrUnavailable, err)
	}
}

// languageCode expands a bare language ("en") to the configured locale when
// they agree, otherwise passes the request language through.
func languageCode(requested, configured string) string {
	if requested == "" || strings.HasPrefix(configured, requested+"-") || requested == configured {
		return configured
	}
	return requested
}

func parseAudioEncoding(s string) speechpb.RecognitionConfig_AudioEncoding {
	switch s {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}
