// Package session owns live transcription sessions: their audio buffers,
// per-session detector and history state, subscribers and lifecycle.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ai-lecture-transcriber/internal/models"
	"ai-lecture-transcriber/internal/observability/metrics"
	"ai-lecture-transcriber/internal/service/audio"
	"ai-lecture-transcriber/internal/service/hallucination"
	"ai-lecture-transcriber/internal/service/pipeline"
	"ai-lecture-transcriber/internal/service/vad"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionInactive  = errors.New("session inactive")
	ErrTooManySessions  = errors.New("too many active sessions")
	ErrAlreadyStarted   = errors.New("orchestrator already started")
	ErrSessionBufferCap = errors.New("session audio limit reached")
)

// Processor runs the transcription stages. *pipeline.Pipeline implements it.
type Processor interface {
	ProcessChunk(ctx context.Context, in pipeline.ChunkInput) pipeline.Output
	ProcessFinal(ctx context.Context, in pipeline.FinalInput) pipeline.Output
}

// Publisher sends transcript events downstream. *events.Publisher
// implements it.
type Publisher interface {
	PublishChunk(ctx context.Context, ev models.TranscriptChunk) error
	PublishFinal(ctx context.Context, ev models.TranscriptFinal) error
}

// Config holds session timing and limits.
type Config struct {
	GracePeriod       time.Duration
	InactivityTimeout time.Duration
	ReapInterval      time.Duration
	HistorySize       int
	SubscriberBuffer  int
	// MaxSessions bounds concurrently open sessions; 0 is unlimited.
	MaxSessions int
	// MaxSessionAudio bounds a session's cumulative audio; 0 is unlimited.
	MaxSessionAudio time.Duration
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		GracePeriod:       5 * time.Second,
		InactivityTimeout: 5 * time.Minute,
		ReapInterval:      5 * time.Minute,
		HistorySize:       hallucination.DefaultContextSize,
		SubscriberBuffer:  32,
		MaxSessionAudio:   3 * time.Hour,
	}
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Pipeline Processor
	// Publisher may be nil.
	Publisher Publisher
	// NewDetector creates a session's VAD detector; nil uses the energy
	// detector.
	NewDetector func() vad.Detector
}

// Orchestrator is the session registry. Chunks of one session are
// processed in order; sessions are independent of each other.
type Orchestrator struct {
	cfg     Config
	deps    Deps
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	sessions map[string]*Session

	now   func() time.Time
	newID func() string

	runMu   sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New creates an orchestrator. Call Start to run the reaper.
func New(cfg Config, deps Deps, logger zerolog.Logger, m *metrics.Metrics) *Orchestrator {
	def := DefaultConfig()
	if cfg.GracePeriod < 0 {
		cfg.GracePeriod = 0
	}
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = def.InactivityTimeout
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = def.ReapInterval
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = def.SubscriberBuffer
	}
	if deps.NewDetector == nil {
		deps.NewDetector = func() vad.Detector { return vad.NewEnergyDetector(vad.DefaultEnergyConfig()) }
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Orchestrator{
		cfg:      cfg,
		deps:     deps,
		logger:   logger.With().Str("component", "session").Logger(),
		metrics:  m,
		sessions: make(map[string]*Session),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// StartSession registers a new session in the CREATED state.
func (o *Orchestrator) StartSession(_ context.Context, clientID string) (Snapshot, error) {
	now := o.now()
	id := o.newID()
	s := &Session{
		ID:        id,
		ClientID:  clientID,
		CreatedAt: now,
		lifecycle: NewLifecycle(id),
		detector:  o.deps.NewDetector(),
		history:   hallucination.NewContext(o.cfg.HistorySize),
		usage:     make(map[string]*BackendUsage),
		subs:      make(map[int]chan models.Update),
	}
	s.touch(now)

	o.mu.Lock()
	if o.cfg.MaxSessions > 0 && len(o.sessions) >= o.cfg.MaxSessions {
		o.mu.Unlock()
		return Snapshot{}, ErrTooManySessions
	}
	o.sessions[s.ID] = s
	o.mu.Unlock()

	o.metrics.RecordSessionStart()
	o.logger.Info().Str("sessionId", s.ID).Str("clientId", clientID).Msg("Session started")
	return s.snapshot(), nil
}

// PushChunk ingests one PCM chunk and runs the live pipeline over it.
// A trailing odd byte is dropped with a warning. Chunks of the same session are
// processed strictly in call order.
func (o *Orchestrator) PushChunk(ctx context.Context, id string, pcm []byte) (models.ChunkResult, error) {
	s, err := o.get(id)
	if err != nil {
		return models.ChunkResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lifecycle.AcceptsChunks() {
		return models.ChunkResult{}, ErrSessionInactive
	}
	start := o.now()
	if len(pcm)%2 != 0 {
		o.logger.Warn().
			Str("sessionId", id).
			Int("bytes", len(pcm)).
			Msg("Odd PCM byte length, dropping trailing byte")
		pcm = pcm[:len(pcm)-1]
	}
	durationMs := audio.DurationMs(pcm)
	if limit := o.cfg.MaxSessionAudio.Milliseconds(); limit > 0 && s.totalMs()+durationMs > limit {
		return models.ChunkResult{}, fmt.Errorf("%w: %d ms", ErrSessionBufferCap, limit)
	}

	s.buffer = append(s.buffer, pcm...)
	s.infoMu.Lock()
	index := s.chunkCount
	s.chunkCount++
	s.totalDurationMs += durationMs
	total := s.totalDurationMs
	s.bufferBytes = len(s.buffer)
	s.infoMu.Unlock()
	s.touch(start)
	if err := s.lifecycle.Activate(); err != nil {
		return models.ChunkResult{}, err
	}

	logger := o.logger.With().Str("sessionId", id).Int("chunkIndex", index).Logger()
	out := o.deps.Pipeline.ProcessChunk(ctx, pipeline.ChunkInput{
		SessionID:         id,
		ChunkIndex:        index,
		PCM:               pcm,
		SessionDurationMs: total,
		Detector:          s.detector,
		History:           s.history,
	})
	s.recordUsage(out)

	res := models.ChunkResult{
		SessionID:       id,
		ChunkIndex:      index,
		BytesProcessed:  len(pcm),
		AudioStats:      out.Stats,
		Transcript:      out.Transcript,
		Confidence:      out.Confidence,
		ConfidenceLevel: out.Level,
		TotalDurationMs: total,
		Status:          models.StatusProcessed,
		Success:         out.Success,
		Reason:          out.Reason,
		Backend:         out.Backend,
		FallbackUsed:    out.FallbackUsed,
		FallbackReason:  out.FallbackReason,
		ProcessingMs:    o.now().Sub(start).Milliseconds(),
	}
	if out.Err != nil {
		res.Status = models.StatusError
		res.Error = out.Err.Error()
	}

	if out.Transcript != "" {
		s.addPiece(piece{
			startMs:    total - durationMs,
			endMs:      total,
			text:       out.Transcript,
			confidence: out.Confidence,
		})
		ev := models.TranscriptChunk{
			EventType:       models.EventTypeChunk,
			SessionID:       id,
			ClientID:        s.ClientID,
			Timestamp:       o.now().UnixMilli(),
			ChunkIndex:      index,
			Text:            out.Transcript,
			Confidence:      out.Confidence,
			TotalDurationMs: total,
			Backend:         out.Backend,
			FallbackUsed:    out.FallbackUsed,
		}
		o.metrics.RecordSubscriberDrops(s.broadcast(models.Update{Chunk: &ev}, logger))
		if o.deps.Publisher != nil {
			if err := o.deps.Publisher.PublishChunk(ctx, ev); err != nil {
				logger.Warn().Err(err).Msg("Failed to publish chunk event")
			}
		}
	}

	o.metrics.RecordChunk(res.Status, len(pcm), o.now().Sub(start).Seconds())
	logger.Debug().
		Str("status", res.Status).
		Str("reason", res.Reason).
		Int("chars", len(res.Transcript)).
		Float64("confidence", res.Confidence).
		Msg("Chunk processed")
	return res, nil
}

// StopSession runs the final pass over the session's audio and schedules
// the session to close. When the final pass fails the transcript is
// salvaged from the chunk results, the error is reported in the result and
// the session closes immediately.
func (o *Orchestrator) StopSession(ctx context.Context, id string) (models.FinalResult, error) {
	s, err := o.get(id)
	if err != nil {
		return models.FinalResult{}, err
	}

	s.mu.Lock()
	if err := s.lifecycle.BeginFinalize(); err != nil {
		s.mu.Unlock()
		return models.FinalResult{}, err
	}
	logger := o.logger.With().Str("sessionId", id).Logger()
	res, failed := o.finalize(ctx, s, logger)
	s.buffer = nil
	s.mu.Unlock()

	ev := models.TranscriptFinal{
		EventType:       models.EventTypeFinal,
		SessionID:       id,
		ClientID:        s.ClientID,
		Timestamp:       o.now().UnixMilli(),
		Status:          res.Status,
		Text:            res.FinalTranscript,
		Confidence:      res.Confidence,
		TotalChunks:     res.TotalChunks,
		TotalDurationMs: res.TotalDurationMs,
		Paragraphs:      res.Paragraphs,
		Error:           res.Error,
	}
	o.metrics.RecordSubscriberDrops(s.finish(ev, logger))
	if o.deps.Publisher != nil {
		if err := o.deps.Publisher.PublishFinal(ctx, ev); err != nil {
			logger.Warn().Err(err).Msg("Failed to publish final event")
		}
	}
	o.metrics.RecordFinalized(float64(res.TotalDurationMs)/1000, failed)

	if failed || o.cfg.GracePeriod == 0 {
		o.closeSession(s, false)
	} else {
		s.graceTimer.Store(time.AfterFunc(o.cfg.GracePeriod, func() { o.closeSession(s, false) }))
	}

	logger.Info().
		Str("status", res.Status).
		Int("chunks", res.TotalChunks).
		Int64("durationMs", res.TotalDurationMs).
		Bool("failed", failed).
		Msg("Session finalized")
	return res, nil
}

func (o *Orchestrator) finalize(ctx context.Context, s *Session, logger zerolog.Logger) (models.FinalResult, bool) {
	info := s.info()
	res := models.FinalResult{
		SessionID:       s.ID,
		Status:          models.FinalEmpty,
		TotalChunks:     info.chunkCount,
		TotalDurationMs: info.totalDurationMs,
		Paragraphs:      []models.Paragraph{},
		Utterances:      []models.Utterance{},
	}
	if info.chunkCount == 0 || len(s.buffer) == 0 {
		res.AudioStats = audio.ComputeStats(nil)
		res.Reason = pipeline.ReasonNoSpeech
		return res, false
	}

	out := o.deps.Pipeline.ProcessFinal(ctx, pipeline.FinalInput{SessionID: s.ID, PCM: s.buffer})
	res.AudioStats = out.Stats
	res.Backend = out.Backend
	res.Reason = out.Reason
	s.recordUsage(out)

	if out.Err == nil && out.Transcript != "" {
		res.Status = models.FinalCompleted
		res.FinalTranscript = out.Transcript
		res.Confidence = out.Confidence
		res.ConfidenceLevel = out.Level
		res.Utterances = utterancesFromSegments(out.Segments)
		if len(res.Utterances) == 0 {
			res.Utterances = []models.Utterance{{
				EndMs: info.totalDurationMs, Text: out.Transcript, Confidence: out.Confidence,
			}}
		}
		res.Paragraphs = paragraphs(res.Utterances)
		return res, false
	}

	failed := out.Err != nil
	if failed {
		res.Error = out.Err.Error()
		logger.Warn().Err(out.Err).Msg("Final pass failed, salvaging chunk transcripts")
	}
	res.Utterances = info.utterances()
	if len(res.Utterances) > 0 {
		res.Status = models.FinalPartial
		res.FinalTranscript = joinUtterances(res.Utterances)
		res.Confidence = info.meanConfidence()
		res.Paragraphs = paragraphs(res.Utterances)
	}
	return res, failed
}

// Subscribe returns a channel that receives the session's transcript
// updates until the session closes, and a function that unsubscribes.
// Updates are dropped for a subscriber whose buffer is full.
func (o *Orchestrator) Subscribe(id string) (<-chan models.Update, func(), error) {
	s, err := o.get(id)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel, ok := s.subscribe(o.cfg.SubscriberBuffer)
	if !ok {
		return nil, nil, ErrSessionInactive
	}
	return ch, cancel, nil
}

// Snapshot returns the current state of one session.
func (o *Orchestrator) Snapshot(id string) (Snapshot, error) {
	s, err := o.get(id)
	if err != nil {
		return Snapshot{}, err
	}
	return s.snapshot(), nil
}

// List returns snapshots of all registered sessions, oldest first.
func (o *Orchestrator) List() []Snapshot {
	o.mu.RLock()
	out := make([]Snapshot, 0, len(o.sessions))
	for _, s := range o.sessions {
		out = append(out, s.snapshot())
	}
	o.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ResetSession clears the session's VAD state and transcript history.
func (o *Orchestrator) ResetSession(id string) error {
	s, err := o.get(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lifecycle.AcceptsChunks() {
		return ErrSessionInactive
	}
	s.detector.Reset()
	s.history.Reset()
	o.logger.Info().Str("sessionId", id).Msg("Session state reset")
	return nil
}

// Start runs the inactivity reaper until ctx is cancelled or Shutdown is
// called.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	if o.started {
		return ErrAlreadyStarted
	}
	ctx, o.cancel = context.WithCancel(ctx)
	o.started = true

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(o.cfg.ReapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := o.Reap(); n > 0 {
					o.logger.Info().Int("reaped", n).Msg("Closed inactive sessions")
				}
			}
		}
	}()
	o.logger.Info().
		Dur("reapInterval", o.cfg.ReapInterval).
		Dur("inactivityTimeout", o.cfg.InactivityTimeout).
		Msg("Session reaper started")
	return nil
}

// Reap closes sessions idle for longer than the inactivity timeout and
// returns how many it closed. Sessions with a chunk in flight are skipped.
func (o *Orchestrator) Reap() int {
	cutoff := o.now().Add(-o.cfg.InactivityTimeout)
	o.mu.RLock()
	var idle []*Session
	for _, s := range o.sessions {
		if s.lastActivityTime().Before(cutoff) {
			idle = append(idle, s)
		}
	}
	o.mu.RUnlock()

	n := 0
	for _, s := range idle {
		if !s.mu.TryLock() {
			continue
		}
		s.buffer = nil
		s.mu.Unlock()
		if o.closeSession(s, true) {
			n++
		}
	}
	return n
}

// Shutdown stops the reaper and closes every session.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.runMu.Lock()
	if o.cancel != nil {
		o.cancel()
	}
	o.runMu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	o.mu.RLock()
	all := make([]*Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		all = append(all, s)
	}
	o.mu.RUnlock()
	for _, s := range all {
		o.closeSession(s, false)
	}
	o.logger.Info().Int("sessions", len(all)).Msg("Session orchestrator stopped")
	return nil
}

// closeSession moves s to CLOSED, closes its subscribers and removes it
// from the registry. Returns false if s was already closed.
func (o *Orchestrator) closeSession(s *Session, reaped bool) bool {
	if t := s.graceTimer.Load(); t != nil {
		t.Stop()
	}
	if !s.lifecycle.Close() {
		return false
	}
	o.mu.Lock()
	delete(o.sessions, s.ID)
	o.mu.Unlock()
	s.closeSubscribers()

	o.metrics.RecordSessionEnd(reaped)
	o.logger.Info().Str("sessionId", s.ID).Bool("reaped", reaped).Msg("Session closed")
	return true
}

func (o *Orchestrator) get(id string) (*Session, error) {
	o.mu.RLock()
	s, ok := o.sessions[id]
	o.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// BackendUsage counts inference calls a session made per backend.
type BackendUsage struct {
	Calls     int64 `json:"calls"`
	Fallbacks int64 `json:"fallbacks"`
	Failures  int64 `json:"failures"`
}

// Snapshot is a point-in-time copy of a session's state.
type Snapshot struct {
	ID              string                  `json:"id"`
	ClientID        string                  `json:"clientId,omitempty"`
	State           string                  `json:"state"`
	CreatedAt       time.Time               `json:"createdAt"`
	LastActivity    time.Time               `json:"lastActivity"`
	ChunkCount      int                     `json:"chunkCount"`
	TotalDurationMs int64                   `json:"totalDurationMs"`
	BufferBytes     int                     `json:"bufferBytes"`
	Subscribers     int                     `json:"subscribers"`
	Transcript      string                  `json:"transcript"`
	BackendUsage    map[string]BackendUsage `json:"backendUsage"`
}

// piece is one accepted chunk transcript.
type piece struct {
	startMs    int64
	endMs      int64
	text       string
	confidence float64
}

// Session is one live recording. mu serializes chunk processing and
// guards the buffer, detector and history; infoMu guards the counters read
// by snapshots.
type Session struct {
	ID        string
	ClientID  string
	CreatedAt time.Time

	lifecycle *Lifecycle

	mu       sync.Mutex
	buffer   []byte
	detector vad.Detector
	history  *hallucination.Context

	infoMu          sync.Mutex
	chunkCount      int
	totalDurationMs int64
	bufferBytes     int
	pieces          []piece
	usage           map[string]*BackendUsage

	lastActivity atomic.Int64
	graceTimer   atomic.Pointer[time.Timer]

	subMu   sync.Mutex
	subs    map[int]chan models.Update
	nextSub int
	final   *models.TranscriptFinal
}

func (s *Session) touch(t time.Time) { s.lastActivity.Store(t.UnixNano()) }

func (s *Session) lastActivityTime() time.Time { return time.Unix(0, s.lastActivity.Load()) }

func (s *Session) totalMs() int64 {
	s.infoMu.Lock()
	defer s.infoMu.Unlock()
	return s.totalDurationMs
}

func (s *Session) addPiece(p piece) {
	s.infoMu.Lock()
	s.pieces = append(s.pieces, p)
	s.infoMu.Unlock()
}

func (s *Session) recordUsage(out pipeline.Output) {
	if out.Backend == "" {
		return
	}
	s.infoMu.Lock()
	defer s.infoMu.Unlock()
	u, ok := s.usage[out.Backend]
	if !ok {
		u = &BackendUsage{}
		s.usage[out.Backend] = u
	}
	u.Calls++
	if out.FallbackUsed {
		u.Fallbacks++
	}
	if !out.Success {
		u.Failures++
	}
}

// sessionInfo is a consistent copy of the counters.
type sessionInfo struct {
	chunkCount      int
	totalDurationMs int64
	pieces          []piece
}

func (s *Session) info() sessionInfo {
	s.infoMu.Lock()
	defer s.infoMu.Unlock()
	return sessionInfo{
		chunkCount:      s.chunkCount,
		totalDurationMs: s.totalDurationMs,
		pieces:          append([]piece(nil), s.pieces...),
	}
}

func (i sessionInfo) utterances() []models.Utterance {
	out := make([]models.Utterance, len(i.pieces))
	for n, p := range i.pieces {
		out[n] = models.Utterance{Index: n, StartMs: p.startMs, EndMs: p.endMs, Text: p.text, Confidence: p.confidence}
	}
	return out
}

func (i sessionInfo) meanConfidence() float64 {
	if len(i.pieces) == 0 {
		return 0
	}
	var sum float64
	for _, p := range i.pieces {
		sum += p.confidence
	}
	return sum / float64(len(i.pieces))
}

func (s *Session) snapshot() Snapshot {
	s.infoMu.Lock()
	snap := Snapshot{
		ID:              s.ID,
		ClientID:        s.ClientID,
		CreatedAt:       s.CreatedAt,
		ChunkCount:      s.chunkCount,
		TotalDurationMs: s.totalDurationMs,
		BufferBytes:     s.bufferBytes,
		BackendUsage:    make(map[string]BackendUsage, len(s.usage)),
	}
	texts := make([]string, len(s.pieces))
	for i, p := range s.pieces {
		texts[i] = p.text
	}
	for name, u := range s.usage {
		snap.BackendUsage[name] = *u
	}
	s.infoMu.Unlock()

	snap.Transcript = strings.Join(texts, " ")
	snap.State = s.lifecycle.State().String()
	snap.LastActivity = s.lastActivityTime()
	s.subMu.Lock()
	snap.Subscribers = len(s.subs)
	s.subMu.Unlock()
	return snap
}

func (s *Session) subscribe(buffer int) (<-chan models.Update, func(), bool) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.lifecycle.IsClosed() {
		return nil, nil, false
	}
	id := s.nextSub
	s.nextSub++
	ch := make(chan models.Update, buffer)
	s.subs[id] = ch
	if s.final != nil {
		final := *s.final
		ch <- models.Update{Final: &final}
	}
	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
	return ch, cancel, true
}

// broadcast delivers u to every subscriber without blocking. Each
// subscriber gets its own copy. It returns the number of dropped updates.
func (s *Session) broadcast(u models.Update, logger zerolog.Logger) int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return s.broadcastLocked(u, logger)
}

func (s *Session) broadcastLocked(u models.Update, logger zerolog.Logger) int {
	dropped := 0
	for id, ch := range s.subs {
		cp := models.Update{}
		if u.Chunk != nil {
			c := *u.Chunk
			cp.Chunk = &c
		}
		if u.Final != nil {
			f := *u.Final
			f.Paragraphs = append([]models.Paragraph(nil), u.Final.Paragraphs...)
			cp.Final = &f
		}
		select {
		case ch <- cp:
		default:
			dropped++
			logger.Warn().Int("subscriber", id).Msg("Update dropped: subscriber buffer full")
		}
	}
	return dropped
}

// finish stores the final event for late subscribers and broadcasts it.
func (s *Session) finish(ev models.TranscriptFinal, logger zerolog.Logger) int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.final = &ev
	return s.broadcastLocked(models.Update{Final: &ev}, logger)
}

func (s *Session) closeSubscribers() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
