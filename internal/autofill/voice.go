package autofill

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smartchecklab/smartcheck/internal/checklist"
)

// VoiceFlow selects which side of the sheet a spoken pass fills in.
type VoiceFlow string

const (
	// VoiceFlowCheck fills the check-side results while the sheet stays in
	// the checking state.
	VoiceFlowCheck VoiceFlow = "check"
	// VoiceFlowReview fills the review-side results and moves the sheet to
	// review_waiting.
	VoiceFlowReview VoiceFlow = "review"
)

var (
	ErrSessionNotFound      = errors.New("autofill: voice session not found")
	ErrInvalidVoiceFlow     = errors.New("autofill: invalid voice flow")
	ErrInvalidCaptureFormat = errors.New("autofill: invalid capture encoding")
)

// ParseVoiceFlow validates a raw flow value.
func ParseVoiceFlow(value string) (VoiceFlow, error) {
	switch VoiceFlow(value) {
	case VoiceFlowCheck:
		return VoiceFlowCheck, nil
	case VoiceFlowReview:
		return VoiceFlowReview, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidVoiceFlow, value)
	}
}

// CaptureEncoding identifies how a session's buffered frames are encoded.
type CaptureEncoding string

const (
	// EncodingPCM16 is raw little-endian 16-bit PCM at the rate and channel
	// count declared when the session was opened.
	EncodingPCM16 CaptureEncoding = "pcm16"
	// EncodingWAV is a complete WAV file; rate and channels come from its
	// header.
	EncodingWAV CaptureEncoding = "wav"
)

// ParseCaptureEncoding validates a raw encoding value. Empty defaults to
// raw PCM.
func ParseCaptureEncoding(value string) (CaptureEncoding, error) {
	switch CaptureEncoding(value) {
	case "", EncodingPCM16:
		return EncodingPCM16, nil
	case EncodingWAV:
		return EncodingWAV, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCaptureFormat, value)
	}
}

// CaptureSession accumulates raw PCM frames for one spoken pass over a
// sheet. Sessions are keyed per request; no ambient per-user state exists.
type CaptureSession struct {
	ID         string
	SheetID    checklist.SheetID
	GroupID    int64
	UserID     checklist.UserID
	Flow       VoiceFlow
	Encoding   CaptureEncoding
	SampleRate int
	Channels   int
	CreatedAt  time.Time

	frames []byte
}

// SessionRegistry tracks in-flight capture sessions.
type SessionRegistry struct {
	mu         sync.RWMutex
	sessions   map[string]*CaptureSession
	idProvider func() string
	clock      func() time.Time
}

// NewSessionRegistry builds an empty registry. idProvider and clock may be
// nil; defaults are uuid v4 and time.Now.
func NewSessionRegistry(idProvider func() string, clock func() time.Time) *SessionRegistry {
	if idProvider == nil {
		idProvider = uuid.NewString
	}
	if clock == nil {
		clock = time.Now
	}
	return &SessionRegistry{
		sessions:   make(map[string]*CaptureSession),
		idProvider: idProvider,
		clock:      clock,
	}
}

// NewSessionInput describes the sheet and audio format of one capture.
type NewSessionInput struct {
	SheetID    checklist.SheetID
	GroupID    int64
	UserID     checklist.UserID
	Flow       VoiceFlow
	Encoding   CaptureEncoding
	SampleRate int
	Channels   int
}

// Open registers a capture session and returns its identifier. WAV captures
// carry rate and channels in their header, so the format checks apply to
// raw PCM only.
func (r *SessionRegistry) Open(input NewSessionInput) (*CaptureSession, error) {
	encoding, err := ParseCaptureEncoding(string(input.Encoding))
	if err != nil {
		return nil, err
	}
	if encoding == EncodingPCM16 {
		if input.SampleRate <= 0 {
			return nil, fmt.Errorf("%w: sample rate %d", ErrInvalidAudio, input.SampleRate)
		}
		if input.Channels != 1 && input.Channels != 2 {
			return nil, fmt.Errorf("%w: unsupported channel count %d", ErrInvalidAudio, input.Channels)
		}
	}
	if _, err := ParseVoiceFlow(string(input.Flow)); err != nil {
		return nil, err
	}

	session := &CaptureSession{
		ID:         r.idProvider(),
		SheetID:    input.SheetID,
		GroupID:    input.GroupID,
		UserID:     input.UserID,
		Flow:       input.Flow,
		Encoding:   encoding,
		SampleRate: input.SampleRate,
		Channels:   input.Channels,
		CreatedAt:  r.clock(),
	}

	r.mu.Lock()
	r.sessions[session.ID] = session
	r.mu.Unlock()
	return session, nil
}

// Append adds a raw PCM frame chunk to the session buffer.
func (r *SessionRegistry) Append(sessionID string, frames []byte) error {
	if len(frames) == 0 {
		return fmt.Errorf("%w: empty frame chunk", ErrInvalidAudio)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	session.frames = append(session.frames, frames...)
	return nil
}

// Take removes the session from the registry and returns it for processing.
func (r *SessionRegistry) Take(sessionID string) (*CaptureSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	delete(r.sessions, sessionID)
	return session, nil
}

// Discard drops the session without processing it.
func (r *SessionRegistry) Discard(sessionID string) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
}

// Transcriber converts one prepared clip into text.
type Transcriber interface {
	Transcribe(ctx context.Context, clip Clip) (string, error)
}

// VoiceServiceConfig bundles dependencies of the voice auto-fill flow.
type VoiceServiceConfig struct {
	Checklist *checklist.Service
	Registry  *SessionRegistry
	Speech    Transcriber
	Generator ProposalGenerator
	Logger    *zap.Logger
}

// VoiceService turns completed capture sessions into saved sheet results.
type VoiceService struct {
	checklist *checklist.Service
	registry  *SessionRegistry
	speech    Transcriber
	generator ProposalGenerator
	logger    *zap.Logger
}

var errMissingVoiceDeps = errors.New("autofill: checklist service, registry, transcriber and generator required")

// NewVoiceService validates dependencies and builds the service.
func NewVoiceService(cfg VoiceServiceConfig) (*VoiceService, error) {
	if cfg.Checklist == nil || cfg.Registry == nil || cfg.Speech == nil || cfg.Generator == nil {
		return nil, errMissingVoiceDeps
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VoiceService{
		checklist: cfg.Checklist,
		registry:  cfg.Registry,
		speech:    cfg.Speech,
		generator: cfg.Generator,
		logger:    logger,
	}, nil
}

// VoiceOutcome reports what a completed session produced.
type VoiceOutcome struct {
	SheetID    checklist.SheetID
	Transcript string
	Results    checklist.ResultSet
	Remarks    string
}

// Complete closes the capture session, transcribes its audio, asks the model
// to fill the checklist, merges the proposals into the stored results and
// saves them. Machine output never substitutes for existing human input:
// proposals only add checks and append remarks.
func (s *VoiceService) Complete(ctx context.Context, sessionID string) (VoiceOutcome, error) {
	session, err := s.registry.Take(sessionID)
	if err != nil {
		return VoiceOutcome{}, err
	}
	if len(session.frames) == 0 {
		return VoiceOutcome{}, fmt.Errorf("%w: session holds no audio", ErrInvalidAudio)
	}

	clip, err := s.decode(session)
	if err != nil {
		return VoiceOutcome{}, err
	}

	transcript, err := s.speech.Transcribe(ctx, clip.ForTranscription())
	if err != nil {
		return VoiceOutcome{}, err
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		s.logger.Warn("no speech detected, skipping auto-fill",
			zap.String("sheet_id", string(session.SheetID)),
			zap.String("flow", string(session.Flow)))
		return VoiceOutcome{SheetID: session.SheetID}, nil
	}

	sections, err := s.checklist.LoadChecklist(ctx, session.GroupID, session.UserID)
	if err != nil {
		return VoiceOutcome{}, err
	}
	items := checklist.FlatChecklistItems(sections)
	if len(items) == 0 {
		return VoiceOutcome{}, fmt.Errorf("autofill: group %d has no open checklist items", session.GroupID)
	}

	proposals, err := s.generator.GenerateProposals(ctx, BuildVoicePrompt(transcript, items))
	if err != nil {
		return VoiceOutcome{}, err
	}
	proposed, overallRemarks, err := SplitProposals(proposals)
	if err != nil {
		return VoiceOutcome{}, err
	}

	base, err := s.mergeBase(ctx, session)
	if err != nil {
		return VoiceOutcome{}, err
	}
	merged := checklist.MergeSets(base, proposed)

	if err := s.save(ctx, session, merged, overallRemarks); err != nil {
		return VoiceOutcome{}, err
	}

	s.logger.Info("voice auto-fill saved",
		zap.String("sheet_id", string(session.SheetID)),
		zap.String("flow", string(session.Flow)),
		zap.Int("items", len(merged)))

	return VoiceOutcome{
		SheetID:    session.SheetID,
		Transcript: transcript,
		Results:    merged,
		Remarks:    overallRemarks,
	}, nil
}

// decode turns the buffered frames into a mono clip per the session's
// declared encoding.
func (s *VoiceService) decode(session *CaptureSession) (Clip, error) {
	if session.Encoding == EncodingWAV {
		return DecodeWAV(session.frames)
	}
	return DecodePCM16(session.frames, session.SampleRate, session.Channels)
}

// mergeBase picks the result set the spoken pass merges into. The check flow
// starts from existing check rows and falls back to the reviewer's rows when
// no check pass was saved yet; the review flow always starts from the review
// rows.
func (s *VoiceService) mergeBase(ctx context.Context, session *CaptureSession) (checklist.ResultSet, error) {
	if session.Flow == VoiceFlowReview {
		return s.checklist.LoadResults(ctx, session.SheetID, checklist.ResultTypeReview)
	}

	base, err := s.checklist.LoadResults(ctx, session.SheetID, checklist.ResultTypeCheck)
	if err != nil {
		return nil, err
	}
	if len(base) > 0 {
		return base, nil
	}
	return s.checklist.LoadResults(ctx, session.SheetID, checklist.ResultTypeReview)
}

func (s *VoiceService) save(ctx context.Context, session *CaptureSession, merged checklist.ResultSet, remarks string) error {
	switch session.Flow {
	case VoiceFlowCheck:
		_, err := s.checklist.SaveResults(ctx, checklist.SaveResultsRequest{
			SheetID:      session.SheetID,
			Results:      merged,
			CheckRemarks: remarks,
			UserID:       session.UserID,
			GroupID:      session.GroupID,
			Status:       checklist.SheetStatusChecking,
		})
		return err
	case VoiceFlowReview:
		return s.checklist.SaveReview(ctx, checklist.SaveReviewRequest{
			SheetID:       session.SheetID,
			Results:       merged,
			ReviewRemarks: remarks,
			UserID:        session.UserID,
			Status:        checklist.SheetStatusReviewWaiting,
		})
	default:
		return fmt.Errorf("%w: %q", ErrInvalidVoiceFlow, session.Flow)
	}
}
