package server

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smartchecklab/smartcheck/internal/autofill"
	"github.com/smartchecklab/smartcheck/internal/checklist"
)

type openVoiceSessionPayload struct {
	SheetID    string `json:"sheet_id"`
	GroupID    int64  `json:"group_id"`
	Flow       string `json:"flow"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

func (h *httpHandler) handleOpenVoiceSession(c *gin.Context) {
	userID, ok := h.requestUser(c)
	if !ok {
		return
	}
	if h.voiceSessions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "voice_capture_not_configured"})
		return
	}

	var request openVoiceSessionPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	sheetID, err := checklist.NewSheetID(request.SheetID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_sheet_id"})
		return
	}
	flow, err := autofill.ParseVoiceFlow(request.Flow)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_flow"})
		return
	}

	session, err := h.voiceSessions.Open(autofill.NewSessionInput{
		SheetID:    sheetID,
		GroupID:    request.GroupID,
		UserID:     userID,
		Flow:       flow,
		Encoding:   autofill.CaptureEncoding(request.Encoding),
		SampleRate: request.SampleRate,
		Channels:   request.Channels,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_audio_format"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": session.ID})
}

type appendFramesPayload struct {
	Frames string `json:"frames"`
}

func (h *httpHandler) handleAppendVoiceFrames(c *gin.Context) {
	if _, ok := h.requestUser(c); !ok {
		return
	}
	if h.voiceSessions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "voice_capture_not_configured"})
		return
	}

	var request appendFramesPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	frames, err := base64.StdEncoding.DecodeString(strings.TrimSpace(request.Frames))
	if err != nil || len(frames) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_frames"})
		return
	}

	switch err := h.voiceSessions.Append(c.Param("id"), frames); {
	case errors.Is(err, autofill.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_frames"})
	default:
		c.JSON(http.StatusOK, gin.H{"session_id": c.Param("id")})
	}
}

func (h *httpHandler) handleCompleteVoiceSession(c *gin.Context) {
	if _, ok := h.requestUser(c); !ok {
		return
	}
	if h.voice == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "voice_capture_not_configured"})
		return
	}

	outcome, err := h.voice.Complete(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, autofill.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
		return
	case errors.Is(err, autofill.ErrInvalidAudio):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_audio"})
		return
	case err != nil:
		h.logger.Error("voice completion failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sheet_id":   outcome.SheetID.String(),
		"transcript": outcome.Transcript,
		"results":    renderResults(outcome.Results),
		"remarks":    outcome.Remarks,
	})
}
