package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/stillmind/backend/pkg/services"
)

// submitRequest is the POST /api/generations payload.
type submitRequest struct {
	VisualPrompt    string  `json:"visual_prompt"`
	ScriptType      string  `json:"script_type"`
	ScriptContent   string  `json:"script_content"`
	DurationSeconds int     `json:"duration_seconds"`
	AmbientSoundID  *string `json:"ambient_sound_id"`
	MusicTrackID    *string `json:"music_track_id"`
	Visibility      string  `json:"visibility"`
}

// handleSubmit accepts a new generation request.
func (s *Server) handleSubmit(c *gin.Context) {
	var body submitRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	req, err := s.submission.Submit(c.Request.Context(), currentUserID(c), services.SubmitInput{
		VisualPrompt:    body.VisualPrompt,
		ScriptType:      body.ScriptType,
		ScriptContent:   body.ScriptContent,
		DurationSeconds: body.DurationSeconds,
		AmbientSoundID:  body.AmbientSoundID,
		MusicTrackID:    body.MusicTrackID,
		Visibility:      body.Visibility,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

// handleList returns one page of the caller's requests.
func (s *Server) handleList(c *gin.Context) {
	page, ok := intQuery(c, "page")
	if !ok {
		return
	}
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}

	result, err := s.generations.List(c.Request.Context(), currentUserID(c),
		page, limit, c.Query("status"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleProgress returns the progress view of one owned request.
func (s *Server) handleProgress(c *gin.Context) {
	progress, err := s.generations.GetProgress(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, progress)
}

// intQuery parses an optional integer query parameter. Absent means zero;
// unparseable writes the 400 and reports false.
func intQuery(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be an integer"})
		return 0, false
	}
	return v, true
}
