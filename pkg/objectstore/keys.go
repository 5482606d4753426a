// Package objectstore wraps S3-compatible object storage with the
// streaming upload/download operations the pipeline needs.
package objectstore

import "fmt"

// Content types for the artifacts this service stores.
const (
	ContentTypeMP3  = "audio/mpeg"
	ContentTypeMP4  = "video/mp4"
	ContentTypeJPEG = "image/jpeg"
)

// VoiceoverKey is the stage-3 intermediate narration for a request.
func VoiceoverKey(requestID string) string {
	return fmt.Sprintf("generations/%s/voiceover.mp3", requestID)
}

// FinalVideoKey is the composed output for a request.
func FinalVideoKey(requestID string) string {
	return fmt.Sprintf("videos/%s/final.mp4", requestID)
}

// ThumbnailKey is the thumbnail for a request's final video.
func ThumbnailKey(requestID string) string {
	return fmt.Sprintf("videos/%s/thumbnail.jpg", requestID)
}

// AmbientSoundKey locates a library ambient-sound asset.
func AmbientSoundKey(soundID string) string {
	return fmt.Sprintf("library/ambient/%s.mp3", soundID)
}

// MusicTrackKey locates a library music-track asset.
func MusicTrackKey(trackID string) string {
	return fmt.Sprintf("library/music/%s.mp3", trackID)
}
