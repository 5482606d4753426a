package objectstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "generations/req-1/voiceover.mp3", VoiceoverKey("req-1"))
	assert.Equal(t, "videos/req-1/final.mp4", FinalVideoKey("req-1"))
	assert.Equal(t, "videos/req-1/thumbnail.jpg", ThumbnailKey("req-1"))
	assert.Equal(t, "library/ambient/amb-1.mp3", AmbientSoundKey("amb-1"))
	assert.Equal(t, "library/music/mus-1.mp3", MusicTrackKey("mus-1"))
}
