// Package composer mixes the generated video with narration and optional
// background audio into the final deliverable.
package composer

import (
	"context"
	"io"
	"os"
)

// Inputs are the media streams for one composition. Video and Voiceover
// are required; Ambient and Music are optional background layers.
type Inputs struct {
	Video     io.Reader
	Voiceover io.Reader
	Ambient   io.Reader
	Music     io.Reader
}

// Result points at the composed artifacts on local disk. Callers must
// invoke Cleanup once the files have been consumed.
type Result struct {
	VideoPath       string
	ThumbnailPath   string
	DurationSeconds int

	workDir string
}

// Cleanup removes the scratch directory holding the artifacts.
func (r *Result) Cleanup() {
	if r.workDir != "" {
		_ = os.RemoveAll(r.workDir)
	}
}

// Composer produces a final video plus thumbnail from raw media streams.
type Composer interface {
	Compose(ctx context.Context, in Inputs) (*Result, error)
}
