// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcoder

import (
	"context"
	"os"

	"github.com/dailyreel/reelgate/internal/reviewerr"
)

// RunFragment runs a one-shot ffmpeg invocation producing a single MP4
// fragment, without installing a session or touching the HLS working
// directory (spec §4.9). The caller owns cleanup of the returned path.
func (s *Supervisor) RunFragment(ctx context.Context, in StartInput, startSecs, durSecs float64) (string, error) {
	f, err := os.CreateTemp("", "reelgate-fragment-*.mp4")
	if err != nil {
		return "", reviewerr.Wrap(reviewerr.ErrIOError, "stream_fragment", in.Key, err)
	}
	outputPath := f.Name()
	_ = f.Close()

	bin := s.ffmpegPath
	if bin == "" {
		bin = "ffmpeg"
	}

	args := BuildFragmentArgs(Options{
		InputPath: in.InputPath,
		InputURL:  in.InputURL,
		Streaming: in.Streaming,
		Probe:     in.Probe,
	}, startSecs, durSecs, outputPath)

	proc := spawn(ctx, bin, args, in.Key)
	if err := proc.wait(); err != nil {
		_ = os.Remove(outputPath)
		return "", reviewerr.Wrap(reviewerr.ErrTranscodeStartupFailed, "stream_fragment", in.Key, err)
	}
	return outputPath, nil
}
