// Package media provides the local capture and remote rendering collaborators
// used at the session's edges: an IVF file played as a live video track, and
// a recorder that stores or discards remote video.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"

	"github.com/1ureka/cast/internal/util"
)

// sampleWriter is the part of a local track the pacing loop writes to.
type sampleWriter interface {
	WriteSample(s media.Sample) error
}

// FileSource plays an IVF file as a video track, looping at end of file.
type FileSource struct {
	path     string
	mimeType string
	frame    time.Duration
	track    *webrtc.TrackLocalStaticSample
	out      sampleWriter
}

// NewFileSource validates the IVF header at path and creates the track it
// will be played on.
func NewFileSource(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open media file: %w", err)
	}
	defer f.Close()

	_, header, err := ivfreader.NewWith(f)
	if err != nil {
		return nil, fmt.Errorf("read ivf header: %w", err)
	}

	mimeType, err := mimeTypeOf(header.FourCC)
	if err != nil {
		return nil, err
	}
	if header.TimebaseDenominator == 0 {
		return nil, errors.New("ivf header has a zero timebase")
	}
	frame := time.Second * time.Duration(header.TimebaseNumerator) / time.Duration(header.TimebaseDenominator)
	if frame <= 0 {
		return nil, fmt.Errorf("ivf timebase %d/%d is below one nanosecond per frame",
			header.TimebaseNumerator, header.TimebaseDenominator)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mimeType}, "video", "cast")
	if err != nil {
		return nil, fmt.Errorf("create track: %w", err)
	}

	return &FileSource{
		path:     path,
		mimeType: mimeType,
		frame:    frame,
		track:    track,
		out:      track,
	}, nil
}

func mimeTypeOf(fourCC string) (string, error) {
	switch fourCC {
	case "VP80":
		return webrtc.MimeTypeVP8, nil
	case "VP90":
		return webrtc.MimeTypeVP9, nil
	case "AV01":
		return webrtc.MimeTypeAV1, nil
	default:
		return "", fmt.Errorf("unsupported ivf codec %q", fourCC)
	}
}

// Tracks returns the single video track.
func (s *FileSource) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.track}
}

// MimeType returns the codec of the file.
func (s *FileSource) MimeType() string { return s.mimeType }

// Run paces frames onto the track until ctx is cancelled. Writes before the
// peer connection is up are discarded by the track.
func (s *FileSource) Run(ctx context.Context) error {
	for {
		if err := s.playOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		util.LogDebug("media file finished, looping")
	}
}

// playOnce plays the file from the start. It returns nil at end of file.
func (s *FileSource) playOnce(ctx context.Context) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open media file: %w", err)
	}
	defer f.Close()

	reader, _, err := ivfreader.NewWith(f)
	if err != nil {
		return fmt.Errorf("read ivf header: %w", err)
	}

	ticker := time.NewTicker(s.frame)
	defer ticker.Stop()

	frames := 0
	for {
		frame, _, err := reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			if frames == 0 {
				return errors.New("media file has no frames")
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("read ivf frame: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := s.out.WriteSample(media.Sample{Data: frame, Duration: s.frame}); err != nil {
			return fmt.Errorf("write sample: %w", err)
		}
		frames++
	}
}
