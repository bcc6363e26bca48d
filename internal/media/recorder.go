package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"

	"github.com/1ureka/cast/internal/util"
)

// RTPReader is a remote track as handed out by the engine.
type RTPReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
	Codec() webrtc.RTPCodecParameters
}

var _ RTPReader = (*webrtc.TrackRemote)(nil)

// Recorder stores remote video in an IVF file, or drains it when no path is
// configured or the codec cannot be stored.
type Recorder struct {
	path string

	Packets atomic.Int64
	Bytes   atomic.Int64
}

// NewRecorder creates a recorder writing to path. An empty path discards.
func NewRecorder(path string) *Recorder {
	return &Recorder{path: path}
}

// Record consumes track until it ends. A track ending is not an error.
func (r *Recorder) Record(track RTPReader) error {
	mimeType := track.Codec().MimeType

	if r.path == "" || !ivfCodec(mimeType) {
		if r.path != "" {
			util.LogWarning("cannot store %s in IVF, discarding", mimeType)
		}
		return r.drain(track, nil)
	}

	f, err := os.Create(r.path)
	if err != nil {
		return fmt.Errorf("create recording: %w", err)
	}
	defer f.Close()

	util.LogInfo("recording %s to %s", mimeType, r.path)
	return r.recordTo(f, track)
}

func (r *Recorder) recordTo(w io.Writer, track RTPReader) error {
	iw, err := ivfwriter.NewWith(w, ivfwriter.WithCodec(track.Codec().MimeType))
	if err != nil {
		return fmt.Errorf("create ivf writer: %w", err)
	}

	drainErr := r.drain(track, iw.WriteRTP)
	return errors.Join(drainErr, iw.Close())
}

// drain reads packets until the track ends, passing each to write if set.
func (r *Recorder) drain(track RTPReader, write func(*rtp.Packet) error) error {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read rtp: %w", err)
		}
		r.Packets.Add(1)
		r.Bytes.Add(int64(len(pkt.Payload)))

		if write != nil {
			if err := write(pkt); err != nil {
				return fmt.Errorf("write ivf: %w", err)
			}
		}
	}
}

func ivfCodec(mimeType string) bool {
	switch strings.ToLower(mimeType) {
	case strings.ToLower(webrtc.MimeTypeVP8), strings.ToLower(webrtc.MimeTypeAV1):
		return true
	}
	return false
}
