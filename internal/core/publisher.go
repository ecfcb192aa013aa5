package core

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/haishinkit/haishin/internal/conf"
	"github.com/haishinkit/haishin/internal/ingest"
	"github.com/haishinkit/haishin/internal/logger"
	"github.com/haishinkit/haishin/internal/metrics"
	"github.com/haishinkit/haishin/internal/protocols/srt"
	"github.com/haishinkit/haishin/internal/recorder"
	"github.com/haishinkit/haishin/internal/relay"
	"github.com/haishinkit/haishin/internal/segmenter"
	"github.com/haishinkit/haishin/internal/servers/hls"
	"github.com/haishinkit/haishin/internal/unit"
)

func intersectKinds(wanted conf.MediaKinds, available []unit.MediaKind) []unit.MediaKind {
	var out []unit.MediaKind
	for _, k := range available {
		if wanted.Contains(k) {
			out = append(out, k)
		}
	}
	return out
}

func containsKind(kinds []unit.MediaKind, k unit.MediaKind) bool {
	for _, v := range kinds {
		if v == k {
			return true
		}
	}
	return false
}

type publisherParent interface {
	logger.Writer
}

// publisher reads a MPEG-TS stream from a connected socket
// and feeds the segmenter and the recorder.
type publisher struct {
	conf      *conf.Conf
	socket    *srt.Socket
	relay     *relay.Relay
	hlsServer *hls.Server
	metrics   *metrics.Metrics
	parent    publisherParent

	name     string
	fanOut   *unit.FanOut
	muxer    *segmenter.Muxer
	recorder *recorder.Recorder
}

func (p *publisher) initialize() {
	p.name = p.socket.ID().String()
	if addr := p.socket.RemoteAddr(); addr != nil {
		p.name = addr.String()
	}
	p.fanOut = &unit.FanOut{}
}

// Log implements logger.Writer.
func (p *publisher) Log(level logger.Level, format string, args ...interface{}) {
	p.parent.Log(level, "[publisher "+p.name+"] "+format, args...)
}

// close interrupts run.
func (p *publisher) close() {
	p.socket.Close()
}

func (p *publisher) run() error {
	p.Log(logger.Info, "opened")

	if p.metrics != nil {
		p.metrics.AddSocket(p.name, p.socket)
		defer p.metrics.RemoveSocket(p.name)
	}

	var r io.Reader = p.socket
	if p.relay != nil {
		r = io.TeeReader(r, p.relay)
	}

	ir := &ingest.Reader{
		R:        r,
		Sink:     p.fanOut,
		Parent:   p,
		OnTracks: p.onTracks,
	}
	err := ir.Run()

	p.socket.Close()
	p.stop()

	p.Log(logger.Info, "closed (%v)", ir.Stats())

	return err
}

func (p *publisher) onTracks(kinds []unit.MediaKind) {
	if p.conf.HLS {
		p.startMuxer(kinds)
	}

	if p.conf.Record {
		p.startRecorder(kinds)
	}
}

func (p *publisher) startMuxer(kinds []unit.MediaKind) {
	served := intersectKinds(p.conf.HLSMediaKinds, kinds)
	if len(served) == 0 {
		p.Log(logger.Warn, "no track matches 'hlsMediaKinds', segmenter is disabled")
		return
	}

	m := &segmenter.Muxer{
		Directory:       p.conf.HLSDirectory,
		SegmentDuration: time.Duration(p.conf.HLSSegmentDuration),
		SegmentMaxSize:  uint64(p.conf.HLSSegmentMaxSize),
		SegmentCount:    p.conf.HLSSegmentCount,
		Video:           containsKind(served, unit.MediaKindVideo),
		Audio:           containsKind(served, unit.MediaKindAudio),
		QueueSize:       p.conf.WriteQueueSize,
		Parent:          p,
	}
	err := m.StartRunning()
	if err != nil {
		p.Log(logger.Error, "unable to start the segmenter: %v", err)
		return
	}

	p.muxer = m
	p.fanOut.Add(m)

	if p.hlsServer != nil {
		p.hlsServer.SetMuxer(m)
	}
	if p.metrics != nil {
		p.metrics.SetMuxer(m)
	}
}

func (p *publisher) startRecorder(kinds []unit.MediaKind) {
	recorded := intersectKinds(p.conf.RecordMediaKinds, kinds)
	if len(recorded) == 0 {
		p.Log(logger.Warn, "no track matches 'recordMediaKinds', recording is disabled")
		return
	}

	r := &recorder.Recorder{
		Audio: recorder.AudioSettings{
			SampleRate:   p.conf.RecordSampleRate,
			ChannelCount: p.conf.RecordChannelCount,
		},
		Video: recorder.VideoSettings{
			Width:  p.conf.RecordWidth,
			Height: p.conf.RecordHeight,
		},
		MediaKinds: recorded,
		QueueSize:  p.conf.WriteQueueSize,
		Parent:     p,
	}
	err := r.Initialize()
	if err != nil {
		p.Log(logger.Error, "unable to start the recorder: %v", err)
		return
	}

	path := recordPath(p.conf.RecordPath, time.Now(), r.ID().String())

	err = os.MkdirAll(filepath.Dir(path), 0o755)
	if err == nil {
		err = r.Start(path)
	}
	if err != nil {
		p.Log(logger.Error, "unable to start the recording: %v", err)
		r.Close()
		return
	}

	p.recorder = r
	p.fanOut.Add(r)

	if p.metrics != nil {
		p.metrics.SetRecorder(r)
	}
}

// stop finalizes outputs.
// The playlist of an ended stream is still served.
func (p *publisher) stop() {
	if p.recorder != nil {
		p.fanOut.Remove(p.recorder)
		p.recorder.Close()
		if p.metrics != nil {
			p.metrics.SetRecorder(nil)
		}
	}

	if p.muxer != nil {
		p.fanOut.Remove(p.muxer)
		p.muxer.StopRunning()
	}
}
