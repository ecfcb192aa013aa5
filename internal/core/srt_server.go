package core

import (
	"github.com/haishinkit/haishin/internal/logger"
	"github.com/haishinkit/haishin/internal/protocols/srt"
)

type srtServerParent interface {
	logger.Writer
	onPublisherSocket(s *srt.Socket)
}

// srtServer accepts publishers on a listener socket.
type srtServer struct {
	address        string
	options        srt.Options
	readQueueSize  int
	writeQueueSize int
	parent         srtServerParent

	socket *srt.Socket
}

func (s *srtServer) initialize() error {
	s.socket = &srt.Socket{
		Listener:       s,
		ReadQueueSize:  s.readQueueSize,
		WriteQueueSize: s.writeQueueSize,
		Parent:         s,
	}
	return s.socket.Open(s.address, srt.RoleListener, s.options)
}

func (s *srtServer) close() {
	s.Log(logger.Info, "listener is closing")
	s.socket.Close()
	s.socket.Wait()
}

// Log implements logger.Writer.
func (s *srtServer) Log(level logger.Level, format string, args ...interface{}) {
	s.parent.Log(level, "[SRT] "+format, args...)
}

// OnStateChanged implements srt.Listener.
func (s *srtServer) OnStateChanged(_ *srt.Socket, _ srt.ConnState) {}

// OnAccept implements srt.Listener.
func (s *srtServer) OnAccept(_ *srt.Socket, accepted *srt.Socket) {
	s.parent.onPublisherSocket(accepted)
}

// OnError implements srt.Listener.
func (s *srtServer) OnError(_ *srt.Socket, _ error) {}
