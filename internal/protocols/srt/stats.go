package srt

import (
	srt "github.com/datarhei/gosrt"
)

// Stats is a point-in-time snapshot of the connection performance.
type Stats struct {
	BytesSent        uint64
	BytesReceived    uint64
	PacketsSent      uint64
	PacketsReceived  uint64
	PacketsSendLoss  uint64
	PacketsRecvLoss  uint64
	PacketsRetrans   uint64
	PacketsSendDrop  uint64
	PacketsRecvDrop  uint64
	MessagesDropped  uint64
	RTT              float64
	MbpsSendRate     float64
	MbpsRecvRate     float64
	MbpsLinkCapacity float64
}

// Stats returns a snapshot of the connection statistics.
// It returns ErrNotOpen when the socket has no connection.
func (s *Socket) Stats() (Stats, error) {
	s.mutex.Lock()
	conn := s.conn
	s.mutex.Unlock()

	if conn == nil || s.closed.Load() {
		return Stats{}, ErrNotOpen
	}

	var st srt.Statistics
	conn.Stats(&st)

	return Stats{
		BytesSent:        st.Accumulated.ByteSent,
		BytesReceived:    st.Accumulated.ByteRecv,
		PacketsSent:      st.Accumulated.PktSent,
		PacketsReceived:  st.Accumulated.PktRecv,
		PacketsSendLoss:  st.Accumulated.PktSendLoss,
		PacketsRecvLoss:  st.Accumulated.PktRecvLoss,
		PacketsRetrans:   st.Accumulated.PktRetrans,
		PacketsSendDrop:  st.Accumulated.PktSendDrop,
		PacketsRecvDrop:  st.Accumulated.PktRecvDrop,
		MessagesDropped:  s.readDropped.Load(),
		RTT:              st.Instantaneous.MsRTT,
		MbpsSendRate:     st.Instantaneous.MbpsSentRate,
		MbpsRecvRate:     st.Instantaneous.MbpsRecvRate,
		MbpsLinkCapacity: st.Instantaneous.MbpsLinkCapacity,
	}, nil
}
