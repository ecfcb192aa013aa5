// Package hls contains a HTTP server that delivers the playlist and the segments of the segmenter.
package hls

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/haishinkit/haishin/internal/logger"
	"github.com/haishinkit/haishin/internal/protocols/httpp"
	"github.com/haishinkit/haishin/internal/segmenter"
)

// PlaylistName is the path of the playlist.
const PlaylistName = "index.m3u8"

// MuxerSource provides the playlist and the retained segments.
type MuxerSource interface {
	Playlist() []byte
	Segments() []*segmenter.Segment
}

// Server is a HLS server.
type Server struct {
	Address      string
	AllowOrigin  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// exposed on /metrics when not nil.
	Metrics http.Handler

	Parent logger.Writer

	httpServer *httpp.Server

	mutex sync.RWMutex
	muxer MuxerSource
}

// Initialize initializes Server.
func (s *Server) Initialize() error {
	router := gin.New()
	router.SetTrustedProxies(nil) //nolint:errcheck

	router.Use(s.middlewareOrigin)

	if s.Metrics != nil {
		router.GET("/metrics", gin.WrapH(s.Metrics))
	}

	router.GET("/"+PlaylistName, s.onPlaylist)
	router.GET("/:file", s.onSegment)

	s.httpServer = &httpp.Server{
		Address:      s.Address,
		ReadTimeout:  s.ReadTimeout,
		WriteTimeout: s.WriteTimeout,
		Handler:      router,
		Parent:       s,
	}
	err := s.httpServer.Initialize()
	if err != nil {
		return err
	}

	s.Log(logger.Info, "listener opened on "+s.httpServer.Addr().String())

	return nil
}

// Close closes Server.
func (s *Server) Close() {
	s.Log(logger.Info, "listener is closing")
	s.httpServer.Close()
}

// Log implements logger.Writer.
func (s *Server) Log(level logger.Level, format string, args ...interface{}) {
	s.Parent.Log(level, "[HLS] "+format, args...)
}

// SetMuxer sets the muxer whose output is served.
// A nil value makes every request fail with 404.
func (s *Server) SetMuxer(m MuxerSource) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.muxer = m
}

func (s *Server) currentMuxer() MuxerSource {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.muxer
}

func (s *Server) middlewareOrigin(ctx *gin.Context) {
	ctx.Header("Access-Control-Allow-Origin", s.AllowOrigin)
	ctx.Header("Access-Control-Allow-Credentials", "true")

	// preflight requests
	if ctx.Request.Method == http.MethodOptions &&
		ctx.Request.Header.Get("Access-Control-Request-Method") != "" {
		ctx.Header("Access-Control-Allow-Methods", "OPTIONS, GET")
		ctx.Header("Access-Control-Allow-Headers", "Range")
		ctx.AbortWithStatus(http.StatusNoContent)
		return
	}
}

func (s *Server) onPlaylist(ctx *gin.Context) {
	m := s.currentMuxer()
	if m == nil {
		ctx.Status(http.StatusNotFound)
		return
	}

	byts := m.Playlist()
	if len(byts) == 0 {
		ctx.Status(http.StatusNotFound)
		return
	}

	ctx.Header("Cache-Control", "no-cache")
	ctx.Data(http.StatusOK, "application/vnd.apple.mpegurl", byts)
}

// parseSegmentName extracts the sequence number from a name like "segment-12.ts".
func parseSegmentName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, "segment-") || !strings.HasSuffix(name, ".ts") {
		return 0, false
	}

	seq, err := strconv.ParseUint(name[len("segment-"):len(name)-len(".ts")], 10, 64)
	if err != nil {
		return 0, false
	}

	return seq, true
}

func (s *Server) onSegment(ctx *gin.Context) {
	seq, ok := parseSegmentName(ctx.Param("file"))
	if !ok {
		ctx.Status(http.StatusNotFound)
		return
	}

	m := s.currentMuxer()
	if m == nil {
		ctx.Status(http.StatusNotFound)
		return
	}

	for _, seg := range m.Segments() {
		if seg.SequenceNumber == seq {
			ctx.Header("Cache-Control", "max-age=3600")
			ctx.Header("Content-Type", "video/mp2t")
			ctx.File(seg.Path)
			return
		}
	}

	// evicted or not yet written
	ctx.Status(http.StatusNotFound)
}
