// Package core contains the main struct of the software.
package core

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"sync"
	"time"

	"github.com/alecthomas/kong"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/haishinkit/haishin/internal/conf"
	"github.com/haishinkit/haishin/internal/confwatcher"
	"github.com/haishinkit/haishin/internal/logger"
	"github.com/haishinkit/haishin/internal/metrics"
	"github.com/haishinkit/haishin/internal/protocols/srt"
	"github.com/haishinkit/haishin/internal/recordcleaner"
	"github.com/haishinkit/haishin/internal/relay"
	"github.com/haishinkit/haishin/internal/rlimit"
	"github.com/haishinkit/haishin/internal/servers/hls"
)

var version = "v0.0.0"

var defaultConfPaths = []string{
	"haishin.yml",
	"/usr/local/etc/haishin.yml",
	"/usr/etc/haishin.yml",
	"/etc/haishin/haishin.yml",
}

var cli struct {
	Version  bool   `help:"print version"`
	Confpath string `arg:"" default:""`
}

// Core is an instance of haishin.
type Core struct {
	ctx         context.Context
	ctxCancel   func()
	confPath    string
	conf        *conf.Conf
	logger      *logger.Logger
	metrics     *metrics.Metrics
	hlsServer   *hls.Server
	relay       *relay.Relay
	srtServer   *srtServer
	srtSource   *srtSource
	cleaner     *recordcleaner.Cleaner
	confWatcher *confwatcher.ConfWatcher

	sessions  *errgroup.Group
	mutex     sync.Mutex
	publisher *publisher

	// out
	done chan struct{}
}

// New allocates a Core.
func New(args []string) (*Core, bool) {
	parser, err := kong.New(&cli,
		kong.Description("haishin "+version),
		kong.UsageOnError(),
		kong.ValueFormatter(func(value *kong.Value) string {
			switch value.Name {
			case "confpath":
				return "path to a config file. The default is haishin.yml."

			default:
				return kong.DefaultHelpValueFormatter(value)
			}
		}))
	if err != nil {
		panic(err)
	}

	_, err = parser.Parse(args)
	parser.FatalIfErrorf(err)

	if cli.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	p := &Core{
		ctx:       ctx,
		ctxCancel: ctxCancel,
		sessions:  &errgroup.Group{},
		done:      make(chan struct{}),
	}

	p.conf, p.confPath, err = conf.Load(cli.Confpath, defaultConfPaths)
	if err != nil {
		fmt.Printf("ERR: %s\n", err)
		return nil, false
	}

	err = p.createResources(true)
	if err != nil {
		if p.logger != nil {
			p.Log(logger.Error, "%s", err)
		} else {
			fmt.Printf("ERR: %s\n", err)
		}
		p.closeResources(nil)
		return nil, false
	}

	go p.run()

	return p, true
}

// Close closes Core and waits for all goroutines to return.
func (p *Core) Close() {
	p.ctxCancel()
	<-p.done
}

// Wait waits for the Core to exit.
func (p *Core) Wait() {
	<-p.done
}

// Log implements logger.Writer.
func (p *Core) Log(level logger.Level, format string, args ...interface{}) {
	p.logger.Log(level, format, args...)
}

func (p *Core) run() {
	defer close(p.done)

	confChanged := func() chan struct{} {
		if p.confWatcher != nil {
			return p.confWatcher.Watch()
		}
		return make(chan struct{})
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

outer:
	for {
		select {
		case <-confChanged:
			p.Log(logger.Info, "reloading configuration (file changed)")

			newConf, _, err := conf.Load(p.confPath, nil)
			if err != nil {
				p.Log(logger.Error, "%s", err)
				break outer
			}

			err = p.reloadConf(newConf)
			if err != nil {
				p.Log(logger.Error, "%s", err)
				break outer
			}

		case <-interrupt:
			p.Log(logger.Info, "shutting down gracefully")
			break outer

		case <-p.ctx.Done():
			break outer
		}
	}

	p.ctxCancel()

	p.closeResources(nil)
}

func (p *Core) createResources(initial bool) error {
	if p.logger == nil {
		p.logger = &logger.Logger{
			Level:        logger.Level(p.conf.LogLevel),
			Destinations: []logger.Destination(p.conf.LogDestinations),
			Structured:   p.conf.LogStructured,
			File:         p.conf.LogFile,
			SysLogPrefix: p.conf.SysLogPrefix,
		}
		err := p.logger.Initialize()
		if err != nil {
			p.logger = nil
			return err
		}
	}

	if initial {
		p.Log(logger.Info, "haishin %s", version)

		if p.confPath == "" {
			p.Log(logger.Warn, "configuration file not found, using the default configuration")
		}

		// on Linux, try to raise the number of file descriptors that can be opened.
		// do not check for errors
		rlimit.Raise() //nolint:errcheck

		gin.SetMode(gin.ReleaseMode)
	}

	if p.conf.Metrics && p.metrics == nil {
		i := &metrics.Metrics{
			Parent: p,
		}
		err := i.Initialize()
		if err != nil {
			return err
		}
		p.metrics = i
	}

	if (p.conf.HLS || p.conf.Metrics) && p.hlsServer == nil {
		i := &hls.Server{
			Address:      p.conf.HLSAddress,
			AllowOrigin:  p.conf.HLSAllowOrigin,
			ReadTimeout:  time.Duration(p.conf.ReadTimeout),
			WriteTimeout: time.Duration(p.conf.WriteTimeout),
			Parent:       p,
		}
		if p.metrics != nil {
			i.Metrics = p.metrics.Handler()
		}
		err := i.Initialize()
		if err != nil {
			return err
		}
		p.hlsServer = i
	}

	if p.conf.Relay && p.relay == nil {
		i := &relay.Relay{
			Address:        p.conf.RelayAddress,
			Options:        srt.Options(p.conf.RelayOptions),
			WriteQueueSize: p.conf.WriteQueueSize,
			Parent:         p,
		}
		i.SetPaused(p.conf.RelayPaused)
		i.Initialize()
		p.relay = i

		if p.metrics != nil {
			p.metrics.SetRelay(i)
		}
	}

	if srt.Role(p.conf.SRTMode) == srt.RoleListener {
		if p.srtServer == nil {
			i := &srtServer{
				address:        p.conf.SRTAddress,
				options:        srt.Options(p.conf.SRTOptions),
				readQueueSize:  p.conf.ReadQueueSize,
				writeQueueSize: p.conf.WriteQueueSize,
				parent:         p,
			}
			err := i.initialize()
			if err != nil {
				return err
			}
			p.srtServer = i
		}
	} else if p.srtSource == nil {
		i := &srtSource{
			address:        p.conf.SRTAddress,
			options:        srt.Options(p.conf.SRTOptions),
			readQueueSize:  p.conf.ReadQueueSize,
			writeQueueSize: p.conf.WriteQueueSize,
			parent:         p,
		}
		i.initialize()
		p.srtSource = i
	}

	if p.conf.Record && p.conf.RecordDeleteAfter != 0 && p.cleaner == nil {
		p.cleaner = &recordcleaner.Cleaner{
			RecordPath:  p.conf.RecordPath,
			DeleteAfter: time.Duration(p.conf.RecordDeleteAfter),
			Parent:      p,
		}
		p.cleaner.Initialize()
	}

	if initial && p.confPath != "" {
		p.confWatcher = &confwatcher.ConfWatcher{
			FilePath: p.confPath,
			Parent:   p,
		}
		err := p.confWatcher.Initialize()
		if err != nil {
			p.confWatcher = nil
			return err
		}
	}

	return nil
}

func (p *Core) closeResources(newConf *conf.Conf) {
	closeLogger := newConf == nil ||
		newConf.LogLevel != p.conf.LogLevel ||
		!reflect.DeepEqual(newConf.LogDestinations, p.conf.LogDestinations) ||
		newConf.LogStructured != p.conf.LogStructured ||
		newConf.LogFile != p.conf.LogFile ||
		newConf.SysLogPrefix != p.conf.SysLogPrefix

	closeMetrics := newConf == nil ||
		newConf.Metrics != p.conf.Metrics ||
		closeLogger

	closeHLSServer := newConf == nil ||
		newConf.HLS != p.conf.HLS ||
		newConf.HLSAddress != p.conf.HLSAddress ||
		newConf.HLSAllowOrigin != p.conf.HLSAllowOrigin ||
		newConf.ReadTimeout != p.conf.ReadTimeout ||
		newConf.WriteTimeout != p.conf.WriteTimeout ||
		closeMetrics

	closeRelay := newConf == nil ||
		newConf.Relay != p.conf.Relay ||
		newConf.RelayAddress != p.conf.RelayAddress ||
		!reflect.DeepEqual(newConf.RelayOptions, p.conf.RelayOptions) ||
		newConf.WriteQueueSize != p.conf.WriteQueueSize ||
		closeMetrics
	if !closeRelay && p.relay != nil {
		p.relay.SetPaused(newConf.RelayPaused)
	}

	closeSRT := newConf == nil ||
		newConf.SRTMode != p.conf.SRTMode ||
		newConf.SRTAddress != p.conf.SRTAddress ||
		!reflect.DeepEqual(newConf.SRTOptions, p.conf.SRTOptions) ||
		newConf.ReadQueueSize != p.conf.ReadQueueSize ||
		newConf.WriteQueueSize != p.conf.WriteQueueSize ||
		newConf.HLSDirectory != p.conf.HLSDirectory ||
		newConf.HLSSegmentDuration != p.conf.HLSSegmentDuration ||
		newConf.HLSSegmentMaxSize != p.conf.HLSSegmentMaxSize ||
		newConf.HLSSegmentCount != p.conf.HLSSegmentCount ||
		!reflect.DeepEqual(newConf.HLSMediaKinds, p.conf.HLSMediaKinds) ||
		newConf.Record != p.conf.Record ||
		newConf.RecordPath != p.conf.RecordPath ||
		!reflect.DeepEqual(newConf.RecordMediaKinds, p.conf.RecordMediaKinds) ||
		newConf.RecordSampleRate != p.conf.RecordSampleRate ||
		newConf.RecordChannelCount != p.conf.RecordChannelCount ||
		newConf.RecordWidth != p.conf.RecordWidth ||
		newConf.RecordHeight != p.conf.RecordHeight ||
		closeHLSServer ||
		closeRelay

	closeCleaner := newConf == nil ||
		newConf.Record != p.conf.Record ||
		newConf.RecordPath != p.conf.RecordPath ||
		newConf.RecordDeleteAfter != p.conf.RecordDeleteAfter ||
		closeLogger

	if newConf == nil && p.confWatcher != nil {
		p.confWatcher.Close()
		p.confWatcher = nil
	}

	if closeSRT {
		if p.srtServer != nil {
			p.srtServer.close()
			p.srtServer = nil
		}

		if p.srtSource != nil {
			p.srtSource.close()
			p.srtSource = nil
		}

		p.mutex.Lock()
		if p.publisher != nil {
			p.publisher.close()
		}
		p.mutex.Unlock()

		p.sessions.Wait() //nolint:errcheck
		p.sessions = &errgroup.Group{}
	}

	if closeCleaner && p.cleaner != nil {
		p.cleaner.Close()
		p.cleaner = nil
	}

	if closeRelay && p.relay != nil {
		if p.metrics != nil {
			p.metrics.SetRelay(nil)
		}
		p.relay.Close()
		p.relay = nil
	}

	if closeHLSServer && p.hlsServer != nil {
		p.hlsServer.Close()
		p.hlsServer = nil
	}

	if closeMetrics && p.metrics != nil {
		p.metrics = nil
	}

	if closeLogger && p.logger != nil {
		p.logger.Close()
		p.logger = nil
	}
}

func (p *Core) reloadConf(newConf *conf.Conf) error {
	p.closeResources(newConf)

	p.mutex.Lock()
	p.conf = newConf
	p.mutex.Unlock()

	return p.createResources(false)
}

// onPublisherSocket is called when the listener accepts a connection.
func (p *Core) onPublisherSocket(s *srt.Socket) {
	p.sessions.Go(func() error {
		err := p.runPublisher(s)
		if err != nil {
			p.Log(logger.Error, "publisher %v: %v", s.ID(), err)
		}
		return nil
	})
}

// runPublisher reads from a connected socket until the connection ends.
// A single publisher is allowed at a time.
func (p *Core) runPublisher(s *srt.Socket) error {
	p.mutex.Lock()
	if p.publisher != nil {
		p.mutex.Unlock()
		p.Log(logger.Warn, "closing connection %v: another publisher is active", s.ID())
		s.Close()
		return nil
	}

	pub := &publisher{
		conf:      p.conf,
		socket:    s,
		relay:     p.relay,
		hlsServer: p.hlsServer,
		metrics:   p.metrics,
		parent:    p,
	}
	pub.initialize()
	p.publisher = pub
	p.mutex.Unlock()

	err := pub.run()

	p.mutex.Lock()
	p.publisher = nil
	p.mutex.Unlock()

	return err
}
