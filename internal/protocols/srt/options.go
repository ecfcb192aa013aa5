package srt

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	srt "github.com/datarhei/gosrt"

	"github.com/haishinkit/haishin/internal/logger"
)

// Phase is the moment an option is applied.
type Phase int

// phases.
const (
	// PhasePre options are applied before connect or listen.
	PhasePre Phase = iota

	// PhasePost options are applied after connect, or after accept.
	PhasePost
)

// String implements fmt.Stringer.
func (p Phase) String() string {
	if p == PhasePost {
		return "post"
	}
	return "pre"
}

// Options maps option names to values.
type Options map[string]string

// runtime parameters set by post options.
type postParams struct {
	readTimeout time.Duration
	sendTimeout time.Duration
}

type preSetter func(conf *srt.Config, v string) error

type postSetter func(p *postParams, v string) error

func parseMilliseconds(v string) (time.Duration, error) {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, err
	}
	if ms < 0 {
		return 0, fmt.Errorf("negative value")
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func parseUint32(v string) (uint32, error) {
	n, err := strconv.ParseUint(v, 10, 32)
	return uint32(n), err
}

func durationSetter(field func(*srt.Config) *time.Duration) preSetter {
	return func(conf *srt.Config, v string) error {
		d, err := parseMilliseconds(v)
		if err != nil {
			return err
		}
		*field(conf) = d
		return nil
	}
}

func uint32Setter(field func(*srt.Config) *uint32) preSetter {
	return func(conf *srt.Config, v string) error {
		n, err := parseUint32(v)
		if err != nil {
			return err
		}
		*field(conf) = n
		return nil
	}
}

func int64Setter(field func(*srt.Config) *int64) preSetter {
	return func(conf *srt.Config, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		*field(conf) = n
		return nil
	}
}

func boolSetter(field func(*srt.Config) *bool) preSetter {
	return func(conf *srt.Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(conf) = b
		return nil
	}
}

func setLatency(conf *srt.Config, v string) error {
	d, err := parseMilliseconds(v)
	if err != nil {
		return err
	}
	conf.Latency = d
	conf.ReceiverLatency = d
	conf.PeerLatency = d
	return nil
}

var preOptions = map[string]preSetter{
	"transportLatencyMs": setLatency,
	"latency":            setLatency,
	"rcvlatency":         durationSetter(func(c *srt.Config) *time.Duration { return &c.ReceiverLatency }),
	"peerlatency":        durationSetter(func(c *srt.Config) *time.Duration { return &c.PeerLatency }),
	"conntimeo":          durationSetter(func(c *srt.Config) *time.Duration { return &c.ConnectionTimeout }),
	"peeridletimeo":      durationSetter(func(c *srt.Config) *time.Duration { return &c.PeerIdleTimeout }),
	"passphrase": func(c *srt.Config, v string) error {
		c.Passphrase = v
		return nil
	},
	"pbkeylen": func(c *srt.Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		c.PBKeylen = n
		return nil
	},
	"streamid": func(c *srt.Config, v string) error {
		c.StreamId = v
		return nil
	},
	"payloadsize":        uint32Setter(func(c *srt.Config) *uint32 { return &c.PayloadSize }),
	"mss":                uint32Setter(func(c *srt.Config) *uint32 { return &c.MSS }),
	"fc":                 uint32Setter(func(c *srt.Config) *uint32 { return &c.FC }),
	"sndbuf":             uint32Setter(func(c *srt.Config) *uint32 { return &c.SendBufferSize }),
	"rcvbuf":             uint32Setter(func(c *srt.Config) *uint32 { return &c.ReceiverBufferSize }),
	"lossmaxttl":         uint32Setter(func(c *srt.Config) *uint32 { return &c.LossMaxTTL }),
	"maxbw":              int64Setter(func(c *srt.Config) *int64 { return &c.MaxBW }),
	"inputbw":            int64Setter(func(c *srt.Config) *int64 { return &c.InputBW }),
	"oheadbw":            int64Setter(func(c *srt.Config) *int64 { return &c.OverheadBW }),
	"tlpktdrop":          boolSetter(func(c *srt.Config) *bool { return &c.TooLatePacketDrop }),
	"nakreport":          boolSetter(func(c *srt.Config) *bool { return &c.NAKReport }),
	"enforcedencryption": boolSetter(func(c *srt.Config) *bool { return &c.EnforcedEncryption }),
}

var postOptions = map[string]postSetter{
	"rcvtimeo": func(p *postParams, v string) error {
		d, err := parseMilliseconds(v)
		if err != nil {
			return err
		}
		p.readTimeout = d
		return nil
	},
	"sndtimeo": func(p *postParams, v string) error {
		d, err := parseMilliseconds(v)
		if err != nil {
			return err
		}
		p.sendTimeout = d
		return nil
	},
}

// OptionError lists the options that could not be applied.
type OptionError struct {
	Phase   Phase
	Options []string
}

// Error implements the error interface.
func (e *OptionError) Error() string {
	return fmt.Sprintf("failed to apply %s options: %s", e.Phase, strings.Join(e.Options, ", "))
}

func sortedNames(opts Options) []string {
	names := make([]string, 0, len(opts))
	for name := range opts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// applyPre applies pre options onto conf.
// Unknown options are reported in this phase.
func applyPre(opts Options, conf *srt.Config, l logger.Writer) error {
	var failed []string

	for _, name := range sortedNames(opts) {
		set, ok := preOptions[name]
		if !ok {
			if _, ok = postOptions[name]; !ok {
				failed = append(failed, name)
			}
			continue
		}

		err := set(conf, opts[name])
		if err != nil {
			failed = append(failed, name)
		}
	}

	return reportFailed(PhasePre, failed, l)
}

// applyPost applies post options onto p.
func applyPost(opts Options, p *postParams, l logger.Writer) error {
	var failed []string

	for _, name := range sortedNames(opts) {
		set, ok := postOptions[name]
		if !ok {
			continue
		}

		err := set(p, opts[name])
		if err != nil {
			failed = append(failed, name)
		}
	}

	return reportFailed(PhasePost, failed, l)
}

func reportFailed(phase Phase, failed []string, l logger.Writer) error {
	if failed == nil {
		return nil
	}

	err := &OptionError{Phase: phase, Options: failed}
	l.Log(logger.Warn, "%v", err)
	return err
}
