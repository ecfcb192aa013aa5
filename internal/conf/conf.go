// Package conf contains the struct that holds the configuration of the software.
package conf

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/haishinkit/haishin/internal/conf/env"
	"github.com/haishinkit/haishin/internal/conf/yamlwrapper"
	"github.com/haishinkit/haishin/internal/logger"
	"github.com/haishinkit/haishin/internal/protocols/srt"
	"github.com/haishinkit/haishin/internal/unit"
)

// EnvPrefix is the prefix of environment variables that override the configuration.
const EnvPrefix = "HAISHIN"

func firstThatExists(paths []string) string {
	for _, pa := range paths {
		_, err := os.Stat(pa)
		if err == nil {
			return pa
		}
	}
	return ""
}

func isPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}

func checkAddress(name string, addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid '%s': %w", name, err)
	}
	return nil
}

// Conf is a configuration.
type Conf struct {
	// General
	LogLevel        LogLevel        `json:"logLevel"`
	LogDestinations LogDestinations `json:"logDestinations"`
	LogStructured   bool            `json:"logStructured"`
	LogFile         string          `json:"logFile"`
	SysLogPrefix    string          `json:"sysLogPrefix"`
	ReadTimeout     Duration        `json:"readTimeout"`
	WriteTimeout    Duration        `json:"writeTimeout"`
	WriteQueueSize  int             `json:"writeQueueSize"`
	ReadQueueSize   int             `json:"readQueueSize"`

	// SRT
	SRTMode    SocketMode        `json:"srtMode"`
	SRTAddress string            `json:"srtAddress"`
	SRTOptions map[string]string `json:"srtOptions"`

	// Relay
	Relay        bool              `json:"relay"`
	RelayAddress string            `json:"relayAddress"`
	RelayOptions map[string]string `json:"relayOptions"`
	RelayPaused  bool              `json:"relayPaused"`

	// HLS
	HLS                bool       `json:"hls"`
	HLSAddress         string     `json:"hlsAddress"`
	HLSAllowOrigin     string     `json:"hlsAllowOrigin"`
	HLSDirectory       string     `json:"hlsDirectory"`
	HLSSegmentDuration Duration   `json:"hlsSegmentDuration"`
	HLSSegmentMaxSize  StringSize `json:"hlsSegmentMaxSize"`
	HLSSegmentCount    int        `json:"hlsSegmentCount"`
	HLSMediaKinds      MediaKinds `json:"hlsMediaKinds"`

	// Recording
	Record             bool       `json:"record"`
	RecordPath         string     `json:"recordPath"`
	RecordMediaKinds   MediaKinds `json:"recordMediaKinds"`
	RecordSampleRate   int        `json:"recordSampleRate"`
	RecordChannelCount int        `json:"recordChannelCount"`
	RecordWidth        int        `json:"recordWidth"`
	RecordHeight       int        `json:"recordHeight"`
	RecordDeleteAfter  Duration   `json:"recordDeleteAfter"`

	// Metrics
	Metrics bool `json:"metrics"`
}

func (conf *Conf) setDefaults() {
	// General
	conf.LogLevel = LogLevel(logger.Info)
	conf.LogDestinations = LogDestinations{logger.DestinationStdout}
	conf.LogFile = "haishin.log"
	conf.SysLogPrefix = "haishin"
	conf.ReadTimeout = Duration(10 * time.Second)
	conf.WriteTimeout = Duration(10 * time.Second)
	conf.WriteQueueSize = 512
	conf.ReadQueueSize = 512

	// SRT
	conf.SRTMode = SocketMode(srt.RoleListener)
	conf.SRTAddress = ":8890"
	conf.SRTOptions = map[string]string{}

	// Relay
	conf.RelayOptions = map[string]string{}

	// HLS
	conf.HLS = true
	conf.HLSAddress = ":8888"
	conf.HLSAllowOrigin = "*"
	conf.HLSDirectory = "hls"
	conf.HLSSegmentDuration = Duration(2 * time.Second)
	conf.HLSSegmentCount = 5
	conf.HLSMediaKinds = MediaKinds{unit.MediaKindVideo, unit.MediaKindAudio}

	// Recording
	conf.RecordPath = "recordings/%t.mp4"
	conf.RecordMediaKinds = MediaKinds{unit.MediaKindVideo, unit.MediaKindAudio}
	conf.RecordDeleteAfter = Duration(24 * time.Hour)

	// Metrics
	conf.Metrics = true
}

// Load loads a Conf from a file, then applies environment overrides.
// It returns the path of the loaded file, or an empty string
// when no file has been found among the default paths.
func Load(fpath string, defaultConfPaths []string) (*Conf, string, error) {
	conf := &Conf{}

	fpath, err := conf.loadFromFile(fpath, defaultConfPaths)
	if err != nil {
		return nil, "", err
	}

	err = env.Load(EnvPrefix, conf)
	if err != nil {
		return nil, "", err
	}

	err = conf.Validate()
	if err != nil {
		return nil, "", err
	}

	return conf, fpath, nil
}

func (conf *Conf) loadFromFile(fpath string, defaultConfPaths []string) (string, error) {
	if fpath == "" {
		fpath = firstThatExists(defaultConfPaths)

		// when the configuration file is not explicitly set,
		// it is optional.
		if fpath == "" {
			conf.setDefaults()
			return "", nil
		}
	}

	byts, err := os.ReadFile(fpath)
	if err != nil {
		return "", err
	}

	err = yamlwrapper.Unmarshal(byts, conf)
	if err != nil {
		return "", err
	}

	return fpath, nil
}

// Clone clones the configuration.
func (conf Conf) Clone() *Conf {
	enc, err := json.Marshal(conf)
	if err != nil {
		panic(err)
	}

	var dest Conf
	err = json.Unmarshal(enc, &dest)
	if err != nil {
		panic(err)
	}

	return &dest
}

// Validate checks the configuration for errors.
func (conf *Conf) Validate() error {
	// General

	if conf.LogDestinations.contains(logger.DestinationFile) && conf.LogFile == "" {
		return fmt.Errorf("'logFile' must be set when 'file' is a log destination")
	}
	if conf.ReadTimeout <= 0 || conf.WriteTimeout <= 0 {
		return fmt.Errorf("'readTimeout' and 'writeTimeout' must be greater than zero")
	}
	if !isPowerOfTwo(conf.WriteQueueSize) {
		return fmt.Errorf("'writeQueueSize' must be a power of two")
	}
	if !isPowerOfTwo(conf.ReadQueueSize) {
		return fmt.Errorf("'readQueueSize' must be a power of two")
	}

	// SRT

	if srt.Role(conf.SRTMode) == srt.RoleCaller {
		if host, _, err := net.SplitHostPort(conf.SRTAddress); err != nil || host == "" {
			return fmt.Errorf("'srtAddress' must include a host when 'srtMode' is 'caller'")
		}
	} else if err := checkAddress("srtAddress", conf.SRTAddress); err != nil {
		return err
	}

	// Relay

	if conf.Relay {
		if conf.RelayAddress == "" {
			return fmt.Errorf("'relayAddress' must be set when 'relay' is enabled")
		}
		if err := checkAddress("relayAddress", conf.RelayAddress); err != nil {
			return err
		}
	}

	// HLS

	if conf.HLS {
		if conf.HLSDirectory == "" {
			return fmt.Errorf("'hlsDirectory' must be set when 'hls' is enabled")
		}
		if conf.HLSSegmentDuration <= 0 {
			return fmt.Errorf("'hlsSegmentDuration' must be greater than zero")
		}
		if conf.HLSSegmentCount < 1 {
			return fmt.Errorf("'hlsSegmentCount' must be at least 1")
		}
		if len(conf.HLSMediaKinds) == 0 {
			return fmt.Errorf("'hlsMediaKinds' must contain at least one media kind")
		}
	}

	if conf.HLS || conf.Metrics {
		if err := checkAddress("hlsAddress", conf.HLSAddress); err != nil {
			return err
		}
	}

	// Recording

	if conf.Record {
		if conf.RecordPath == "" {
			return fmt.Errorf("'recordPath' must be set when 'record' is enabled")
		}
		if len(conf.RecordMediaKinds) == 0 {
			return fmt.Errorf("'recordMediaKinds' must contain at least one media kind")
		}
		if conf.RecordDeleteAfter < 0 {
			return fmt.Errorf("'recordDeleteAfter' must not be negative")
		}
	}
	if conf.RecordSampleRate < 0 || conf.RecordChannelCount < 0 {
		return fmt.Errorf("invalid recording audio parameters")
	}
	if conf.RecordWidth < 0 || conf.RecordHeight < 0 {
		return fmt.Errorf("invalid recording video size")
	}

	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (conf *Conf) UnmarshalJSON(b []byte) error {
	conf.setDefaults()

	type alias Conf
	d := json.NewDecoder(bytes.NewReader(b))
	d.DisallowUnknownFields()
	return d.Decode((*alias)(conf))
}
