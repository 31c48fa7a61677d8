// Package conf contains the configuration of the relay server.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/galaxy-iot/media-relay/rtsp"
	"github.com/galaxy-iot/media-relay/sdp"
)

// Conf is the configuration file.
type Conf struct {
	RTSPAddress     string   `yaml:"rtspAddress"`
	VideoPort       int      `yaml:"videoPort"`
	AudioPort       int      `yaml:"audioPort"`
	Description     string   `yaml:"description"`
	DescriptionFile string   `yaml:"descriptionFile"`
	IngestAddress   string   `yaml:"ingestAddress"`
	ReadTimeout     Duration `yaml:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout"`
	TrafficClass    int      `yaml:"trafficClass"`
}

func (conf *Conf) setDefaults() {
	conf.RTSPAddress = rtsp.DefaultRTSPAddress
	conf.VideoPort = rtsp.DefaultVideoPort
	conf.AudioPort = rtsp.DefaultAudioPort
	conf.ReadTimeout = Duration(10 * time.Second)
	conf.WriteTimeout = Duration(10 * time.Second)
}

// Load loads a Conf from a YAML file.
// A relative descriptionFile is resolved against the directory of the configuration.
func Load(fpath string) (*Conf, error) {
	buf, err := os.ReadFile(fpath)
	if err != nil {
		return nil, err
	}

	conf, err := Parse(buf)
	if err != nil {
		return nil, err
	}

	if conf.DescriptionFile != "" {
		if !filepath.IsAbs(conf.DescriptionFile) {
			conf.DescriptionFile = filepath.Join(filepath.Dir(fpath), conf.DescriptionFile)
		}

		if err := conf.LoadDescription(); err != nil {
			return nil, err
		}
	}

	return conf, nil
}

// Parse decodes and validates a Conf. Keys that are not part of Conf are rejected.
func Parse(buf []byte) (*Conf, error) {
	conf := &Conf{}
	conf.setDefaults()

	if err := yaml.UnmarshalStrict(buf, conf); err != nil {
		return nil, err
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}

	return conf, nil
}

// LoadDescription reads DescriptionFile into Description.
func (conf *Conf) LoadDescription() error {
	buf, err := os.ReadFile(conf.DescriptionFile)
	if err != nil {
		return err
	}

	if _, err := sdp.Parse(string(buf)); err != nil {
		return fmt.Errorf("invalid description file: %w", err)
	}

	conf.Description = string(buf)
	return nil
}

// Validate checks the configuration.
func (conf *Conf) Validate() error {
	if conf.RTSPAddress == "" {
		return fmt.Errorf("'rtspAddress' is empty")
	}

	if conf.VideoPort < 0 || conf.VideoPort > 65535 {
		return fmt.Errorf("invalid 'videoPort': %d", conf.VideoPort)
	}

	if conf.AudioPort < 0 || conf.AudioPort > 65535 {
		return fmt.Errorf("invalid 'audioPort': %d", conf.AudioPort)
	}

	if conf.VideoPort != 0 && conf.VideoPort == conf.AudioPort {
		return fmt.Errorf("'videoPort' and 'audioPort' must be different")
	}

	switch {
	case conf.Description != "" && conf.DescriptionFile != "":
		return fmt.Errorf("'description' and 'descriptionFile' can't be used together")

	case conf.Description == "" && conf.DescriptionFile == "":
		return fmt.Errorf("either 'description' or 'descriptionFile' must be set")

	case conf.Description != "":
		if _, err := sdp.Parse(conf.Description); err != nil {
			return fmt.Errorf("invalid 'description': %w", err)
		}
	}

	if conf.ReadTimeout < 0 || conf.WriteTimeout < 0 {
		return fmt.Errorf("timeouts can't be negative")
	}

	if conf.TrafficClass < 0 || conf.TrafficClass > 255 {
		return fmt.Errorf("invalid 'trafficClass': %d", conf.TrafficClass)
	}

	return nil
}

// ServerConfig returns the configuration of the RTSP server.
func (conf *Conf) ServerConfig() rtsp.ServerConfig {
	return rtsp.ServerConfig{
		RTSPAddress:  conf.RTSPAddress,
		VideoPort:    conf.VideoPort,
		AudioPort:    conf.AudioPort,
		Description:  conf.Description,
		ReadTimeout:  time.Duration(conf.ReadTimeout),
		WriteTimeout: time.Duration(conf.WriteTimeout),
		TrafficClass: conf.TrafficClass,
	}
}
