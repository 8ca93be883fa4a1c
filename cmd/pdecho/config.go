package main

import (
	"fmt"
	"net"
	"os"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/railcomm/trdp-pd/pkg/pd"
)

// demoConfig is the YAML-facing shape loaded by loadConfig. It mirrors
// pd.SessionConfig plus the handful of demo-only fields (which comId to
// publish/subscribe, how fast) that a real embedding application would
// own itself rather than push into the engine's configuration.
type demoConfig struct {
	Session pd.SessionConfig `mapstructure:"session"`

	PublishComId    uint32        `mapstructure:"publish_com_id"`
	PublishDestIP   net.IP        `mapstructure:"publish_dest_ip"`
	PublishInterval time.Duration `mapstructure:"publish_interval"`

	SubscribeComId uint32        `mapstructure:"subscribe_com_id"`
	SubscribeFrom  net.IP        `mapstructure:"subscribe_from"`
	SubscribeTimeo time.Duration `mapstructure:"subscribe_timeout"`
}

// loadConfig decodes a YAML demo file into a generic map and then through
// mapstructure into demoConfig: an untyped document first, then a typed
// decode with hooks, keeping the engine package itself free of any
// opinion about configuration file formats.
func loadConfig(path string) (demoConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return demoConfig{}, fmt.Errorf("read config: %w", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return demoConfig{}, fmt.Errorf("parse yaml: %w", err)
	}

	var cfg demoConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			stringToIPHookFunc,
			stringToSchedulerModeHookFunc,
		),
		Result:           &cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return demoConfig{}, fmt.Errorf("build decoder: %w", err)
	}
	if err := decoder.Decode(doc); err != nil {
		return demoConfig{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

var ipType = reflect.TypeOf(net.IP{})

func stringToIPHookFunc(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != ipType {
		return data, nil
	}
	s := data.(string)
	if s == "" {
		return net.IP(nil), nil
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("invalid IP address %q", s)
	}
	return ip, nil
}

var schedulerModeType = reflect.TypeOf(pd.SchedulerLegacy)

func stringToSchedulerModeHookFunc(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != schedulerModeType {
		return data, nil
	}
	switch data.(string) {
	case "legacy", "":
		return pd.SchedulerLegacy, nil
	case "indexed":
		return pd.SchedulerIndexed, nil
	default:
		return nil, fmt.Errorf("unknown scheduler mode %q", data)
	}
}
