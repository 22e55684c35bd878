// Package config resolves playerctl's settings from flags, environment
// variables, and an optional config file, the same three-source precedence
// the teacher pack's CLI config packages use.
package config

import (
	"os"

	"github.com/spf13/viper"
)

var v *viper.Viper

const (
	DefaultMetricsAddr = ":9477"
	DefaultCacheMB     = 64
)

func init() {
	v = viper.New()

	v.SetDefault("metrics.addr", DefaultMetricsAddr)
	v.SetDefault("cache.max_size_mb", DefaultCacheMB)
	v.SetDefault("decoder.hardware", false)

	v.AutomaticEnv()
	v.BindEnv("metrics.addr", "PLAYERCTL_METRICS_ADDR")
	v.BindEnv("cache.max_size_mb", "PLAYERCTL_CACHE_MB")
	v.BindEnv("decoder.hardware", "PLAYERCTL_HARDWARE_DECODE")

	v.SetConfigName("playerctl")
	v.SetConfigType("yaml")
	for _, path := range []string{".", "$HOME/.config/playerctl", "/etc/playerctl"} {
		v.AddConfigPath(os.ExpandEnv(path))
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic("playerctl: error reading config file: " + err.Error())
		}
	}
}

func MetricsAddr() string    { return v.GetString("metrics.addr") }
func CacheMaxSizeMB() uint32 { return uint32(v.GetInt("cache.max_size_mb")) }
func HardwareDecode() bool   { return v.GetBool("decoder.hardware") }
