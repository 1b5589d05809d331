package config

import (
	"flag"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"
)

// Cli holds every runtime option of the service. Populated in main() via
// ff/v3 from flags, the optional config file and FLOWCLIP_* env vars.
type Cli struct {
	HTTPAddress     string
	CallbackAddress string
	APIToken        string

	DatabaseURL        string
	RedisAddress       string
	RedisPassword      string
	RedisDB            int
	CallbackRedisNS    string
	TaskDeadline       time.Duration
	DownloadWorkDir    string
	YtdlpCookiesFile   string
	DefaultResourceDir string

	// Object store. Internal endpoint carries all server-to-server traffic;
	// the public endpoint only appears in URLs minted for external consumers.
	StorageInternalEndpoint string
	StoragePublicEndpoint   string
	StorageAccessKey        string
	StorageSecretKey        string
	StorageBucket           string
	StorageUseSSL           bool
	PresignTTL              time.Duration

	// ASR.
	ASRServiceURL    string
	ASRAPIURL        string
	ASRTusURL        string
	ASRAPIKey        string
	ASRModel         string
	ASRLanguage      string
	ASRSizeThreshold int64
	TusEnabled       bool
	CallbackPublicIP string

	// Editor backends.
	CapCutAPIURL    string
	JianyingAPIURL  string
	JianyingAPIKey  string
	EditorDraftRoot string

	StageWeights StageWeightMap
}

// StageWeightMap maps root stage names to their share of overall progress.
type StageWeightMap map[string]float64

func (m StageWeightMap) String() string {
	var parts []string
	for k, v := range m {
		parts = append(parts, fmt.Sprintf("%s=%g", k, v))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func (m StageWeightMap) Set(s string) error {
	for _, pair := range strings.Split(s, ",") {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return fmt.Errorf("invalid stage weight: %s", pair)
		}
		var w float64
		if _, err := fmt.Sscanf(kv[1], "%g", &w); err != nil {
			return fmt.Errorf("invalid stage weight value %q: %w", kv[1], err)
		}
		m[kv[0]] = w
	}
	return nil
}

// CommaMapFlag registers a k1=v1,k2=v2 style flag.
func CommaMapFlag(fs *flag.FlagSet, dest *map[string]string, name string, value map[string]string, usage string) {
	*dest = value
	fs.Func(name, usage, func(s string) error {
		m := map[string]string{}
		for _, pair := range strings.Split(s, ",") {
			if pair == "" {
				continue
			}
			kv := strings.SplitN(pair, "=", 2)
			if len(kv) != 2 {
				return fmt.Errorf("invalid map entry: %s", pair)
			}
			m[kv[0]] = kv[1]
		}
		*dest = m
		return nil
	})
}

// CommaSliceFlag registers a comma-separated list flag.
func CommaSliceFlag(fs *flag.FlagSet, dest *[]string, name string, value []string, usage string) {
	*dest = value
	fs.Func(name, usage, func(s string) error {
		if s == "" {
			*dest = []string{}
			return nil
		}
		*dest = strings.Split(s, ",")
		return nil
	})
}

// AddrFlag registers a listen-address flag that accepts host:port or a bare
// port.
func AddrFlag(fs *flag.FlagSet, dest *string, name, value, usage string) {
	*dest = value
	fs.Func(name, usage, func(s string) error {
		if !strings.Contains(s, ":") {
			s = ":" + s
		}
		if _, _, err := net.SplitHostPort(s); err != nil {
			return fmt.Errorf("invalid listen address %q: %w", s, err)
		}
		*dest = s
		return nil
	})
}
