// Package config is the on-disk configuration of the FAIVR service.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"time"

	"github.com/oldschoolag/Faivr"
	"k8s.io/apimachinery/pkg/util/yaml"
)

var (
	ErrBadDuration     = errors.New("config: duration is invalid")
	ErrUnknownProvider = errors.New("config.Completion: unknown provider")
	ErrBadRateLimit    = errors.New("config.RateLimit: limit must be positive")
	ErrBadCIDR         = errors.New("config.RateLimit: invalid exempt CIDR")
	ErrNoDataDir       = errors.New("config.Support: dataDir is required")
	ErrNonPositive     = errors.New("config: duration must be positive")
)

// Duration is a time.Duration written as a Go duration string ("90s", "1h").
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %w", ErrBadDuration, err)
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadDuration, err)
	}

	*d = Duration(dur)
	return nil
}

func (d Duration) D() time.Duration { return time.Duration(d) }

type Verify struct {
	Expiry       Duration `json:"expiry"`
	CheckTimeout Duration `json:"checkTimeout"`
}

func (v Verify) Valid() error {
	var errs []error

	if v.Expiry <= 0 {
		errs = append(errs, fmt.Errorf("%w: expiry", ErrNonPositive))
	}

	if v.CheckTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: checkTimeout", ErrNonPositive))
	}

	if len(errs) != 0 {
		return fmt.Errorf("config.Verify: invalid config: %w", errors.Join(errs...))
	}

	return nil
}

type Provider string

const (
	ProviderNone   Provider = ""
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
)

// Completion picks the completion service for support chat. API keys are
// only read from the environment.
type Completion struct {
	Provider Provider `json:"provider"`
	Model    string   `json:"model,omitempty"`
	BaseURL  string   `json:"baseURL,omitempty"`
	Timeout  Duration `json:"timeout"`
}

func (c Completion) Valid() error {
	var errs []error

	switch c.Provider {
	case ProviderNone, ProviderOpenAI, ProviderGemini:
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownProvider, c.Provider))
	}

	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: timeout", ErrNonPositive))
	}

	if len(errs) != 0 {
		return fmt.Errorf("config.Completion: invalid config: %w", errors.Join(errs...))
	}

	return nil
}

type Support struct {
	// KnowledgeFile replaces the embedded knowledge base when set.
	KnowledgeFile string     `json:"knowledgeFile,omitempty"`
	DataDir       string     `json:"dataDir"`
	Completion    Completion `json:"completion"`
}

func (s Support) Valid() error {
	var errs []error

	if s.DataDir == "" {
		errs = append(errs, ErrNoDataDir)
	}

	if err := s.Completion.Valid(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) != 0 {
		return errors.Join(errs...)
	}

	return nil
}

type RateLimit struct {
	Limit  int      `json:"limit"`
	Window Duration `json:"window"`
	Exempt []string `json:"exempt,omitempty"`
}

func (r RateLimit) Valid() error {
	var errs []error

	if r.Limit <= 0 {
		errs = append(errs, fmt.Errorf("%w, got: %d", ErrBadRateLimit, r.Limit))
	}

	if r.Window <= 0 {
		errs = append(errs, fmt.Errorf("%w: window", ErrNonPositive))
	}

	for _, cidr := range r.Exempt {
		if _, err := netip.ParsePrefix(cidr); err != nil {
			errs = append(errs, fmt.Errorf("%w %q: %w", ErrBadCIDR, cidr, err))
		}
	}

	if len(errs) != 0 {
		return errors.Join(errs...)
	}

	return nil
}

type Config struct {
	Store     Store     `json:"store"`
	Verify    Verify    `json:"verify"`
	Support   Support   `json:"support"`
	RateLimit RateLimit `json:"rateLimit"`
}

// Default is the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Store: Store{
			Backend: "memory",
		},
		Verify: Verify{
			Expiry:       Duration(faivr.ChallengeExpiry),
			CheckTimeout: Duration(faivr.CheckTimeout),
		},
		Support: Support{
			DataDir: ".support-data",
			Completion: Completion{
				Timeout: Duration(10 * time.Second),
			},
		},
		RateLimit: RateLimit{
			Limit:  faivr.ChatRateLimit,
			Window: Duration(faivr.ChatRateWindow),
		},
	}
}

func (c *Config) Valid() error {
	var errs []error

	if err := c.Store.Valid(); err != nil {
		errs = append(errs, err)
	}

	for _, v := range []interface{ Valid() error }{c.Verify, c.Support, c.RateLimit} {
		if err := v.Valid(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) != 0 {
		return fmt.Errorf("config is not valid:\n%w", errors.Join(errs...))
	}

	return nil
}

// Load decodes a YAML or JSON config on top of Default and validates it.
func Load(fin io.Reader, fname string) (*Config, error) {
	c := Default()

	if err := yaml.NewYAMLToJSONDecoder(fin).Decode(c); err != nil {
		return nil, fmt.Errorf("can't parse config YAML %s: %w", fname, err)
	}

	if err := c.Valid(); err != nil {
		return nil, err
	}

	return c, nil
}

func LoadFile(fname string) (*Config, error) {
	fin, err := os.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("can't open config %s: %w", fname, err)
	}
	defer fin.Close()

	return Load(fin, fname)
}
