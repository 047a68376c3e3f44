package stack

import (
	"os"
	"sort"
	"strconv"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

var log = logging.Logger("stack")

// Config is the part of a compose file the stack tooling reads.
type Config struct {
	Name     string              `yaml:"name"`
	Networks map[string]*Network `yaml:"networks"`
	Volumes  map[string]*Volume  `yaml:"volumes"`
	Services map[string]Service  `yaml:"services"`
}

type Network struct {
	Driver   string `yaml:"driver"`
	External bool   `yaml:"external"`
}

type Volume struct {
	Driver   string `yaml:"driver"`
	External bool   `yaml:"external"`
}

// MapOrArray holds KEY=VALUE pairs written either as a mapping or a list.
type MapOrArray []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *MapOrArray) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.MappingNode:
		var env map[string]*string
		if err := value.Decode(&env); err != nil {
			return err
		}
		out := make([]string, 0, len(env))
		for k, v := range env {
			if v == nil {
				out = append(out, k)
				continue
			}
			out = append(out, k+"="+*v)
		}
		sort.Strings(out)
		*m = out
		return nil
	case yaml.SequenceNode:
		var env []string
		if err := value.Decode(&env); err != nil {
			return err
		}
		*m = env
		return nil
	default:
		return xerrors.Errorf("line %d: environment must be a mapping or a list", value.Line)
	}
}

// Lookup returns the value of key.
func (m MapOrArray) Lookup(key string) (string, bool) {
	for _, kv := range m {
		k, v, _ := strings.Cut(kv, "=")
		if k == key {
			return v, true
		}
	}
	return "", false
}

type Service struct {
	Image       string     `yaml:"image"`
	Command     string     `yaml:"command"`
	Restart     string     `yaml:"restart"`
	Environment MapOrArray `yaml:"environment"`
	Ports       []string   `yaml:"ports"`
	Volumes     []string   `yaml:"volumes"`
	Networks    []string   `yaml:"networks"`
}

// Port is a published port pair.
type Port struct {
	Host      int
	Container int
}

// Mount is a volume mount of a service.
type Mount struct {
	Source string
	Target string
}

// Load parses the compose file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse parses compose file content.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, xerrors.Errorf("parse compose file: %w", err)
	}
	if len(cfg.Services) == 0 {
		return nil, xerrors.New("compose file declares no services")
	}
	return &cfg, nil
}

// ServiceNames returns the declared services in name order.
func (c *Config) ServiceNames() []string {
	names := make([]string, 0, len(c.Services))
	for n := range c.Services {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ParsePort reads the short port syntax: [ip:]host:container[/proto].
func ParsePort(s string) (Port, error) {
	spec, _, _ := strings.Cut(strings.TrimSpace(s), "/")
	parts := strings.Split(spec, ":")
	if len(parts) < 2 {
		return Port{}, xerrors.Errorf("port %q publishes no host port", s)
	}

	host, err := strconv.Atoi(parts[len(parts)-2])
	if err != nil {
		return Port{}, xerrors.Errorf("port %q: host port: %w", s, err)
	}
	ctr, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return Port{}, xerrors.Errorf("port %q: container port: %w", s, err)
	}
	return Port{Host: host, Container: ctr}, nil
}

// ParseMount reads the short volume syntax: source:target[:mode].
func ParseMount(s string) (Mount, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Mount{}, xerrors.Errorf("volume %q has no source", s)
	}
	return Mount{Source: parts[0], Target: parts[1]}, nil
}

func (s Service) ports() ([]Port, []error) {
	var (
		out  []Port
		errs []error
	)
	for _, p := range s.Ports {
		port, err := ParsePort(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, port)
	}
	return out, errs
}
