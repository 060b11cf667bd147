package supervisor

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

const (
	DefaultMaxRestarts = 16
	DefaultMinUptime   = time.Second
)

// Descriptor is the ecosystem file: one entry per supervised app.
type Descriptor struct {
	Apps []App `yaml:"apps"`
}

// App describes one long-running process and its restart policy.
type App struct {
	Name        string            `yaml:"name"`
	Script      string            `yaml:"script"`
	Interpreter string            `yaml:"interpreter"`
	Args        []string          `yaml:"args"`
	Cwd         string            `yaml:"cwd"`
	Env         map[string]string `yaml:"env"`

	// Autorestart defaults to true when omitted.
	Autorestart *bool `yaml:"autorestart"`
	// MaxRestarts is the number of consecutive unstable restarts tolerated.
	MaxRestarts      int      `yaml:"max_restarts"`
	MinUptime        Duration `yaml:"min_uptime"`
	RestartDelay     Duration `yaml:"restart_delay"`
	MaxMemoryRestart ByteSize `yaml:"max_memory_restart"`

	ErrorFile string `yaml:"error_file"`
	OutFile   string `yaml:"out_file"`
	LogFile   string `yaml:"log_file"`
	// Time prefixes every log line with a timestamp.
	Time bool `yaml:"time"`
}

func (a App) restarts() bool {
	return a.Autorestart == nil || *a.Autorestart
}

func (a App) maxRestarts() int {
	if a.MaxRestarts <= 0 {
		return DefaultMaxRestarts
	}
	return a.MaxRestarts
}

func (a App) minUptime() time.Duration {
	if a.MinUptime <= 0 {
		return DefaultMinUptime
	}
	return time.Duration(a.MinUptime)
}

// Duration accepts either a Go duration string ("10s") or a bare number of
// milliseconds (1000).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	v, err := ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) String() string { return time.Duration(d).String() }

func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("negative duration %q", s)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

// ByteSize is a memory ceiling in bytes.
type ByteSize uint64

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	v, err := ParseMemory(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*b = ByteSize(v)
	return nil
}

func (b ByteSize) String() string { return humanize.IBytes(uint64(b)) }

var shortUnit = regexp.MustCompile(`(?i)^\d+(\.\d+)?\s*[KMG]$`)

// ParseMemory parses sizes like "200M", "1.5G" or "512MiB". Single-letter
// units are binary, so "200M" is 200 MiB.
func ParseMemory(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if shortUnit.MatchString(s) {
		s += "iB"
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid memory size %q", s)
	}
	return n, nil
}

// LoadDescriptor reads and validates an ecosystem file.
func LoadDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	d, err := ParseDescriptor(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

func ParseDescriptor(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

func (d *Descriptor) Validate() error {
	if len(d.Apps) == 0 {
		return errors.New("no apps defined")
	}
	var errs []error
	seen := map[string]bool{}
	for i, app := range d.Apps {
		switch {
		case app.Name == "":
			errs = append(errs, fmt.Errorf("app %d: name is required", i))
		case seen[app.Name]:
			errs = append(errs, fmt.Errorf("app %q: duplicate name", app.Name))
		}
		seen[app.Name] = true
		if app.Script == "" {
			errs = append(errs, fmt.Errorf("app %q: script is required", app.Name))
		}
		if app.MaxRestarts < 0 {
			errs = append(errs, fmt.Errorf("app %q: max_restarts must not be negative", app.Name))
		}
	}
	return errors.Join(errs...)
}
