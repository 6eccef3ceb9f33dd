package capture

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPlatform is the table entry used for unknown platforms
const DefaultPlatform = "default"

// Constraints is what the camera must satisfy to start
type Constraints struct {
	Facing string `yaml:"facing"` // "environment", "user" or "" for any
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
}

// Settings tunes the decoder once the camera is running
type Settings struct {
	FrameRate int  `yaml:"frameRate"`
	TryHarder bool `yaml:"tryHarder"`
}

// Profile is one (constraints, settings) tuple tried by the negotiator
type Profile struct {
	Name        string      `yaml:"name"`
	Constraints Constraints `yaml:"constraints"`
	Settings    Settings    `yaml:"settings"`
}

// FrameInterval is the time between decoded frames
func (p Profile) FrameInterval() time.Duration {
	if p.Settings.FrameRate <= 0 {
		return 100 * time.Millisecond
	}
	return time.Second / time.Duration(p.Settings.FrameRate)
}

// Table maps a platform family to its profiles in priority order
type Table map[string][]Profile

// DefaultTable is the built-in capability-profile table. Phones prefer the
// rear camera at a modest resolution; desktops usually only have a front
// camera and no facing hint.
var DefaultTable = Table{
	"ios": {
		{Name: "ios-rear-720p", Constraints: Constraints{Facing: "environment", Width: 1280, Height: 720}, Settings: Settings{FrameRate: 10}},
		{Name: "ios-rear-any", Constraints: Constraints{Facing: "environment"}, Settings: Settings{FrameRate: 5, TryHarder: true}},
		{Name: "ios-any", Settings: Settings{FrameRate: 5, TryHarder: true}},
	},
	"android": {
		{Name: "android-rear-1080p", Constraints: Constraints{Facing: "environment", Width: 1920, Height: 1080}, Settings: Settings{FrameRate: 10}},
		{Name: "android-rear-720p", Constraints: Constraints{Facing: "environment", Width: 1280, Height: 720}, Settings: Settings{FrameRate: 10}},
		{Name: "android-any", Settings: Settings{FrameRate: 5, TryHarder: true}},
	},
	"desktop": {
		{Name: "desktop-720p", Constraints: Constraints{Width: 1280, Height: 720}, Settings: Settings{FrameRate: 10}},
		{Name: "desktop-any", Settings: Settings{FrameRate: 5, TryHarder: true}},
	},
	DefaultPlatform: {
		{Name: "rear-any", Constraints: Constraints{Facing: "environment"}, Settings: Settings{FrameRate: 5}},
		{Name: "any", Settings: Settings{FrameRate: 5, TryHarder: true}},
	},
}

// For returns the ordered profiles for a platform, falling back to the
// default entry
func (t Table) For(platform string) []Profile {
	if ps, ok := t[strings.ToLower(platform)]; ok {
		return ps
	}
	return t[DefaultPlatform]
}

// LoadTable reads a YAML profile table and lays it over the defaults. A
// platform present in the file replaces the built-in entry for that platform
// entirely.
//
//	android:
//	  - name: rear-wide
//	    constraints: {facing: environment, width: 1920, height: 1080}
//	    settings: {frameRate: 15}
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile table: %w", err)
	}
	return ParseTable(data)
}

// ParseTable is LoadTable for in-memory YAML
func ParseTable(data []byte) (Table, error) {
	var override Table
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("failed to parse profile table: %w", err)
	}

	table := make(Table, len(DefaultTable)+len(override))
	for platform, ps := range DefaultTable {
		table[platform] = ps
	}
	for platform, ps := range override {
		for i, p := range ps {
			if p.Name == "" {
				return nil, fmt.Errorf("profile %d of %s has no name", i, platform)
			}
		}
		table[strings.ToLower(platform)] = ps
	}
	return table, nil
}
