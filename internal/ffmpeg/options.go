package ffmpeg

import (
	"fmt"
	"strings"
)

// OptionType represents a strongly typed FFmpeg input option.
type OptionType string

// Input option flags for network capture.
const (
	OptionGeneratePTS        OptionType = "genpts"
	OptionIgnoreDTS          OptionType = "igndts"
	OptionIgnoreErrors       OptionType = "ignore_err"
	OptionWallclockTimestamp OptionType = "wallclock_ts"
	OptionThreadQueue1024    OptionType = "thread_queue_1024"
	OptionThreadQueue4096    OptionType = "thread_queue_4096"
	OptionLowLatency         OptionType = "low_latency"
	OptionRTSPOverTCP        OptionType = "rtsp_tcp"
	OptionRealtime           OptionType = "realtime"
)

// OptionCategory represents option categories.
type OptionCategory string

// Option categories.
const (
	CategoryTiming      OptionCategory = "Timing"
	CategoryErrorHandle OptionCategory = "Error Handling"
	CategoryPerformance OptionCategory = "Performance"
	CategoryTransport   OptionCategory = "Transport"
)

// ExclusiveGroup represents a group of mutually exclusive options.
type ExclusiveGroup string

// Exclusive groups.
const (
	GroupThreadQueue ExclusiveGroup = "thread_queue"
)

// Option describes one input flag.
type Option struct {
	Key            OptionType      `json:"key"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Category       OptionCategory  `json:"category"`
	AppDefault     bool            `json:"app_default"`
	ExclusiveGroup *ExclusiveGroup `json:"exclusive_group,omitempty"`
	ConflictsWith  []OptionType    `json:"conflicts_with,omitempty"`
	args           []string
	fflag          string
}

func group(g ExclusiveGroup) *ExclusiveGroup { return &g }

// AllOptions lists every supported input option.
var AllOptions = []Option{
	{
		Key:           OptionGeneratePTS,
		Name:          "Generate PTS",
		Description:   "Generate missing presentation timestamps",
		Category:      CategoryTiming,
		ConflictsWith: []OptionType{OptionWallclockTimestamp},
		fflag:         "+genpts",
	},
	{
		Key:         OptionIgnoreDTS,
		Name:        "Ignore DTS",
		Description: "Ignore decode timestamps from damaged streams",
		Category:    CategoryErrorHandle,
		fflag:       "+igndts",
	},
	{
		Key:         OptionIgnoreErrors,
		Name:        "Ignore Errors",
		Description: "Keep decoding despite bitstream errors",
		Category:    CategoryErrorHandle,
		AppDefault:  true,
		args:        []string{"-err_detect", "ignore_err"},
	},
	{
		Key:           OptionWallclockTimestamp,
		Name:          "Wallclock Timestamps",
		Description:   "Stamp packets with the receive time",
		Category:      CategoryTiming,
		ConflictsWith: []OptionType{OptionGeneratePTS},
		args:          []string{"-use_wallclock_as_timestamps", "1"},
	},
	{
		Key:            OptionThreadQueue1024,
		Name:           "Large Thread Queue",
		Description:    "Use a 1024 packet input queue",
		Category:       CategoryPerformance,
		ExclusiveGroup: group(GroupThreadQueue),
		args:           []string{"-thread_queue_size", "1024"},
	},
	{
		Key:            OptionThreadQueue4096,
		Name:           "Extra Large Thread Queue",
		Description:    "Use a 4096 packet input queue for bursty links",
		Category:       CategoryPerformance,
		ExclusiveGroup: group(GroupThreadQueue),
		args:           []string{"-thread_queue_size", "4096"},
	},
	{
		Key:         OptionLowLatency,
		Name:        "Low Latency Mode",
		Description: "Disable input buffering and request low-delay decoding",
		Category:    CategoryPerformance,
		AppDefault:  true,
		args:        []string{"-flags", "low_delay"},
		fflag:       "+nobuffer",
	},
	{
		Key:         OptionRTSPOverTCP,
		Name:        "RTSP over TCP",
		Description: "Interleave RTSP media on the control connection",
		Category:    CategoryTransport,
		args:        []string{"-rtsp_transport", "tcp"},
	},
	{
		Key:         OptionRealtime,
		Name:        "Read at Native Rate",
		Description: "Throttle file inputs to their frame rate",
		Category:    CategoryTiming,
		args:        []string{"-re"},
	},
}

// GetOptionByKey returns an option by its key.
func GetOptionByKey(key OptionType) *Option {
	for i := range AllOptions {
		if AllOptions[i].Key == key {
			return &AllOptions[i]
		}
	}
	return nil
}

// GetDefaultOptions returns the options enabled when none are configured.
func GetDefaultOptions() []OptionType {
	var defaults []OptionType
	for _, option := range AllOptions {
		if option.AppDefault {
			defaults = append(defaults, option.Key)
		}
	}
	return defaults
}

// ParseOptions converts configured option names, rejecting unknown ones.
func ParseOptions(names []string) ([]OptionType, error) {
	opts := make([]OptionType, 0, len(names))
	for _, n := range names {
		key := OptionType(strings.TrimSpace(n))
		if key == "" {
			continue
		}
		if GetOptionByKey(key) == nil {
			return nil, fmt.Errorf("unknown ffmpeg option %q", n)
		}
		opts = append(opts, key)
	}
	return opts, ValidateOptions(opts)
}

// ValidateOptions checks for conflicts and exclusive group violations.
func ValidateOptions(selected []OptionType) error {
	exclusive := make(map[ExclusiveGroup][]string)
	selectedSet := make(map[OptionType]bool)

	for _, key := range selected {
		selectedSet[key] = true
		if option := GetOptionByKey(key); option != nil && option.ExclusiveGroup != nil {
			exclusive[*option.ExclusiveGroup] = append(exclusive[*option.ExclusiveGroup], option.Name)
		}
	}

	for g, names := range exclusive {
		if len(names) > 1 {
			return fmt.Errorf("multiple options from exclusive group '%s' selected: %s", g, strings.Join(names, ", "))
		}
	}

	for _, key := range selected {
		option := GetOptionByKey(key)
		if option == nil {
			continue
		}
		for _, c := range option.ConflictsWith {
			if selectedSet[c] {
				name := string(c)
				if o := GetOptionByKey(c); o != nil {
					name = o.Name
				}
				return fmt.Errorf("option '%s' conflicts with '%s'", option.Name, name)
			}
		}
	}

	return nil
}

// inputArgs renders options as input arguments. fflags are merged into
// a single -fflags argument.
func inputArgs(options []OptionType) []string {
	var args []string
	var fflags strings.Builder
	for _, key := range options {
		option := GetOptionByKey(key)
		if option == nil {
			continue
		}
		args = append(args, option.args...)
		fflags.WriteString(option.fflag)
	}
	if fflags.Len() > 0 {
		args = append(args, "-fflags", fflags.String())
	}
	return args
}
