package ffmpeg

import (
	"fmt"
	"slices"
	"strings"
)

// OptionType represents a strongly typed FFmpeg behaviour flag.
type OptionType string

const (
	OptionNoBuffer      OptionType = "nobuffer"
	OptionLowDelay      OptionType = "low_delay"
	OptionFlushPackets  OptionType = "flush_packets"
	OptionThreadQueue64 OptionType = "thread_queue_64"
	OptionThreadQueue1k OptionType = "thread_queue_1024"
)

// OptionCategory groups options for display.
type OptionCategory string

const (
	CategoryLatency     OptionCategory = "Latency"
	CategoryPerformance OptionCategory = "Performance"
)

// Option describes one flag with its metadata.
type Option struct {
	Key           OptionType
	Name          string
	Description   string
	Category      OptionCategory
	AppDefault    bool
	ConflictsWith []OptionType
}

// AllOptions lists every supported flag.
var AllOptions = []Option{
	{
		Key:         OptionNoBuffer,
		Name:        "No Input Buffering",
		Description: "Reduce latency introduced by input probing and buffering",
		Category:    CategoryLatency,
		AppDefault:  true,
	},
	{
		Key:         OptionLowDelay,
		Name:        "Low Delay",
		Description: "Force low delay codec flags",
		Category:    CategoryLatency,
		AppDefault:  true,
	},
	{
		Key:         OptionFlushPackets,
		Name:        "Flush Packets",
		Description: "Write every packet to the output immediately",
		Category:    CategoryLatency,
		AppDefault:  true,
	},
	{
		Key:           OptionThreadQueue64,
		Name:          "Small Thread Queue",
		Description:   "Use a 64 packet input thread queue",
		Category:      CategoryPerformance,
		ConflictsWith: []OptionType{OptionThreadQueue1k},
	},
	{
		Key:           OptionThreadQueue1k,
		Name:          "Large Thread Queue",
		Description:   "Use a 1024 packet input thread queue for slow grabbers",
		Category:      CategoryPerformance,
		ConflictsWith: []OptionType{OptionThreadQueue64},
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

// GetDefaultOptions returns the options enabled by default.
func GetDefaultOptions() []OptionType {
	var defaults []OptionType
	for _, option := range AllOptions {
		if option.AppDefault {
			defaults = append(defaults, option.Key)
		}
	}
	return defaults
}

// ValidateOptions rejects unknown and conflicting options.
func ValidateOptions(selected []OptionType) error {
	set := make(map[OptionType]bool, len(selected))
	for _, key := range selected {
		if GetOptionByKey(key) == nil {
			return fmt.Errorf("unknown ffmpeg option %q", key)
		}
		set[key] = true
	}

	for _, key := range selected {
		option := GetOptionByKey(key)
		for _, conflict := range option.ConflictsWith {
			if set[conflict] {
				return fmt.Errorf("option '%s' conflicts with '%s'", option.Name, GetOptionByKey(conflict).Name)
			}
		}
	}
	return nil
}

// applyInputOptions writes the flags that belong before -i.
func applyInputOptions(options []OptionType, cmd *strings.Builder) {
	if slices.Contains(options, OptionNoBuffer) {
		cmd.WriteString(" -fflags nobuffer")
	}
	switch {
	case slices.Contains(options, OptionThreadQueue64):
		cmd.WriteString(" -thread_queue_size 64")
	case slices.Contains(options, OptionThreadQueue1k):
		cmd.WriteString(" -thread_queue_size 1024")
	}
}

// applyOutputOptions writes the flags that belong after the codec.
func applyOutputOptions(options []OptionType, cmd *strings.Builder) {
	if slices.Contains(options, OptionLowDelay) {
		cmd.WriteString(" -flags +low_delay")
	}
	if slices.Contains(options, OptionFlushPackets) {
		cmd.WriteString(" -flush_packets 1")
	}
}
