package encoders

import "strings"

// fallbacks extends a named encoder with the encoders tried after it before
// the software encoder.
var fallbacks = map[string][]string{
	"h264_nvenc": {"h264_amf"},
}

// Candidates returns the encoders to try, in order, for a preference.
//
//	auto          every hardware profile in priority order, then libx264
//	cpu, libx264  libx264 only
//	<name>        that encoder, its fallbacks, then libx264
func Candidates(preference string) []string {
	preference = strings.TrimSpace(preference)

	switch {
	case IsSoftware(preference):
		return []string{Software}
	case preference == "" || strings.EqualFold(preference, "auto"):
		var out []string
		for _, p := range profiles {
			if p.Hardware {
				out = append(out, p.Name)
			}
		}
		return append(out, Software)
	}

	out := []string{preference}
	for _, name := range fallbacks[preference] {
		out = appendUnique(out, name)
	}
	return appendUnique(out, Software)
}

func appendUnique(list []string, name string) []string {
	for _, existing := range list {
		if existing == name {
			return list
		}
	}
	return append(list, name)
}
