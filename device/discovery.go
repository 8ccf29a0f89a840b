package device

import "github.com/c360/devlink/message"

// Discovery message construction. The set is fixed per init: one
// device-header, one device-options, then a header/options pair per
// stream in registration order. Each message is handed to the
// notification server the moment it is built so a failed init never
// leaves a partial set behind (the server rolls the whole thing back).

func deviceHeaderMessage(streamCount int, extrinsics ExtrinsicsMap) message.Flexible {
	return message.Flexible{
		message.KeyID: message.IDDeviceHeader,
		"n-streams":   streamCount,
		"extrinsics":  extrinsics.toList(),
	}
}

func deviceOptionsMessage(options []*Option) message.Flexible {
	return message.Flexible{
		message.KeyID: message.IDDeviceOptions,
		"options":     optionList(options),
	}
}

func (s *Stream) headerMessage() message.Flexible {
	profiles := make([]any, 0, len(s.Profiles))
	for _, p := range s.Profiles {
		profiles = append(profiles, p.toMap(s.Kind))
	}
	return message.Flexible{
		message.KeyID:           message.IDStreamHeader,
		"type":                  s.Kind.String(),
		"name":                  s.Name,
		"sensor-name":           s.Sensor,
		"profiles":              profiles,
		"default-profile-index": s.DefaultProfileIndex,
		"metadata-enabled":      s.MetadataEnabled,
	}
}

func (s *Stream) optionsMessage() message.Flexible {
	m := message.Flexible{
		message.KeyID: message.IDStreamOptions,
		"stream-name": s.Name,
		"options":     optionList(s.Options),
	}
	if s.Intrinsics != nil {
		m["intrinsics"] = s.Intrinsics.intrinsicsValue()
	}
	if len(s.RecommendedFilters) > 0 {
		filters := make([]any, 0, len(s.RecommendedFilters))
		for _, f := range s.RecommendedFilters {
			filters = append(filters, f)
		}
		m["recommended-filters"] = filters
	}
	return m
}
