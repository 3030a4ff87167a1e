package autonomy

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/lazypower/aide/internal/value"
)

const (
	maxDisplayString = 100
	maxDisplayItems  = 3
	ellipsis         = "..."
)

var technicalKeys = map[string]bool{
	"id":          true,
	"requestId":   true,
	"timestamp":   true,
	"userId":      true,
	"sessionId":   true,
	"intentId":    true,
	"callbackUrl": true,
	"apiKey":      true,
	"token":       true,
	"password":    true,
	"secret":      true,
}

// DisplayParams redacts params for a confirmation prompt: technical keys
// are dropped, camelCase keys humanized, long strings and arrays truncated.
func DisplayParams(params value.Object) value.Object {
	out := make(value.Object, len(params))
	for k, v := range params {
		if technicalKeys[k] || strings.HasPrefix(k, "_") {
			continue
		}
		out[Humanize(k)] = displayValue(v)
	}
	return out
}

func displayValue(v value.Value) value.Value {
	switch v.Kind() {
	case value.KindString:
		s, _ := v.AsString()
		if r := []rune(s); len(r) > maxDisplayString {
			return value.String(string(r[:maxDisplayString]) + ellipsis)
		}
		return v
	case value.KindArray:
		items, _ := v.AsArray()
		n := len(items)
		if n > maxDisplayItems {
			n = maxDisplayItems
		}
		out := make([]value.Value, 0, n+1)
		for _, it := range items[:n] {
			out = append(out, displayValue(it))
		}
		if len(items) > maxDisplayItems {
			out = append(out, value.String(ellipsis))
		}
		return value.Array(out...)
	case value.KindObject:
		o, _ := v.AsObject()
		return value.Obj(DisplayParams(o))
	}
	return v
}

// Humanize turns "targetTemperature" into "Target temperature".
func Humanize(key string) string {
	var b strings.Builder
	for i, r := range key {
		switch {
		case r == '_' || r == '-':
			b.WriteRune(' ')
		case i == 0:
			b.WriteRune(unicode.ToUpper(r))
		case unicode.IsUpper(r):
			b.WriteRune(' ')
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// phrase is the lower-case verb phrase for an action: "play music".
func phrase(action string) string {
	return strings.ToLower(Humanize(action))
}

func summarize(params value.Object) string {
	if len(params) == 0 {
		return "no details"
	}
	parts := make([]string, 0, len(params))
	for _, k := range params.Keys() {
		parts = append(parts, fmt.Sprintf("%s: %s", k, params[k].Text()))
	}
	return strings.Join(parts, ", ")
}

type template struct {
	text   string
	params []string
}

var announcements = map[string]template{
	"setTimer":      {"Setting a timer for %s", []string{"duration"}},
	"setReminder":   {"I'll remind you to %s", []string{"text"}},
	"turnOnLights":  {"Turning on the %s lights", []string{"room"}},
	"turnOffLights": {"Turning off the %s lights", []string{"room"}},
	"setBrightness": {"Setting brightness to %s", []string{"level"}},
	"remember":      {"I'll remember that %s", []string{"content"}},
	"playMusic":     {"Playing %s", []string{"query"}},
	"setVolume":     {"Setting volume to %s", []string{"level"}},
	"setThermostat": {"Setting the thermostat to %s", []string{"temperature"}},
}

// Announcement is the phrase spoken when an action proceeds with notice.
// Actions without a template, or missing a templated param, get a generic phrase.
func Announcement(action string, params value.Object) string {
	if t, ok := announcements[action]; ok {
		args := make([]any, 0, len(t.params))
		for _, p := range t.params {
			v, ok := params[p]
			if !ok || v.IsNull() || v.Text() == "" {
				args = nil
				break
			}
			args = append(args, displayValue(v).Text())
		}
		if args != nil {
			return fmt.Sprintf(t.text, args...)
		}
	}
	return fmt.Sprintf("Going ahead: %s", phrase(action))
}
