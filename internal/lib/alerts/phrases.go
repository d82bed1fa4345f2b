package alerts

import (
	"fmt"
	"strings"
)

// PhraseFor returns the spoken text for an alert
func PhraseFor(category Category, label string) string {
	label = strings.TrimSpace(strings.ToLower(label))
	switch category {
	case CategoryTrafficLight:
		switch label {
		case "red", "green", "yellow":
			return fmt.Sprintf("%s light", capitalize(label))
		default:
			return fmt.Sprintf("Traffic light %s", label)
		}
	case CategoryVehicle:
		return fmt.Sprintf("%s approaching", capitalize(label))
	default:
		return capitalize(label)
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
