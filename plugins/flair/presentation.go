package flair

import (
	"errors"
	"fmt"

	"github.com/joshp123/flairbridge/internal/accessory"
	"github.com/joshp123/flairbridge/internal/config"
)

var ErrUnknownPresentation = errors.New("unknown vent presentation")

// Presentation is the exposed shape of a vent.
type Presentation string

const (
	PresentWindowCovering Presentation = config.PresentationWindowCovering
	PresentFan            Presentation = config.PresentationFan
	PresentAirPurifier    Presentation = config.PresentationAirPurifier
	PresentHidden         Presentation = config.PresentationHidden
)

// fanStep is the RotationSpeed granularity of the fan and purifier shapes.
const fanStep = 50

func ParsePresentation(raw string) (Presentation, error) {
	switch p := Presentation(raw); p {
	case PresentWindowCovering, PresentFan, PresentAirPurifier, PresentHidden:
		return p, nil
	default:
		return "", fmt.Errorf("%q: %w", raw, ErrUnknownPresentation)
	}
}

// Services is the desired vent surface, excluding AccessoryInformation.
func (p Presentation) Services(sensors bool) ([]accessory.ServiceType, error) {
	var out []accessory.ServiceType
	switch p {
	case PresentWindowCovering:
		out = append(out, accessory.ServiceWindowCovering)
	case PresentFan:
		out = append(out, accessory.ServiceFan)
	case PresentAirPurifier:
		out = append(out, accessory.ServiceAirPurifier)
	default:
		return nil, fmt.Errorf("%q: %w", p, ErrUnknownPresentation)
	}
	if sensors {
		out = append(out, accessory.ServiceTemperatureSensor, accessory.ServicePressureSensor)
	}
	return out, nil
}

// Constrain maps a requested opening onto the values the shape can express.
func (p Presentation) Constrain(percent int) int {
	percent = clampPercent(percent)
	switch p {
	case PresentFan, PresentAirPurifier:
		return ((percent + fanStep/2) / fanStep) * fanStep
	default:
		return percent
	}
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
