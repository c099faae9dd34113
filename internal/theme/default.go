package theme

import (
	"github.com/pterm/pterm"
)

// Theme defines the colour scheme used by the styled logger.
type Theme struct {
	// Log level colours
	Debug *pterm.Style
	Info  *pterm.Style
	Warn  *pterm.Style
	Error *pterm.Style

	// Component colours
	Muted  *pterm.Style
	Counts pterm.Color
	Backend pterm.Color

	// Backend session health colours
	HealthHealthy   pterm.Color
	HealthUnhealthy pterm.Color
	HealthUnknown   pterm.Color
}

// Default returns the default application theme.
func Default() *Theme {
	return &Theme{
		Debug: pterm.NewStyle(pterm.FgLightBlue),
		Info:  pterm.NewStyle(pterm.FgGreen),
		Warn:  pterm.NewStyle(pterm.FgYellow, pterm.Bold),
		Error: pterm.NewStyle(pterm.FgRed, pterm.Bold),

		Muted:   pterm.NewStyle(pterm.FgGray),
		Counts:  pterm.FgCyan,
		Backend: pterm.FgMagenta,

		HealthHealthy:   pterm.FgGreen,
		HealthUnhealthy: pterm.FgRed,
		HealthUnknown:   pterm.FgYellow,
	}
}

// Dark returns a dark theme variant.
func Dark() *Theme {
	return &Theme{
		Debug: pterm.NewStyle(pterm.FgLightBlue),
		Info:  pterm.NewStyle(pterm.FgLightGreen),
		Warn:  pterm.NewStyle(pterm.FgLightYellow, pterm.Bold),
		Error: pterm.NewStyle(pterm.FgLightRed, pterm.Bold),

		Muted:   pterm.NewStyle(pterm.FgGray),
		Counts:  pterm.FgLightCyan,
		Backend: pterm.FgLightMagenta,

		HealthHealthy:   pterm.FgLightGreen,
		HealthUnhealthy: pterm.FgLightRed,
		HealthUnknown:   pterm.FgLightYellow,
	}
}

// GetTheme returns the theme for the given name, defaulting when unknown.
func GetTheme(name string) *Theme {
	switch name {
	case "dark":
		return Dark()
	default:
		return Default()
	}
}
