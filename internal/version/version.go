package version

import (
	"fmt"
	"log"

	"github.com/pterm/pterm"
)

var (
	Name        = "clashwatch"
	ShortName   = "clashwatch"
	Authors     = "clashwatch contributors"
	Description = "Ingestion and aggregation engine for Clash-compatible proxy routers"
	Version     = "v0.1.0"
	Commit      = "none"
	Date        = "nowish"
)

const (
	GithubHomeText  = "github.com/clashwatch/engine"
	GithubHomeUri   = "https://github.com/clashwatch/engine"
	GithubLatestUri = "https://github.com/clashwatch/engine/releases/latest"
)

// PrintVersionInfo renders the startup banner; extendedInfo adds build metadata
// for the --version flag.
func PrintVersionInfo(extendedInfo bool, vlog *log.Logger) {
	pterm.DefaultBigText.WithLetters(pterm.NewLettersFromStringWithStyle(ShortName, pterm.NewStyle(pterm.FgCyan))).Render()
	vlog.Println(pterm.Gray(GithubHomeText))

	if extendedInfo {
		vlog.Println(fmt.Sprintf("Version: %s", Version))
		vlog.Println(fmt.Sprintf(" Commit: %s", Commit))
		vlog.Println(fmt.Sprintf("  Built: %s", Date))
	}
}
