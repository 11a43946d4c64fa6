package runner

import (
	"github.com/projectdiscovery/gologger"
)

// Version is the current version of terminalscan.
const Version = "v0.3.0"

const banner = `
 _                      _                   
| |_ ___ _ __ _ __ ___ (_)_ __   __ _| |___  ___ __ _ _ __
| __/ _ \ '__| '_ ' _ \| | '_ \ / _' | / __|/ __/ _' | '_ \
| ||  __/ |  | | | | | | | | | | (_| | \__ \ (_| (_| | | | |
 \__\___|_|  |_| |_| |_|_|_| |_|\__,_|_|___/\___\__,_|_| |_|
`

// ShowBanner prints the banner and version to stderr.
func ShowBanner() {
	gologger.Print().Msgf("%s\n", au.Bold(au.Cyan(banner)))
	gologger.Print().Msgf("\t\t\t%s\n\n", au.BrightBlack(Version))
}
