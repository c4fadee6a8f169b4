package banner

import (
	"github.com/charmbracelet/lipgloss"

	"mqttwrk/internal/tui/styles"
)

const ascii = `
                  __  __                  __
   ____ ___ ____ / /_/ /__      ______   / /__
  / __ '__ \/ __ '/ __/ __/ | /| / / ___/ / //_/
 / / / / / / /_/ / /_/ /_ | |/ |/ / /    / ,<
/_/ /_/ /_/\__, /\__/\__/ |__/|__/_/    /_/|_|
             /_/                               `

func GetString() string {
	style := lipgloss.DefaultRenderer().NewStyle().
		Foreground(styles.ColorBanner).
		Bold(true)

	return "\n" + style.Render(ascii) + "\n"
}
