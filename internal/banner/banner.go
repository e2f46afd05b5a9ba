package banner

import (
	"landmarkload/internal/tui/styles"

	"github.com/charmbracelet/lipgloss"
)

func GetString() string {
	renderer := lipgloss.DefaultRenderer()

	style := renderer.NewStyle().
		Foreground(styles.ColorBanner).
		Bold(true)

	ascii := `
    __                 __                      __    __                __
   / /   ____ _____  / /___ ___  ____ ______/ /__ / /   ____  ____ _/ /
  / /   / __ '/ __ \/ / __ '__ \/ __ '/ ___/ //_// /   / __ \/ __ '/ / 
 / /___/ /_/ / / / / / / / / / / /_/ / /  / ,<  / /___/ /_/ / /_/ / /  
/_____/\__,_/_/ /_/_/_/ /_/ /_/\__,_/_/  /_/|_|/_____/\____/\__,_/_/   `

	return "\n" + style.Render(ascii) + "\n"
}
