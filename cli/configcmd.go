package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/panelsync/panelsync/config"
)

// createConfig works without an existing config file; it is the way out of
// the "no config found" error every other command reports.
func (a *App) createConfig(ctx *cli.Context) error {
	path := ctx.String("output")
	if err := config.WriteTemplate(path); err != nil {
		fmt.Printf("✗ Could not write config template: %v\n", err)
		return cli.Exit("", 1)
	}
	fmt.Printf("Config template created: %s\n", path)
	fmt.Println("Edit the file with your API URL and key.")
	return nil
}
