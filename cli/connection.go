package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

func (a *App) testConnection(ctx *cli.Context) error {
	s, err := a.openSession(ctx)
	if err != nil {
		return configExit(err)
	}

	fmt.Printf("Testing connection to: %s\n", s.cfg.APIURL)
	if !s.client.TestConnection(ctx.Context) {
		fmt.Println("✗ Connection failed!")
		return cli.Exit("", 1)
	}
	fmt.Println("✓ Connection successful!")

	// Reachable does not mean authenticated; user info proves the key
	if info, err := s.client.UserInfo(ctx.Context); err == nil {
		fmt.Printf("  Authenticated as: %s\n", info.Username)
		if info.RevisionsCount > 0 {
			fmt.Printf("  Known revisions: %d\n", info.RevisionsCount)
		}
	}
	return nil
}
