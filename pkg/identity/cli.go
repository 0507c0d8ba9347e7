package identity

import (
	"fmt"
	"time"

	"github.com/travigo/livetrack/pkg/ctdf"
	"github.com/urfave/cli/v2"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Mint a development token signed with TRAVIGO_LIVETRACK_JWT_SECRET",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "subject",
				Usage:    "subject id the token is issued to",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "role",
				Value: string(ctdf.RoleDriver),
				Usage: "role claim, one of driver, passenger or admin",
			},
			&cli.DurationFlag{
				Name:  "ttl",
				Value: 24 * time.Hour,
				Usage: "token lifetime",
			},
		},
		Action: func(c *cli.Context) error {
			config := GetJWTConfig()
			if config.Secret == "" {
				return fmt.Errorf("TRAVIGO_LIVETRACK_JWT_SECRET is not set")
			}

			role := ctdf.Role(c.String("role"))
			switch role {
			case ctdf.RoleDriver, ctdf.RolePassenger, ctdf.RoleAdmin:
			default:
				return fmt.Errorf("unknown role %q", role)
			}

			token, err := NewIssuer(config).Issue(c.String("subject"), role, c.Duration("ttl"))
			if err != nil {
				return err
			}

			fmt.Println(token)

			return nil
		},
	}
}
