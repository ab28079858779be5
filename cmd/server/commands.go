package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/dkeye/talkie/internal/auth"
	"github.com/dkeye/talkie/internal/domain"
	"github.com/dkeye/talkie/internal/store/badgerstore"
	"github.com/dkeye/talkie/internal/store/postgres"
)

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:      "token",
		Usage:     "mint a bearer token for a user id",
		ArgsUsage: "<user-id>",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "ttl", Usage: "token lifetime, defaults to auth.token_ttl"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			uid := domain.UserID(c.Args().First())
			ttl := cfg.Auth.TokenTTL
			if c.IsSet("ttl") {
				ttl = c.Duration("ttl")
			}
			tok, err := auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer).GenerateToken(uid, nil, ttl)
			if err != nil {
				return fmt.Errorf("mint token: %w", err)
			}
			fmt.Fprintln(c.App.Writer, tok)
			return nil
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "create the relay tables in postgres when missing",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Store.Driver != "postgres" {
				return fmt.Errorf("migrate needs store.driver=postgres, got %q", cfg.Store.Driver)
			}
			st, err := postgres.Open(c.Context, cfg.Store.PostgresDSN, postgres.Options{})
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.EnsureSchema(c.Context); err != nil {
				return err
			}
			log.Info().Msg("schema ready")
			return nil
		},
	}
}

// openBadger opens the embedded store for the seeding commands. The server
// must not be running against the same path.
func openBadger() (*badgerstore.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Store.Driver != "badger" {
		return nil, fmt.Errorf("seeding needs store.driver=badger, got %q", cfg.Store.Driver)
	}
	return badgerstore.Open(cfg.Store.BadgerPath)
}

func roomCommand() *cli.Command {
	return &cli.Command{
		Name:  "room",
		Usage: "manage rooms in the embedded store",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "create a room with its creator as first member",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Required: true},
					&cli.StringFlag{Name: "kind", Value: string(domain.RoomCommunity), Usage: "private or community"},
					&cli.StringFlag{Name: "creator", Required: true},
				},
				Action: func(c *cli.Context) error {
					st, err := openBadger()
					if err != nil {
						return err
					}
					defer st.Close()
					room, err := domain.NewRoom(domain.RoomID(c.String("id")), domain.RoomKind(c.String("kind")))
					if err != nil {
						return err
					}
					return st.CreateRoom(c.Context, *room, domain.UserID(c.String("creator")))
				},
			},
			{
				Name:  "add-member",
				Usage: "add a user to a room",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Required: true},
					&cli.StringFlag{Name: "user", Required: true},
					&cli.StringFlag{Name: "role", Value: string(domain.RoleMember)},
				},
				Action: func(c *cli.Context) error {
					role, err := domain.ParseRole(c.String("role"))
					if err != nil {
						return err
					}
					st, err := openBadger()
					if err != nil {
						return err
					}
					defer st.Close()
					return st.AddMember(c.Context, domain.RoomID(c.String("id")), domain.UserID(c.String("user")), role)
				},
			},
		},
	}
}

func userCommand() *cli.Command {
	return &cli.Command{
		Name:  "user",
		Usage: "manage user display records in the embedded store",
		Subcommands: []*cli.Command{
			{
				Name:  "put",
				Usage: "create or update a user display record",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Required: true},
					&cli.StringFlag{Name: "username", Required: true},
					&cli.StringFlag{Name: "picture"},
				},
				Action: func(c *cli.Context) error {
					u, err := domain.NewUser(domain.UserID(c.String("id")), c.String("username"))
					if err != nil {
						return err
					}
					u.ProfilePicture = c.String("picture")
					st, err := openBadger()
					if err != nil {
						return err
					}
					defer st.Close()
					return st.PutUser(c.Context, *u)
				},
			},
		},
	}
}

