package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/vexmail/mailsync/config"
	"github.com/vexmail/mailsync/internal/database"
	"github.com/vexmail/mailsync/internal/repository"
	"github.com/vexmail/mailsync/server"
	"gorm.io/gorm"
)

func main() {
	app := &cli.App{
		Name:  "mailsync",
		Usage: "IMAP mailbox replica with offline mutations",
		Commands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "Run database migrations",
				Action: func(c *cli.Context) error {
					cfg, db, err := bootstrap()
					if err != nil {
						return err
					}
					if err := repository.MigrateDB(cfg.DatabaseConfig, db); err != nil {
						return err
					}
					log.Println("Database migration completed successfully")
					return nil
				},
			},
			{
				Name:  "server",
				Usage: "Start the application server",
				Action: func(c *cli.Context) error {
					cfg, db, err := bootstrap()
					if err != nil {
						return err
					}

					log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
					log.Println("Mailsync starting up...")

					srv, err := server.NewServer(cfg, db)
					if err != nil {
						return err
					}
					return srv.Run()
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func bootstrap() (*config.Config, *gorm.DB, error) {
	cfg, err := config.InitConfig()
	if err != nil {
		return nil, nil, err
	}

	db, err := database.NewConnection(&database.DatabaseConfig{
		DBName:          cfg.DatabaseConfig.DBName,
		Host:            cfg.DatabaseConfig.Host,
		Port:            cfg.DatabaseConfig.Port,
		User:            cfg.DatabaseConfig.User,
		Password:        cfg.DatabaseConfig.Password,
		MaxConn:         cfg.DatabaseConfig.MaxConn,
		MaxIdleConn:     cfg.DatabaseConfig.MaxIdleConn,
		ConnMaxLifetime: cfg.DatabaseConfig.ConnMaxLifetime,
		LogLevel:        cfg.DatabaseConfig.LogLevel,
		SSLMode:         cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		return nil, nil, err
	}

	return cfg, db, nil
}
