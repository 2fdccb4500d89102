package main

import (
	"context"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/gommon/color"

	"github.com/scribehub/scribe/internal/pkg/admission"
	"github.com/scribehub/scribe/internal/pkg/apiserver"
	"github.com/scribehub/scribe/internal/pkg/plans"
	"github.com/scribehub/scribe/internal/pkg/postgres"
	"github.com/scribehub/scribe/internal/pkg/translate"
)

func main() {
	goapp.StartWithDefault()

	printBanner()

	cfg := goapp.Config
	data := &apiserver.Data{}
	data.Port = cfg.GetInt("port")

	ctx := context.Background()

	dbConfig, err := pgxpool.ParseConfig(cfg.GetString("db.url"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db pool")
	}
	goapp.Log.Info().Int32("max_conn", dbConfig.MaxConns).Int32("min_conn", dbConfig.MinConns).Msg("db info")

	dbPool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db pool")
	}
	defer dbPool.Close()

	db, err := postgres.NewDB(dbPool)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db")
	}
	sender, err := postgres.NewSender(dbPool)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init gue sender")
	}
	planRes := plans.NewResolver(cfg)

	data.DB = db
	data.Sender = sender
	data.Plans = planRes
	data.Admission = &admission.Data{Tx: db, Sender: sender, Plans: planRes}
	data.Translate = &translate.Data{DB: db, Users: db, Sender: sender, Plans: planRes}

	if err := apiserver.StartWebServer(data); err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't start web server")
	}
	goapp.Log.Info().Msg("exit web service. Bye")
}

var (
	version = "DEV"
)

func printBanner() {
	banner := `
   _____ __________  ________  ______
  / ___// ____/ __ \/  _/ __ )/ ____/
  \__ \/ /   / /_/ // // __  / __/
 ___/ / /___/ _, _// // /_/ / /___
/____/\____/_/ |_/___/_____/_____/   v: %s

              _
  ____ _____ (_)
 / __ ` + "`" + `/ __ \/ /
/ /_/ / /_/ / /
\__,_/ .___/_/
    /_/

%s
________________________________________________________

`
	cl := color.New()
	cl.Printf(banner, cl.Red(version), cl.Green("https://github.com/scribehub/scribe"))
}
