package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ainform "github.com/airenas/async-api/pkg/inform"
	"github.com/airenas/go-app/pkg/goapp"
	capi "github.com/hashicorp/consul/api"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/gommon/color"
	"github.com/vgarvardt/gue/v5"
	"github.com/vgarvardt/gue/v5/adapter/pgxv5"

	"github.com/scribehub/scribe/internal/pkg/ai"
	"github.com/scribehub/scribe/internal/pkg/analysis"
	"github.com/scribehub/scribe/internal/pkg/audio"
	"github.com/scribehub/scribe/internal/pkg/clean"
	"github.com/scribehub/scribe/internal/pkg/consul"
	"github.com/scribehub/scribe/internal/pkg/inform"
	"github.com/scribehub/scribe/internal/pkg/pipeline"
	"github.com/scribehub/scribe/internal/pkg/postgres"
	"github.com/scribehub/scribe/internal/pkg/storage"
	"github.com/scribehub/scribe/internal/pkg/translate"
	"github.com/scribehub/scribe/internal/pkg/translator"
	"github.com/scribehub/scribe/internal/pkg/webhook"
	"github.com/scribehub/scribe/internal/pkg/worker"
)

func main() {
	goapp.StartWithDefault()
	cfg := goapp.Config

	data := &worker.ServiceData{}
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

	data.GueClient, err = gue.NewClient(pgxv5.NewConnPool(dbPool))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init gue")
	}
	data.WorkerCount = cfg.GetInt("worker.count")
	data.Testing = cfg.GetBool("worker.testing")

	sender, err := postgres.NewSender(dbPool)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init gue sender")
	}
	db, err := postgres.NewDB(dbPool)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db")
	}
	filer, err := storage.NewFiler(ctx, storage.Options{Bucket: cfg.GetString("filer.bucket"),
		URL: cfg.GetString("filer.url"), User: cfg.GetString("filer.user"),
		Key: cfg.GetString("filer.key"), Secure: cfg.GetBool("filer.secure")})
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init filer")
	}
	converter, err := audio.NewClient(cfg.GetString("converter.url"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init converter")
	}
	engines, err := consul.NewProvider(capi.DefaultConfig(), cfg.GetString("consul.srvName"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init engine provider")
	}
	translatorCl, err := translator.NewClient(cfg.GetString("translator.url"),
		cfg.GetInt("translator.batchSize"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init translator")
	}
	aiCl, err := ai.NewClient(cfg.GetString("openai.key"), cfg.GetString("openai.model"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init ai client")
	}
	webhooks, err := webhook.NewService(db, sender)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init webhook service")
	}

	data.Pipeline = &pipeline.ServiceData{DB: db, Filer: filer, Converter: converter,
		Engines: engines, MsgSender: sender, Publisher: webhooks}
	analysisData := &analysis.ServiceData{DB: db, AI: aiCl, Translator: translatorCl, MsgSender: sender}
	data.Analysis = analysisData
	data.Translate = &translate.ServiceData{DB: db, Translator: translatorCl,
		Analyses: analysisData, MsgSender: sender}
	data.Webhook = &webhook.ServiceData{DB: db, Scheduler: sender,
		HTTPClient: &http.Client{Timeout: time.Second * 35}}
	data.Clean = &clean.ServiceData{DB: db, Filer: filer, Scheduler: sender,
		MaxAge: cfg.GetDuration("clean.maxAge"), Interval: cfg.GetDuration("clean.interval")}

	informData := &inform.ServiceData{DB: db}
	informData.EmailMaker, err = ainform.NewTemplateEmailMaker(cfg)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init email maker")
	}
	if cfg.GetString("smtp.fakeUrl") == "" {
		goapp.Log.Info().Str("sender", "real").Msg("smtp")
		informData.EmailSender, err = ainform.NewSimpleEmailSender(cfg)
	} else {
		goapp.Log.Info().Str("sender", "fake").Msg("smtp")
		informData.EmailSender, err = inform.NewFakeEmailSender(cfg)
	}
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init email sender")
	}
	data.Inform = informData

	printBanner()

	ctx, cancelFunc := context.WithCancel(context.Background())
	if _, err := engines.StartRegistryLoop(ctx, cfg.GetDuration("consul.checkInterval")); err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't start consul loop")
	}
	if err := clean.Kickoff(ctx, data.Clean); err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't start cleanup sweep")
	}
	doneCh, err := worker.StartWorkerService(ctx, data)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't start worker service")
	}
	/////////////////////// Waiting for terminate
	waitCh := make(chan os.Signal, 2)
	signal.Notify(waitCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-waitCh:
		goapp.Log.Info().Msg("Got exit signal")
	case <-doneCh:
		goapp.Log.Info().Msg("Service exit")
	}
	cancelFunc()
	select {
	case <-doneCh:
		goapp.Log.Info().Msg("All code returned. Now exit. Bye")
	case <-time.After(time.Second * 15):
		goapp.Log.Warn().Msg("Timeout gracefull shutdown")
	}
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

                      __
 _      ______  _____/ /_____  _____
| | /| / / __ \/ ___/ //_/ _ \/ ___/
| |/ |/ / /_/ / /  / ,< /  __/ /
|__/|__/\____/_/  /_/|_|\___/_/

%s
________________________________________________________

`
	cl := color.New()
	cl.Printf(banner, cl.Red(version), cl.Green("https://github.com/scribehub/scribe"))
}
