package apiserver

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/facebookgo/grace/gracehttp"
	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/airenas/go-app/pkg/goapp"

	"github.com/scribehub/scribe/internal/pkg/admission"
	"github.com/scribehub/scribe/internal/pkg/analysis"
	"github.com/scribehub/scribe/internal/pkg/errdef"
	"github.com/scribehub/scribe/internal/pkg/messages"
	"github.com/scribehub/scribe/internal/pkg/persistence"
	"github.com/scribehub/scribe/internal/pkg/plans"
	"github.com/scribehub/scribe/internal/pkg/translate"
	"github.com/scribehub/scribe/internal/pkg/utils"
)

// the gateway in front resolves authentication and passes the user on
const userIDHeader = "X-User-Id"

// DB provides read access for the API
type DB interface {
	LoadJobForUser(ctx context.Context, id, userID string) (*persistence.Job, error)
	LoadUserByID(ctx context.Context, id string) (*persistence.User, error)
	LoadAnalyses(ctx context.Context, jobID string) ([]persistence.Analysis, error)
	Live(ctx context.Context) error
}

// MsgSender provides send msg functionality
type MsgSender interface {
	SendMessage(ctx context.Context, message any, queue, jobType string) error
}

// Data keeps data required for service work
type Data struct {
	Port      int
	DB        DB
	Admission *admission.Data
	Translate *translate.Data
	Sender    MsgSender
	Plans     *plans.Resolver
}

// StartWebServer starts echo web service
func StartWebServer(data *Data) error {
	goapp.Log.Info().Msgf("Starting HTTP SCRIBE api service at %d", data.Port)
	if err := validate(data); err != nil {
		return err
	}

	portStr := strconv.Itoa(data.Port)

	e := initRoutes(data)

	e.Server.Addr = ":" + portStr
	e.Server.ReadHeaderTimeout = 5 * time.Second
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 30 * time.Second

	gracehttp.SetLogger(log.New(goapp.Log, "", 0))

	return gracehttp.Serve(e.Server)
}

var promMdlw *prometheus.Prometheus

func init() {
	promMdlw = prometheus.NewPrometheus("scribe_api", nil)
}

func initRoutes(data *Data) *echo.Echo {
	e := echo.New()
	e.Use(middleware.Logger())
	promMdlw.Use(e)

	e.POST("/jobs", submitHandler(data))
	e.GET("/jobs/:id", jobHandler(data))
	e.POST("/jobs/:id/translations", translateHandler(data))
	e.GET("/jobs/:id/analyses", analysesHandler(data))
	e.POST("/jobs/:id/analyses", regenerateHandler(data))
	e.GET("/live", live(data))

	goapp.Log.Info().Msg("Routes:")
	for _, r := range e.Routes() {
		goapp.Log.Info().Msgf("  %s %s", r.Method, r.Path)
	}
	return e
}

func live(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		if err := data.DB.Live(c.Request().Context()); err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusServiceUnavailable, "Service error")
		}
		return c.JSONBlob(http.StatusOK, []byte(`{"service":"OK"}`))
	}
}

type submitRequest struct {
	MediaID string `json:"mediaId"`
	Quality string `json:"quality"`
}

type submitResponse struct {
	ID string `json:"id"`
}

func submitHandler(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("submit method")()

		userID, err := userID(c)
		if err != nil {
			return err
		}
		var req submitRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Can't parse request")
		}
		id, err := admission.Submit(c.Request().Context(), data.Admission,
			&admission.Request{UserID: userID, MediaID: req.MediaID, Quality: req.Quality})
		if err != nil {
			return mapError(err)
		}
		return c.JSON(http.StatusCreated, submitResponse{ID: id})
	}
}

type jobResponse struct {
	ID                string                `json:"id"`
	Status            string                `json:"status"`
	Quality           string                `json:"quality,omitempty"`
	SourceLang        string                `json:"sourceLang,omitempty"`
	Transcript        string                `json:"transcript,omitempty"`
	Segments          []persistence.Segment `json:"segments,omitempty"`
	TranslatedLangs   []string              `json:"translatedLangs,omitempty"`
	TranslationStatus string                `json:"translationStatus,omitempty"`
	DurationSec       float64               `json:"durationSec,omitempty"`
	Error             string                `json:"error,omitempty"`
}

func jobHandler(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("job method")()

		userID, err := userID(c)
		if err != nil {
			return err
		}
		id := c.Param("id")
		job, err := data.DB.LoadJobForUser(c.Request().Context(), id, userID)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError, "Service error")
		}
		if job == nil {
			return echo.NewHTTPError(http.StatusNotFound, "No job")
		}
		return c.JSON(http.StatusOK, &jobResponse{ID: job.ID, Status: job.Status,
			Quality: job.Quality, SourceLang: utils.FromSQLStr(job.SourceLang),
			Transcript: utils.FromSQLStr(job.Transcript), Segments: job.Segments,
			TranslatedLangs:   job.TranslatedLangs,
			TranslationStatus: utils.FromSQLStr(job.TranslationStatus),
			DurationSec:       job.DurationSec.Float64, Error: utils.FromSQLStr(job.Error)})
	}
}

type translateRequest struct {
	TargetLang string `json:"targetLang"`
}

func translateHandler(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("translate method")()

		userID, err := userID(c)
		if err != nil {
			return err
		}
		var req translateRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Can't parse request")
		}
		if err := translate.Request(c.Request().Context(), data.Translate,
			c.Param("id"), userID, req.TargetLang); err != nil {
			return mapError(err)
		}
		return c.NoContent(http.StatusAccepted)
	}
}

type analysisResponse struct {
	Type         string            `json:"type"`
	Content      string            `json:"content"`
	Translations map[string]string `json:"translations,omitempty"`
	Model        string            `json:"model,omitempty"`
	Updated      time.Time         `json:"updated"`
}

func analysesHandler(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("analyses method")()

		userID, err := userID(c)
		if err != nil {
			return err
		}
		id := c.Param("id")
		job, err := data.DB.LoadJobForUser(c.Request().Context(), id, userID)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError, "Service error")
		}
		if job == nil {
			return echo.NewHTTPError(http.StatusNotFound, "No job")
		}
		analyses, err := data.DB.LoadAnalyses(c.Request().Context(), id)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError, "Service error")
		}
		res := make([]analysisResponse, 0, len(analyses))
		for _, a := range analyses {
			res = append(res, analysisResponse{Type: a.Type, Content: a.Content,
				Translations: a.Translations, Model: a.Model, Updated: a.Updated})
		}
		return c.JSON(http.StatusOK, res)
	}
}

type regenerateRequest struct {
	Types []string `json:"types"`
}

func regenerateHandler(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("regenerate method")()

		userID, err := userID(c)
		if err != nil {
			return err
		}
		var req regenerateRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Can't parse request")
		}
		for _, tp := range req.Types {
			if !analysis.IsKnownType(tp) {
				return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Unknown type %s", tp))
			}
		}
		id := c.Param("id")
		job, err := data.DB.LoadJobForUser(c.Request().Context(), id, userID)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError, "Service error")
		}
		if job == nil {
			return echo.NewHTTPError(http.StatusNotFound, "No job")
		}
		user, err := data.DB.LoadUserByID(c.Request().Context(), userID)
		if err != nil || user == nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError, "Service error")
		}
		msg := &messages.AnalysisMessage{UserID: userID, Types: req.Types}
		msg.ID = id
		if err := data.Sender.SendMessage(c.Request().Context(), msg,
			data.Plans.Get(user.Plan).Queue, messages.JobAnalysis); err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError, "Service error")
		}
		return c.NoContent(http.StatusAccepted)
	}
}

func userID(c echo.Context) (string, error) {
	res := c.Request().Header.Get(userIDHeader)
	if res == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "No user")
	}
	return res, nil
}

func mapError(err error) error {
	switch {
	case errdef.IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errdef.IsValidation(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errdef.IsLimitExceeded(err):
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	case errdef.IsConflict(err):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	goapp.Log.Error().Err(err).Send()
	return echo.NewHTTPError(http.StatusInternalServerError, "Service error")
}

func validate(data *Data) error {
	if data.DB == nil {
		return errors.New("no DB")
	}
	if data.Admission == nil {
		return errors.New("no Admission")
	}
	if data.Translate == nil {
		return errors.New("no Translate")
	}
	if data.Sender == nil {
		return errors.New("no Sender")
	}
	if data.Plans == nil {
		return errors.New("no Plans")
	}
	return nil
}
