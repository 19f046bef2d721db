package gateway

import (
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

func skipAccessLog(c echo.Context) bool {
	path := c.Request().URL.Path
	return path == healthRoute || path == metricsRoute
}

func configureEchoLogger(e *echo.Echo, pretty bool) {
	if !pretty {
		e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
			Skipper: skipAccessLog,
		}))
		return
	}

	logger := zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "2006-01-02T15:04:05",
	}).With().Timestamp().Logger()

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogRoutePath: true,
		LogURIPath:   true,
		LogLatency:   true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			event := logger.Info()
			if v.Error != nil {
				event = logger.Err(v.Error)
			}

			event.
				Str("method", c.Request().Method).
				Str("URI", v.URIPath).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("")
			return nil
		},
		Skipper: skipAccessLog,
	}))
}
