package httpapi

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/tile-weather-enrichment/internal/pipeline"
	"github.com/i474232898/tile-weather-enrichment/internal/store"
	"github.com/i474232898/tile-weather-enrichment/internal/weather"
)

var validate = validator.New()

// ReportStore is the read side of the run report store.
type ReportStore interface {
	GetLatest(dir string) (store.RunReport, error)
	GetRange(dir string, from, to time.Time) ([]store.RunReport, error)
}

// Runner triggers a full enrichment run.
type Runner interface {
	Run(ctx context.Context) pipeline.Summary
}

// WeatherFetcher returns merged weather for a point and date.
type WeatherFetcher interface {
	FetchMerged(ctx context.Context, p weather.Point, date time.Time) (*weather.Merged, error)
}

// Deps groups the handlers' collaborators. Any of them may be nil, in which
// case the corresponding routes answer 503.
type Deps struct {
	Reports ReportStore
	Runner  Runner
	Weather WeatherFetcher
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, deps Deps) {
	v1 := app.Group("/api/v1")

	v1.Get("/runs/latest", func(c *fiber.Ctx) error {
		if deps.Reports == nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "run reports unavailable")
		}
		q, err := parseDirQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		report, err := deps.Reports.GetLatest(q.Dir)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no run report for requested directory")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch run report")
		}

		return c.JSON(report)
	})

	v1.Get("/runs/history", func(c *fiber.Ctx) error {
		if deps.Reports == nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "run reports unavailable")
		}
		var req historyQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		reports, err := deps.Reports.GetRange(req.Dir.Dir, req.From, req.To)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no run reports for requested range")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch run history")
		}

		return c.JSON(fiber.Map{
			"dir":     req.Dir.Dir,
			"from":    req.From,
			"to":      req.To,
			"reports": reports,
		})
	})

	v1.Post("/runs", func(c *fiber.Ctx) error {
		if deps.Runner == nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "runner unavailable")
		}
		summary := deps.Runner.Run(c.UserContext())
		return c.Status(fiber.StatusOK).JSON(summary)
	})

	v1.Get("/weather/daily", func(c *fiber.Ctx) error {
		if deps.Weather == nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "weather providers unavailable")
		}
		var req dailyQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		merged, err := deps.Weather.FetchMerged(c.UserContext(), req.Point, req.Date)
		if err != nil {
			return fiber.NewError(fiber.StatusBadGateway, "failed to fetch weather data")
		}

		return c.JSON(merged)
	})
}

// dirQuery identifies a tile directory.
type dirQuery struct {
	Dir string `validate:"required"`
}

func parseDirQuery(c *fiber.Ctx) (dirQuery, error) {
	q := dirQuery{Dir: c.Query("dir")}
	if err := validate.Struct(q); err != nil {
		return q, err
	}
	return q, nil
}

// historyQuery holds query parameters for the history endpoint.
type historyQuery struct {
	Dir  dirQuery
	From time.Time `validate:"required"`
	To   time.Time `validate:"required,gtefield=From"`
}

func (h *historyQuery) bind(c *fiber.Ctx) error {
	dir, err := parseDirQuery(c)
	if err != nil {
		return err
	}
	h.Dir = dir

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	h.From = from
	h.To = to
	return nil
}

// dailyQuery holds query parameters for the merged weather endpoint.
type dailyQuery struct {
	Point weather.Point
	Date  time.Time `validate:"required"`
}

func (d *dailyQuery) bind(c *fiber.Ctx) error {
	latStr, lngStr, dateStr := c.Query("lat"), c.Query("lng"), c.Query("date")
	if latStr == "" || lngStr == "" || dateStr == "" {
		return errors.New("lat, lng and date query parameters are required")
	}

	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return errors.New("lat must be a number")
	}
	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil {
		return errors.New("lng must be a number")
	}
	date, err := time.Parse(weather.DateLayout, dateStr)
	if err != nil {
		return errors.New("date must be YYYY-MM-DD")
	}

	d.Point = weather.Point{Lat: lat, Lon: lng}
	d.Date = date
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
