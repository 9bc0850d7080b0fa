package httpapi

import (
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/citygrid/weather-aggregator/internal/common"
	"github.com/citygrid/weather-aggregator/internal/forecast"
	"github.com/citygrid/weather-aggregator/internal/weather"
)

var validate = validator.New()

const (
	defaultLimit = 200
	maxLimit     = 1000
)

// API bundles the read surface's dependencies.
type API struct {
	Observations weather.ObservationStore
	Aggregates   weather.AggregateStore
	Alerts       weather.AlertStore
	Forecasts    *forecast.Cache

	// MaxRange bounds from/to spans on list endpoints. Zero disables
	// the check.
	MaxRange time.Duration
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func (a *API) RegisterRoutes(app *fiber.App) {
	cities := app.Group("/cities/:city_id")

	cities.Get("/observations", func(c *fiber.Ctx) error {
		var req listQuery
		if err := req.bind(c, a.MaxRange); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		observations, err := a.Observations.List(c.Context(), req.CityID, req.From, req.To, req.Limit)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch observations")
		}
		if observations == nil {
			observations = []weather.Observation{}
		}
		return c.JSON(observations)
	})

	cities.Get("/aggregates", func(c *fiber.Ctx) error {
		var req listQuery
		if err := req.bind(c, a.MaxRange); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		// No window filter matches aggregates of every bucket width.
		var width time.Duration
		if raw := c.Query("window"); raw != "" {
			parsed, err := weather.ParseWindow(raw)
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "invalid window interval format")
			}
			width = parsed.Duration()
		}

		aggregates, err := a.Aggregates.List(c.Context(), req.CityID, width, req.From, req.To, req.Limit)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch aggregates")
		}
		if aggregates == nil {
			aggregates = []weather.Aggregate{}
		}
		return c.JSON(aggregates)
	})

	cities.Get("/alerts", func(c *fiber.Ctx) error {
		var req listQuery
		if err := req.bind(c, a.MaxRange); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		alerts, err := a.Alerts.List(c.Context(), req.CityID, req.Limit)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch alerts")
		}
		if alerts == nil {
			alerts = []weather.Alert{}
		}
		return c.JSON(alerts)
	})

	cities.Get("/forecast", func(c *fiber.Ctx) error {
		cityID := c.Params("city_id")

		lat, err := queryFloat(c, "lat")
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		lon, err := queryFloat(c, "lon")
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		// Coordinates are needed for a provider lookup; without them
		// the placeholder is the best available answer.
		if lat == nil || lon == nil {
			return c.JSON(forecast.Placeholder(cityID, time.Now()))
		}
		return c.JSON(a.Forecasts.Get(c.Context(), cityID, *lat, *lon))
	})
}

// listQuery holds the shared query parameters of the list endpoints.
type listQuery struct {
	CityID string `validate:"required"`
	From   time.Time
	To     time.Time
	Limit  int `validate:"gte=1,lte=1000"`
}

func (q *listQuery) bind(c *fiber.Ctx, maxRange time.Duration) error {
	q.CityID = c.Params("city_id")
	q.Limit = defaultLimit

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return errors.New("limit must be an integer")
		}
		q.Limit = limit
	}

	if raw := c.Query("from"); raw != "" {
		from, err := common.ParseTime(raw)
		if err != nil {
			return err
		}
		q.From = from
	}
	if raw := c.Query("to"); raw != "" {
		to, err := common.ParseTime(raw)
		if err != nil {
			return err
		}
		q.To = to
	}

	if !q.From.IsZero() && !q.To.IsZero() {
		if q.To.Before(q.From) {
			return errors.New("to must not precede from")
		}
		if maxRange > 0 && q.To.Sub(q.From) > maxRange {
			return errors.New("requested range exceeds the allowed span")
		}
	}

	return validate.Struct(q)
}

func queryFloat(c *fiber.Ctx, name string) (*float64, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, errors.New(name + " must be a number")
	}
	return &v, nil
}
