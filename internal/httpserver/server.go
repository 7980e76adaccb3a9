package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dmdzco/donna2-sub000/internal/rtc"
	"github.com/dmdzco/donna2-sub000/internal/telephony"
)

// Deps are the transport handlers the server exposes.
type Deps struct {
	RTC             *rtc.Handler
	Telephony       telephony.Handlers
	TwilioAuthToken string
}

// New constructs the HTTP server with all routes registered.
func New(d Deps) *echo.Echo {
	e := newRouter()

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	// Browser test calls negotiate WebRTC here.
	e.POST("/call", func(c echo.Context) error {
		var offer rtc.SessionDescription
		if err := c.Bind(&offer); err != nil {
			return c.String(http.StatusBadRequest, "invalid offer")
		}
		answer, err := d.RTC.HandleOffer(c.Request().Context(), offer)
		if err != nil {
			c.Echo().Logger.Errorf("offer failed: %v", err)
			return c.String(http.StatusBadRequest, "offer failed")
		}
		return c.JSON(http.StatusOK, answer)
	})

	d.Telephony.Register(e, d.TwilioAuthToken)

	return e
}
