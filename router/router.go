package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/pushrelay/server/types"
)

const bodyLimit = "16K"

func RegisterRoutes(e *echo.Echo, s *State) {
	limit := middleware.BodyLimit(bodyLimit)

	e.GET("/healthz", s.getHealth)

	api := e.Group("/api")
	api.GET("/public-key", s.getPublicKey)
	api.POST("/subscribe", s.postSubscribe, limit)
	api.POST("/unsubscribe", s.postUnsubscribe, limit)
	api.GET("/subscriptions/:secret", s.getSubscriptions, s.secretAuth)
	api.POST("/push/:secret", s.postPush, limit, s.secretAuth)
	api.POST("/push/:secret/:id", s.postPushOne, limit, s.secretAuth)
	api.POST("/session", s.postSession, limit)

	admin := api.Group("/admin", s.sessionAuth())
	admin.GET("/subscriptions", s.getSubscriptions)
	admin.DELETE("/subscriptions/:id", s.deleteSubscription)
	admin.POST("/push", s.postPush, limit)
	admin.POST("/push/:id", s.postPushOne, limit)
}

func decodeBody(c echo.Context, v any) error {
	if err := json.NewDecoder(c.Request().Body).Decode(v); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body").SetInternal(err)
	}
	return nil
}

func (s *State) getHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"ok":            true,
		"subscriptions": s.Subscriptions.Len(),
	})
}

func (s *State) getPublicKey(c echo.Context) error {
	key, err := s.Keys.PublicKey()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, types.PublicKeyResponse{PublicKey: key})
}

func (s *State) postSubscribe(c echo.Context) error {
	var req types.SubscribeRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	if err := s.verifySecret(req.Secret); err != nil {
		return err
	}
	switch {
	case req.ID == "":
		return echo.NewHTTPError(http.StatusBadRequest, "id is required")
	case req.Subscription.Endpoint == "":
		return echo.NewHTTPError(http.StatusBadRequest, "subscription.endpoint is required")
	case req.Subscription.Keys.P256dh == "" || req.Subscription.Keys.Auth == "":
		return echo.NewHTTPError(http.StatusBadRequest, "subscription.keys.p256dh and subscription.keys.auth are required")
	}

	if err := s.Subscriptions.Subscribe(req.ID, req.Subscription, req.Name); err != nil {
		return err
	}
	s.Logger.Info().Str("id", req.ID).Str("name", req.Name).Msg("Subscribed")
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

func (s *State) postUnsubscribe(c echo.Context) error {
	var req types.UnsubscribeRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	if err := s.verifySecret(req.Secret); err != nil {
		return err
	}
	return s.unsubscribe(c, req.ID)
}

func (s *State) deleteSubscription(c echo.Context) error {
	return s.unsubscribe(c, c.Param("id"))
}

func (s *State) unsubscribe(c echo.Context, id string) error {
	removed, err := s.Subscriptions.Unsubscribe(id)
	if err != nil {
		return err
	}
	if removed {
		s.Logger.Info().Str("id", id).Msg("Unsubscribed")
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true, "removed": removed})
}

func (s *State) getSubscriptions(c echo.Context) error {
	return c.JSON(http.StatusOK, s.Subscriptions.List())
}

func bindNotification(c echo.Context) (types.Notification, error) {
	var n types.Notification
	if err := decodeBody(c, &n); err != nil {
		return n, err
	}
	if n.Title == "" && n.Body == "" {
		return n, echo.NewHTTPError(http.StatusBadRequest, "title or body is required")
	}
	return n, nil
}

// deliveryContext keeps request values but drops cancellation, so a caller
// that hangs up does not abort deliveries already under way. The push HTTP
// client timeout bounds each attempt.
func deliveryContext(c echo.Context) context.Context {
	return context.WithoutCancel(c.Request().Context())
}

func (s *State) postPush(c echo.Context) error {
	n, err := bindNotification(c)
	if err != nil {
		return err
	}
	result, err := s.Dispatcher.PushAll(deliveryContext(c), n)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (s *State) postPushOne(c echo.Context) error {
	n, err := bindNotification(c)
	if err != nil {
		return err
	}
	ok, err := s.Dispatcher.PushOne(deliveryContext(c), c.Param("id"), n)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": ok})
}
