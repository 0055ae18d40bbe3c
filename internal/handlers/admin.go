package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/bookly/internal/service"
	"github.com/Skotchmaster/bookly/internal/transport"
)

type AdminHandler struct {
	Svc *service.AuthService
}

// ListUsers serves GET /admin/users?page=&size=.
func (h *AdminHandler) ListUsers(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	size, _ := strconv.Atoi(c.QueryParam("size"))

	res, err := h.Svc.ListUsers(c.Request().Context(), page, size)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, transport.UserListResponse{
		Items: res.Users,
		Total: res.Total,
		Page:  res.Page,
		Size:  res.Size,
	})
}
