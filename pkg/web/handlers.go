package web

import (
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-oakview/pkg/device"
	"github.com/teslashibe/go-oakview/pkg/permission"
)

func (s *Server) handleIndex(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.Send(indexHTML)
}

func (s *Server) handleSession(c *fiber.Ctx) error {
	if s.controller() == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "no active session",
		})
	}
	return c.JSON(s.Status())
}

func (s *Server) handleModels(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"active":  s.cfg.Model,
		"presets": device.Presets(),
	})
}

// handlePermission publishes a permission notification, standing in for
// the platform's USB permission broadcast.
func (s *Server) handlePermission(c *fiber.Ctx) error {
	var action string
	switch c.Params("action") {
	case "grant":
		action = permission.ActionUSBPermission
	case "revoke":
		action = permission.ActionUSBPermissionRevoked
	default:
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "unknown permission action",
		})
	}
	if s.bus == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "permission bus not available",
		})
	}

	delivered := s.bus.Send(action)
	s.logger.Info("permission notification", "action", action, "delivered", delivered)
	return c.JSON(fiber.Map{
		"action":    action,
		"delivered": delivered,
	})
}

func (s *Server) handleView(c *fiber.Ctx) error {
	ctrl := s.controller()
	if ctrl == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "no active session",
		})
	}
	switch c.Params("event") {
	case "resume":
		ctrl.Resume()
	case "pause":
		ctrl.Pause()
	default:
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "unknown view event",
		})
	}
	return c.JSON(fiber.Map{"visible": ctrl.Visible()})
}
