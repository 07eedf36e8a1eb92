package server

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/aalhour/bcache"
)

func parseKey(c fiber.Ctx) (bcache.Key, error) {
	dev, err := strconv.ParseUint(c.Params("dev"), 10, 32)
	if err != nil {
		return bcache.Key{}, fmt.Errorf("invalid device %q", c.Params("dev"))
	}
	block, err := strconv.ParseUint(c.Params("block"), 10, 64)
	if err != nil {
		return bcache.Key{}, fmt.Errorf("invalid block %q", c.Params("block"))
	}
	return bcache.Key{Dev: uint32(dev), BlockNo: block}, nil
}

func (h *handler) getBlock(c fiber.Ctx) error {
	k, err := parseKey(c)
	if err != nil {
		return renderError(c, h.logger, fiber.StatusBadRequest, "bad_key", err)
	}

	b, err := h.cache.Read(k.Dev, k.BlockNo)
	if err != nil {
		return h.renderCacheError(c, k, err)
	}
	data := bytes.Clone(b.Data())
	h.cache.Release(b)

	c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	return c.Send(data)
}

// putBlock writes the request body through to the device. Bodies shorter than
// a block are zero padded.
func (h *handler) putBlock(c fiber.Ctx) error {
	k, err := parseKey(c)
	if err != nil {
		return renderError(c, h.logger, fiber.StatusBadRequest, "bad_key", err)
	}
	body := c.Body()
	if len(body) > h.cache.BlockSize() {
		return renderError(c, h.logger, fiber.StatusBadRequest, "body_too_large",
			fmt.Errorf("body is %d bytes, block size is %d", len(body), h.cache.BlockSize()))
	}

	b, err := h.cache.Acquire(k.Dev, k.BlockNo)
	if err != nil {
		return h.renderCacheError(c, k, err)
	}
	data := b.Data()
	n := copy(data, body)
	clear(data[n:])
	err = h.cache.Commit(b)
	h.cache.Release(b)
	if err != nil {
		return h.renderCacheError(c, k, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handler) pinBlock(c fiber.Ctx) error {
	return h.adjust(c, h.cache.Pin)
}

func (h *handler) unpinBlock(c fiber.Ctx) error {
	return h.adjust(c, h.cache.Unpin)
}

func (h *handler) adjust(c fiber.Ctx, fn func(uint32, uint64) error) error {
	k, err := parseKey(c)
	if err != nil {
		return renderError(c, h.logger, fiber.StatusBadRequest, "bad_key", err)
	}
	if err := fn(k.Dev, k.BlockNo); err != nil {
		return h.renderCacheError(c, k, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handler) stats(c fiber.Ctx) error {
	return c.JSON(h.cache.Stats())
}

func (h *handler) healthz(c fiber.Ctx) error {
	if err := h.cache.Verify(); err != nil {
		return renderError(c, h.logger, fiber.StatusInternalServerError, "invariant_violated", err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// renderCacheError maps cache errors to status codes. Anything that is not a
// cache sentinel came from the device.
func (h *handler) renderCacheError(c fiber.Ctx, k bcache.Key, err error) error {
	switch {
	case errors.Is(err, bcache.ErrNotCached):
		return renderError(c, h.logger, fiber.StatusNotFound, "not_cached", err)
	case errors.Is(err, bcache.ErrNotPinned):
		return renderError(c, h.logger, fiber.StatusConflict, "not_pinned", err)
	case errors.Is(err, bcache.ErrNoBuffers):
		return renderError(c, h.logger, fiber.StatusServiceUnavailable, "no_buffers", err)
	default:
		h.logger.WithFields(logrus.Fields{
			"component":  "server",
			"action":     "device_io",
			"request_id": RequestID(c),
			"dev":        k.Dev,
			"block":      k.BlockNo,
		}).Error(err.Error())
		return renderError(c, h.logger, fiber.StatusBadGateway, "device_error", err)
	}
}

func renderError(c fiber.Ctx, logger *logrus.Logger, status int, code string, err error) error {
	logger.WithFields(logrus.Fields{
		"component":  "server",
		"action":     "error",
		"request_id": RequestID(c),
		"code":       code,
		"status":     status,
	}).Info(err.Error())

	return c.Status(status).JSON(fiber.Map{
		"error":   code,
		"message": err.Error(),
	})
}
