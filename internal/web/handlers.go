package web

import (
	"bytes"
	"errors"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/menta2k/aspect-cropper/pkg/processing"
	"github.com/menta2k/aspect-cropper/pkg/render"
	"github.com/menta2k/aspect-cropper/pkg/session"
	"github.com/menta2k/aspect-cropper/pkg/suggest"
	"github.com/menta2k/aspect-cropper/pkg/types"
)

type sessionHandler func(c *fiber.Ctx, s *session.Session) error

func (a *WebApp) withSession(h sessionHandler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		s, ok := a.config.Store.Get(c.Params("id"))
		if !ok {
			return fiber.NewError(http.StatusNotFound, "session not found")
		}
		return h(c, s)
	}
}

// fail answers with the error kind's status, the user-facing message and
// the session state after the failed action
func fail(c *fiber.Ctx, s *session.Session, err error) error {
	msg := err.Error()
	var serr *suggest.Error
	if errors.As(err, &serr) {
		msg = serr.Message
	}
	body := fiber.Map{"error": msg}
	if s != nil {
		body["session"] = s.Snapshot()
	}
	return c.Status(statusFor(err)).JSON(body)
}

func (a *WebApp) handleRatios(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"ratios":    types.AspectRatios(),
		"formats":   types.Formats(),
		"rotations": []types.Rotation{types.Rotate0, types.Rotate90, types.Rotate180, types.Rotate270},
		"quality": fiber.Map{
			"min":     types.MinQuality,
			"max":     types.MaxQuality,
			"default": types.DefaultQuality,
		},
		"backend": a.config.Suggester.Backend(),
	})
}

func (a *WebApp) handleCreate(c *fiber.Ctx) error {
	s := a.config.Store.Create()
	log.Ctx(c.UserContext()).Debug().Str("session", s.ID()).Msg("session created")
	return c.Status(http.StatusCreated).JSON(s.Snapshot())
}

func (a *WebApp) handleGet(c *fiber.Ctx, s *session.Session) error {
	return c.JSON(s.Snapshot())
}

func (a *WebApp) handleDelete(c *fiber.Ctx) error {
	if !a.config.Store.Delete(c.Params("id")) {
		return fiber.NewError(http.StatusNotFound, "session not found")
	}
	return c.SendStatus(http.StatusNoContent)
}

// handleUpload accepts a multipart "image" or "file" field, or a raw body
func (a *WebApp) handleUpload(c *fiber.Ctx, s *session.Session) error {
	data := c.Body()
	if form, err := c.MultipartForm(); err == nil {
		data = nil
		for _, field := range []string{"image", "file"} {
			if files := form.File[field]; len(files) > 0 {
				if data, err = readUpload(files[0]); err != nil {
					return fiber.NewError(http.StatusBadRequest, "cannot read upload")
				}
				break
			}
		}
		if data == nil {
			return fiber.NewError(http.StatusBadRequest, "missing image field")
		}
	}

	if err := s.Load(c.UserContext(), data); err != nil {
		return fail(c, s, err)
	}
	return c.JSON(s.Snapshot())
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, processing.MaxSourceBytes+1))
}

func (a *WebApp) handleRatio(c *fiber.Ctx, s *session.Session) error {
	var request struct {
		Ratio string `json:"ratio"`
	}
	if err := c.BodyParser(&request); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	ratio, err := types.ParseAspectRatio(request.Ratio)
	if err != nil {
		return fail(c, s, err)
	}
	if err := s.SetRatio(ratio); err != nil {
		return fail(c, s, err)
	}
	return c.JSON(s.Snapshot())
}

// handleRotate advances by 90 degrees, or sets {"rotation": deg} when given
func (a *WebApp) handleRotate(c *fiber.Ctx, s *session.Session) error {
	var request struct {
		Rotation *int `json:"rotation"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&request); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}

	if request.Rotation == nil {
		s.Rotate()
		return c.JSON(s.Snapshot())
	}
	rotation, err := types.NormalizeRotation(*request.Rotation)
	if err != nil {
		return fail(c, s, err)
	}
	if err := s.SetRotation(rotation); err != nil {
		return fail(c, s, err)
	}
	return c.JSON(s.Snapshot())
}

func (a *WebApp) handleCrop(c *fiber.Ctx, s *session.Session) error {
	var region types.Region
	if err := c.BodyParser(&region); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if _, err := s.UpdateLive(region); err != nil {
		return fail(c, s, err)
	}
	return c.JSON(s.Snapshot())
}

func (a *WebApp) handleCommit(c *fiber.Ctx, s *session.Session) error {
	if err := s.Commit(c.UserContext()); err != nil {
		return fail(c, s, err)
	}
	return c.JSON(s.Snapshot())
}

func (a *WebApp) handleSmartCrop(c *fiber.Ctx, s *session.Session) error {
	if _, err := s.RequestSuggestion(c.UserContext(), a.config.Suggester); err != nil {
		return fail(c, s, err)
	}
	return c.JSON(s.Snapshot())
}

// handlePreview renders the live region as PNG. ?dps= sets the device pixel
// scale; ?output=1 returns the committed output instead.
func (a *WebApp) handlePreview(c *fiber.Ctx, s *session.Session) error {
	surface := s.Output()
	if !c.QueryBool("output") || surface == nil {
		dps, err := strconv.ParseFloat(c.Query("dps", "1"), 64)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid dps")
		}
		if err := render.ValidateScale(dps); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		surface, err = s.Preview(dps)
		if err != nil {
			return fail(c, s, err)
		}
	}
	if surface.Empty() {
		return fail(c, s, types.ErrRenderUnavailable)
	}

	var buf bytes.Buffer
	if err := processing.NewProcessor().Encode(&buf, surface.Image, types.FormatPNG, 0); err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, types.FormatPNG.MIMEType())
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Send(buf.Bytes())
}

func (a *WebApp) exportParams(c *fiber.Ctx) (types.Format, float64, error) {
	format := a.config.Format
	if f := c.Query("format"); f != "" {
		var err error
		if format, err = types.ParseFormat(f); err != nil {
			return "", 0, err
		}
	}
	quality := a.config.Quality
	if q := c.Query("quality"); q != "" {
		var err error
		if quality, err = strconv.ParseFloat(q, 64); err != nil || math.IsNaN(quality) || math.IsInf(quality, 0) {
			return "", 0, errors.New("invalid quality")
		}
	}
	return format, types.ClampQuality(quality), nil
}

func (a *WebApp) handleDownload(c *fiber.Ctx, s *session.Session) error {
	format, quality, err := a.exportParams(c)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	exp, err := s.Export(c.UserContext(), format, quality)
	if err != nil {
		return fail(c, s, err)
	}
	c.Set(fiber.HeaderContentType, exp.MIMEType)
	c.Attachment(exp.Filename)
	return c.Send(exp.Data)
}

func (a *WebApp) handleCopy(c *fiber.Ctx, s *session.Session) error {
	if a.config.Clipboard == nil {
		return fail(c, s, types.ErrClipboardWriteFailure)
	}
	format, quality, err := a.exportParams(c)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	where, err := s.Deliver(c.UserContext(), a.config.Clipboard, format, quality)
	if err != nil {
		return fail(c, s, err)
	}
	return c.JSON(fiber.Map{"copied": where, "session": s.Snapshot()})
}

func (a *WebApp) handleReset(c *fiber.Ctx, s *session.Session) error {
	s.Reset()
	return c.JSON(s.Snapshot())
}
