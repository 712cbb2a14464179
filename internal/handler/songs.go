package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/songblend/api/internal/model"
	"github.com/songblend/api/internal/service"
	"github.com/songblend/api/pkg/response"
)

type SongHandler struct {
	resolver  *service.Resolver
	validator *validator.Validate
}

func NewSongHandler(resolver *service.Resolver, v *validator.Validate) *SongHandler {
	return &SongHandler{
		resolver:  resolver,
		validator: v,
	}
}

// Search handles GET /api/search
func (h *SongHandler) Search(c *fiber.Ctx) error {
	query := model.SearchQuery{Limit: service.DefaultSearchLimit}
	if err := c.QueryParser(&query); err != nil {
		return response.ValidationError(c, "Invalid query parameters", nil)
	}

	if err := h.validator.Struct(&query); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	songs, err := h.resolver.Search(c.UserContext(), query.Q, query.Limit)
	if err != nil {
		return err
	}

	options := make([]model.SongOption, 0, len(songs))
	for _, s := range songs {
		options = append(options, model.NewSongOption(s))
	}
	return response.OK(c, model.SongListResponse{Songs: options, Total: len(options)})
}

// List handles GET /api/songs
func (h *SongHandler) List(c *fiber.Ctx) error {
	options, err := h.resolver.ListSongs(c.UserContext())
	if err != nil {
		return err
	}

	return response.OK(c, model.SongListResponse{Songs: options, Total: len(options)})
}
