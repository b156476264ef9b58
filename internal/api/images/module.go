// Package images exposes the image catalogue as a route module.
package images

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/assetgw/internal/api"
	"github.com/vyrodovalexey/assetgw/internal/model"
	"github.com/vyrodovalexey/assetgw/internal/router"
	"github.com/vyrodovalexey/assetgw/internal/service"
	"github.com/vyrodovalexey/assetgw/internal/util"
)

// Prefix is the module path prefix.
const Prefix = "/Images"

// idParam names the image identifier path parameter.
const idParam = "ImageId"

// Module returns the image catalogue module for version. Every route
// requires a verified token.
func Module(version string) router.Module[api.Services] {
	return router.Module[api.Services]{
		Name:    "images",
		Prefix:  Prefix,
		Version: version,
		Build: func(s api.Services) []router.Definition {
			h := &handlers{svc: s.Images}
			return []router.Definition{
				{Method: http.MethodGet, Path: "/", Handler: h.list},
				{Method: http.MethodGet, Path: "/isbn/:ISBN", Handler: h.getByISBN},
				{Method: http.MethodGet, Path: "/title/:title", Handler: h.findByTitle},
				{Method: http.MethodGet, Path: "/author/:author", Handler: h.findByAuthor},
				{Method: http.MethodGet, Path: "/:" + idParam, Handler: h.get},
				{Method: http.MethodPost, Path: "/", Handler: h.create},
				{Method: http.MethodPut, Path: "/:" + idParam, Handler: h.update},
				{Method: http.MethodDelete, Path: "/:" + idParam, Handler: h.remove},
			}
		},
	}
}

type handlers struct {
	svc *service.ImageService
}

func (h *handlers) list(c *gin.Context) util.Result[gin.H] {
	var page model.Page
	if err := api.BindQuery(c, &page); err != nil {
		return util.Fail[gin.H](err)
	}
	return many(h.svc.GetAll(c.Request.Context(), page))
}

func (h *handlers) get(c *gin.Context) util.Result[gin.H] {
	id, err := api.UUIDParam(c, idParam)
	if err != nil {
		return util.Fail[gin.H](err)
	}
	return one(h.svc.GetByID(c.Request.Context(), id))
}

func (h *handlers) getByISBN(c *gin.Context) util.Result[gin.H] {
	return one(h.svc.GetByISBN(c.Request.Context(), c.Param("ISBN")))
}

func (h *handlers) findByTitle(c *gin.Context) util.Result[gin.H] {
	return many(h.svc.FindByTitle(c.Request.Context(), c.Param("title")))
}

func (h *handlers) findByAuthor(c *gin.Context) util.Result[gin.H] {
	return many(h.svc.FindByAuthor(c.Request.Context(), c.Param("author")))
}

func (h *handlers) create(c *gin.Context) util.Result[gin.H] {
	var in model.ImageCreate
	if err := api.BindJSON(c, &in); err != nil {
		return util.Fail[gin.H](err)
	}
	return one(h.svc.Add(c.Request.Context(), in))
}

func (h *handlers) update(c *gin.Context) util.Result[gin.H] {
	id, err := api.UUIDParam(c, idParam)
	if err != nil {
		return util.Fail[gin.H](err)
	}
	var patch model.ImageUpdate
	if err := api.BindJSON(c, &patch); err != nil {
		return util.Fail[gin.H](err)
	}
	return one(h.svc.Update(c.Request.Context(), id, patch))
}

func (h *handlers) remove(c *gin.Context) util.Result[gin.H] {
	id, err := api.UUIDParam(c, idParam)
	if err != nil {
		return util.Fail[gin.H](err)
	}
	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		return util.Fail[gin.H](err)
	}
	return util.OK(gin.H{})
}

func one(img *model.Image, err error) util.Result[gin.H] {
	if err != nil {
		return util.Fail[gin.H](err)
	}
	return util.OK(gin.H{"Image": img})
}

func many(imgs []model.Image, err error) util.Result[gin.H] {
	if err != nil {
		return util.Fail[gin.H](err)
	}
	if imgs == nil {
		imgs = []model.Image{}
	}
	return util.OK(gin.H{"Images": imgs})
}
