package publish

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/roach88/ormso/internal/model"
	"github.com/roach88/ormso/internal/schema"
	"github.com/roach88/ormso/internal/syncer"
)

// OptionsQueryParam carries select options when the header is not used.
const OptionsQueryParam = "options"

type dataRoutes struct {
	s *Server
}

func newDataRoutes(s *Server) *dataRoutes {
	return &dataRoutes{s: s}
}

func (r *dataRoutes) RegisterRoutes(router *gin.RouterGroup) {
	data := router.Group("/data/:table")
	data.Use(r.resolveModel)
	{
		data.GET("", r.list)
		data.GET("/:id", r.get)
		data.POST("", r.create)
		data.PUT("/:id", r.update)
		data.PUT("", r.upsert)
		data.DELETE("/:id", r.remove)
	}
}

const modelKey = "model"

func (r *dataRoutes) resolveModel(c *gin.Context) {
	name := c.Param("table")
	dm, ok := r.s.mctx.Model(name)
	if !ok || dm.Info() == nil || dm.Info().IsAbstract() {
		fail(c, http.StatusNotFound, CodeNotFound, fmt.Errorf("%w: %q", model.ErrUnknownModel, name))
		return
	}
	c.Set(modelKey, dm)
	c.Next()
}

func modelOf(c *gin.Context) *model.DataModel {
	return c.MustGet(modelKey).(*model.DataModel)
}

// selectOptions reads options from the header, then the query string.
func selectOptions(c *gin.Context) (*model.SelectOptions, error) {
	raw := c.GetHeader(syncer.SelectOptionsHeader)
	if raw == "" {
		raw = c.Query(OptionsQueryParam)
	}
	if raw == "" {
		return &model.SelectOptions{}, nil
	}
	opts, err := model.ParseSelectOptions([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid select options: %w", err)
	}
	return opts, nil
}

func (r *dataRoutes) id(c *gin.Context, dm *model.DataModel) (any, bool) {
	id, err := dm.Info().PrimaryKey.Coerce(c.Param("id"))
	if err != nil {
		fail(c, http.StatusBadRequest, CodeBadRequest, err)
		return nil, false
	}
	return id, true
}

func (r *dataRoutes) body(c *gin.Context, dm *model.DataModel) (*schema.Row, bool) {
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		fail(c, http.StatusBadRequest, CodeBadRequest, fmt.Errorf("invalid request body: %w", err))
		return nil, false
	}
	row, err := dm.Info().DecodeRow(m, true)
	if err != nil {
		fail(c, http.StatusBadRequest, CodeBadRequest, err)
		return nil, false
	}
	return row, true
}

func (r *dataRoutes) options(c *gin.Context) (*model.SelectOptions, bool) {
	opts, err := selectOptions(c)
	if err != nil {
		fail(c, http.StatusBadRequest, CodeBadRequest, err)
		return nil, false
	}
	return opts, true
}

func (r *dataRoutes) list(c *gin.Context) {
	dm := modelOf(c)
	opts, ok := r.options(c)
	if !ok {
		return
	}
	res, err := dm.Select(c.Request.Context(), opts)
	if err != nil {
		r.s.failFor(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (r *dataRoutes) get(c *gin.Context) {
	dm := modelOf(c)
	id, ok := r.id(c, dm)
	if !ok {
		return
	}
	opts, ok := r.options(c)
	if !ok {
		return
	}
	row, err := dm.SelectByID(c.Request.Context(), id, opts)
	if err != nil {
		r.s.failFor(c, err)
		return
	}
	if row == nil {
		fail(c, http.StatusNotFound, CodeNotFound, fmt.Errorf("%w: %s %v", model.ErrNotFound, dm.Name(), id))
		return
	}
	c.JSON(http.StatusOK, row.ToMap())
}

func (r *dataRoutes) create(c *gin.Context) {
	dm := modelOf(c)
	opts, ok := r.options(c)
	if !ok {
		return
	}
	row, ok := r.body(c, dm)
	if !ok {
		return
	}
	saved, err := dm.InsertAndSelect(c.Request.Context(), row, opts)
	if err != nil {
		r.s.failFor(c, err)
		return
	}
	c.JSON(http.StatusCreated, saved.ToMap())
}

func (r *dataRoutes) update(c *gin.Context) {
	dm := modelOf(c)
	id, ok := r.id(c, dm)
	if !ok {
		return
	}
	opts, ok := r.options(c)
	if !ok {
		return
	}
	row, ok := r.body(c, dm)
	if !ok {
		return
	}
	row.Set(dm.Info().PrimaryKey.Name, id)
	saved, err := dm.UpdateAndSelect(c.Request.Context(), row, opts)
	if err != nil {
		r.s.failFor(c, err)
		return
	}
	c.JSON(http.StatusOK, saved.ToMap())
}

func (r *dataRoutes) upsert(c *gin.Context) {
	dm := modelOf(c)
	opts, ok := r.options(c)
	if !ok {
		return
	}
	row, ok := r.body(c, dm)
	if !ok {
		return
	}
	saved, err := dm.UpdateOrInsertAndSelect(c.Request.Context(), row, opts)
	if err != nil {
		r.s.failFor(c, err)
		return
	}
	c.JSON(http.StatusOK, saved.ToMap())
}

func (r *dataRoutes) remove(c *gin.Context) {
	dm := modelOf(c)
	id, ok := r.id(c, dm)
	if !ok {
		return
	}
	_, err := dm.Delete(c.Request.Context(), schema.NewRow(map[string]any{dm.Info().PrimaryKey.Name: id}))
	if err != nil {
		r.s.failFor(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
