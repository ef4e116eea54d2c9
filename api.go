package main

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/milinda/geosmartbridge/configflow"
	"github.com/milinda/geosmartbridge/fan"
	"github.com/milinda/geosmartbridge/hub"
	"github.com/milinda/geosmartbridge/relay"
	"go.uber.org/zap"
)

type FanView struct {
	UniqueID     string `json:"unique_id"`
	Name         string `json:"name"`
	IsOn         bool   `json:"is_on"`
	Percentage   int    `json:"percentage"`
	SpeedCount   int    `json:"speed_count"`
	CurrentSpeed string `json:"current_speed"`
}

type TurnOnRequest struct {
	Percentage *int    `json:"percentage"`
	PresetMode *string `json:"preset_mode"`
}

type PercentageRequest struct {
	Percentage *int `json:"percentage" binding:"required"`
}

type PresetModeRequest struct {
	PresetMode string `json:"preset_mode" binding:"required"`
}

type apiHandler struct {
	hub *hub.Hub
}

func newFanView(f *fan.Entity) FanView {
	state := f.State()
	return FanView{
		UniqueID:     f.UniqueID(),
		Name:         f.Name(),
		IsOn:         state.IsOn,
		Percentage:   state.Percentage(),
		SpeedCount:   f.SpeedCount(),
		CurrentSpeed: state.CurrentSpeed,
	}
}

func NewRouter(h *hub.Hub) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		zap.S().Infof("[%s] %s %s %d %v", c.Request.Method, path, c.ClientIP(), c.Writer.Status(), time.Since(start))
	})

	a := &apiHandler{hub: h}

	api := router.Group("/api")
	{
		api.GET("/fans", a.listFans)
		api.GET("/fans/:id", a.getFan)
		api.POST("/fans/:id/turn_on", a.turnOn)
		api.POST("/fans/:id/turn_off", a.turnOff)
		api.POST("/fans/:id/percentage", a.setPercentage)
		api.POST("/fans/:id/preset_mode", a.setPresetMode)

		api.GET("/entries", a.listEntries)
		api.POST("/entries", a.createEntry)
		api.DELETE("/entries/:id", a.deleteEntry)
	}

	return router
}

// bindOptionalJSON leaves obj untouched when the request has no body.
func bindOptionalJSON(c *gin.Context, obj interface{}) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (a *apiHandler) fan(c *gin.Context) (*fan.Entity, bool) {
	f, found := a.hub.Fan(c.Param("id"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown fan " + c.Param("id")})
	}
	return f, found
}

func (a *apiHandler) respond(c *gin.Context, f *fan.Entity, err error) {
	var relayErr *relay.Error

	switch {
	case err == nil:
		c.JSON(http.StatusOK, newFanView(f))
	case errors.As(err, &relayErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	case errors.Is(err, fan.ErrInvalidPercentage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (a *apiHandler) listFans(c *gin.Context) {
	fans := a.hub.Fans()
	views := make([]FanView, 0, len(fans))
	for _, f := range fans {
		views = append(views, newFanView(f))
	}
	c.JSON(http.StatusOK, views)
}

func (a *apiHandler) getFan(c *gin.Context) {
	if f, ok := a.fan(c); ok {
		c.JSON(http.StatusOK, newFanView(f))
	}
}

func (a *apiHandler) turnOn(c *gin.Context) {
	f, ok := a.fan(c)
	if !ok {
		return
	}

	var req TurnOnRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a.respond(c, f, f.TurnOn(c.Request.Context(), req.Percentage, req.PresetMode))
}

func (a *apiHandler) turnOff(c *gin.Context) {
	if f, ok := a.fan(c); ok {
		a.respond(c, f, f.TurnOff(c.Request.Context()))
	}
}

func (a *apiHandler) setPercentage(c *gin.Context) {
	f, ok := a.fan(c)
	if !ok {
		return
	}

	var req PercentageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a.respond(c, f, f.SetPercentage(c.Request.Context(), *req.Percentage))
}

func (a *apiHandler) setPresetMode(c *gin.Context) {
	f, ok := a.fan(c)
	if !ok {
		return
	}

	var req PresetModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a.respond(c, f, f.SetPresetMode(c.Request.Context(), req.PresetMode))
}

func (a *apiHandler) listEntries(c *gin.Context) {
	c.JSON(http.StatusOK, a.hub.Entries())
}

// createEntry runs the config flow's user step. An empty body returns
// the form to fill in.
func (a *apiHandler) createEntry(c *gin.Context) {
	var input map[string]string
	if err := bindOptionalJSON(c, &input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res := configflow.UserStep(input)
	if res.Type == configflow.ResultForm {
		status := http.StatusOK
		if len(res.Errors) > 0 {
			status = http.StatusBadRequest
		}
		c.JSON(status, res)
		return
	}

	if _, err := a.hub.SetupEntry(*res.Entry); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, hub.ErrDuplicateEntry) || errors.Is(err, hub.ErrDuplicateFan) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, res)
}

func (a *apiHandler) deleteEntry(c *gin.Context) {
	if err := a.hub.UnloadEntry(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
