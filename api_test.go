package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/milinda/geosmartbridge/configflow"
	"github.com/milinda/geosmartbridge/fan"
	"github.com/milinda/geosmartbridge/hub"
	"github.com/milinda/geosmartbridge/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiCommander struct {
	commands *[]string
	fail     *bool
}

func (a apiCommander) SendCommand(ctx context.Context, command string) error {
	*a.commands = append(*a.commands, command)
	if *a.fail {
		return &relay.Error{Host: "http://relay", Command: command, Err: context.DeadlineExceeded}
	}
	return nil
}

type apiFixture struct {
	router   *gin.Engine
	hub      *hub.Hub
	commands []string
	fail     bool
}

func newAPIFixture(t *testing.T) *apiFixture {
	fx := &apiFixture{}
	fx.hub = hub.New(func(fan.Config) fan.Commander {
		return apiCommander{commands: &fx.commands, fail: &fx.fail}
	})
	fx.router = NewRouter(fx.hub)

	res := configflow.UserStep(map[string]string{
		configflow.FieldUsername:   "alice",
		configflow.FieldHost:       "http://relay",
		configflow.FieldRoomName:   "Bedroom",
		configflow.FieldDeviceName: "Ceiling",
	})
	_, err := fx.hub.SetupEntry(*res.Entry)
	require.NoError(t, err)

	return fx
}

func (fx *apiFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)
	return w
}

func decodeFan(t *testing.T, w *httptest.ResponseRecorder) FanView {
	var v FanView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestAPIListFans(t *testing.T) {
	fx := newAPIFixture(t)

	w := fx.do(http.MethodGet, "/api/fans", "")
	require.Equal(t, http.StatusOK, w.Code)

	var views []FanView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
	assert.Equal(t, []FanView{{
		UniqueID:   "Ceiling_Bedroom",
		Name:       "Ceiling",
		SpeedCount: 3,
	}}, views)
}

func TestAPIUnknownFan(t *testing.T) {
	fx := newAPIFixture(t)

	assert.Equal(t, http.StatusNotFound, fx.do(http.MethodGet, "/api/fans/nope", "").Code)
	assert.Equal(t, http.StatusNotFound, fx.do(http.MethodPost, "/api/fans/nope/turn_off", "").Code)
}

func TestAPITurnOnOff(t *testing.T) {
	fx := newAPIFixture(t)

	w := fx.do(http.MethodPost, "/api/fans/Ceiling_Bedroom/turn_on", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, FanView{
		UniqueID: "Ceiling_Bedroom", Name: "Ceiling", IsOn: true,
		Percentage: 33, SpeedCount: 3, CurrentSpeed: "1",
	}, decodeFan(t, w))

	w = fx.do(http.MethodPost, "/api/fans/Ceiling_Bedroom/turn_on", `{"percentage":100}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", decodeFan(t, w).CurrentSpeed)

	w = fx.do(http.MethodPost, "/api/fans/Ceiling_Bedroom/turn_off", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decodeFan(t, w).IsOn)

	assert.Equal(t, "turn off Bedroom Ceiling fan", fx.commands[len(fx.commands)-1])
}

func TestAPISetPercentage(t *testing.T) {
	fx := newAPIFixture(t)

	w := fx.do(http.MethodPost, "/api/fans/Ceiling_Bedroom/percentage", `{"percentage":50}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", decodeFan(t, w).CurrentSpeed)
	assert.Equal(t, []string{"set Bedroom Ceiling fan to 2"}, fx.commands)

	assert.Equal(t, http.StatusBadRequest, fx.do(http.MethodPost, "/api/fans/Ceiling_Bedroom/percentage", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, fx.do(http.MethodPost, "/api/fans/Ceiling_Bedroom/percentage", `{"percentage":101}`).Code)
}

func TestAPIPresetMode(t *testing.T) {
	fx := newAPIFixture(t)

	w := fx.do(http.MethodPost, "/api/fans/Ceiling_Bedroom/preset_mode", `{"preset_mode":"sleep"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, fx.commands)
}

func TestAPIRelayFailure(t *testing.T) {
	fx := newAPIFixture(t)
	fx.fail = true

	w := fx.do(http.MethodPost, "/api/fans/Ceiling_Bedroom/turn_on", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)

	f, _ := fx.hub.Fan("Ceiling_Bedroom")
	assert.False(t, f.IsOn())
}

func TestAPIEntries(t *testing.T) {
	fx := newAPIFixture(t)

	w := fx.do(http.MethodPost, "/api/entries", "")
	require.Equal(t, http.StatusOK, w.Code)
	var form configflow.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &form))
	assert.Equal(t, configflow.ResultForm, form.Type)
	assert.Equal(t, configflow.Fields, form.Fields)

	w = fx.do(http.MethodPost, "/api/entries", `{"username":"bob","host":"http://relay"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &form))
	assert.Len(t, form.Errors, 2)

	body := `{"username":"bob","host":"http://relay","google_home_room_name":"Office","google_home_device_name":"Desk"}`
	w = fx.do(http.MethodPost, "/api/entries", body)
	require.Equal(t, http.StatusCreated, w.Code)
	var created configflow.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotNil(t, created.Entry)
	assert.Equal(t, "Desk", created.Entry.Title)

	assert.Equal(t, http.StatusOK, fx.do(http.MethodGet, "/api/fans/Desk_Office", "").Code)
	assert.Equal(t, http.StatusConflict, fx.do(http.MethodPost, "/api/entries", body).Code)

	assert.Equal(t, http.StatusNoContent, fx.do(http.MethodDelete, "/api/entries/"+created.Entry.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, fx.do(http.MethodGet, "/api/fans/Desk_Office", "").Code)
	assert.Equal(t, http.StatusNotFound, fx.do(http.MethodDelete, "/api/entries/"+created.Entry.ID, "").Code)

	w = fx.do(http.MethodGet, "/api/entries", "")
	var entries []configflow.Entry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	assert.Len(t, entries, 1)
}

type failingPlatform struct{}

func (failingPlatform) Add(f *fan.Entity) error { return errors.New("transport unavailable") }
func (failingPlatform) Remove(f *fan.Entity)    {}

func TestAPIEntrySetupFailure(t *testing.T) {
	fx := &apiFixture{}
	fx.hub = hub.New(func(fan.Config) fan.Commander {
		return apiCommander{commands: &fx.commands, fail: &fx.fail}
	})
	fx.router = NewRouter(fx.hub)
	require.NoError(t, fx.hub.AddPlatform(nopPlatform{}))
	require.NoError(t, fx.hub.AddPlatform(failingPlatform{}))

	body := `{"username":"bob","host":"http://relay","google_home_room_name":"Office","google_home_device_name":"Desk"}`
	w := fx.do(http.MethodPost, "/api/entries", body)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, http.StatusNotFound, fx.do(http.MethodGet, "/api/fans/Desk_Office", "").Code)
	assert.Empty(t, fx.hub.Entries())
}

type nopPlatform struct{}

func (nopPlatform) Add(f *fan.Entity) error { return nil }
func (nopPlatform) Remove(f *fan.Entity)    {}

type hangingCommander struct {
	entered chan struct{}
	release chan struct{}
}

func (h hangingCommander) SendCommand(ctx context.Context, command string) error {
	h.entered <- struct{}{}
	<-h.release
	return nil
}

func TestAPIReadsDuringHungRelay(t *testing.T) {
	cmd := hangingCommander{entered: make(chan struct{}, 2), release: make(chan struct{})}
	h := hub.New(func(fan.Config) fan.Commander { return cmd })
	router := NewRouter(h)

	res := configflow.UserStep(map[string]string{
		configflow.FieldUsername:   "alice",
		configflow.FieldHost:       "http://relay",
		configflow.FieldRoomName:   "Bedroom",
		configflow.FieldDeviceName: "Ceiling",
	})
	fans, err := h.SetupEntry(*res.Entry)
	require.NoError(t, err)

	turnedOn := make(chan error, 1)
	go func() {
		turnedOn <- fans[0].TurnOn(context.Background(), nil, nil)
	}()
	<-cmd.entered

	listed := make(chan int, 1)
	go func() {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/fans", nil))
		listed <- w.Code
	}()

	select {
	case code := <-listed:
		assert.Equal(t, http.StatusOK, code)
	case <-time.After(2 * time.Second):
		t.Fatal("GET /api/fans blocked while a relay command hangs")
	}

	close(cmd.release)
	require.NoError(t, <-turnedOn)
}
