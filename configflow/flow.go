// Package configflow turns user-supplied fields into a config entry for
// one relay fan.
package configflow

import (
	"strings"

	"github.com/google/uuid"
	"github.com/milinda/geosmartbridge/fan"
	"go.uber.org/zap"
)

const (
	FieldUsername   = "username"
	FieldHost       = "host"
	FieldRoomName   = "google_home_room_name"
	FieldDeviceName = "google_home_device_name"

	StepUser = "user"

	ErrorRequired = "required"
)

// Fields lists the inputs of the user step in form order. All are required.
var Fields = []string{FieldUsername, FieldHost, FieldRoomName, FieldDeviceName}

type ResultType string

const (
	ResultForm        ResultType = "form"
	ResultCreateEntry ResultType = "create_entry"
)

// Entry is a created config entry. Data holds the raw fields as given.
type Entry struct {
	ID    string            `json:"entry_id"`
	Title string            `json:"title"`
	Data  map[string]string `json:"data"`
}

func (e Entry) FanConfig() fan.Config {
	return fan.Config{
		Username:   e.Data[FieldUsername],
		Host:       e.Data[FieldHost],
		Room:       e.Data[FieldRoomName],
		DeviceName: e.Data[FieldDeviceName],
	}
}

// Result is the outcome of a flow step: either the form again, with
// per-field errors, or a new entry.
type Result struct {
	Type   ResultType        `json:"type"`
	StepID string            `json:"step_id,omitempty"`
	Fields []string          `json:"data_schema,omitempty"`
	Errors map[string]string `json:"errors,omitempty"`
	Entry  *Entry            `json:"result,omitempty"`
}

// UserStep handles the single setup step. A nil input asks for the form.
// Fields are only checked for presence; values are stored untouched.
func UserStep(input map[string]string) Result {
	form := Result{Type: ResultForm, StepID: StepUser, Fields: Fields}
	if input == nil {
		return form
	}

	errs := map[string]string{}
	for _, field := range Fields {
		if strings.TrimSpace(input[field]) == "" {
			errs[field] = ErrorRequired
		}
	}
	if len(errs) > 0 {
		zap.S().Warnf("Config flow rejected input, missing %v", keys(errs))
		form.Errors = errs
		return form
	}

	data := make(map[string]string, len(Fields))
	for _, field := range Fields {
		data[field] = input[field]
	}

	entry := &Entry{
		ID:    uuid.New().String(),
		Title: input[FieldDeviceName],
		Data:  data,
	}

	zap.S().Infof("Created config entry %s (%s)", entry.ID, entry.Title)

	return Result{Type: ResultCreateEntry, Entry: entry}
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for _, f := range Fields {
		if _, ok := m[f]; ok {
			out = append(out, f)
		}
	}
	return out
}
