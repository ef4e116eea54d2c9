package main

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/milinda/geosmartbridge/configflow"
)

type Configuration struct {
	Name         string      `hcl:"name"`
	Pin          string      `hcl:"pin"`
	StorageDir   string      `hcl:"storage-dir,optional"`
	RelayTimeout string      `hcl:"relay-timeout,optional"`
	Broker       *Broker     `hcl:"broker,block"`
	Api          *Api        `hcl:"api,block"`
	Fans         []*FanBlock `hcl:"fan,block"`
}

type Broker struct {
	Url         string `hcl:"url"`
	UserName    string `hcl:"username,optional"`
	Password    string `hcl:"password,optional"`
	TopicPrefix string `hcl:"topic-prefix,optional"`
}

type Api struct {
	Listen string `hcl:"listen"`
}

// FanBlock carries the raw config-flow fields for one fan. Presence is
// checked by the config flow, not by the HCL schema.
type FanBlock struct {
	Username   string `hcl:"username,optional"`
	Host       string `hcl:"host,optional"`
	RoomName   string `hcl:"google_home_room_name,optional"`
	DeviceName string `hcl:"google_home_device_name,optional"`
}

func (f *FanBlock) Input() map[string]string {
	return map[string]string{
		configflow.FieldUsername:   f.Username,
		configflow.FieldHost:       f.Host,
		configflow.FieldRoomName:   f.RoomName,
		configflow.FieldDeviceName: f.DeviceName,
	}
}

const defaultTopicPrefix = "geosmartpro"

func ParseConfig(configPath string) (c *Configuration, err error) {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	return parseConfig(content, configPath)
}

func parseConfig(content []byte, filename string) (*Configuration, error) {
	var diags hcl.Diagnostics

	file, diags := hclsyntax.ParseConfig(content, filename, hcl.Pos{Line: 1, Column: 1})
	if diags != nil && diags.HasErrors() {
		return nil, fmt.Errorf("config parse: %w", diags)
	}

	c := &Configuration{}

	diags = gohcl.DecodeBody(file.Body, nil, c)
	if diags != nil && diags.HasErrors() {
		return nil, fmt.Errorf("config parse: %w", diags)
	}

	if c.Broker != nil && c.Broker.TopicPrefix == "" {
		c.Broker.TopicPrefix = defaultTopicPrefix
	}

	if _, err := c.Timeout(); err != nil {
		return nil, err
	}

	return c, nil
}

// Timeout returns the relay request timeout; zero means requests are
// not bounded.
func (c *Configuration) Timeout() (time.Duration, error) {
	if c.RelayTimeout == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(c.RelayTimeout)
	if err != nil {
		return 0, fmt.Errorf("config parse: relay-timeout: %w", err)
	}

	return d, nil
}

// Entries runs every fan block through the config flow.
func (c *Configuration) Entries() ([]configflow.Entry, error) {
	entries := make([]configflow.Entry, 0, len(c.Fans))

	for i, block := range c.Fans {
		res := configflow.UserStep(block.Input())
		if res.Type != configflow.ResultCreateEntry {
			return nil, fmt.Errorf("fan block %d: invalid fields %v", i+1, res.Errors)
		}
		entries = append(entries, *res.Entry)
	}

	return entries, nil
}

func DefaultConfig() *Configuration {
	return &Configuration{
		Name: "geosmartpro-bridge",
		Pin:  "00102003",
		Api: &Api{
			Listen: ":8080",
		},
	}
}
