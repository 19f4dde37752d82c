package flair

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
)

const jsonAPIContentType = "application/vnd.api+json"

var ErrNoStructure = errors.New("no flair structure found")

// API is the Flair device client consumed by the platform.
type API interface {
	CheckCredentials(ctx context.Context) error

	ListVents(ctx context.Context) ([]Vent, error)
	ListRooms(ctx context.Context) ([]Room, error)
	ListPucks(ctx context.Context) ([]Puck, error)

	ReadVent(ctx context.Context, id string) (Vent, error)
	ReadPuck(ctx context.Context, id string) (Puck, error)
	ReadRoom(ctx context.Context, id string) (Room, error)

	SetVentPercentOpen(ctx context.Context, id string, percent int) (Vent, error)
	SetRoomSetpoint(ctx context.Context, id string, celsius float64) (Room, error)
	SetRoomAway(ctx context.Context, id string, away bool) (Room, error)

	PrimaryStructure(ctx context.Context) (Structure, error)
	ReadStructure(ctx context.Context, id string) (Structure, error)
	SetStructureMode(ctx context.Context, id string, mode FlairMode) (Structure, error)
	SetStructureHeatCoolMode(ctx context.Context, id string, mode HeatCoolMode) (Structure, error)
	SetStructureSetpoint(ctx context.Context, id string, celsius float64) (Structure, error)
}

// TokenSource supplies bearer tokens. oauth.Manager implements it.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	TriggerRefresh(ctx context.Context)
}

type HTTPStatusError struct {
	Status int
	Body   string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("flair api error %d: %s", e.Status, strings.TrimSpace(e.Body))
}

// Client talks to the Flair JSON:API.
type Client struct {
	baseURL     string
	tokens      TokenSource
	httpClient  *http.Client
	structureID string
}

func NewClient(baseURL string, tokens TokenSource, httpClient *http.Client, structureID string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		tokens:      tokens,
		httpClient:  httpClient,
		structureID: structureID,
	}
}

type resource struct {
	Type       string          `json:"type"`
	ID         string          `json:"id"`
	Attributes json.RawMessage `json:"attributes"`
}

type document struct {
	Data json.RawMessage `json:"data"`
}

type ventAttributes struct {
	Name             string  `json:"name"`
	PercentOpen      float64 `json:"percent-open"`
	DuctTemperatureC float64 `json:"duct-temperature-c"`
	DuctPressure     float64 `json:"duct-pressure"`
	FirmwareVersionS string  `json:"firmware-version-s"`
	Inactive         bool    `json:"inactive"`
}

type puckAttributes struct {
	Name                string  `json:"name"`
	DisplayNumber       string  `json:"display-number"`
	CurrentTemperatureC float64 `json:"current-temperature-c"`
	CurrentHumidity     float64 `json:"current-humidity"`
	CurrentRoomPressure float64 `json:"current-room-pressure"`
	FirmwareVersionS    string  `json:"firmware-version-s"`
	Inactive            bool    `json:"inactive"`
}

type roomAttributes struct {
	Name                string  `json:"name"`
	CurrentTemperatureC float64 `json:"current-temperature-c"`
	CurrentHumidity     float64 `json:"current-humidity"`
	SetPointC           float64 `json:"set-point-c"`
	Active              bool    `json:"active"`
	PucksInactive       string  `json:"pucks-inactive"`
}

type structureAttributes struct {
	Name                  string  `json:"name"`
	Mode                  string  `json:"mode"`
	StructureHeatCoolMode string  `json:"structure-heat-cool-mode"`
	SetPointTemperatureC  float64 `json:"set-point-temperature-c"`
}

func (c *Client) CheckCredentials(ctx context.Context) error {
	_, err := c.getList(ctx, "/api/users")
	return err
}

func (c *Client) ListVents(ctx context.Context) ([]Vent, error) {
	return listOf(ctx, c, "/api/vents", decodeVent)
}

func (c *Client) ListRooms(ctx context.Context) ([]Room, error) {
	return listOf(ctx, c, "/api/rooms", decodeRoom)
}

func (c *Client) ListPucks(ctx context.Context) ([]Puck, error) {
	return listOf(ctx, c, "/api/pucks", decodePuck)
}

func (c *Client) ReadVent(ctx context.Context, id string) (Vent, error) {
	return oneOf(ctx, c, resourcePath(KindVent, id), decodeVent)
}

func (c *Client) ReadPuck(ctx context.Context, id string) (Puck, error) {
	return oneOf(ctx, c, resourcePath(KindPuck, id), decodePuck)
}

func (c *Client) ReadRoom(ctx context.Context, id string) (Room, error) {
	return oneOf(ctx, c, resourcePath(KindRoom, id), decodeRoom)
}

func (c *Client) ReadStructure(ctx context.Context, id string) (Structure, error) {
	return oneOf(ctx, c, resourcePath(KindStructure, id), decodeStructure)
}

func (c *Client) SetVentPercentOpen(ctx context.Context, id string, percent int) (Vent, error) {
	res, err := c.patch(ctx, KindVent, id, map[string]any{"percent-open": percent})
	if err != nil {
		return Vent{}, err
	}
	return decodeVent(res)
}

func (c *Client) SetRoomSetpoint(ctx context.Context, id string, celsius float64) (Room, error) {
	res, err := c.patch(ctx, KindRoom, id, map[string]any{"set-point-c": celsius})
	if err != nil {
		return Room{}, err
	}
	return decodeRoom(res)
}

func (c *Client) SetRoomAway(ctx context.Context, id string, away bool) (Room, error) {
	res, err := c.patch(ctx, KindRoom, id, map[string]any{"active": !away})
	if err != nil {
		return Room{}, err
	}
	return decodeRoom(res)
}

// PrimaryStructure returns the configured structure, or the first one.
func (c *Client) PrimaryStructure(ctx context.Context) (Structure, error) {
	resources, err := c.getList(ctx, "/api/structures")
	if err != nil {
		return Structure{}, err
	}
	if len(resources) == 0 {
		return Structure{}, ErrNoStructure
	}
	if c.structureID == "" {
		return decodeStructure(resources[0])
	}
	for _, res := range resources {
		if res.ID == c.structureID {
			return decodeStructure(res)
		}
	}
	return Structure{}, fmt.Errorf("structure %s: %w", c.structureID, ErrNoStructure)
}

func (c *Client) SetStructureMode(ctx context.Context, id string, mode FlairMode) (Structure, error) {
	res, err := c.patch(ctx, KindStructure, id, map[string]any{"mode": string(mode)})
	if err != nil {
		return Structure{}, err
	}
	return decodeStructure(res)
}

func (c *Client) SetStructureHeatCoolMode(ctx context.Context, id string, mode HeatCoolMode) (Structure, error) {
	res, err := c.patch(ctx, KindStructure, id, map[string]any{"structure-heat-cool-mode": string(mode)})
	if err != nil {
		return Structure{}, err
	}
	return decodeStructure(res)
}

func (c *Client) SetStructureSetpoint(ctx context.Context, id string, celsius float64) (Structure, error) {
	res, err := c.patch(ctx, KindStructure, id, map[string]any{"set-point-temperature-c": celsius})
	if err != nil {
		return Structure{}, err
	}
	return decodeStructure(res)
}

func listOf[T any](ctx context.Context, c *Client, path string, decode func(resource) (T, error)) ([]T, error) {
	resources, err := c.getList(ctx, path)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(resources))
	for _, res := range resources {
		v, err := decode(res)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func oneOf[T any](ctx context.Context, c *Client, path string, decode func(resource) (T, error)) (T, error) {
	res, err := c.getOne(ctx, path)
	if err != nil {
		var zero T
		return zero, err
	}
	return decode(res)
}

func (c *Client) getList(ctx context.Context, path string) ([]resource, error) {
	doc, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var resources []resource
	if err := json.Unmarshal(doc.Data, &resources); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return resources, nil
}

func (c *Client) getOne(ctx context.Context, path string) (resource, error) {
	doc, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return resource{}, err
	}
	var res resource
	if err := json.Unmarshal(doc.Data, &res); err != nil {
		return resource{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return res, nil
}

// patch updates attributes and returns the server's resource. An empty
// response body is followed by a read.
func (c *Client) patch(ctx context.Context, kind Kind, id string, attributes map[string]any) (resource, error) {
	path := resourcePath(kind, id)
	payload, err := json.Marshal(map[string]any{
		"data": map[string]any{
			"type":       string(kind),
			"id":         id,
			"attributes": attributes,
		},
	})
	if err != nil {
		return resource{}, err
	}
	doc, err := c.do(ctx, http.MethodPatch, path, payload)
	if err != nil {
		return resource{}, err
	}
	if len(doc.Data) == 0 || string(doc.Data) == "null" {
		return c.getOne(ctx, path)
	}
	var res resource
	if err := json.Unmarshal(doc.Data, &res); err != nil {
		return resource{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return res, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) (document, error) {
	accessToken, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return document{}, err
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return document{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", jsonAPIContentType)
	if payload != nil {
		req.Header.Set("Content-Type", jsonAPIContentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return document{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return document{}, fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.TriggerRefresh(ctx)
	}
	if resp.StatusCode >= 300 {
		return document{}, &HTTPStatusError{Status: resp.StatusCode, Body: string(data)}
	}

	var doc document
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return doc, nil
}

func resourcePath(kind Kind, id string) string {
	return "/api/" + string(kind) + "/" + url.PathEscape(id)
}

func decodeAttributes(res resource, out any) error {
	if len(res.Attributes) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.Attributes, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", res.Type, res.ID, err)
	}
	return nil
}

func decodeVent(res resource) (Vent, error) {
	var a ventAttributes
	if err := decodeAttributes(res, &a); err != nil {
		return Vent{}, err
	}
	return Vent{
		ID:               res.ID,
		Name:             a.Name,
		PercentOpen:      int(math.Round(a.PercentOpen)),
		DuctTemperatureC: a.DuctTemperatureC,
		DuctPressure:     a.DuctPressure,
		FirmwareVersionS: a.FirmwareVersionS,
		Inactive:         a.Inactive,
	}, nil
}

func decodePuck(res resource) (Puck, error) {
	var a puckAttributes
	if err := decodeAttributes(res, &a); err != nil {
		return Puck{}, err
	}
	return Puck{
		ID:                  res.ID,
		Name:                a.Name,
		DisplayNumber:       a.DisplayNumber,
		CurrentTemperatureC: a.CurrentTemperatureC,
		CurrentHumidity:     a.CurrentHumidity,
		CurrentRoomPressure: a.CurrentRoomPressure,
		FirmwareVersionS:    a.FirmwareVersionS,
		Inactive:            a.Inactive,
	}, nil
}

func decodeRoom(res resource) (Room, error) {
	var a roomAttributes
	if err := decodeAttributes(res, &a); err != nil {
		return Room{}, err
	}
	return Room{
		ID:                  res.ID,
		Name:                a.Name,
		CurrentTemperatureC: a.CurrentTemperatureC,
		CurrentHumidity:     a.CurrentHumidity,
		SetPointC:           a.SetPointC,
		Active:              a.Active,
		PucksInactive:       a.PucksInactive,
	}, nil
}

func decodeStructure(res resource) (Structure, error) {
	var a structureAttributes
	if err := decodeAttributes(res, &a); err != nil {
		return Structure{}, err
	}
	return Structure{
		ID:                    res.ID,
		Name:                  a.Name,
		Mode:                  FlairMode(strings.ToLower(a.Mode)),
		StructureHeatCoolMode: HeatCoolMode(strings.ToLower(a.StructureHeatCoolMode)),
		SetPointTemperatureC:  a.SetPointTemperatureC,
	}, nil
}
