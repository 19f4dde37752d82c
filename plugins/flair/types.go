package flair

// Kind is the device discriminant. Its value is also the JSON:API resource
// type and the accessory category tag.
type Kind string

const (
	KindVent      Kind = "vents"
	KindPuck      Kind = "pucks"
	KindRoom      Kind = "rooms"
	KindStructure Kind = "structures"
)

// FlairMode is the structure's scheduling mode.
type FlairMode string

const (
	ModeAuto   FlairMode = "auto"
	ModeManual FlairMode = "manual"
)

// HeatCoolMode is the structure-wide HVAC mode.
type HeatCoolMode string

const (
	HeatCoolOff  HeatCoolMode = "off"
	HeatCoolHeat HeatCoolMode = "heat"
	HeatCoolCool HeatCoolMode = "cool"
	HeatCoolAuto HeatCoolMode = "auto"
)

// RoomActivePucks is the pucks-inactive value of a room with reporting pucks.
const RoomActivePucks = "Active"

type Vent struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	PercentOpen      int     `json:"percent_open"`
	DuctTemperatureC float64 `json:"duct_temperature_c"`
	DuctPressure     float64 `json:"duct_pressure"`
	FirmwareVersionS string  `json:"firmware_version_s,omitempty"`
	Inactive         bool    `json:"inactive,omitempty"`
}

type Puck struct {
	ID                  string  `json:"id"`
	Name                string  `json:"name"`
	DisplayNumber       string  `json:"display_number,omitempty"`
	CurrentTemperatureC float64 `json:"current_temperature_c"`
	CurrentHumidity     float64 `json:"current_humidity"`
	CurrentRoomPressure float64 `json:"current_room_pressure"`
	FirmwareVersionS    string  `json:"firmware_version_s,omitempty"`
	Inactive            bool    `json:"inactive,omitempty"`
}

type Room struct {
	ID                  string  `json:"id"`
	Name                string  `json:"name"`
	CurrentTemperatureC float64 `json:"current_temperature_c"`
	CurrentHumidity     float64 `json:"current_humidity"`
	SetPointC           float64 `json:"set_point_c"`
	Active              bool    `json:"active"`
	PucksInactive       string  `json:"pucks_inactive,omitempty"`
}

type Structure struct {
	ID                    string       `json:"id"`
	Name                  string       `json:"name"`
	Mode                  FlairMode    `json:"mode"`
	StructureHeatCoolMode HeatCoolMode `json:"structure_heat_cool_mode"`
	SetPointTemperatureC  float64      `json:"set_point_temperature_c"`
}
