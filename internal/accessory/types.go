package accessory

// ServiceType names an exposed sub-entity of an accessory.
type ServiceType string

// Characteristic names one value on a service.
type Characteristic string

const (
	ServiceAccessoryInformation ServiceType = "AccessoryInformation"
	ServiceWindowCovering       ServiceType = "WindowCovering"
	ServiceFan                  ServiceType = "Fanv2"
	ServiceAirPurifier          ServiceType = "AirPurifier"
	ServiceTemperatureSensor    ServiceType = "TemperatureSensor"
	ServiceHumiditySensor       ServiceType = "HumiditySensor"
	ServicePressureSensor       ServiceType = "PressureSensor"
	ServiceThermostat           ServiceType = "Thermostat"
)

const (
	Name             Characteristic = "Name"
	Manufacturer     Characteristic = "Manufacturer"
	Model            Characteristic = "Model"
	SerialNumber     Characteristic = "SerialNumber"
	FirmwareRevision Characteristic = "FirmwareRevision"

	CurrentPosition Characteristic = "CurrentPosition"
	TargetPosition  Characteristic = "TargetPosition"
	PositionState   Characteristic = "PositionState"

	Active                  Characteristic = "Active"
	RotationSpeed           Characteristic = "RotationSpeed"
	CurrentAirPurifierState Characteristic = "CurrentAirPurifierState"
	TargetAirPurifierState  Characteristic = "TargetAirPurifierState"

	CurrentTemperature         Characteristic = "CurrentTemperature"
	CurrentRelativeHumidity    Characteristic = "CurrentRelativeHumidity"
	CurrentPressure            Characteristic = "CurrentPressure"
	TargetTemperature          Characteristic = "TargetTemperature"
	CurrentHeatingCoolingState Characteristic = "CurrentHeatingCoolingState"
	TargetHeatingCoolingState  Characteristic = "TargetHeatingCoolingState"
	TemperatureDisplayUnits    Characteristic = "TemperatureDisplayUnits"
)

// Heating/cooling state values shared by current and target characteristics.
// Current state never reports HeatingCoolingAuto.
const (
	HeatingCoolingOff  = 0
	HeatingCoolingHeat = 1
	HeatingCoolingCool = 2
	HeatingCoolingAuto = 3
)

const (
	PositionDecreasing = 0
	PositionIncreasing = 1
	PositionStopped    = 2
)

const (
	ActiveInactive = 0
	ActiveActive   = 1
)

const (
	PurifierInactive  = 0
	PurifierIdle      = 1
	PurifierPurifying = 2

	PurifierTargetManual = 0
	PurifierTargetAuto   = 1
)

const (
	DisplayCelsius    = 0
	DisplayFahrenheit = 1
)
