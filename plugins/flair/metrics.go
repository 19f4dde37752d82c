package flair

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts poll, command and reconcile outcomes.
type Metrics struct {
	polls      *prometheus.CounterVec
	commands   *prometheus.CounterVec
	reconciles *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flairbridge_flair_polls_total",
			Help: "Device polls by kind and result",
		}, []string{"kind", "result"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flairbridge_flair_commands_total",
			Help: "User commands by kind, command and result",
		}, []string{"kind", "command", "result"}),
		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flairbridge_flair_reconcile_accessories_total",
			Help: "Accessories added, kept and removed by reconciliation",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.polls, m.commands, m.reconciles}
}

func (m *Metrics) poll(kind Kind, err error) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(string(kind), result(err)).Inc()
}

func (m *Metrics) command(kind Kind, command string, err error) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(string(kind), command, result(err)).Inc()
}

func (m *Metrics) reconciled(r Result) {
	if m == nil {
		return
	}
	m.reconciles.WithLabelValues("added").Add(float64(len(r.Added)))
	m.reconciles.WithLabelValues("kept").Add(float64(len(r.Kept)))
	m.reconciles.WithLabelValues("removed").Add(float64(len(r.Removed)))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ReadingsCollector exports the last confirmed reading of every device.
type ReadingsCollector struct {
	platform *Platform

	accessories *prometheus.Desc
	percentOpen *prometheus.Desc
	temperature *prometheus.Desc
	humidity    *prometheus.Desc
	pressure    *prometheus.Desc
	setpoint    *prometheus.Desc
	roomActive  *prometheus.Desc
	heatCool    *prometheus.Desc
}

func NewReadingsCollector(platform *Platform) *ReadingsCollector {
	labels := []string{"kind", "id", "name"}
	return &ReadingsCollector{
		platform: platform,
		accessories: prometheus.NewDesc("flairbridge_flair_accessories",
			"Registered accessories by kind", []string{"kind"}, nil),
		percentOpen: prometheus.NewDesc("flairbridge_flair_vent_percent_open",
			"Vent opening percent", labels, nil),
		temperature: prometheus.NewDesc("flairbridge_flair_temperature_celsius",
			"Current temperature (duct temperature for vents)", labels, nil),
		humidity: prometheus.NewDesc("flairbridge_flair_humidity_percent",
			"Current relative humidity", labels, nil),
		pressure: prometheus.NewDesc("flairbridge_flair_pressure_kpa",
			"Current pressure (duct pressure for vents)", labels, nil),
		setpoint: prometheus.NewDesc("flairbridge_flair_setpoint_celsius",
			"Room or structure setpoint", labels, nil),
		roomActive: prometheus.NewDesc("flairbridge_flair_room_active_bool",
			"Room active (1) or away (0)", labels, nil),
		heatCool: prometheus.NewDesc("flairbridge_flair_structure_heat_cool_mode",
			"Structure heat/cool mode (1 for the active mode)", []string{"id", "name", "mode"}, nil),
	}
}

func (c *ReadingsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.accessories
	ch <- c.percentOpen
	ch <- c.temperature
	ch <- c.humidity
	ch <- c.pressure
	ch <- c.setpoint
	ch <- c.roomActive
	ch <- c.heatCool
}

func (c *ReadingsCollector) Collect(ch chan<- prometheus.Metric) {
	counts := map[Kind]int{}
	for _, dev := range c.platform.Devices() {
		counts[dev.Kind]++
		gauge := func(desc *prometheus.Desc, v float64) {
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v, string(dev.Kind), dev.ID(), dev.Name())
		}
		switch dev.Kind {
		case KindVent:
			gauge(c.percentOpen, float64(dev.Vent.PercentOpen))
			gauge(c.temperature, dev.Vent.DuctTemperatureC)
			gauge(c.pressure, dev.Vent.DuctPressure)
		case KindPuck:
			gauge(c.temperature, dev.Puck.CurrentTemperatureC)
			gauge(c.humidity, dev.Puck.CurrentHumidity)
			gauge(c.pressure, dev.Puck.CurrentRoomPressure)
		case KindRoom:
			gauge(c.temperature, dev.Room.CurrentTemperatureC)
			gauge(c.humidity, dev.Room.CurrentHumidity)
			gauge(c.setpoint, dev.Room.SetPointC)
			gauge(c.roomActive, float64(boolInt(dev.Room.Active)))
		case KindStructure:
			gauge(c.setpoint, dev.Structure.SetPointTemperatureC)
		}
	}
	for _, kind := range []Kind{KindVent, KindPuck, KindRoom, KindStructure} {
		ch <- prometheus.MustNewConstMetric(c.accessories, prometheus.GaugeValue, float64(counts[kind]), string(kind))
	}

	if st, ok := c.platform.coord.Current(); ok {
		for _, mode := range []HeatCoolMode{HeatCoolOff, HeatCoolHeat, HeatCoolCool, HeatCoolAuto} {
			v := float64(boolInt(st.StructureHeatCoolMode == mode))
			ch <- prometheus.MustNewConstMetric(c.heatCool, prometheus.GaugeValue, v, st.ID, st.Name, string(mode))
		}
	}
}
