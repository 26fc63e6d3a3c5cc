package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hwc-server/internal/model"
)

const namespace = "hwc"

// PrometheusMetrics tracks application metrics in a private Prometheus registry
type PrometheusMetrics struct {
	registry *prometheus.Registry

	modbusRequests    *prometheus.CounterVec
	modbusErrors      *prometheus.CounterVec
	modbusDuration    *prometheus.HistogramVec
	consecutiveErrors *prometheus.GaugeVec
	mqttPublishes     prometheus.Counter
	mqttErrors        prometheus.Counter

	mode          *prometheus.GaugeVec
	setpointPower prometheus.Gauge
	activePower   prometheus.Gauge
	energyDaily   prometheus.Gauge
	energyTotal   prometheus.Gauge
}

// NewPrometheusMetrics creates a collector with its own registry
func NewPrometheusMetrics() *PrometheusMetrics {
	pm := &PrometheusMetrics{
		registry: prometheus.NewRegistry(),
		modbusRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "modbus_requests_total",
			Help: "Total number of successful Modbus requests",
		}, []string{"serial"}),
		modbusErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "modbus_errors_total",
			Help: "Total number of failed Modbus requests",
		}, []string{"serial", "kind"}),
		modbusDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "modbus_request_duration_seconds",
			Help:    "Time from request write to response",
			Buckets: []float64{.01, .025, .05, .1, .2, .4, .8, 1.6},
		}, []string{"serial"}),
		consecutiveErrors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "modbus_consecutive_errors",
			Help: "Current number of consecutive failed requests",
		}, []string{"serial"}),
		mqttPublishes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "mqtt_publishes_total",
			Help: "Total number of MQTT publish operations",
		}),
		mqttErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "mqtt_errors_total",
			Help: "Total number of MQTT publish errors",
		}),
		mode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "controller_mode",
			Help: "Active controller mode (1 for the current mode)",
		}, []string{"mode"}),
		setpointPower: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "setpoint_power_watts",
			Help: "Last commanded heater power",
		}),
		activePower: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_power_watts",
			Help: "Measured heater power",
		}),
		energyDaily: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "energy_daily_watt_hours",
			Help: "Heater energy today",
		}),
		energyTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "energy_total_watt_hours",
			Help: "Heater energy since installation",
		}),
	}
	pm.registry.MustRegister(
		pm.modbusRequests, pm.modbusErrors, pm.modbusDuration, pm.consecutiveErrors,
		pm.mqttPublishes, pm.mqttErrors,
		pm.mode, pm.setpointPower, pm.activePower, pm.energyDaily, pm.energyTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return pm
}

// IncrementModbusRequests increments the request counter
func (pm *PrometheusMetrics) IncrementModbusRequests(serialDevice string) {
	pm.modbusRequests.WithLabelValues(serialDevice).Inc()
}

// IncrementModbusErrors increments the error counter
func (pm *PrometheusMetrics) IncrementModbusErrors(serialDevice, kind string) {
	pm.modbusErrors.WithLabelValues(serialDevice, kind).Inc()
}

// ObserveModbusRequestDuration records a request duration
func (pm *PrometheusMetrics) ObserveModbusRequestDuration(serialDevice string, duration time.Duration) {
	pm.modbusDuration.WithLabelValues(serialDevice).Observe(duration.Seconds())
}

// SetConsecutiveErrors sets the error streak gauge
func (pm *PrometheusMetrics) SetConsecutiveErrors(serialDevice string, n int) {
	pm.consecutiveErrors.WithLabelValues(serialDevice).Set(float64(n))
}

// IncrementMQTTPublishes increments the MQTT publish counter
func (pm *PrometheusMetrics) IncrementMQTTPublishes() {
	pm.mqttPublishes.Inc()
}

// IncrementMQTTErrors increments the MQTT error counter
func (pm *PrometheusMetrics) IncrementMQTTErrors() {
	pm.mqttErrors.Inc()
}

// SetControllerStatus updates the controller gauges
func (pm *PrometheusMetrics) SetControllerStatus(s model.ControllerStatus) {
	for _, m := range []model.ControllerMode{model.ModeOff, model.ModeOn, model.ModePower, model.ModeSmart, model.ModeTest, model.ModeShutdown} {
		v := 0.0
		if m == s.Mode {
			v = 1
		}
		pm.mode.WithLabelValues(string(m)).Set(v)
	}
	pm.setpointPower.Set(s.SetpointPower)
	pm.activePower.Set(s.ActivePower)
	pm.energyDaily.Set(s.EnergyDaily)
	pm.energyTotal.Set(s.EnergyTotal)
}

// Registry returns the underlying registry
func (pm *PrometheusMetrics) Registry() *prometheus.Registry {
	return pm.registry
}

// Handler returns the /metrics handler of the registry
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}
