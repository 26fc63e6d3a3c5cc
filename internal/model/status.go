package model

// ControllerStatus is the observable state of the controller
type ControllerStatus struct {
	CreatedAt       Timestamp           `json:"createdAt"`
	Parameter       ControllerParameter `json:"parameter"`
	Mode            ControllerMode      `json:"mode"`
	ActivePower     float64             `json:"activePower"`
	EnergyDaily     float64             `json:"energyDaily"`
	EnergyTotal     float64             `json:"energyTotal"`
	SetpointPower   float64             `json:"setpointPower"`
	SmartModeValues *SmartModeValues    `json:"smartModeValues,omitempty"`
}

// Current4To20mA holds the actuator loop currents
type Current4To20mA struct {
	Setpoint Value `json:"setpoint"`
	Current  Value `json:"current"`
}

// EnergyRecord is energy accumulated in a time span
type EnergyRecord struct {
	StartedAt       Timestamp `json:"startedAt"`
	EndedAt         Timestamp `json:"endedAt"`
	EnergyWattHours float64   `json:"energyWattHours"`
}

// MonitorRecord is one periodic sample of the system
type MonitorRecord struct {
	CreatedAt      Timestamp         `json:"createdAt"`
	Controller     *ControllerStatus `json:"controller,omitempty"`
	Current4To20mA *Current4To20mA   `json:"current4to20mA,omitempty"`
	Energy         []EnergyRecord    `json:"energy,omitempty"`
}

// PowerWatts returns the active heater power of the record
func (r *MonitorRecord) PowerWatts() float64 {
	if r.Controller == nil {
		return 0
	}
	return r.Controller.ActivePower
}

// EnergyDaily returns today's energy of the record
func (r *MonitorRecord) EnergyDaily() float64 {
	if r.Controller == nil {
		return 0
	}
	return r.Controller.EnergyDaily
}

// PinRequest is the body of a pin protected parameter change. The
// parameter is accepted nested under "parameter" or flat next to the pin.
type PinRequest struct {
	Pin       string               `json:"pin"`
	Parameter *ControllerParameter `json:"parameter,omitempty"`
	ControllerParameter
}

// Effective returns the nested parameter if present, else the flat one
func (r *PinRequest) Effective() ControllerParameter {
	if r.Parameter != nil {
		return *r.Parameter
	}
	return r.ControllerParameter
}
