package simulator

// PID is a textbook PID controller. The derivative term is taken on the error,
// so the first update after a setpoint change kicks hard.
type PID struct {
	Kp, Ki, Kd float64

	prevErr  float64
	integral float64
}

func (p *PID) Update(setpoint, measured, dt float64) float64 {
	err := setpoint - measured
	p.integral += err * dt

	derivative := (err - p.prevErr) / dt
	p.prevErr = err

	return p.Kp*err + p.Ki*p.integral + p.Kd*derivative
}

// staticResistance damps the commanded acceleration by a fraction of the
// current one.
const staticResistance = 0.3

// Actuator is a mock joint driven by a PID loop with clamped position,
// velocity and acceleration. Units are whatever the caller uses consistently,
// meters for linear actuators and degrees for rotary ones.
type Actuator struct {
	Min, Max       float64
	MaxVel, MaxAcc float64

	pos, vel, acc float64

	setpoint    float64
	hasSetpoint bool
	pid         PID

	// rotary actuators keep their acceleration when they hit an end stop
	rotary bool
}

// NewLinearActuator returns an actuator limited to 2 m/s and 0.8 m/s².
func NewLinearActuator(start, min, max, kp, ki, kd float64) *Actuator {
	return &Actuator{
		Min:    min,
		Max:    max,
		MaxVel: 2.0,
		MaxAcc: 0.8,
		pos:    start,
		pid:    PID{Kp: kp, Ki: ki, Kd: kd},
	}
}

// NewRotaryActuator returns an actuator limited to 90 °/s and 45 °/s².
func NewRotaryActuator(start, min, max, kp, ki, kd float64) *Actuator {
	return &Actuator{
		Min:    min,
		Max:    max,
		MaxVel: 90,
		MaxAcc: 45,
		pos:    start,
		pid:    PID{Kp: kp, Ki: ki, Kd: kd},
		rotary: true,
	}
}

func clamp(v, limit float64) float64 {
	switch {
	case v >= limit:
		return limit
	case v <= -limit:
		return -limit
	default:
		return v
	}
}

func (a *Actuator) Position() float64 {
	return a.pos
}

func (a *Actuator) Velocity() float64 {
	return a.vel
}

// SetPosition moves the actuator, stopping it dead at either end stop.
func (a *Actuator) SetPosition(pos float64) {
	switch {
	case pos <= a.Min:
		a.pos = a.Min
	case pos >= a.Max:
		a.pos = a.Max
	default:
		a.pos = pos
		return
	}

	a.vel = 0
	if !a.rotary {
		a.acc = 0
	}
}

func (a *Actuator) SetVelocity(vel float64) {
	a.vel = clamp(vel, a.MaxVel)
}

func (a *Actuator) SetAcceleration(acc float64) {
	a.acc = clamp(acc, a.MaxAcc)
}

func (a *Actuator) SetSetpoint(setpoint float64) {
	a.setpoint = setpoint
	a.hasSetpoint = true
}

// Setpoint returns the current target, if one was ever given.
func (a *Actuator) Setpoint() (float64, bool) {
	return a.setpoint, a.hasSetpoint
}

// Step advances the actuator by dt seconds. Without a setpoint it coasts.
func (a *Actuator) Step(dt float64) {
	var control float64
	if a.hasSetpoint {
		control = a.pid.Update(a.setpoint, a.pos, dt)
	}

	a.SetAcceleration(control - staticResistance*a.acc)
	a.SetVelocity(a.vel + a.acc*dt)
	a.SetPosition(a.pos + a.vel*dt)
}
