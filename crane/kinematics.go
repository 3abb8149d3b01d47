package crane

import (
	"github.com/go-gl/mathgl/mgl64"
)

const mmPerMeter = 1000

// LinkGeometry is the fixed Denavit-Hartenberg tuple of a single link. The joint
// variable itself comes from JointState: an angle for revolute links, an extra
// offset along the previous z axis for prismatic ones.
type LinkGeometry struct {
	Name      string
	Offset    float64 // d, meters along the previous z axis
	Length    float64 // a, meters along the common normal
	Twist     float64 // alpha, degrees about the common normal
	Prismatic bool
}

// Geometry holds one LinkGeometry per link, base first.
type Geometry [NumLinks]LinkGeometry

// DefaultGeometry describes the reference crane: a 2m lifting column carrying
// two 0.6m horizontal arms, with the elbow and wrist displaced downwards.
var DefaultGeometry = Geometry{
	Pillar:   {Name: "pillar"},
	UpperArm: {Name: "upper_arm", Length: 0.6, Prismatic: true},
	Forearm:  {Name: "forearm", Offset: -0.1, Length: 0.6},
	Wrist:    {Name: "wrist", Offset: -0.5},
	Gripper:  {Name: "gripper", Prismatic: true},
}

// Pose is the placement of a link frame in the crane base frame.
type Pose struct {
	Link      LinkID
	Transform mgl64.Mat4
}

// Position of the link frame origin in meters.
func (p Pose) Position() mgl64.Vec3 {
	return p.Transform.Col(3).Vec3()
}

// Rotation of the link frame as a unit quaternion.
func (p Pose) Rotation() mgl64.Quat {
	return mgl64.Mat4ToQuat(p.Transform)
}

// Poses is the ordered chain of link frames, indexed by LinkID.
type Poses [NumLinks]Pose

// EndEffector returns the position of the gripper frame.
func (p Poses) EndEffector() mgl64.Vec3 {
	return p[Gripper].Position()
}

// jointVariables converts the wire units into radians and meters. This is the
// only place units change; everything downstream works in SI.
func jointVariables(js JointState, g Geometry) (q [NumLinks]float64) {
	for i, v := range js.Values() {
		if g[i].Prismatic {
			q[i] = v / mmPerMeter
		} else {
			q[i] = mgl64.DegToRad(v)
		}
	}
	return q
}

// local builds Tz(d) * Rz(theta) * Tx(a) * Rx(alpha) for one link.
func (l LinkGeometry) local(q float64) mgl64.Mat4 {
	d, theta := l.Offset, q
	if l.Prismatic {
		d, theta = l.Offset+q, 0
	}

	transform := mgl64.Translate3D(0, 0, d)
	transform = transform.Mul4(mgl64.HomogRotate3DZ(theta))
	transform = transform.Mul4(mgl64.Translate3D(l.Length, 0, 0))
	transform = transform.Mul4(mgl64.HomogRotate3DX(mgl64.DegToRad(l.Twist)))

	return transform
}

// Compute runs the forward kinematics for a joint state. Each link frame is the
// frame of its parent composed with its own local transform, so a joint only
// ever moves itself and the links after it.
func Compute(js JointState, g Geometry) (poses Poses) {
	q := jointVariables(js, g)

	cumulative := mgl64.Ident4() // base frame
	for i := range g {
		cumulative = cumulative.Mul4(g[i].local(q[i]))
		poses[i] = Pose{Link: LinkID(i), Transform: cumulative}
	}

	return poses
}

// SetpointFrame maps the kinematic base frame (z up, x along the arm at zero
// swing) onto the frame Cartesian setpoints are given in: y up, z along the arm
// at zero swing. It is a pure rotation.
var SetpointFrame = mgl64.Mat4FromRows(
	mgl64.Vec4{0, 1, 0, 0},
	mgl64.Vec4{0, 0, 1, 0},
	mgl64.Vec4{1, 0, 0, 0},
	mgl64.Vec4{0, 0, 0, 1},
)

// InSetpointFrame re-expresses every pose in SetpointFrame, so a position read
// from the result can be sent back as a Cartesian setpoint.
func (p Poses) InSetpointFrame() (out Poses) {
	for i, pose := range p {
		out[i] = Pose{Link: pose.Link, Transform: SetpointFrame.Mul4(pose.Transform)}
	}
	return out
}

// Chain binds a geometry so callers only need to pass joint states.
type Chain struct {
	Geometry Geometry
}

func NewChain(g Geometry) *Chain {
	return &Chain{Geometry: g}
}

func (c *Chain) Compute(js JointState) Poses {
	return Compute(js, c.Geometry)
}
