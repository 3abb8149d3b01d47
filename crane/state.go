package crane

import "fmt"

// JointState is the five actuator values reported by the crane. Angles are in
// degrees and linear offsets in millimeters, exactly as they travel on the wire.
type JointState struct {
	Swing   float64 `json:"swing_deg"`
	Lift    float64 `json:"lift_mm"`
	Elbow   float64 `json:"elbow_deg"`
	Wrist   float64 `json:"wrist_deg"`
	Gripper float64 `json:"gripper_mm"`
}

// Values returns the joints in link order.
func (js JointState) Values() [NumLinks]float64 {
	return [NumLinks]float64{js.Swing, js.Lift, js.Elbow, js.Wrist, js.Gripper}
}

// JointStateFromValues builds a JointState from values in link order.
func JointStateFromValues(v [NumLinks]float64) JointState {
	return JointState{
		Swing:   v[Pillar],
		Lift:    v[UpperArm],
		Elbow:   v[Forearm],
		Wrist:   v[Wrist],
		Gripper: v[Gripper],
	}
}

func (js JointState) String() string {
	return fmt.Sprintf("swing=%g° lift=%gmm elbow=%g° wrist=%g° gripper=%gmm",
		js.Swing, js.Lift, js.Elbow, js.Wrist, js.Gripper)
}

// LinkID indexes the rigid links of the crane, base first.
type LinkID int

const (
	Pillar LinkID = iota
	UpperArm
	Forearm
	Wrist
	Gripper

	NumLinks = 5
)

var linkNames = [NumLinks]string{"pillar", "upper_arm", "forearm", "wrist", "gripper"}

func (l LinkID) String() string {
	if l < 0 || int(l) >= NumLinks {
		return fmt.Sprintf("link(%d)", int(l))
	}
	return linkNames[l]
}
