package calcs

import (
	"errors"
	"math"
)

var ErrUnreachable = errors.New("no solution: unreachable position")

// Solution is one joint configuration of a planar two link arm, in degrees.
type Solution struct {
	Shoulder, Elbow float64
}

func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

// Solve2R solves the inverse kinematics of a planar 2R manipulator with link
// lengths l1 and l2 for the target (x, y). Both the elbow up and elbow down
// configurations are returned, the positive elbow angle first.
func Solve2R(x, y, l1, l2 float64) (first, second Solution, err error) {
	rSquared := x*x + y*y
	phi := math.Atan2(y, x)

	cosTheta2 := (rSquared - l1*l1 - l2*l2) / (2 * l1 * l2)
	if math.IsNaN(cosTheta2) || math.Abs(cosTheta2) > 1 {
		return first, second, ErrUnreachable
	}

	solve := func(theta2 float64) Solution {
		k1 := l1 + l2*math.Cos(theta2)
		k2 := l2 * math.Sin(theta2)
		return Solution{
			Shoulder: degrees(phi - math.Atan2(k2, k1)),
			Elbow:    degrees(theta2),
		}
	}

	theta2 := math.Acos(cosTheta2)
	return solve(theta2), solve(-theta2), nil
}
