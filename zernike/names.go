package zernike

// DefaultName returns the classical name for mode j (1-based Noll index)
// with radial degree n and azimuthal frequency m.  Modes without a common
// name return the empty string.
func DefaultName(j, n, m int) string {
	if m < 0 {
		m = -m
	}
	switch {
	case j == 1:
		return "piston"
	case j == 2:
		return "tip"
	case j == 3:
		return "tilt"
	case j == 4:
		return "defocus"
	case m == 0:
		return "spherical"
	case m == 1:
		return "coma"
	case m == 2:
		return "astigmatism"
	case m == 3:
		return "trefoil"
	case m == 4:
		return "quadrafoil"
	case m == 5:
		return "pentafoil"
	default:
		return ""
	}
}
