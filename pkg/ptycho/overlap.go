package ptycho

import (
	"fmt"
	"strings"

	"ptychorecon/pkg/array"
	"ptychorecon/pkg/backend"
)

// ObjectType selects how the object array is interpreted.
type ObjectType int

const (
	// Potential objects hold a real phase shift O; the transmission is exp(i·O).
	// The imaginary part of the stored buffer is kept at zero.
	Potential ObjectType = iota
	// Complex objects hold the transmission function directly.
	Complex
)

func (t ObjectType) String() string {
	switch t {
	case Potential:
		return "potential"
	case Complex:
		return "complex"
	default:
		return fmt.Sprintf("ObjectType(%d)", int(t))
	}
}

// ParseObjectType accepts "potential" or "complex".
func ParseObjectType(s string) (ObjectType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "potential":
		return Potential, nil
	case "complex":
		return Complex, nil
	default:
		return 0, fmt.Errorf("%w: object type must be either 'potential' or 'complex', not %q", ErrConfig, s)
	}
}

// Transmission converts an object to its complex transmission function.
func Transmission(object *array.Complex2D, t ObjectType) *array.Complex2D {
	if t == Complex {
		return object
	}
	out := array.NewComplex2D(object.Rows, object.Cols)
	for i, v := range object.Data {
		out.Data[i] = array.Expi(real(v))
	}
	return out
}

// Exposure bundles the three products of the overlap operator for a batch.
type Exposure struct {
	// ShiftedProbes holds the probe shifted by each pattern's sub-pixel offset.
	ShiftedProbes *array.ComplexStack
	// ObjectPatches holds the transmission window under each probe.
	ObjectPatches *array.ComplexStack
	// Overlap is ShiftedProbes * ObjectPatches.
	Overlap *array.ComplexStack
}

// Overlap is the forward operator. It shifts the probe by the fractional
// part of every position, extracts the transmission patches addressed by idx
// and multiplies them.
//
// Parameters:
//   - be: Numeric backend
//   - probe: Current probe estimate (Sx, Sy)
//   - object: Current object estimate (Px, Py)
//   - objectType: Interpretation of object
//   - idx: Patch indices for the batch
//   - fractional: Sub-pixel offsets for the batch
//
// Returns:
//   - The shifted probes, object patches and their product
func Overlap(
	be backend.Backend,
	probe, object *array.Complex2D,
	objectType ObjectType,
	idx *PatchIndices,
	fractional Positions,
) *Exposure {
	shifted := FourierShift(be, probe, fractional)
	patches := idx.Gather(Transmission(object, objectType))

	overlap := array.NewComplexStack(shifted.Len, shifted.Rows, shifted.Cols)
	be.ParallelFrames(overlap.Len, func(k int) {
		p, o, dst := shifted.Frame(k), patches.Frame(k), overlap.Frame(k)
		for n := range dst {
			dst[n] = p[n] * o[n]
		}
	})

	return &Exposure{ShiftedProbes: shifted, ObjectPatches: patches, Overlap: overlap}
}
