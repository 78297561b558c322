package block

// ID identifies the kind of a block's payload (§3 "Block IDs").
type ID int64

const (
	EndiannessAndStringLength ID = 0
	GeneralInfo               ID = 1
	Molecules                 ID = 2
	TrajectoryIDsAndNames     ID = 3
	TrajectoryFrameSet        ID = 4
	BlockTableOfContents      ID = 5
	ParticleMapping           ID = 6

	// TrajBoxShape and above are typed data blocks (§3): "IDs >= 10000 are
	// treated as typed data blocks."
	TrajBoxShape  ID = 10000
	TrajPositions ID = 10001
	TrajVelocities ID = 10002
	TrajForces     ID = 10003
)

// IsDataBlock reports whether id falls in the typed-data-block range.
func (id ID) IsDataBlock() bool { return id >= TrajBoxShape }
