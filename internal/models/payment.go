package models

// PayMethod is how a participant settled their share.
type PayMethod string

const (
	// PayMethodZap: settled by a lightning zap observed on the network.
	PayMethodZap PayMethod = "zap"
	// PayMethodManual: settled out of band and recorded by hand.
	PayMethodManual PayMethod = "manual"
)

// Valid reports whether the method is one of the known wire values.
func (m PayMethod) Valid() bool {
	return m == PayMethodZap || m == PayMethodManual
}
