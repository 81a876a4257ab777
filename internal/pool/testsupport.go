package pool

// OpenFunc, ShutdownFunc, and ValidateFunc let other packages' tests build a
// Pool backed by a fake driver.Conn instead of a real network dial — the
// cross-package analogue of the teacher's InjectTestConn helper.
type (
	OpenFunc     = openFunc
	ShutdownFunc = shutdownFunc
	ValidateFunc = validateFunc
)

// NewPoolForTesting builds a Pool using the given driver hooks instead of
// the real internal/driver functions. Exported for executor and other
// package tests; production code should use NewPool.
func NewPoolForTesting(cfg Config, open OpenFunc, shutdown ShutdownFunc, validate ValidateFunc) (*Pool, error) {
	return newPool(cfg, open, shutdown, validate)
}
