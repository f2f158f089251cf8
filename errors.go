package embcc

import (
	"github.com/pkg/errors"
)

var (
	// ErrConfig is an invalid cluster or driver configuration, such as an unknown solver or an empty fragment.
	ErrConfig = errors.New("configuration error")
	// ErrNumerical is a structurally invalid embedding, for example cluster density eigenvalues away from 0 and 1.
	ErrNumerical = errors.New("numerical consistency error")
	// ErrNotConverged aborts a search whose inner solver did not converge.
	ErrNotConverged = errors.New("not converged")
)
