package utils

import (
	"fmt"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"
)

// DOK is a sparse matrix under assembly, entries are added with Set and the
// result is compressed with ToCSR
type DOK struct {
	M    *sparse.DOK
	name string
}

func NewDOK(nr, nc int, name string) (R DOK) {
	R = DOK{
		M:    sparse.NewDOK(nr, nc),
		name: name,
	}
	return
}

// Dims, At and T minimally satisfy the mat.Matrix interface.
func (m DOK) Dims() (r, c int)    { return m.M.Dims() }
func (m DOK) At(i, j int) float64 { return m.M.At(i, j) }
func (m DOK) T() mat.Matrix       { return m.M.T() }
func (m DOK) NNZ() int            { return m.M.NNZ() }

func (m DOK) Set(i, j int, v float64) {
	nr, nc := m.Dims()
	if i < 0 || i >= nr || j < 0 || j >= nc {
		panic(fmt.Errorf("index (%d,%d) out of range for %dx%d matrix named: \"%v\"", i, j, nr, nc, m.name))
	}
	m.M.Set(i, j, v)
}

func (m DOK) ToCSR() CSR {
	return CSR{
		M:    m.M.ToCSR(),
		name: m.name,
	}
}

// CSR is a compressed, read only sparse matrix
type CSR struct {
	M    *sparse.CSR
	name string
}

// Dims, At and T minimally satisfy the mat.Matrix interface.
func (m CSR) Dims() (r, c int)    { return m.M.Dims() }
func (m CSR) At(i, j int) float64 { return m.M.At(i, j) }
func (m CSR) T() mat.Matrix       { return m.M.T() }
func (m CSR) NNZ() int            { return m.M.NNZ() }
func (m CSR) Name() string        { return m.name }

// DoNonZero visits the stored entries row by row
func (m CSR) DoNonZero(fn func(i, j int, v float64)) { m.M.DoNonZero(fn) }

// MissingTranspose returns the first stored entry (i,j) of m for which
// other has no entry at (j,i)
func (m CSR) MissingTranspose(other CSR) (i, j int, missing bool) {
	m.DoNonZero(func(r, c int, _ float64) {
		if missing {
			return
		}
		if other.At(c, r) == 0 {
			i, j, missing = r, c, true
		}
	})
	return
}
