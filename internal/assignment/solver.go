package assignment

import (
	"context"
	"errors"
	"math"
)

// ErrSolverFailed is logged when a solver reports a non-OK status.
var ErrSolverFailed = errors.New("assignment solver failed")

// Status is a solver result code.
type Status int

const (
	StatusOK Status = iota
	StatusFailed
)

func (s Status) String() string {
	if s == StatusOK {
		return "ok"
	}
	return "failed"
}

// Pair indexes one (row, column) entry of a cost matrix.
type Pair struct {
	Row int
	Col int
}

// Solver computes a minimum-cost bipartite matching over a dense row-major
// cost matrix. It returns at most min(rows, cols) pairs.
type Solver interface {
	Solve(ctx context.Context, costs [][]float64) (Status, []Pair)
}

// HungarianSolver is an O(n²m) Kuhn–Munkres solver for rectangular
// matrices.
type HungarianSolver struct{}

// Solve implements Solver. Ragged or non-finite matrices and a cancelled
// context yield StatusFailed.
func (HungarianSolver) Solve(ctx context.Context, costs [][]float64) (Status, []Pair) {
	rows := len(costs)
	if rows == 0 {
		return StatusOK, nil
	}
	cols := len(costs[0])
	if cols == 0 {
		return StatusOK, nil
	}
	for _, row := range costs {
		if len(row) != cols {
			return StatusFailed, nil
		}
		for _, c := range row {
			if math.IsNaN(c) || math.IsInf(c, 0) {
				return StatusFailed, nil
			}
		}
	}

	if rows > cols {
		status, pairs := HungarianSolver{}.Solve(ctx, transpose(costs))
		for i := range pairs {
			pairs[i].Row, pairs[i].Col = pairs[i].Col, pairs[i].Row
		}
		return status, pairs
	}

	// Shortest augmenting path with row/column potentials, 1-indexed so that
	// column 0 is the virtual source.
	n, m := rows, cols
	u := make([]float64, n+1)
	v := make([]float64, m+1)
	match := make([]int, m+1)
	way := make([]int, m+1)
	minv := make([]float64, m+1)
	used := make([]bool, m+1)

	for i := 1; i <= n; i++ {
		if ctx.Err() != nil {
			return StatusFailed, nil
		}
		match[0] = i
		j0 := 0
		for j := range minv {
			minv[j] = math.Inf(1)
			used[j] = false
		}
		for {
			used[j0] = true
			i0 := match[j0]
			delta, j1 := math.Inf(1), 0
			for j := 1; j <= m; j++ {
				if used[j] {
					continue
				}
				if cur := costs[i0-1][j-1] - u[i0] - v[j]; cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta, j1 = minv[j], j
				}
			}
			if j1 == 0 {
				return StatusFailed, nil
			}
			for j := 0; j <= m; j++ {
				if used[j] {
					u[match[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if match[j0] == 0 {
				break
			}
		}
		for j0 != 0 {
			j1 := way[j0]
			match[j0] = match[j1]
			j0 = j1
		}
	}

	pairs := make([]Pair, 0, n)
	for j := 1; j <= m; j++ {
		if match[j] != 0 {
			pairs = append(pairs, Pair{Row: match[j] - 1, Col: j - 1})
		}
	}
	return StatusOK, pairs
}

func transpose(costs [][]float64) [][]float64 {
	out := make([][]float64, len(costs[0]))
	for j := range out {
		out[j] = make([]float64, len(costs))
		for i := range costs {
			out[j][i] = costs[i][j]
		}
	}
	return out
}
