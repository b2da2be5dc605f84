package cluster

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// standardize rescales each column to zero mean and unit population
// variance. Constant columns become zero.
func standardize(points [][]float64) [][]float64 {
	if len(points) == 0 {
		return nil
	}
	width := len(points[0])
	out := make([][]float64, len(points))
	for i := range out {
		out[i] = make([]float64, width)
	}
	col := make([]float64, len(points))
	for j := 0; j < width; j++ {
		for i, p := range points {
			col[i] = p[j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		for i, p := range points {
			if std > 0 {
				out[i][j] = (p[j] - mean) / std
			}
		}
	}
	return out
}

func distance(a, b []float64) float64 { return floats.Distance(a, b, 2) }

// mean returns the column means of the selected rows.
func mean(points [][]float64, rows []int) []float64 {
	if len(rows) == 0 {
		return nil
	}
	out := make([]float64, len(points[rows[0]]))
	for _, i := range rows {
		floats.Add(out, points[i])
	}
	floats.Scale(1/float64(len(rows)), out)
	return out
}
