package calibration

// SelectSmallestSum picks the passing cell with the smallest q+i. Ties go to
// the smaller q. Rows are scanned in order and the scan stops once q alone
// reaches the best sum found.
func SelectSmallestSum(ok [][]bool) (q, i int, found bool) {
	best := -1
	for row, cells := range ok {
		col := firstTrue(cells)
		if col < 0 {
			continue
		}
		if found && row >= best {
			break
		}
		if !found || row+col < best {
			q, i, best, found = row, col, row+col, true
		}
	}
	return q, i, found
}

// SelectFixedColumn picks the smallest q passing in column col.
func SelectFixedColumn(ok [][]bool, col int) (q int, found bool) {
	for row, cells := range ok {
		if col < len(cells) && cells[col] {
			return row, true
		}
	}
	return 0, false
}

func firstTrue(cells []bool) int {
	for i, c := range cells {
		if c {
			return i
		}
	}
	return -1
}

func passing(ratio [][]float64, threshold float64) [][]bool {
	ok := make([][]bool, len(ratio))
	for q, row := range ratio {
		ok[q] = make([]bool, len(row))
		for i, r := range row {
			ok[q][i] = r >= threshold
		}
	}
	return ok
}
