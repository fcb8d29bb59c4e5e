package diff

// OpType classifies a line in an edit script.
type OpType int

const (
	Equal  OpType = iota // Line is unchanged between a and b.
	Insert               // Line was inserted (present in b only).
	Delete               // Line was deleted (present in a only).
)

func (t OpType) String() string {
	switch t {
	case Insert:
		return "insert"
	case Delete:
		return "delete"
	default:
		return "equal"
	}
}

// Op is a single operation in an edit script produced by Edits.
type Op struct {
	Type OpType
	Line string
}

// myers computes the shortest edit script turning a into b, where lines
// have already been interned to integers. It gives up and returns false
// once the edit distance exceeds limit; a limit <= 0 never gives up.
//
// The algorithm runs in O((N+M)*D) time where N and M are the lengths
// of a and b, and D is the size of the minimum edit script. Only the
// diagonals reachable at each distance are kept, so memory is O(D^2).
func myers(a, b []int, limit int) ([]OpType, bool) {
	n := len(a)
	m := len(b)
	max := n + m
	if limit <= 0 || limit > max {
		limit = max
	}

	off := max
	v := make([]int, 2*max+2)

	// trace[d] holds the diagonals -d..d of v after processing distance d.
	var trace [][]int

	for d := 0; d <= limit; d++ {
		for k := -d; k <= d; k += 2 {
			var x int
			if k == -d || (k != d && v[off+k-1] < v[off+k+1]) {
				x = v[off+k+1] // move down (insert)
			} else {
				x = v[off+k-1] + 1 // move right (delete)
			}
			y := x - k

			// Follow diagonal (equal lines).
			for x < n && y < m && a[x] == b[y] {
				x++
				y++
			}

			v[off+k] = x

			if x >= n && y >= m {
				trace = append(trace, window(v, off, d))
				return backtrack(trace, n, m), true
			}
		}
		trace = append(trace, window(v, off, d))
	}
	return nil, false
}

func window(v []int, off, d int) []int {
	snap := make([]int, 2*d+1)
	copy(snap, v[off-d:off+d+1])
	return snap
}

// backtrack reconstructs the edit script from the trace of v windows.
func backtrack(trace [][]int, n, m int) []OpType {
	x := n
	y := m

	// Build the edit script in reverse.
	var ops []OpType

	for d := len(trace) - 1; d > 0; d-- {
		k := x - y
		prev := trace[d-1]
		at := func(diag int) int { return prev[diag+d-1] }

		var prevK int
		if k == -d || (k != d && at(k-1) < at(k+1)) {
			prevK = k + 1 // came from an insert (down move)
		} else {
			prevK = k - 1 // came from a delete (right move)
		}

		prevX := at(prevK)
		prevY := prevX - prevK

		for x > prevX && y > prevY {
			x--
			y--
			ops = append(ops, Equal)
		}

		if prevK == k-1 {
			x--
			ops = append(ops, Delete)
		} else {
			y--
			ops = append(ops, Insert)
		}
	}

	// Remaining diagonal at d=0.
	for x > 0 && y > 0 {
		x--
		y--
		ops = append(ops, Equal)
	}

	for i, j := 0, len(ops)-1; i < j; i, j = i+1, j-1 {
		ops[i], ops[j] = ops[j], ops[i]
	}
	return ops
}
