package coord

type Point struct{ X, Y float64 }

func (p Point) Equal(b Point) bool {
	return p.X == b.X && p.Y == b.Y
}

// Add will add the target values to p.
func (p Point) Add(target Point) Point {
	p.X += target.X
	p.Y += target.Y
	return p
}

// Min returns the component-wise minimum of a and b.
func Min(a, b Point) Point {
	if b.X < a.X {
		a.X = b.X
	}
	if b.Y < a.Y {
		a.Y = b.Y
	}
	return a
}

// Max returns the component-wise maximum of a and b.
func Max(a, b Point) Point {
	if b.X > a.X {
		a.X = b.X
	}
	if b.Y > a.Y {
		a.Y = b.Y
	}
	return a
}
