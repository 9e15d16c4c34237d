package a

type T struct{ a, b int }

func twice(s *T) {
	a := &s.a
	b := &s.a
	*a = 1
	*b = 2
}

func reset(s *[2]int) int { // want `1 unresolved borrowck errors in function a.reset \(after 2 iterations\)`
	p := &s[0]
	*s = [2]int{}
	return *p
}

func independent(p, q *int) {
	*p = 1
	*q = 2
}

func closure(s *T) func() int {
	return func() int {
		p := &s.b
		return *p
	}
}
