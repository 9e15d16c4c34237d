package main

import "unsafe"

func fill(xs []int, v int) {
	for i := range xs {
		xs[i] = v
	}
}

func swap(xs []int, i, j int) {
	xs[i], xs[j] = xs[j], xs[i]
}

func grow(xs []*int) []*int {
	x := 42
	return append(xs, &x)
}

func second(p *[2]int) int {
	q := (*int)(unsafe.Add(unsafe.Pointer(p), unsafe.Sizeof(p[0])))
	return *q
}

func main() {
	xs := make([]int, 4)
	fill(xs, 1)
	swap(xs, 0, 3)
	ys := grow(nil)
	arr := [2]int{1, 2}
	println(len(ys), xs[0], second(&arr))
}
